package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"shockstream"
	"shockstream/internal/logger"

	"golang.org/x/sync/semaphore"
)

// Defaults applied by Config.withDefaults.
const (
	defaultWindow        = time.Minute
	defaultWindowQuota   = 60
	defaultMaxConcurrent = 5
	defaultDeviceSpacing = 100 * time.Millisecond
	defaultMaxRetries    = 3
	defaultBaseDelay     = time.Second
	defaultHTTPTimeout   = 10 * time.Second

	controlPath = "/2/shockers/control"
	ownPath     = "/1/shockers/own"

	tokenHeader = "OpenShockToken"
)

// Config for the device API client. BaseURL and Token are required; the rest
// default to safe values.
type Config struct {
	BaseURL    string
	Token      string
	CustomName string // shown in the device vendor's own log UI

	MaxRequestsPerWindow int
	Window               time.Duration
	MaxConcurrent        int64
	MinDeviceSpacing     time.Duration
	MaxRetries           int
	BaseRetryDelay       time.Duration
	HTTPTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequestsPerWindow <= 0 {
		c.MaxRequestsPerWindow = defaultWindowQuota
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MinDeviceSpacing <= 0 {
		c.MinDeviceSpacing = defaultDeviceSpacing
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = defaultBaseDelay
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.CustomName == "" {
		c.CustomName = "shockstream"
	}
	return c
}

// SendOptions tune a single request. Priority is the client's internal queue
// priority: LOWER numbers are served first, the opposite of the scheduler's
// convention. Callers map between the two.
type SendOptions struct {
	Priority int
}

// Client talks to the device-control API. It owns an internal priority
// request queue shaped by a sliding-window rate limiter and a bounded
// concurrency semaphore, and normalizes every failure into *APIError.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger

	qmu      sync.Mutex
	queue    []*request
	draining bool

	sem *semaphore.Weighted

	wmu    sync.Mutex
	window []time.Time // dispatch timestamps inside the rolling window

	lmu      sync.Mutex
	lastSent map[string]time.Time // per-device spacing reservations

	ctx  context.Context
	stop context.CancelFunc
}

// NewClient validates configuration up front: a bad base URL or missing
// token fails here, never per-request.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("device api: base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("device api: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Token == "" {
		return nil, errors.New("device api: API token is required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		lastSent: make(map[string]time.Time),
		ctx:      ctx,
		stop:     cancel,
	}, nil
}

// Stop aborts queued and waiting requests.
func (c *Client) Stop() { c.stop() }

// SendShock triggers a shock on the given device.
func (c *Client) SendShock(ctx context.Context, deviceID string, intensity, durationMs int, opts SendOptions) error {
	return c.send(ctx, shockstream.CommandShock, deviceID, intensity, durationMs, opts)
}

// SendVibrate triggers a vibration on the given device.
func (c *Client) SendVibrate(ctx context.Context, deviceID string, intensity, durationMs int, opts SendOptions) error {
	return c.send(ctx, shockstream.CommandVibrate, deviceID, intensity, durationMs, opts)
}

// SendSound plays a beep on the given device.
func (c *Client) SendSound(ctx context.Context, deviceID string, intensity, durationMs int, opts SendOptions) error {
	return c.send(ctx, shockstream.CommandSound, deviceID, intensity, durationMs, opts)
}

// controlShock is one entry of the control endpoint's batch payload.
type controlShock struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // Shock | Vibrate | Sound
	Intensity int    `json:"intensity"`
	Duration  int    `json:"duration"`
	Exclusive bool   `json:"exclusive"`
}

type controlPayload struct {
	Shocks     []controlShock `json:"shocks"`
	CustomName string         `json:"customName"`
}

// send is the single dispatch path: validate, respect per-device spacing,
// queue, and wait for the normalized outcome.
func (c *Client) send(ctx context.Context, typ shockstream.CommandType, deviceID string, intensity, durationMs int, opts SendOptions) error {
	if deviceID == "" {
		return errors.New("device api: device id is required")
	}
	if !shockstream.ValidCommandType(typ) {
		return fmt.Errorf("device api: unsupported command type %q", typ)
	}
	if intensity < shockstream.MinIntensity || intensity > shockstream.MaxIntensity {
		return fmt.Errorf("device api: intensity %d out of range %d..%d", intensity, shockstream.MinIntensity, shockstream.MaxIntensity)
	}
	if durationMs < shockstream.MinDurationMs || durationMs > shockstream.MaxDurationMs {
		return fmt.Errorf("device api: duration %dms out of range %d..%dms", durationMs, shockstream.MinDurationMs, shockstream.MaxDurationMs)
	}

	if err := c.reserveDeviceSlot(ctx, deviceID); err != nil {
		return err
	}

	req := &request{
		priority:   opts.Priority,
		enqueuedAt: time.Now(),
		payload: controlPayload{
			Shocks: []controlShock{{
				ID:        deviceID,
				Type:      string(typ),
				Intensity: intensity,
				Duration:  durationMs,
				Exclusive: true,
			}},
			CustomName: c.cfg.CustomName,
		},
		done: make(chan error, 1),
	}
	c.enqueue(req)

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// reserveDeviceSlot enforces the minimum spacing between commands to one
// device. This is deliberately smaller than, and independent from, the
// safety-policy cooldown.
func (c *Client) reserveDeviceSlot(ctx context.Context, deviceID string) error {
	c.lmu.Lock()
	now := time.Now()
	next := now
	if last, ok := c.lastSent[deviceID]; ok {
		if earliest := last.Add(c.cfg.MinDeviceSpacing); earliest.After(now) {
			next = earliest
		}
	}
	c.lastSent[deviceID] = next
	wait := next.Sub(now)
	c.lmu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute performs one HTTP call to the control endpoint.
func (c *Client) execute(req *request) error {
	body, err := json.Marshal(req.payload)
	if err != nil {
		return &APIError{Kind: KindUnknown, Message: "encode control payload: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.cfg.BaseURL+controlPath, bytes.NewReader(body))
	if err != nil {
		return &APIError{Kind: KindUnknown, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(tokenHeader, c.cfg.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return normalizeTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return normalizeHTTPError(resp.StatusCode, respBody)
}

// ownedHub mirrors the read endpoint's nesting: hubs containing shockers.
type ownedHub struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Online   bool   `json:"online"`
	Shockers []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsPaused bool   `json:"isPaused"`
	} `json:"shockers"`
}

type ownedResponse struct {
	Data []ownedHub `json:"data"`
}

// ListDevices fetches the owned hubs and flattens their shockers into a
// uniform device list annotated with the parent hub.
func (c *Client) ListDevices(ctx context.Context) ([]shockstream.Device, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+ownPath, nil)
	if err != nil {
		return nil, &APIError{Kind: KindUnknown, Message: err.Error()}
	}
	httpReq.Header.Set(tokenHeader, c.cfg.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, normalizeTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, normalizeHTTPError(resp.StatusCode, respBody)
	}

	var parsed ownedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &APIError{Kind: KindUnknown, Message: "decode device list: " + err.Error()}
	}

	devices := make([]shockstream.Device, 0, len(parsed.Data))
	for _, hub := range parsed.Data {
		for _, sh := range hub.Shockers {
			devices = append(devices, shockstream.Device{
				ID:        sh.ID,
				Name:      sh.Name,
				Paused:    sh.IsPaused,
				HubID:     hub.ID,
				HubName:   hub.Name,
				HubOnline: hub.Online,
			})
		}
	}
	return devices, nil
}

package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shockstream"
	"shockstream/internal/logger"
)

// Counter retention windows.
const (
	historyWindow  = 24 * time.Hour
	sweepInterval  = 5 * time.Minute
	lazySweepAfter = time.Hour
	maxHistoryLen  = 10000

	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// Result is the structured outcome of an admission check. CheckCommand never
// returns an error: a denied command carries a human-readable Reason and,
// for cooldown denials, the remaining wait in milliseconds.
type Result struct {
	Allowed     bool                 `json:"allowed"`
	Reason      string               `json:"reason,omitempty"`
	RemainingMs int64                `json:"remaining_ms,omitempty"`
	Adjusted    *shockstream.Command `json:"adjusted,omitempty"`
}

func deny(reason string) Result { return Result{Allowed: false, Reason: reason} }

// Validator owns the safety policy and the in-memory usage counters. It is a
// pure decision engine: no I/O, no goroutines of its own except the optional
// sweep loop. Counters are ephemeral and rebuilt from zero on restart.
type Validator struct {
	mu     sync.Mutex
	policy shockstream.SafetyPolicy

	history     []time.Time          // rolling command timestamps, newest last
	lastCommand map[string]time.Time // deviceID -> last registered command
	daily       map[string]int       // deviceID|yyyy-mm-dd -> count
	hourly      map[string]int       // userID|yyyy-mm-ddThh -> count
	lastSweep   time.Time

	log *logger.Logger
}

// NewValidator builds a validator seeded with the given policy. Each instance
// owns its counters; nothing here is process-global.
func NewValidator(policy shockstream.SafetyPolicy, log *logger.Logger) *Validator {
	v := &Validator{
		policy:      policy,
		lastCommand: make(map[string]time.Time),
		daily:       make(map[string]int),
		hourly:      make(map[string]int),
		lastSweep:   nowUTC(),
		log:         log,
	}
	return v
}

func (v *Validator) lock()   { v.mu.Lock() }
func (v *Validator) unlock() { v.mu.Unlock() }

// CheckCommand runs the admission checks in fixed order and short-circuits on
// the first failure. On success it returns a clamped copy of the command; the
// original is never mutated. Capping is flagged, never a rejection.
func (v *Validator) CheckCommand(cmd shockstream.Command, userID, deviceID string, userCtx shockstream.UserContext) Result {
	v.lock()
	defer v.unlock()

	now := nowUTC()
	p := v.policy

	// 1. Emergency stop beats everything.
	if p.EmergencyStop.Enabled {
		reason := "emergency stop is active"
		if p.EmergencyStop.Reason != "" {
			reason += ": " + p.EmergencyStop.Reason
		}
		return deny(reason)
	}

	// 2. Blacklist overrides whitelist.
	if hasUser(p.UserLimits.Blacklist, userID) {
		return deny("user is blacklisted")
	}

	// 3. Whitelisted users skip the per-user gates entirely.
	if !hasUser(p.UserLimits.Whitelist, userID) {
		if userLevel(userCtx, p.UserLimits.MinFollowerAgeDays) < requiredLevel(p.UserLimits.MinPermissionLevel) {
			return deny(fmt.Sprintf("requires %s permission or higher", p.UserLimits.MinPermissionLevel))
		}
		if p.UserLimits.RequireSuperfan && !userCtx.IsSuperfan {
			return deny("superfan status required")
		}
		if limit := p.UserLimits.MaxCommandsPerUserHour; limit > 0 {
			if v.hourly[hourKey(userID, now)] >= limit {
				return deny(fmt.Sprintf("hourly limit reached (%d commands per user per hour)", limit))
			}
		}
	}

	dl, hasDeviceLimits := p.DeviceLimits[deviceID]

	// 4. Per-device cooldown.
	if hasDeviceLimits && dl.CooldownMs > 0 {
		if last, ok := v.lastCommand[deviceID]; ok {
			elapsed := now.Sub(last)
			cooldown := time.Duration(dl.CooldownMs) * time.Millisecond
			if elapsed < cooldown {
				remaining := (cooldown - elapsed).Milliseconds()
				r := deny(fmt.Sprintf("device cooling down, %dms remaining", remaining))
				r.RemainingMs = remaining
				return r
			}
		}
	}

	// 5. Per-device daily cap.
	if hasDeviceLimits && dl.DailyLimit > 0 {
		if v.daily[dayKey(deviceID, now)] >= dl.DailyLimit {
			return deny(fmt.Sprintf("daily limit reached for this device (%d)", dl.DailyLimit))
		}
	}

	// 6. Global commands-per-minute cap over the trailing 60s of history.
	if limit := p.GlobalLimits.MaxCommandsPerMinute; limit > 0 {
		if v.countSince(now.Add(-time.Minute)) >= limit {
			return deny(fmt.Sprintf("global rate limit reached (%d commands per minute)", limit))
		}
	}

	// 7. Clamp to the most restrictive applicable limits.
	adjusted := clamp(cmd, p.GlobalLimits, dl, hasDeviceLimits)
	return Result{Allowed: true, Adjusted: &adjusted}
}

// clamp caps intensity/duration to min(global, device) and then applies the
// absolute floors. Returns a copy with capping flags set.
func clamp(cmd shockstream.Command, g shockstream.GlobalLimits, dl shockstream.DeviceLimits, hasDevice bool) shockstream.Command {
	maxIntensity := g.MaxIntensity
	maxDuration := g.MaxDurationMs
	if hasDevice {
		maxIntensity = tighterCap(maxIntensity, dl.MaxIntensity)
		maxDuration = tighterCap(maxDuration, dl.MaxDurationMs)
	}

	out := cmd
	if maxIntensity > 0 && out.Intensity > maxIntensity {
		out.Intensity = maxIntensity
		out.CappedIntensity = true
	}
	if out.Intensity < shockstream.MinIntensity {
		out.Intensity = shockstream.MinIntensity
	}
	if maxDuration > 0 && out.DurationMs > maxDuration {
		out.DurationMs = maxDuration
		out.CappedDuration = true
	}
	if out.DurationMs < shockstream.FloorDurationMs {
		out.DurationMs = shockstream.FloorDurationMs
	}
	return out
}

// tighterCap picks the more restrictive of two caps where 0 means no cap.
// A set device cap must hold even when the global one is unset.
func tighterCap(global, device int) int {
	if global <= 0 {
		return device
	}
	if device > 0 && device < global {
		return device
	}
	return global
}

// RegisterCommand records a successfully executed command into the rolling
// history, cooldown timestamp, and daily/hourly counters. Call it only after
// execution succeeds, not at admission time.
func (v *Validator) RegisterCommand(deviceID, userID string, cmd shockstream.Command) {
	v.lock()
	defer v.unlock()

	now := nowUTC()
	v.history = append(v.history, now)
	if len(v.history) > maxHistoryLen {
		v.history = v.history[len(v.history)-maxHistoryLen:]
	}
	v.lastCommand[deviceID] = now
	v.daily[dayKey(deviceID, now)]++
	if userID != "" {
		v.hourly[hourKey(userID, now)]++
	}

	if now.Sub(v.lastSweep) >= lazySweepAfter {
		v.sweepLocked(now)
	}
}

// TriggerEmergencyStop flips the kill switch; every subsequent check rejects
// until it is cleared.
func (v *Validator) TriggerEmergencyStop(reason string) shockstream.EmergencyStop {
	v.lock()
	defer v.unlock()
	now := nowUTC()
	v.policy.EmergencyStop = shockstream.EmergencyStop{Enabled: true, TriggeredAt: &now, Reason: reason}
	if v.log != nil {
		v.log.Warnw("emergency_stop_triggered", "reason", reason)
	}
	return v.policy.EmergencyStop
}

// ClearEmergencyStop re-enables command admission.
func (v *Validator) ClearEmergencyStop() {
	v.lock()
	defer v.unlock()
	v.policy.EmergencyStop = shockstream.EmergencyStop{}
	if v.log != nil {
		v.log.Infow("emergency_stop_cleared")
	}
}

// Policy returns a snapshot of the current policy.
func (v *Validator) Policy() shockstream.SafetyPolicy {
	v.lock()
	defer v.unlock()
	return snapshotPolicy(v.policy)
}

// UpdatePolicy merges the patch into the current policy and returns the
// resulting snapshot. The emergency-stop block is only mutated through its
// dedicated operations.
func (v *Validator) UpdatePolicy(patch PolicyPatch) shockstream.SafetyPolicy {
	v.lock()
	defer v.unlock()
	v.policy = mergePolicy(v.policy, patch)
	return snapshotPolicy(v.policy)
}

// Stats summarizes counter state for the admin API.
type Stats struct {
	CommandsLastMinute int            `json:"commands_last_minute"`
	CommandsLastHour   int            `json:"commands_last_hour"`
	Commands24h        int            `json:"commands_24h"`
	PerDeviceToday     map[string]int `json:"per_device_today"`
	EmergencyStop      bool           `json:"emergency_stop"`
}

// UsageStats reports rolling usage derived from the in-memory counters.
func (v *Validator) UsageStats() Stats {
	v.lock()
	defer v.unlock()
	now := nowUTC()
	perDevice := make(map[string]int)
	today := now.Format(dayLayout)
	for key, n := range v.daily {
		if device, day, ok := splitKey(key); ok && day == today {
			perDevice[device] = n
		}
	}
	return Stats{
		CommandsLastMinute: v.countSince(now.Add(-time.Minute)),
		CommandsLastHour:   v.countSince(now.Add(-time.Hour)),
		Commands24h:        len(v.history),
		PerDeviceToday:     perDevice,
		EmergencyStop:      v.policy.EmergencyStop.Enabled,
	}
}

// RunSweeper prunes stale counters on a fixed interval until ctx is canceled.
// Mirrors the scheduler loop style: ticker plus ctx.Done.
func (v *Validator) RunSweeper(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.lock()
			v.sweepLocked(nowUTC())
			v.unlock()
		}
	}
}

// sweepLocked discards history beyond 24h and day/hour counters outside a
// two-bucket retention window. Caller holds the lock.
func (v *Validator) sweepLocked(now time.Time) {
	cutoff := now.Add(-historyWindow)
	idx := 0
	for idx < len(v.history) && v.history[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		v.history = append([]time.Time(nil), v.history[idx:]...)
	}

	keepDays := map[string]bool{
		now.Format(dayLayout):                      true,
		now.Add(-24 * time.Hour).Format(dayLayout): true,
	}
	for key := range v.daily {
		if _, day, ok := splitKey(key); !ok || !keepDays[day] {
			delete(v.daily, key)
		}
	}

	keepHours := map[string]bool{
		now.Format(hourLayout):                 true,
		now.Add(-time.Hour).Format(hourLayout): true,
	}
	for key := range v.hourly {
		if _, hour, ok := splitKey(key); !ok || !keepHours[hour] {
			delete(v.hourly, key)
		}
	}
	v.lastSweep = now
}

// countSince counts history entries at or after the cutoff. Caller holds the
// lock. History is appended in time order, so scan from the tail.
func (v *Validator) countSince(cutoff time.Time) int {
	n := 0
	for i := len(v.history) - 1; i >= 0; i-- {
		if v.history[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func dayKey(deviceID string, t time.Time) string { return deviceID + "|" + t.Format(dayLayout) }

func hourKey(userID string, t time.Time) string { return userID + "|" + t.Format(hourLayout) }

func splitKey(key string) (id, bucket string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

func snapshotPolicy(p shockstream.SafetyPolicy) shockstream.SafetyPolicy {
	out := p
	out.DeviceLimits = make(map[string]shockstream.DeviceLimits, len(p.DeviceLimits))
	for id, dl := range p.DeviceLimits {
		out.DeviceLimits[id] = dl
	}
	out.UserLimits.Whitelist = append([]string(nil), p.UserLimits.Whitelist...)
	out.UserLimits.Blacklist = append([]string(nil), p.UserLimits.Blacklist...)
	return out
}

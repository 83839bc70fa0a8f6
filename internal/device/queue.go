package device

import (
	"sort"
	"time"
)

// request is one queued control call. done receives the normalized outcome
// exactly once.
type request struct {
	priority   int // lower = served first
	enqueuedAt time.Time
	payload    controlPayload
	done       chan error
}

// enqueue inserts the request by priority (ties FIFO by enqueue time) and
// starts the drain loop if it is idle.
func (c *Client) enqueue(req *request) {
	c.qmu.Lock()
	c.queue = append(c.queue, req)
	sort.SliceStable(c.queue, func(a, b int) bool {
		if c.queue[a].priority != c.queue[b].priority {
			return c.queue[a].priority < c.queue[b].priority
		}
		return c.queue[a].enqueuedAt.Before(c.queue[b].enqueuedAt)
	})
	if !c.draining {
		c.draining = true
		go c.drainLoop()
	}
	c.qmu.Unlock()
}

// drainLoop is the single consumer of the request queue. It dispatches each
// request once the rate window allows and a concurrency slot is free, then
// runs the call in its own goroutine so up to MaxConcurrent requests are in
// flight at a time.
func (c *Client) drainLoop() {
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.qmu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		if err := c.waitForWindow(); err != nil {
			req.done <- err
			continue
		}
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			req.done <- err
			continue
		}
		c.recordDispatch(time.Now())

		go func(r *request) {
			defer c.sem.Release(1)
			r.done <- c.executeWithRetry(r)
		}(req)
	}
}

// waitForWindow blocks until dispatching one more request keeps the trailing
// window under the quota: prune expired timestamps, and if still at the
// limit, sleep until the oldest one leaves the window.
func (c *Client) waitForWindow() error {
	for {
		c.wmu.Lock()
		now := time.Now()
		cutoff := now.Add(-c.cfg.Window)
		idx := 0
		for idx < len(c.window) && c.window[idx].Before(cutoff) {
			idx++
		}
		if idx > 0 {
			c.window = append(c.window[:0:0], c.window[idx:]...)
		}
		if len(c.window) < c.cfg.MaxRequestsPerWindow {
			c.wmu.Unlock()
			return nil
		}
		wait := c.window[0].Add(c.cfg.Window).Sub(now)
		c.wmu.Unlock()

		if c.log != nil {
			c.log.Debugw("device_api_rate_limited", "wait_ms", wait.Milliseconds())
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return c.ctx.Err()
		}
		t.Stop()
	}
}

func (c *Client) recordDispatch(at time.Time) {
	c.wmu.Lock()
	c.window = append(c.window, at)
	c.wmu.Unlock()
}

// executeWithRetry wraps one request in exponential backoff. Client errors
// other than 429 fail immediately; everything else retries up to MaxRetries.
func (c *Client) executeWithRetry(r *request) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BaseRetryDelay << uint(attempt-1) // base * 2^(attempt-1)
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-c.ctx.Done():
				t.Stop()
				return c.ctx.Err()
			}
			t.Stop()
			if c.log != nil {
				c.log.Debugw("device_api_retry", "attempt", attempt, "err", lastErr)
			}
		}
		lastErr = c.execute(r)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"shockstream"
	"shockstream/internal/safety"
)

// fakeChecker approves everything unless denyReason is set, and records
// registration calls.
type fakeChecker struct {
	mu         sync.Mutex
	denyReason string
	checks     int
	registered []string
}

func (f *fakeChecker) CheckCommand(cmd shockstream.Command, userID, deviceID string, userCtx shockstream.UserContext) safety.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.denyReason != "" {
		return safety.Result{Allowed: false, Reason: f.denyReason}
	}
	adjusted := cmd
	return safety.Result{Allowed: true, Adjusted: &adjusted}
}

func (f *fakeChecker) RegisterCommand(deviceID, userID string, cmd shockstream.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, deviceID)
}

// fakeSender records dispatch order and fails failCount times before
// succeeding (failCount < 0 fails forever).
type fakeSender struct {
	mu        sync.Mutex
	sent      []shockstream.Command
	failCount int
}

func (f *fakeSender) Send(ctx context.Context, cmd shockstream.Command, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount != 0 {
		if f.failCount > 0 {
			f.failCount--
		}
		return errors.New("device api unavailable")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = c.DeviceID
	}
	return out
}

func fastConfig() Config {
	return Config{
		MaxQueueSize:      100,
		MaxRetries:        2,
		InterCommandDelay: time.Millisecond,
		RetryDelay:        time.Millisecond,
	}
}

func cmdFor(device string) shockstream.Command {
	return shockstream.Command{
		Type:       shockstream.CommandVibrate,
		DeviceID:   device,
		Intensity:  20,
		DurationMs: 500,
		UserID:     "user-1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestEnqueue_Backpressure(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxQueueSize = 2
	s := New(cfg, &fakeChecker{}, &fakeSender{}, nil)
	defer s.Stop()
	s.Pause()

	for i := 0; i < 2; i++ {
		if res := s.Enqueue(cmdFor(fmt.Sprintf("dev-%d", i)), Options{}); !res.Success {
			t.Fatalf("enqueue %d should succeed: %s", i, res.Message)
		}
	}
	res := s.Enqueue(cmdFor("dev-overflow"), Options{})
	if res.Success {
		t.Fatalf("expected backpressure rejection at capacity")
	}
	if res.Message == "" {
		t.Fatalf("backpressure rejection should carry a message")
	}
}

func TestRunLoop_FIFOWithinPriorityTier(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()
	s.Pause()

	s.Enqueue(cmdFor("first"), Options{Priority: 5})
	s.Enqueue(cmdFor("second"), Options{Priority: 5})
	s.Resume()

	waitFor(t, func() bool { return len(sender.sentIDs()) == 2 })
	got := sender.sentIDs()
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected FIFO order within the tier, got %v", got)
	}
}

func TestRunLoop_PriorityOrdering(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()
	s.Pause()

	s.Enqueue(cmdFor("low"), Options{Priority: 2})
	s.Enqueue(cmdFor("high"), Options{Priority: 9})
	s.Resume()

	waitFor(t, func() bool { return len(sender.sentIDs()) == 2 })
	got := sender.sentIDs()
	if got[0] != "high" || got[1] != "low" {
		t.Fatalf("expected high before low, got %v", got)
	}
}

func TestRunLoop_EffectiveTimestampTieBreak(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()
	s.Pause()

	// "immediate" enqueued first, but "scheduled" carries an earlier
	// effective timestamp at the same priority, so it must run first.
	s.Enqueue(cmdFor("immediate"), Options{Priority: 5})
	past := time.Now().UTC().Add(-time.Second)
	s.Enqueue(cmdFor("scheduled"), Options{Priority: 5, Timestamp: &past})
	s.Resume()

	waitFor(t, func() bool { return len(sender.sentIDs()) == 2 })
	got := sender.sentIDs()
	if got[0] != "scheduled" || got[1] != "immediate" {
		t.Fatalf("expected scheduled before immediate, got %v", got)
	}
}

func TestRunLoop_FutureTimestampDelays(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	at := time.Now().UTC().Add(120 * time.Millisecond)
	s.Enqueue(cmdFor("later"), Options{Priority: 5, Timestamp: &at})

	time.Sleep(40 * time.Millisecond)
	if n := len(sender.sentIDs()); n != 0 {
		t.Fatalf("scheduled item ran %dx before its timestamp", n)
	}
	waitFor(t, func() bool { return len(sender.sentIDs()) == 1 })
}

func TestRunLoop_RetryUntilExhausted(t *testing.T) {
	sender := &fakeSender{failCount: -1}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	res := s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		it, ok := s.Item(res.QueueID)
		return ok && it.Status == shockstream.StatusFailed
	})

	it, _ := s.Item(res.QueueID)
	if it.Retries != it.MaxRetries {
		t.Fatalf("expected retries == max retries (%d), got %d", it.MaxRetries, it.Retries)
	}
	if it.Error == "" {
		t.Fatalf("failed item should carry an error")
	}
	st := s.Stats()
	if st.TotalFailed != 1 || st.TotalRetried != int64(it.MaxRetries) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRunLoop_RetryThenSuccess(t *testing.T) {
	sender := &fakeSender{failCount: 1}
	checker := &fakeChecker{}
	s := New(fastConfig(), checker, sender, nil)
	defer s.Stop()

	res := s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		it, ok := s.Item(res.QueueID)
		return ok && it.Status == shockstream.StatusCompleted
	})

	it, _ := s.Item(res.QueueID)
	if it.Retries != 1 {
		t.Fatalf("expected one retry, got %d", it.Retries)
	}
	checker.mu.Lock()
	registered := len(checker.registered)
	checker.mu.Unlock()
	if registered != 1 {
		t.Fatalf("expected exactly one registration after success, got %d", registered)
	}
}

func TestRunLoop_RecheckRejectionFailsWithoutDispatch(t *testing.T) {
	sender := &fakeSender{}
	checker := &fakeChecker{denyReason: "emergency stop is active"}
	s := New(fastConfig(), checker, sender, nil)
	defer s.Stop()

	res := s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		it, ok := s.Item(res.QueueID)
		return ok && it.Status == shockstream.StatusFailed
	})

	it, _ := s.Item(res.QueueID)
	if it.Retries != 0 {
		t.Fatalf("policy rejection must not consume retries, got %d", it.Retries)
	}
	if len(sender.sentIDs()) != 0 {
		t.Fatalf("rejected command must not reach the device API")
	}
}

func TestCancel_PendingOnly(t *testing.T) {
	s := New(fastConfig(), &fakeChecker{}, &fakeSender{}, nil)
	defer s.Stop()
	s.Pause()

	res := s.Enqueue(cmdFor("dev-1"), Options{})
	if !s.Cancel(res.QueueID) {
		t.Fatalf("pending item should be cancellable")
	}
	it, _ := s.Item(res.QueueID)
	if it.Status != shockstream.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", it.Status)
	}
	if s.Cancel(res.QueueID) {
		t.Fatalf("terminal item must not be cancellable again")
	}
}

func TestClear_CancelsAllPending(t *testing.T) {
	s := New(fastConfig(), &fakeChecker{}, &fakeSender{}, nil)
	defer s.Stop()
	s.Pause()

	for i := 0; i < 3; i++ {
		s.Enqueue(cmdFor(fmt.Sprintf("dev-%d", i)), Options{})
	}
	if n := s.Clear(); n != 3 {
		t.Fatalf("expected 3 cleared, got %d", n)
	}
	st := s.Stats()
	if st.Pending != 0 || st.TotalCancelled != 3 {
		t.Fatalf("unexpected stats after clear: %+v", st)
	}
}

func TestRunLoop_ExecutionCancelPredicate(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()
	s.SetCancelPredicate(func(executionID string) bool { return executionID == "aborted-seq" })
	s.Pause()

	res := s.Enqueue(cmdFor("dev-1"), Options{ExecutionID: "aborted-seq", StepIndex: 2})
	s.Resume()

	waitFor(t, func() bool {
		it, ok := s.Item(res.QueueID)
		return ok && it.Status == shockstream.StatusCancelled
	})
	if len(sender.sentIDs()) != 0 {
		t.Fatalf("cancelled step must not dispatch")
	}
}

func TestOnTerminal_HookReceivesCompletedItem(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	var mu sync.Mutex
	var seen []shockstream.QueueItem
	s.OnTerminal(func(item shockstream.QueueItem) {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
	})

	s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if seen[0].Status != shockstream.StatusCompleted {
		t.Fatalf("expected completed item in hook, got %s", seen[0].Status)
	}
	if seen[0].CompletedAt == nil {
		t.Fatalf("terminal item missing CompletedAt")
	}
}

func TestOnTerminal_AllListenersFire(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	var mu sync.Mutex
	counts := make([]int, 2)
	for i := range counts {
		i := i
		s.OnTerminal(func(shockstream.QueueItem) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}

	s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[0] == 1 && counts[1] == 1
	})
}

func TestPruneTerminal_KeepsMostRecent(t *testing.T) {
	s := New(fastConfig(), &fakeChecker{}, &fakeSender{}, nil)
	defer s.Stop()

	base := time.Now().UTC().Add(-time.Hour)
	s.lk.lock()
	for i := 0; i < terminalKeep+20; i++ {
		done := base.Add(time.Duration(i) * time.Second)
		s.items = append(s.items, &shockstream.QueueItem{
			ID:          fmt.Sprintf("item-%d", i),
			Status:      shockstream.StatusCompleted,
			CompletedAt: &done,
		})
	}
	s.pruneTerminalLocked()
	remaining := len(s.items)
	oldestGone := true
	for _, it := range s.items {
		if it.ID == "item-0" {
			oldestGone = false
		}
	}
	s.lk.unlock()

	if remaining != terminalKeep {
		t.Fatalf("expected %d terminal items kept, got %d", terminalKeep, remaining)
	}
	if !oldestGone {
		t.Fatalf("oldest terminal item should have been pruned first")
	}
}

func TestPauseResume(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	s.Pause()
	s.Enqueue(cmdFor("dev-1"), Options{})
	time.Sleep(30 * time.Millisecond)
	if len(sender.sentIDs()) != 0 {
		t.Fatalf("paused scheduler must not dispatch")
	}
	if !s.Paused() {
		t.Fatalf("expected paused state")
	}

	s.Resume()
	waitFor(t, func() bool { return len(sender.sentIDs()) == 1 })
}

func TestStats_SuccessRate(t *testing.T) {
	sender := &fakeSender{}
	s := New(fastConfig(), &fakeChecker{}, sender, nil)
	defer s.Stop()

	res := s.Enqueue(cmdFor("dev-1"), Options{})
	waitFor(t, func() bool {
		it, ok := s.Item(res.QueueID)
		return ok && it.Status == shockstream.StatusCompleted
	})

	st := s.Stats()
	if st.TotalEnqueued != 1 || st.TotalProcessed != 1 {
		t.Fatalf("unexpected totals: %+v", st)
	}
	if st.SuccessRate != 1 {
		t.Fatalf("expected success rate 1.0, got %f", st.SuccessRate)
	}
}

package scheduler

import (
	"context"
	"sort"
	"time"

	"shockstream"
	"shockstream/internal/logger"
	"shockstream/internal/safety"

	"github.com/google/uuid"
)

// Defaults applied by Config.withDefaults.
const (
	defaultMaxQueueSize      = 1000
	defaultMaxRetries        = 3
	defaultInterCommandDelay = 300 * time.Millisecond
	defaultRetryDelay        = time.Second
	defaultPriority          = 5
	terminalKeep             = 100
)

// CommandSender executes one device command. The device API client satisfies
// this through a thin adapter in the service layer.
type CommandSender interface {
	Send(ctx context.Context, cmd shockstream.Command, priority int) error
}

// AdmissionChecker is the safety pass run immediately before dispatch.
// Commands can sit in the queue long enough for limits to change, so the
// admission decision from enqueue time is not trusted here.
type AdmissionChecker interface {
	CheckCommand(cmd shockstream.Command, userID, deviceID string, userCtx shockstream.UserContext) safety.Result
	RegisterCommand(deviceID, userID string, cmd shockstream.Command)
}

// Config tunes queue capacity and pacing.
type Config struct {
	MaxQueueSize      int
	MaxRetries        int
	InterCommandDelay time.Duration
	RetryDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InterCommandDelay <= 0 {
		c.InterCommandDelay = defaultInterCommandDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Options carry per-item scheduling parameters.
type Options struct {
	Priority    int        // 1..10, 10 most urgent; 0 means default (5)
	Timestamp   *time.Time // earliest execution time, for sequenced effects
	ExecutionID string
	StepIndex   int
	UserContext shockstream.UserContext
}

// EnqueueResult is returned synchronously from Enqueue. Success=false means
// backpressure; eventual execution failures are reported via item status, not
// here.
type EnqueueResult struct {
	Success  bool   `json:"success"`
	QueueID  string `json:"queue_id,omitempty"`
	Position int    `json:"position,omitempty"`
	Message  string `json:"message"`
}

// Scheduler owns the single logical command queue and its sequential
// execution loop. The loop runs only while pending items exist; Enqueue
// restarts it when it is idle.
type Scheduler struct {
	cfg     Config
	checker AdmissionChecker
	sender  CommandSender
	log     *logger.Logger

	// cancelled, when set, reports whether a multi-step execution was
	// aborted; checked lazily just before a step would dispatch.
	cancelled func(executionID string) bool
	// onTerminal listeners are invoked in order (outside the lock) for every
	// item reaching a terminal state. The service layer appends history rows
	// and feeds the websocket transition stream from these.
	onTerminal []func(item shockstream.QueueItem)

	lk       fifoLock
	items    []*shockstream.QueueItem
	running  bool
	paused   bool
	resumeCh chan struct{}

	stats runStats

	ctx  context.Context
	stop context.CancelFunc
}

// New builds a scheduler. The loop is not started until the first enqueue.
func New(cfg Config, checker AdmissionChecker, sender CommandSender, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		checker: checker,
		sender:  sender,
		log:     log,
		lk:      newFifoLock(),
		ctx:     ctx,
		stop:    cancel,
	}
}

// SetCancelPredicate installs the multi-step cancellation check.
func (s *Scheduler) SetCancelPredicate(fn func(executionID string) bool) { s.cancelled = fn }

// OnTerminal registers a terminal-state listener. Register all listeners
// before the first enqueue; registration is not synchronized with the loop.
func (s *Scheduler) OnTerminal(fn func(item shockstream.QueueItem)) {
	s.onTerminal = append(s.onTerminal, fn)
}

// Stop halts the execution loop. In-flight dispatch is allowed to finish.
func (s *Scheduler) Stop() { s.stop() }

// Enqueue admits a command into the queue. Rejects when pending+processing
// has reached MaxQueueSize.
func (s *Scheduler) Enqueue(cmd shockstream.Command, opts Options) EnqueueResult {
	s.lk.lock()
	defer s.lk.unlock()

	if s.activeCountLocked() >= s.cfg.MaxQueueSize {
		return EnqueueResult{Success: false, Message: "queue is full, try again later"}
	}

	item := &shockstream.QueueItem{
		ID:          uuid.NewString(),
		Command:     cmd,
		Priority:    clampPriority(opts.Priority),
		Status:      shockstream.StatusPending,
		MaxRetries:  s.cfg.MaxRetries,
		EnqueuedAt:  time.Now().UTC(),
		Timestamp:   opts.Timestamp,
		ExecutionID: opts.ExecutionID,
		StepIndex:   opts.StepIndex,
		UserContext: opts.UserContext,
	}
	s.items = append(s.items, item)
	s.sortPendingLocked()
	s.stats.enqueued++

	if !s.running {
		s.running = true
		go s.runLoop()
	}

	return EnqueueResult{
		Success:  true,
		QueueID:  item.ID,
		Position: s.pendingPositionLocked(item.ID),
		Message:  "command queued",
	}
}

// Cancel marks a pending item cancelled. Items already processing cannot be
// cancelled mid-flight.
func (s *Scheduler) Cancel(id string) bool {
	s.lk.lock()
	var done *shockstream.QueueItem
	for _, it := range s.items {
		if it.ID == id && it.Status == shockstream.StatusPending {
			s.finishLocked(it, shockstream.StatusCancelled, "cancelled by request")
			s.stats.cancelled++
			done = it
			break
		}
	}
	s.lk.unlock()
	if done != nil {
		s.notifyTerminal(*done)
		return true
	}
	return false
}

// Clear cancels all pending items in bulk and returns how many it cancelled.
func (s *Scheduler) Clear() int {
	s.lk.lock()
	var cleared []shockstream.QueueItem
	for _, it := range s.items {
		if it.Status == shockstream.StatusPending {
			s.finishLocked(it, shockstream.StatusCancelled, "queue cleared")
			s.stats.cancelled++
			cleared = append(cleared, *it)
		}
	}
	s.lk.unlock()
	for _, it := range cleared {
		s.notifyTerminal(it)
	}
	return len(cleared)
}

// Pause suspends the execution loop after the current item.
func (s *Scheduler) Pause() {
	s.lk.lock()
	defer s.lk.unlock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
}

// Resume lets a paused loop continue.
func (s *Scheduler) Resume() {
	s.lk.lock()
	defer s.lk.unlock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
}

// Paused reports whether the loop is currently paused.
func (s *Scheduler) Paused() bool {
	s.lk.lock()
	defer s.lk.unlock()
	return s.paused
}

// Items returns a snapshot of the queue, current order preserved.
func (s *Scheduler) Items() []shockstream.QueueItem {
	s.lk.lock()
	defer s.lk.unlock()
	out := make([]shockstream.QueueItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	return out
}

// Item looks up a single queue item by id.
func (s *Scheduler) Item(id string) (shockstream.QueueItem, bool) {
	s.lk.lock()
	defer s.lk.unlock()
	for _, it := range s.items {
		if it.ID == id {
			return *it, true
		}
	}
	return shockstream.QueueItem{}, false
}

// runLoop is the single worker. It drains pending items in priority order
// and exits when none remain; Enqueue restarts it.
func (s *Scheduler) runLoop() {
	for {
		if s.ctx.Err() != nil {
			s.lk.lock()
			s.running = false
			s.lk.unlock()
			return
		}

		s.lk.lock()
		if s.paused {
			resume := s.resumeCh
			s.lk.unlock()
			select {
			case <-resume:
			case <-s.ctx.Done():
			}
			continue
		}

		item := s.nextPendingLocked()
		if item == nil {
			s.running = false
			s.lk.unlock()
			return
		}

		// Scheduled items must not run before their timestamp. Sleep outside
		// the lock and re-evaluate: a more urgent item may arrive meanwhile.
		if item.Timestamp != nil {
			if wait := time.Until(*item.Timestamp); wait > 0 {
				s.lk.unlock()
				s.sleep(wait)
				continue
			}
		}

		if s.cancelled != nil && item.ExecutionID != "" && s.cancelled(item.ExecutionID) {
			s.finishLocked(item, shockstream.StatusCancelled, "execution cancelled")
			s.stats.cancelled++
			s.lk.unlock()
			s.notifyTerminal(*item)
			continue
		}

		item.Status = shockstream.StatusProcessing
		s.lk.unlock()

		s.process(item)

		s.sleep(s.cfg.InterCommandDelay)
		s.lk.lock()
		s.pruneTerminalLocked()
		s.lk.unlock()
	}
}

// process re-validates, dispatches and settles one item. Called without the
// lock held; the item is in processing state so no other path mutates it.
func (s *Scheduler) process(item *shockstream.QueueItem) {
	start := time.Now()
	cmd := item.Command

	// Second safety pass. Limits may have tightened while the item waited.
	check := s.checker.CheckCommand(cmd, cmd.UserID, cmd.DeviceID, item.UserContext)
	if !check.Allowed {
		s.lk.lock()
		s.finishLocked(item, shockstream.StatusFailed, "rejected before dispatch: "+check.Reason)
		s.stats.failed++
		s.lk.unlock()
		s.notifyTerminal(*item)
		if s.log != nil {
			s.log.Infow("command_rejected_on_recheck", "queue_id", item.ID, "reason", check.Reason)
		}
		return
	}

	exec := *check.Adjusted
	err := s.sender.Send(s.ctx, exec, item.Priority)
	if err == nil {
		s.checker.RegisterCommand(exec.DeviceID, exec.UserID, exec)
		s.lk.lock()
		item.Command = exec // expose the values actually sent, capping flags included
		s.finishLocked(item, shockstream.StatusCompleted, "")
		s.stats.recordProcessed(time.Since(start))
		s.lk.unlock()
		s.notifyTerminal(*item)
		return
	}

	// Any dispatch error is retryable from the scheduler's point of view;
	// error subtypes are the client's concern.
	if item.Retries < item.MaxRetries {
		if s.log != nil {
			s.log.Warnw("command_dispatch_failed", "queue_id", item.ID,
				"retry", item.Retries+1, "max_retries", item.MaxRetries, "err", err)
		}
		s.sleep(s.cfg.RetryDelay) // outside the lock, keeps other operations live
		s.lk.lock()
		item.Retries++
		item.Status = shockstream.StatusPending
		s.sortPendingLocked()
		s.stats.retried++
		s.lk.unlock()
		return
	}

	s.lk.lock()
	s.finishLocked(item, shockstream.StatusFailed, err.Error())
	s.stats.failed++
	s.lk.unlock()
	s.notifyTerminal(*item)
	if s.log != nil {
		s.log.Errorw("command_failed", "queue_id", item.ID, "retries", item.Retries, "err", err)
	}
}

// sortPendingLocked reorders pending items only, leaving processing and
// terminal items in place: priority descending, then effective timestamp
// ascending, then enqueue time ascending.
func (s *Scheduler) sortPendingLocked() {
	var idx []int
	var pending []*shockstream.QueueItem
	for i, it := range s.items {
		if it.Status == shockstream.StatusPending {
			idx = append(idx, i)
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		pa, pb := pending[a], pending[b]
		if pa.Priority != pb.Priority {
			return pa.Priority > pb.Priority
		}
		ea, eb := pa.EffectiveTimestamp(), pb.EffectiveTimestamp()
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		return pa.EnqueuedAt.Before(pb.EnqueuedAt)
	})
	for j, i := range idx {
		s.items[i] = pending[j]
	}
}

func (s *Scheduler) nextPendingLocked() *shockstream.QueueItem {
	for _, it := range s.items {
		if it.Status == shockstream.StatusPending {
			return it
		}
	}
	return nil
}

func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, it := range s.items {
		if !it.Status.Terminal() {
			n++
		}
	}
	return n
}

func (s *Scheduler) pendingPositionLocked(id string) int {
	pos := 0
	for _, it := range s.items {
		if it.Status != shockstream.StatusPending {
			continue
		}
		pos++
		if it.ID == id {
			return pos
		}
	}
	return pos
}

func (s *Scheduler) finishLocked(item *shockstream.QueueItem, status shockstream.QueueStatus, errMsg string) {
	now := time.Now().UTC()
	item.Status = status
	item.CompletedAt = &now
	item.Error = errMsg
}

// pruneTerminalLocked keeps only the most recent terminalKeep finished items,
// discarding the oldest first.
func (s *Scheduler) pruneTerminalLocked() {
	terminal := 0
	for _, it := range s.items {
		if it.Status.Terminal() {
			terminal++
		}
	}
	excess := terminal - terminalKeep
	if excess <= 0 {
		return
	}

	// Slice order is not completion order, so rank by CompletedAt and drop
	// the oldest.
	finished := make([]*shockstream.QueueItem, 0, terminal)
	for _, it := range s.items {
		if it.Status.Terminal() {
			finished = append(finished, it)
		}
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].CompletedAt.Before(*finished[b].CompletedAt)
	})
	drop := make(map[string]bool, excess)
	for _, it := range finished[:excess] {
		drop[it.ID] = true
	}

	kept := s.items[:0]
	for _, it := range s.items {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	s.items = kept
}

func (s *Scheduler) notifyTerminal(item shockstream.QueueItem) {
	for _, fn := range s.onTerminal {
		fn(item)
	}
}

func (s *Scheduler) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
	}
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return defaultPriority
	case p < 1:
		return 1
	case p > 10:
		return 10
	}
	return p
}

package service

import (
	"shockstream"
	"shockstream/internal/safety"
	"shockstream/internal/scheduler"
)

type QueueService struct {
	sched     *scheduler.Scheduler
	validator *safety.Validator
	feed      *transitionFeed
}

func NewQueueService(sched *scheduler.Scheduler, validator *safety.Validator) *QueueService {
	return &QueueService{sched: sched, validator: validator, feed: newTransitionFeed()}
}

func (s *QueueService) Items() []shockstream.QueueItem { return s.sched.Items() }

func (s *QueueService) Item(id string) (shockstream.QueueItem, bool) { return s.sched.Item(id) }

// Cancel removes a pending item. Items already processing are not cancelable.
func (s *QueueService) Cancel(id string) bool { return s.sched.Cancel(id) }

// Clear cancels every pending item and returns the count.
func (s *QueueService) Clear() int { return s.sched.Clear() }

func (s *QueueService) Pause() { s.sched.Pause() }

func (s *QueueService) Resume() { s.sched.Resume() }

// SubscribeTransitions streams items as they reach a terminal state. The
// returned cancel func must be called when the consumer goes away.
func (s *QueueService) SubscribeTransitions() (<-chan shockstream.QueueItem, func()) {
	return s.feed.subscribe()
}

// Stats joins the scheduler's throughput snapshot with the validator's
// rolling usage counters.
func (s *QueueService) Stats() PipelineStats {
	return PipelineStats{
		Queue:  s.sched.Stats(),
		Safety: s.validator.UsageStats(),
	}
}

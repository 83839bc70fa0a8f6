package service

import (
	"context"
	"time"

	"shockstream"
	"shockstream/internal/logger"
	"shockstream/internal/safety"
	"shockstream/internal/scheduler"
)

// SubmitRequest is one viewer-triggered command plus its scheduling hints.
type SubmitRequest struct {
	Command     shockstream.Command
	UserContext shockstream.UserContext
	Priority    int        // 1..10, 10 most urgent; 0 means default
	Timestamp   *time.Time // earliest execution time, for sequenced effects
	ExecutionID string
	StepIndex   int
}

// SubmitResult is the synchronous outcome of a submission. Exactly one of
// the three cases holds: rejected by policy, refused by backpressure, or
// queued.
type SubmitResult struct {
	Queued      bool   `json:"queued"`
	QueueID     string `json:"queue_id,omitempty"`
	Position    int    `json:"position,omitempty"`
	Rejected    bool   `json:"rejected,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RemainingMs int64  `json:"remaining_ms,omitempty"`
	Message     string `json:"message,omitempty"`
}

type admission interface {
	CheckCommand(cmd shockstream.Command, userID, deviceID string, userCtx shockstream.UserContext) safety.Result
}

type enqueuer interface {
	Enqueue(cmd shockstream.Command, opts scheduler.Options) scheduler.EnqueueResult
}

type CommandService struct {
	checker admission
	sched   enqueuer
	log     *logger.Logger
}

func NewCommandService(checker admission, sched enqueuer, log *logger.Logger) *CommandService {
	return &CommandService{checker: checker, sched: sched, log: log}
}

// Submit runs the safety admission check and, when the command is allowed,
// enqueues the adjusted copy. The scheduler re-checks before dispatch; this
// first pass exists so callers get rejections and clamps synchronously.
func (s *CommandService) Submit(ctx context.Context, req SubmitRequest) SubmitResult {
	res := s.checker.CheckCommand(req.Command, req.Command.UserID, req.Command.DeviceID, req.UserContext)
	if !res.Allowed {
		if s.log != nil {
			s.log.Infow("command_rejected",
				"device_id", req.Command.DeviceID,
				"user_id", req.Command.UserID,
				"reason", res.Reason,
			)
		}
		return SubmitResult{Rejected: true, Reason: res.Reason, RemainingMs: res.RemainingMs}
	}

	cmd := req.Command
	if res.Adjusted != nil {
		cmd = *res.Adjusted
	}

	out := s.sched.Enqueue(cmd, scheduler.Options{
		Priority:    req.Priority,
		Timestamp:   req.Timestamp,
		ExecutionID: req.ExecutionID,
		StepIndex:   req.StepIndex,
		UserContext: req.UserContext,
	})
	if !out.Success {
		return SubmitResult{Message: out.Message}
	}

	if s.log != nil {
		s.log.Infow("command_queued",
			"queue_id", out.QueueID,
			"device_id", cmd.DeviceID,
			"type", string(cmd.Type),
			"intensity", cmd.Intensity,
			"capped", cmd.CappedIntensity || cmd.CappedDuration,
		)
	}
	return SubmitResult{
		Queued:   true,
		QueueID:  out.QueueID,
		Position: out.Position,
		Message:  out.Message,
	}
}

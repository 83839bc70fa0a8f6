package service

import (
	"context"
	"time"

	"shockstream"
	"shockstream/internal/logger"
	"shockstream/internal/repository"
	"shockstream/internal/safety"
	"shockstream/internal/scheduler"
)

// Commands exposes the submission path: safety admission then enqueue.
type Commands interface {
	Submit(ctx context.Context, req SubmitRequest) SubmitResult
}

// PolicyAdmin exposes safety-policy management, persisted across restarts.
type PolicyAdmin interface {
	Policy(ctx context.Context) shockstream.SafetyPolicy
	UpdatePolicy(ctx context.Context, patch safety.PolicyPatch) (shockstream.SafetyPolicy, error)
	TriggerEmergencyStop(ctx context.Context, reason string) (shockstream.EmergencyStop, error)
	ClearEmergencyStop(ctx context.Context) error
}

// QueueAdmin exposes queue inspection and control.
type QueueAdmin interface {
	Items() []shockstream.QueueItem
	Item(id string) (shockstream.QueueItem, bool)
	Cancel(id string) bool
	Clear() int
	Pause()
	Resume()
	Stats() PipelineStats
	SubscribeTransitions() (<-chan shockstream.QueueItem, func())
}

// History exposes the persisted terminal-command log with filtering access.
type History interface {
	List(ctx context.Context, f repository.HistoryFilter) ([]shockstream.CommandRecord, error)
}

// Devices exposes the flattened device inventory from the control API.
type Devices interface {
	List(ctx context.Context) ([]shockstream.Device, error)
}

// PipelineStats joins scheduler throughput with safety usage counters.
type PipelineStats struct {
	Queue  scheduler.QueueStats `json:"queue"`
	Safety safety.Stats         `json:"safety"`
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Commands
	PolicyAdmin
	QueueAdmin
	History
	Devices
}

// NewService wires the repository layer, validator, scheduler, and device
// client into concrete services, and hooks terminal queue items into the
// history log.
func NewService(repos *repository.Repository, validator *safety.Validator, sched *scheduler.Scheduler, devices DeviceAPI, log *logger.Logger) *Service {
	history := NewHistoryService(repos.History, log)
	queue := NewQueueService(sched, validator)

	sched.OnTerminal(func(item shockstream.QueueItem) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		history.recordTerminal(ctx, item)
	})
	sched.OnTerminal(queue.feed.publish)

	return &Service{
		Commands:    NewCommandService(validator, sched, log),
		PolicyAdmin: NewPolicyService(validator, repos.Settings, log),
		QueueAdmin:  queue,
		History:     history,
		Devices:     NewDeviceService(devices),
	}
}

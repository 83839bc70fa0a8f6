package shockstream

import "time"

// CommandType is the device action requested by a viewer event.
type CommandType string

const (
	CommandShock   CommandType = "Shock"
	CommandVibrate CommandType = "Vibrate"
	CommandSound   CommandType = "Sound"
)

// ValidCommandType reports whether t is one of the supported actions.
func ValidCommandType(t CommandType) bool {
	switch t {
	case CommandShock, CommandVibrate, CommandSound:
		return true
	}
	return false
}

// Absolute command bounds, enforced regardless of configured policy.
const (
	MinIntensity  = 1
	MaxIntensity  = 100
	MinDurationMs = 300
	MaxDurationMs = 30000
	// FloorDurationMs is the lowest duration clamping may produce.
	FloorDurationMs = 100
)

// Command is the unit of intent flowing through the pipeline. Commands are
// immutable inputs; the safety layer produces adjusted copies, it never
// mutates the original.
type Command struct {
	Type       CommandType    `json:"type"` // Shock | Vibrate | Sound
	DeviceID   string         `json:"device_id"`
	Intensity  int            `json:"intensity"`   // 1..100
	DurationMs int            `json:"duration_ms"` // 300..30000
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source,omitempty"` // e.g. gift, chat, follow, manual
	SourceData map[string]any `json:"source_data,omitempty"`

	// Set on adjusted copies when clamping lowered the requested values.
	CappedIntensity bool `json:"capped_intensity,omitempty"`
	CappedDuration  bool `json:"capped_duration,omitempty"`
}

// QueueStatus is the lifecycle state of a queued command.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// QueueItem is the scheduling envelope around one Command. Items are created
// and owned by the scheduler; callers only hold the ID.
type QueueItem struct {
	ID         string      `json:"id"`
	Command    Command     `json:"command"`
	Priority   int         `json:"priority"` // 1..10, 10 = most urgent
	Status     QueueStatus `json:"status"`
	Retries    int         `json:"retries"`
	MaxRetries int         `json:"max_retries"`
	EnqueuedAt time.Time   `json:"enqueued_at"`

	// Timestamp, when set, is the earliest time the item may execute. Used to
	// sequence multi-step effect chains.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// ExecutionID correlates steps of a cancellable multi-step sequence.
	ExecutionID string `json:"execution_id,omitempty"`
	StepIndex   int    `json:"step_index,omitempty"`

	// UserContext is kept on the envelope so the pre-dispatch safety re-check
	// can evaluate the same viewer the command was admitted for.
	UserContext UserContext `json:"user_context,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// EffectiveTimestamp is the time used for tie-break ordering: the scheduled
// time when present, otherwise the enqueue time.
func (q *QueueItem) EffectiveTimestamp() time.Time {
	if q.Timestamp != nil {
		return *q.Timestamp
	}
	return q.EnqueuedAt
}

// GlobalLimits apply to every command regardless of device or user.
type GlobalLimits struct {
	MaxIntensity         int `json:"max_intensity"`
	MaxDurationMs        int `json:"max_duration_ms"`
	MaxCommandsPerMinute int `json:"max_commands_per_minute"`
}

// DeviceLimits tighten the global limits for a single device.
type DeviceLimits struct {
	MaxIntensity  int   `json:"max_intensity"`
	MaxDurationMs int   `json:"max_duration_ms"`
	CooldownMs    int64 `json:"cooldown_ms"`
	DailyLimit    int   `json:"daily_limit"`
}

// UserLimits gate which viewers may issue commands and how often.
type UserLimits struct {
	MinFollowerAgeDays     int      `json:"min_follower_age_days"`
	MaxCommandsPerUserHour int      `json:"max_commands_per_user_per_hour"`
	MinPermissionLevel     string   `json:"min_permission_level"` // viewer | follower | subscriber | moderator
	RequireSuperfan        bool     `json:"require_superfan"`
	Whitelist              []string `json:"whitelist,omitempty"`
	Blacklist              []string `json:"blacklist,omitempty"`
}

// EmergencyStop is the global kill switch. While enabled every admission
// check rejects.
type EmergencyStop struct {
	Enabled     bool       `json:"enabled"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// SafetyPolicy is the configuration aggregate read by every admission check.
type SafetyPolicy struct {
	GlobalLimits  GlobalLimits            `json:"global_limits"`
	DeviceLimits  map[string]DeviceLimits `json:"device_limits,omitempty"`
	UserLimits    UserLimits              `json:"user_limits"`
	EmergencyStop EmergencyStop           `json:"emergency_stop"`
}

// UserContext carries the viewer flags the permission checks are derived from.
type UserContext struct {
	IsModerator     bool `json:"is_moderator"`
	IsSubscriber    bool `json:"is_subscriber"`
	IsSuperfan      bool `json:"is_superfan"`
	IsFollower      bool `json:"is_follower"`
	FollowerAgeDays int  `json:"follower_age_days"`
}

// CommandRecord is one persisted history row, appended when a queue item
// reaches a terminal state.
type CommandRecord struct {
	ID              string      `json:"id"`
	DeviceID        string      `json:"device_id"`
	UserID          string      `json:"user_id,omitempty"`
	Type            CommandType `json:"type"`
	Intensity       int         `json:"intensity"`
	DurationMs      int         `json:"duration_ms"`
	CappedIntensity bool        `json:"capped_intensity"`
	CappedDuration  bool        `json:"capped_duration"`
	Source          string      `json:"source,omitempty"`
	Status          QueueStatus `json:"status"`
	Error           string      `json:"error,omitempty"`
	EnqueuedAt      time.Time   `json:"enqueued_at"`
	CompletedAt     time.Time   `json:"completed_at"`
}

// Device is one controllable shocker, flattened out of the hub/shocker
// nesting the device API returns.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Paused    bool   `json:"paused"`
	HubID     string `json:"hub_id"`
	HubName   string `json:"hub_name"`
	HubOnline bool   `json:"hub_online"`
}

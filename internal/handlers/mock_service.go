package handlers

import (
	"context"

	"shockstream"
	"shockstream/internal/repository"
	"shockstream/internal/safety"
	"shockstream/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockCommands struct {
	result  service.SubmitResult
	lastReq service.SubmitRequest
	calls   int
}

func (m *mockCommands) Submit(ctx context.Context, req service.SubmitRequest) service.SubmitResult {
	m.calls++
	m.lastReq = req
	return m.result
}

type mockPolicyAdmin struct {
	policy    shockstream.SafetyPolicy
	updateErr error
	stopErr   error
	lastPatch safety.PolicyPatch
	lastStop  string
	cleared   int
}

func (m *mockPolicyAdmin) Policy(ctx context.Context) shockstream.SafetyPolicy {
	return m.policy
}

func (m *mockPolicyAdmin) UpdatePolicy(ctx context.Context, patch safety.PolicyPatch) (shockstream.SafetyPolicy, error) {
	m.lastPatch = patch
	return m.policy, m.updateErr
}

func (m *mockPolicyAdmin) TriggerEmergencyStop(ctx context.Context, reason string) (shockstream.EmergencyStop, error) {
	m.lastStop = reason
	return shockstream.EmergencyStop{Enabled: true, Reason: reason}, m.stopErr
}

func (m *mockPolicyAdmin) ClearEmergencyStop(ctx context.Context) error {
	m.cleared++
	return m.stopErr
}

type mockQueueAdmin struct {
	items       []shockstream.QueueItem
	stats       service.PipelineStats
	cancelOK    bool
	cleared     int
	paused      int
	resumed     int
	lastID      string
	cancelled   int
	transitions chan shockstream.QueueItem
}

func (m *mockQueueAdmin) Items() []shockstream.QueueItem { return m.items }

func (m *mockQueueAdmin) Item(id string) (shockstream.QueueItem, bool) {
	for _, it := range m.items {
		if it.ID == id {
			return it, true
		}
	}
	return shockstream.QueueItem{}, false
}

func (m *mockQueueAdmin) Cancel(id string) bool {
	m.cancelled++
	m.lastID = id
	return m.cancelOK
}

func (m *mockQueueAdmin) Clear() int { return m.cleared }

func (m *mockQueueAdmin) Pause() { m.paused++ }

func (m *mockQueueAdmin) Resume() { m.resumed++ }

func (m *mockQueueAdmin) Stats() service.PipelineStats { return m.stats }

func (m *mockQueueAdmin) SubscribeTransitions() (<-chan shockstream.QueueItem, func()) {
	if m.transitions == nil {
		m.transitions = make(chan shockstream.QueueItem, 4)
	}
	return m.transitions, func() {}
}

type mockHistory struct {
	resp       []shockstream.CommandRecord
	err        error
	lastFilter repository.HistoryFilter
}

func (m *mockHistory) List(ctx context.Context, f repository.HistoryFilter) ([]shockstream.CommandRecord, error) {
	m.lastFilter = f
	return m.resp, m.err
}

type mockDevices struct {
	resp []shockstream.Device
	err  error
}

func (m *mockDevices) List(ctx context.Context) ([]shockstream.Device, error) {
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

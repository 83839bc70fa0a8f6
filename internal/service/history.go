package service

import (
	"context"

	"shockstream"
	"shockstream/internal/logger"
	"shockstream/internal/repository"
)

type HistoryService struct {
	repo repository.HistoryRepo
	log  *logger.Logger
}

func NewHistoryService(repo repository.HistoryRepo, log *logger.Logger) *HistoryService {
	return &HistoryService{repo: repo, log: log}
}

// List returns persisted terminal records, most recent first.
func (s *HistoryService) List(ctx context.Context, f repository.HistoryFilter) ([]shockstream.CommandRecord, error) {
	return s.repo.List(ctx, f)
}

// recordTerminal persists one finished queue item. Called from the
// scheduler's terminal hook; a write failure only loses history, so it is
// logged and swallowed.
func (s *HistoryService) recordTerminal(ctx context.Context, item shockstream.QueueItem) {
	rec := shockstream.CommandRecord{
		ID:              item.ID,
		DeviceID:        item.Command.DeviceID,
		UserID:          item.Command.UserID,
		Type:            item.Command.Type,
		Intensity:       item.Command.Intensity,
		DurationMs:      item.Command.DurationMs,
		CappedIntensity: item.Command.CappedIntensity,
		CappedDuration:  item.Command.CappedDuration,
		Source:          item.Command.Source,
		Status:          item.Status,
		Error:           item.Error,
		EnqueuedAt:      item.EnqueuedAt,
	}
	if item.CompletedAt != nil {
		rec.CompletedAt = *item.CompletedAt
	}

	if err := s.repo.Append(ctx, rec); err != nil && s.log != nil {
		s.log.Errorw("history_append_failed", "queue_id", item.ID, "err", err)
	}
}

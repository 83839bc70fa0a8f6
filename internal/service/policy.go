package service

import (
	"context"
	"fmt"

	"shockstream"
	"shockstream/internal/logger"
	"shockstream/internal/repository"
	"shockstream/internal/safety"
)

type PolicyService struct {
	validator *safety.Validator
	settings  repository.SettingsRepo
	log       *logger.Logger
}

func NewPolicyService(validator *safety.Validator, settings repository.SettingsRepo, log *logger.Logger) *PolicyService {
	return &PolicyService{validator: validator, settings: settings, log: log}
}

// Policy returns the active policy snapshot.
func (s *PolicyService) Policy(ctx context.Context) shockstream.SafetyPolicy {
	return s.validator.Policy()
}

// UpdatePolicy merges the patch into the live validator and persists the
// resulting policy. The in-memory update wins; a persistence failure is
// surfaced so the operator knows the change will not survive a restart.
func (s *PolicyService) UpdatePolicy(ctx context.Context, patch safety.PolicyPatch) (shockstream.SafetyPolicy, error) {
	updated := s.validator.UpdatePolicy(patch)
	if err := s.settings.SavePolicy(ctx, updated); err != nil {
		return updated, fmt.Errorf("policy updated but not persisted: %w", err)
	}
	return updated, nil
}

// TriggerEmergencyStop flips the kill switch and persists it so a restart
// does not silently re-enable commands.
func (s *PolicyService) TriggerEmergencyStop(ctx context.Context, reason string) (shockstream.EmergencyStop, error) {
	stop := s.validator.TriggerEmergencyStop(reason)
	if err := s.settings.SavePolicy(ctx, s.validator.Policy()); err != nil {
		return stop, fmt.Errorf("emergency stop active but not persisted: %w", err)
	}
	return stop, nil
}

// ClearEmergencyStop re-enables admission and persists the cleared state.
func (s *PolicyService) ClearEmergencyStop(ctx context.Context) error {
	s.validator.ClearEmergencyStop()
	if err := s.settings.SavePolicy(ctx, s.validator.Policy()); err != nil {
		return fmt.Errorf("emergency stop cleared but not persisted: %w", err)
	}
	return nil
}

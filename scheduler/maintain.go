package scheduler

import (
	"context"
	"errors"
	"fmt"

	"git.0xdad.com/tblyler/meditime/logx"
)

// Maintain clears the dedup cache and deactivates reminders whose
// prescription ended before today. It returns the number deactivated.
// Both steps always run and are safe to repeat.
func (s *Scheduler) Maintain(ctx context.Context) (int, error) {
	now := s.now()

	var errs []error
	if err := s.cache.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to clear dedup cache: %w", err))
	}

	if err := s.missed.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to clear missed dose records: %w", err))
	}

	deactivated, err := s.reminders.DeactivateExpiredReminders(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("unable to deactivate expired reminders: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Error("maintenance failed", logx.Err(err))
		return deactivated, err
	}

	s.log.Info("maintenance complete", logx.Int("deactivated", deactivated))

	return deactivated, nil
}

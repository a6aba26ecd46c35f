package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
)

// PhraseScheduler keeps the list of scheduled phrases active right now
type PhraseScheduler struct {
	repo   repository.ScheduledPhraseRepository
	logger logger.Logger
	loc    *time.Location
	now    func() time.Time

	mu     sync.RWMutex
	active []entity.ScheduledPhrase
}

// NewPhraseScheduler creates a scheduler reading from repo.
// Phrase windows are evaluated in loc, the unit's wall clock.
func NewPhraseScheduler(repo repository.ScheduledPhraseRepository, loc *time.Location, logger logger.Logger) *PhraseScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &PhraseScheduler{
		repo:   repo,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// Refresh reloads the phrases and filters them against the current time.
// The previous selection survives a failed load.
func (s *PhraseScheduler) Refresh(ctx context.Context) error {
	phrases, err := s.repo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled phrases: %w", err)
	}

	active := FilterActivePhrases(phrases, s.now().In(s.loc))

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	s.logger.Debug("Scheduled phrases refreshed", "total", len(phrases), "active", len(active))
	return nil
}

// Active returns the phrases selected by the last refresh
func (s *PhraseScheduler) Active() []entity.ScheduledPhrase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.ScheduledPhrase, len(s.active))
	copy(out, s.active)
	return out
}

// FilterActivePhrases keeps the phrases active at t, in input order
func FilterActivePhrases(phrases []entity.ScheduledPhrase, t time.Time) []entity.ScheduledPhrase {
	out := make([]entity.ScheduledPhrase, 0, len(phrases))
	for _, p := range phrases {
		if p.IsActiveAt(t) {
			out = append(out, p)
		}
	}
	return out
}

package usecase

import (
	"context"
	"fmt"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
)

// Reconciler refetches a patient after a change was observed
type Reconciler interface {
	Reconcile(ctx context.Context, id string) error
}

// ChangeReconciler turns change feed notifications into refetches. The feed
// never mutates state directly.
type ChangeReconciler struct {
	feed       repository.ChangeFeed
	reconciler Reconciler
	logger     logger.Logger
}

// NewChangeReconciler creates a reconciler
func NewChangeReconciler(feed repository.ChangeFeed, reconciler Reconciler, logger logger.Logger) *ChangeReconciler {
	return &ChangeReconciler{
		feed:       feed,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start subscribes to the feed and processes notifications in the
// background until ctx is cancelled. The returned channel closes when done.
func (r *ChangeReconciler) Start(ctx context.Context) (<-chan struct{}, error) {
	notifications, err := r.feed.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range notifications {
			r.handle(ctx, n)
		}
		r.logger.Info("Change reconciler stopped")
	}()

	r.logger.Info("Change reconciler started")
	return done, nil
}

func (r *ChangeReconciler) handle(ctx context.Context, n entity.ChangeNotification) {
	if err := r.reconciler.Reconcile(ctx, n.PatientID); err != nil {
		r.logger.Error("Failed to reconcile patient",
			"patientId", n.PatientID,
			"op", n.Op,
			"error", err)
	}
}

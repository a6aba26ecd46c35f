package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// ChangeFeed is the realtime patient change notification stream
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan entity.ChangeNotification, error)
	Publish(ctx context.Context, notification entity.ChangeNotification) error
}

package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// DisplayPublisher delivers announcements to the display and voice channel
type DisplayPublisher interface {
	Publish(ctx context.Context, result entity.AnnouncementResult) error
}

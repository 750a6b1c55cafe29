package service

import (
	"context"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security"
)

// ActivityService exposes the read side of the activity stream.
type ActivityService struct {
	recorder *audit.Recorder
}

// NewActivityService creates a new activity service
func NewActivityService(recorder *audit.Recorder) *ActivityService {
	return &ActivityService{recorder: recorder}
}

// List returns the agency's activity stream most-recent-first.
func (s *ActivityService) List(ctx context.Context, identity *domain.Identity, limit int) ([]*domain.ActivityEntry, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, err
	}
	return s.recorder.ListActivity(ctx, identity.AgencyID, limit)
}

package audit

import (
	"context"
	"log/slog"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/observability/metrics"
	"github.com/opslink/opslink/internal/reliability/retry"
)

// Recorder is the single write path for both append-only logs: the
// human-facing activity stream and the structured before/after audit trail.
// Writes are synchronous and retried; a recorder failure fails the enclosing
// operation, so a caller never observes a successful mutation whose record
// was lost.
type Recorder struct {
	activity domain.ActivityRepository
	audit    domain.AuditRepository
	clock    domain.Clock
	logger   *slog.Logger
	retryCfg *retry.Config
}

// NewRecorder creates a new recorder.
func NewRecorder(
	activity domain.ActivityRepository,
	auditRepo domain.AuditRepository,
	clock domain.Clock,
	logger *slog.Logger,
) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Recorder{
		activity: activity,
		audit:    auditRepo,
		clock:    clock,
		logger:   logger,
		retryCfg: retry.DefaultConfig(),
	}
}

// Activity appends one entry to the agency's activity stream.
func (r *Recorder) Activity(ctx context.Context, entry *domain.ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}
	_, err := retry.Do(ctx, r.retryCfg, r.logger, "activity append", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.activity.Append(ctx, entry)
	})
	if err != nil {
		metrics.ObserveRecordFailure("activity")
		r.logger.Error("activity record lost after retries",
			slog.String("agency_id", entry.AgencyID),
			slog.String("type", string(entry.Type)),
			slog.String("code", entry.Code),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to record activity", err)
	}
	return nil
}

// Audit appends one entry to the agency's audit trail.
func (r *Recorder) Audit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}
	_, err := retry.Do(ctx, r.retryCfg, r.logger, "audit append", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.audit.Append(ctx, entry)
	})
	if err != nil {
		metrics.ObserveRecordFailure("audit")
		r.logger.Error("audit record lost after retries",
			slog.String("agency_id", entry.AgencyID),
			slog.String("action", entry.Action),
			slog.String("target_id", entry.TargetID),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to record audit entry", err)
	}
	return nil
}

// ListActivity returns the agency's activity feed, most recent first.
func (r *Recorder) ListActivity(ctx context.Context, agencyID string, limit int) ([]*domain.ActivityEntry, error) {
	return r.activity.ListByAgency(ctx, agencyID, limit)
}

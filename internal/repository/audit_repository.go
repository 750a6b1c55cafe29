package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/opslink/opslink/internal/domain"
)

// PostgresAuditRepository implements domain.AuditRepository. The audit_log
// table is append-only; before/after snapshots are stored as JSONB.
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAuditRepository creates a new audit repository.
func NewPostgresAuditRepository(db *sql.DB, logger *slog.Logger) *PostgresAuditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditRepository{db: db, logger: logger}
}

// Append persists one audit entry.
func (r *PostgresAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	before, err := json.Marshal(entry.Before)
	if err != nil {
		return domain.Persistence("failed to record audit entry", err)
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return domain.Persistence("failed to record audit entry", err)
	}

	query := `
		INSERT INTO audit_log (agency_id, user_id, action, target_collection, target_id,
			before, after, ip, user_agent)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		entry.AgencyID,
		entry.UserID,
		entry.Action,
		entry.TargetCollection,
		entry.TargetID,
		before,
		after,
		entry.Origin.IP,
		entry.Origin.UserAgent,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		r.logger.Error("failed to append audit entry",
			slog.String("agency_id", entry.AgencyID),
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to record audit entry", err)
	}
	return nil
}

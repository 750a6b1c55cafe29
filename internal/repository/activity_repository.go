package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opslink/opslink/internal/domain"
)

// PostgresActivityRepository implements domain.ActivityRepository. The
// activity_log table is append-only; nothing here updates or deletes.
type PostgresActivityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresActivityRepository creates a new activity repository.
func NewPostgresActivityRepository(db *sql.DB, logger *slog.Logger) *PostgresActivityRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresActivityRepository{db: db, logger: logger}
}

// Append persists one activity entry.
func (r *PostgresActivityRepository) Append(ctx context.Context, entry *domain.ActivityEntry) error {
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return domain.Persistence("failed to record activity", err)
	}

	query := `
		INSERT INTO activity_log (agency_id, type, code, incident_number, unit_id, user_id, message, meta)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		entry.AgencyID,
		string(entry.Type),
		entry.Code,
		entry.IncidentNumber,
		entry.UnitID,
		entry.UserID,
		entry.Message,
		metaJSON,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		r.logger.Error("failed to append activity entry",
			slog.String("agency_id", entry.AgencyID),
			slog.String("type", string(entry.Type)),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to record activity", err)
	}
	return nil
}

// ListByAgency returns entries most-recent-first.
func (r *PostgresActivityRepository) ListByAgency(ctx context.Context, agencyID string, limit int) ([]*domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	// user_id is a uuid column; cast before the text fallback.
	query := fmt.Sprintf(`
		SELECT id, agency_id, type, COALESCE(code, ''), COALESCE(incident_number, ''),
			COALESCE(unit_id, ''), COALESCE(user_id::text, ''), message, meta, created_at
		FROM activity_log
		WHERE agency_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT %d
	`, limit)

	rows, err := r.db.QueryContext(ctx, query, agencyID)
	if err != nil {
		return nil, domain.Persistence("failed to list activity", err)
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		entry := &domain.ActivityEntry{}
		var entryType string
		var meta []byte
		err := rows.Scan(
			&entry.ID,
			&entry.AgencyID,
			&entryType,
			&entry.Code,
			&entry.IncidentNumber,
			&entry.UnitID,
			&entry.UserID,
			&entry.Message,
			&meta,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, domain.Persistence("failed to scan activity entry", err)
		}
		entry.Type = domain.ActivityType(entryType)
		if err := json.Unmarshal(meta, &entry.Meta); err != nil {
			return nil, domain.Persistence("failed to scan activity entry", fmt.Errorf("decode meta: %w", err))
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("failed to list activity", err)
	}
	return entries, nil
}

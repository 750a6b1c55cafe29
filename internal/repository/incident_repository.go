package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/opslink/opslink/internal/domain"
)

// PostgresIncidentRepository implements domain.IncidentRepository using
// PostgreSQL. Timeline, notes, and the assignment set live in JSONB columns
// so each incident mutation is a single atomic row update; a version column
// detects lost updates under concurrent writers.
type PostgresIncidentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresIncidentRepository creates a new incident repository.
func NewPostgresIncidentRepository(db *sql.DB, logger *slog.Logger) *PostgresIncidentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIncidentRepository{db: db, logger: logger}
}

const incidentColumns = `id, agency_id, number, type, priority, status, address, lat, lng,
		opened_by, units_assigned, timeline, notes, version, created_at, updated_at`

// Create persists a new incident.
func (r *PostgresIncidentRepository) Create(ctx context.Context, incident *domain.Incident) error {
	units, timeline, notes, err := marshalIncidentDocs(incident)
	if err != nil {
		return domain.Persistence("failed to create incident", err)
	}

	query := `
		INSERT INTO incidents (id, agency_id, number, type, priority, status, address, lat, lng,
			opened_by, units_assigned, timeline, notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		incident.ID,
		incident.AgencyID,
		incident.Number,
		incident.Type,
		string(incident.Priority),
		string(incident.Status),
		incident.Location.Address,
		incident.Location.Lat,
		incident.Location.Lng,
		incident.OpenedBy,
		units,
		timeline,
		notes,
	).Scan(&incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.Conflict("incident id already exists for this agency")
		}
		r.logger.Error("failed to create incident",
			slog.String("agency_id", incident.AgencyID),
			slog.String("number", incident.Number),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to create incident", err)
	}

	incident.Version = 1
	return nil
}

// GetByNumber retrieves an incident by its human identifier within an agency.
func (r *PostgresIncidentRepository) GetByNumber(ctx context.Context, agencyID, number string) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE agency_id = $1 AND number = $2
	`
	incident, err := scanIncident(r.db.QueryRowContext(ctx, query, agencyID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("incident not found")
		}
		return nil, domain.Persistence("failed to get incident", err)
	}
	return incident, nil
}

// Update persists a mutated incident. The WHERE clause carries the version
// the caller read; zero rows updated means a concurrent writer won.
func (r *PostgresIncidentRepository) Update(ctx context.Context, incident *domain.Incident) error {
	units, timeline, notes, err := marshalIncidentDocs(incident)
	if err != nil {
		return domain.Persistence("failed to update incident", err)
	}

	query := `
		UPDATE incidents
		SET status = $1, priority = $2, units_assigned = $3, timeline = $4, notes = $5,
			version = version + 1, updated_at = now()
		WHERE id = $6 AND agency_id = $7 AND version = $8
		RETURNING version, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		string(incident.Status),
		string(incident.Priority),
		units,
		timeline,
		notes,
		incident.ID,
		incident.AgencyID,
		incident.Version,
	).Scan(&incident.Version, &incident.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conflict("incident was modified concurrently")
		}
		r.logger.Error("failed to update incident",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to update incident", err)
	}
	return nil
}

// ListByAgency returns incidents newest-created-first.
func (r *PostgresIncidentRepository) ListByAgency(ctx context.Context, agencyID string, status domain.IncidentStatus, limit int) ([]*domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE agency_id = $1
	`
	args := []any{agencyID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list incidents",
			slog.String("agency_id", agencyID),
			slog.String("error", err.Error()),
		)
		return nil, domain.Persistence("failed to list incidents", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, domain.Persistence("failed to scan incident", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("failed to list incidents", err)
	}
	return incidents, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	incident := &domain.Incident{}
	var (
		priority, status      string
		lat, lng              sql.NullFloat64
		units, timeline, note []byte
	)

	err := row.Scan(
		&incident.ID,
		&incident.AgencyID,
		&incident.Number,
		&incident.Type,
		&priority,
		&status,
		&incident.Location.Address,
		&lat,
		&lng,
		&incident.OpenedBy,
		&units,
		&timeline,
		&note,
		&incident.Version,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	incident.Priority = domain.Priority(priority)
	incident.Status = domain.IncidentStatus(status)
	if lat.Valid {
		v := lat.Float64
		incident.Location.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		incident.Location.Lng = &v
	}
	if err := json.Unmarshal(units, &incident.UnitsAssigned); err != nil {
		return nil, fmt.Errorf("decode units_assigned: %w", err)
	}
	if err := json.Unmarshal(timeline, &incident.Timeline); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	if err := json.Unmarshal(note, &incident.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return incident, nil
}

func marshalIncidentDocs(incident *domain.Incident) (units, timeline, notes []byte, err error) {
	if incident.UnitsAssigned == nil {
		incident.UnitsAssigned = []string{}
	}
	if incident.Timeline == nil {
		incident.Timeline = []domain.TimelineEntry{}
	}
	if incident.Notes == nil {
		incident.Notes = []domain.Note{}
	}
	if units, err = json.Marshal(incident.UnitsAssigned); err != nil {
		return nil, nil, nil, fmt.Errorf("encode units_assigned: %w", err)
	}
	if timeline, err = json.Marshal(incident.Timeline); err != nil {
		return nil, nil, nil, fmt.Errorf("encode timeline: %w", err)
	}
	if notes, err = json.Marshal(incident.Notes); err != nil {
		return nil, nil, nil, fmt.Errorf("encode notes: %w", err)
	}
	return units, timeline, notes, nil
}

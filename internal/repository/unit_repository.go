package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/opslink/opslink/internal/domain"
)

// PostgresUnitRepository implements domain.UnitRepository using PostgreSQL.
type PostgresUnitRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresUnitRepository creates a new unit repository.
func NewPostgresUnitRepository(db *sql.DB, logger *slog.Logger) *PostgresUnitRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUnitRepository{db: db, logger: logger}
}

const unitColumns = `id, agency_id, unit_id, callsign, type, status, current_incident,
		location_description, location_updated_at, personnel, version, created_at, updated_at`

// Create provisions a new unit.
func (r *PostgresUnitRepository) Create(ctx context.Context, unit *domain.Unit) error {
	personnel, err := json.Marshal(personnelOrEmpty(unit))
	if err != nil {
		return domain.Persistence("failed to create unit", err)
	}

	query := `
		INSERT INTO units (id, agency_id, unit_id, callsign, type, status, current_incident,
			location_description, location_updated_at, personnel, version)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, 1)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		unit.ID,
		unit.AgencyID,
		unit.UnitID,
		unit.Callsign,
		string(unit.Type),
		string(unit.Status),
		unit.CurrentIncident,
		unit.Location.Description,
		unit.Location.LastUpdate,
		personnel,
	).Scan(&unit.CreatedAt, &unit.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.Conflict("unit id already exists")
		}
		r.logger.Error("failed to create unit",
			slog.String("unit_id", unit.UnitID),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to create unit", err)
	}

	unit.Version = 1
	return nil
}

// GetByUnitID retrieves a unit by identifier within an agency.
func (r *PostgresUnitRepository) GetByUnitID(ctx context.Context, agencyID, unitID string) (*domain.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE agency_id = $1 AND unit_id = $2
	`
	unit, err := scanUnit(r.db.QueryRowContext(ctx, query, agencyID, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("unit not found")
		}
		return nil, domain.Persistence("failed to get unit", err)
	}
	return unit, nil
}

// FindByUnitIDs resolves identifiers within an agency; unknown ids are
// silently omitted.
func (r *PostgresUnitRepository) FindByUnitIDs(ctx context.Context, agencyID string, unitIDs []string) ([]*domain.Unit, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE agency_id = $1 AND unit_id = ANY($2)
		ORDER BY unit_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, agencyID, pq.Array(unitIDs))
	if err != nil {
		return nil, domain.Persistence("failed to resolve units", err)
	}
	defer rows.Close()

	return collectUnits(rows)
}

// Update persists a mutated unit with an optimistic version check.
func (r *PostgresUnitRepository) Update(ctx context.Context, unit *domain.Unit) error {
	personnel, err := json.Marshal(personnelOrEmpty(unit))
	if err != nil {
		return domain.Persistence("failed to update unit", err)
	}

	query := `
		UPDATE units
		SET status = $1, current_incident = NULLIF($2, ''), location_description = $3,
			location_updated_at = $4, personnel = $5, version = version + 1, updated_at = now()
		WHERE id = $6 AND agency_id = $7 AND version = $8
		RETURNING version, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		string(unit.Status),
		unit.CurrentIncident,
		unit.Location.Description,
		unit.Location.LastUpdate,
		personnel,
		unit.ID,
		unit.AgencyID,
		unit.Version,
	).Scan(&unit.Version, &unit.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conflict("unit was modified concurrently")
		}
		r.logger.Error("failed to update unit",
			slog.String("unit_id", unit.UnitID),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to update unit", err)
	}
	return nil
}

// AssignToIncident bulk-updates the given units to DISPATCHED bound to the
// incident. This intentionally bypasses the version check: it is the
// dispatch coordinator's best-effort batch, issued after the incident
// commit.
func (r *PostgresUnitRepository) AssignToIncident(ctx context.Context, agencyID string, unitIDs []string, incidentNumber string) (int64, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE units
		SET status = $1, current_incident = $2, version = version + 1, updated_at = now()
		WHERE agency_id = $3 AND unit_id = ANY($4)
	`
	result, err := r.db.ExecContext(ctx, query,
		string(domain.UnitDispatched),
		incidentNumber,
		agencyID,
		pq.Array(unitIDs),
	)
	if err != nil {
		r.logger.Error("failed to assign units",
			slog.String("agency_id", agencyID),
			slog.String("incident", incidentNumber),
			slog.String("error", err.Error()),
		)
		return 0, domain.Persistence("failed to assign units", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, domain.Persistence("failed to assign units", err)
	}
	return count, nil
}

// ListByAgency returns units ordered by unitId ascending.
func (r *PostgresUnitRepository) ListByAgency(ctx context.Context, agencyID string) ([]*domain.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE agency_id = $1
		ORDER BY unit_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, agencyID)
	if err != nil {
		r.logger.Error("failed to list units",
			slog.String("agency_id", agencyID),
			slog.String("error", err.Error()),
		)
		return nil, domain.Persistence("failed to list units", err)
	}
	defer rows.Close()

	return collectUnits(rows)
}

// ListStale returns units in an active status whose location has not been
// updated since the cutoff.
func (r *PostgresUnitRepository) ListStale(ctx context.Context, agencyID string, cutoff time.Time) ([]*domain.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE agency_id = $1
			AND status = ANY($2)
			AND location_updated_at < $3
		ORDER BY unit_id ASC
	`
	active := []string{
		string(domain.UnitDispatched),
		string(domain.UnitEnRoute),
		string(domain.UnitOnScene),
		string(domain.UnitTransport),
	}
	rows, err := r.db.QueryContext(ctx, query, agencyID, pq.Array(active), cutoff)
	if err != nil {
		return nil, domain.Persistence("failed to list stale units", err)
	}
	defer rows.Close()

	return collectUnits(rows)
}

func scanUnit(row rowScanner) (*domain.Unit, error) {
	unit := &domain.Unit{}
	var (
		unitType, status string
		currentIncident  sql.NullString
		locationDesc     sql.NullString
		personnel        []byte
	)

	err := row.Scan(
		&unit.ID,
		&unit.AgencyID,
		&unit.UnitID,
		&unit.Callsign,
		&unitType,
		&status,
		&currentIncident,
		&locationDesc,
		&unit.Location.LastUpdate,
		&personnel,
		&unit.Version,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	unit.Type = domain.UnitType(unitType)
	unit.Status = domain.UnitStatus(status)
	unit.CurrentIncident = currentIncident.String
	unit.Location.Description = locationDesc.String
	if err := json.Unmarshal(personnel, &unit.Personnel); err != nil {
		return nil, fmt.Errorf("decode personnel: %w", err)
	}
	return unit, nil
}

func collectUnits(rows *sql.Rows) ([]*domain.Unit, error) {
	var units []*domain.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, domain.Persistence("failed to scan unit", err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("failed to list units", err)
	}
	return units, nil
}

func personnelOrEmpty(unit *domain.Unit) []string {
	if unit.Personnel == nil {
		return []string{}
	}
	return unit.Personnel
}

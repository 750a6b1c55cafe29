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

// PostgresAgencyRepository implements domain.AgencyRepository using
// PostgreSQL. Agency settings are a JSONB document.
type PostgresAgencyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAgencyRepository creates a new agency repository.
func NewPostgresAgencyRepository(db *sql.DB, logger *slog.Logger) *PostgresAgencyRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAgencyRepository{db: db, logger: logger}
}

// Create creates a new agency.
func (r *PostgresAgencyRepository) Create(ctx context.Context, agency *domain.Agency) error {
	if agency.Settings.ResponsePlans == nil {
		agency.Settings.ResponsePlans = map[string][]string{}
	}
	settings, err := json.Marshal(agency.Settings)
	if err != nil {
		return domain.Persistence("failed to create agency", err)
	}

	query := `
		INSERT INTO agencies (id, name, code, timezone, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		agency.ID,
		agency.Name,
		agency.Code,
		agency.Timezone,
		settings,
	).Scan(&agency.CreatedAt, &agency.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.Conflict("agency code already exists")
		}
		r.logger.Error("failed to create agency",
			slog.String("code", agency.Code),
			slog.String("error", err.Error()),
		)
		return domain.Persistence("failed to create agency", err)
	}
	return nil
}

// GetByID retrieves an agency by ID.
func (r *PostgresAgencyRepository) GetByID(ctx context.Context, id string) (*domain.Agency, error) {
	query := `
		SELECT id, name, code, timezone, settings, created_at, updated_at
		FROM agencies
		WHERE id = $1
	`
	return r.scanAgency(r.db.QueryRowContext(ctx, query, id))
}

// GetByCode retrieves an agency by its unique code.
func (r *PostgresAgencyRepository) GetByCode(ctx context.Context, code string) (*domain.Agency, error) {
	query := `
		SELECT id, name, code, timezone, settings, created_at, updated_at
		FROM agencies
		WHERE code = $1
	`
	return r.scanAgency(r.db.QueryRowContext(ctx, query, code))
}

// List returns all agencies, oldest first.
func (r *PostgresAgencyRepository) List(ctx context.Context) ([]*domain.Agency, error) {
	query := `
		SELECT id, name, code, timezone, settings, created_at, updated_at
		FROM agencies
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.Persistence("failed to list agencies", err)
	}
	defer rows.Close()

	var agencies []*domain.Agency
	for rows.Next() {
		agency, err := r.scanAgency(rows)
		if err != nil {
			return nil, err
		}
		agencies = append(agencies, agency)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("failed to list agencies", err)
	}
	return agencies, nil
}

func (r *PostgresAgencyRepository) scanAgency(row rowScanner) (*domain.Agency, error) {
	agency := &domain.Agency{}
	var settings []byte

	err := row.Scan(
		&agency.ID,
		&agency.Name,
		&agency.Code,
		&agency.Timezone,
		&settings,
		&agency.CreatedAt,
		&agency.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("agency not found")
		}
		return nil, domain.Persistence("failed to get agency", err)
	}

	if err := json.Unmarshal(settings, &agency.Settings); err != nil {
		return nil, domain.Persistence("failed to get agency", fmt.Errorf("decode settings: %w", err))
	}
	return agency, nil
}

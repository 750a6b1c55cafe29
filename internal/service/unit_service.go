package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/events"
	"github.com/opslink/opslink/internal/observability/metrics"
	"github.com/opslink/opslink/internal/security"
)

// UnitService owns the unit lifecycle: provisioning, status changes, and
// reads. Unit status changes are always audited.
type UnitService struct {
	units     domain.UnitRepository
	recorder  *audit.Recorder
	publisher events.Publisher
	clock     domain.Clock
	logger    *slog.Logger
}

// NewUnitService creates a new unit service
func NewUnitService(
	units domain.UnitRepository,
	recorder *audit.Recorder,
	publisher events.Publisher,
	clock domain.Clock,
	logger *slog.Logger,
) *UnitService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &UnitService{
		units:     units,
		recorder:  recorder,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// CreateUnitInput captures a new apparatus resource.
type CreateUnitInput struct {
	UnitID    string
	Callsign  string
	Type      domain.UnitType
	Personnel []string
}

// Create provisions a new unit in state AVAILABLE.
func (s *UnitService) Create(ctx context.Context, identity *domain.Identity, in CreateUnitInput) (*domain.Unit, error) {
	if err := security.Authorize(identity, security.RolesProvisionUnit...); err != nil {
		return nil, err
	}

	unitID := strings.ToUpper(strings.TrimSpace(in.UnitID))
	if unitID == "" {
		return nil, domain.Validation("unit id is required")
	}
	if in.Type != "" {
		switch in.Type {
		case domain.UnitTypeEngine, domain.UnitTypeLadder, domain.UnitTypeRescue, domain.UnitTypeAmbulance, domain.UnitTypeCommand:
		default:
			return nil, domain.Validation(fmt.Sprintf("invalid unit type %q", in.Type))
		}
	}

	now := s.clock.Now()
	unit := &domain.Unit{
		ID:        uuid.NewString(),
		AgencyID:  identity.AgencyID,
		UnitID:    unitID,
		Callsign:  strings.TrimSpace(in.Callsign),
		Type:      in.Type,
		Status:    domain.UnitAvailable,
		Location:  domain.UnitLocation{LastUpdate: now},
		Personnel: append([]string{}, in.Personnel...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.units.Create(ctx, unit); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID: identity.AgencyID,
		Type:     domain.ActivityUnit,
		Code:     domain.ActivityCodeCreate,
		UnitID:   unit.UnitID,
		UserID:   identity.UserID,
		Message:  fmt.Sprintf("Unit %s provisioned", unit.UnitID),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("unit provisioned",
		slog.String("agency_id", identity.AgencyID),
		slog.String("unit_id", unit.UnitID),
	)
	return unit, nil
}

// SetStatus sets a unit to any member of the status enum. The unit id is
// matched case-insensitively. Entering AVAILABLE, CLEAR, or OUT_OF_SERVICE
// releases the unit from its current incident; the incident's own assignment
// set is untouched.
func (s *UnitService) SetStatus(ctx context.Context, identity *domain.Identity, origin domain.RequestOrigin, unitID string, status domain.UnitStatus, locationNote string) (*domain.Unit, error) {
	if err := security.Authorize(identity, security.RolesSetUnitStatus...); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.Validation(fmt.Sprintf("invalid unit status %q", status))
	}

	unit, err := s.units.GetByUnitID(ctx, identity.AgencyID, strings.ToUpper(strings.TrimSpace(unitID)))
	if err != nil {
		return nil, err
	}
	before := unit.Clone()

	now := s.clock.Now()
	unit.Status = status
	if status.ClearsAssignment() {
		unit.CurrentIncident = ""
	}
	if note := strings.TrimSpace(locationNote); note != "" {
		unit.Location.Description = note
	}
	unit.Location.LastUpdate = now
	unit.UpdatedAt = now

	if err := s.units.Update(ctx, unit); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID: identity.AgencyID,
		Type:     domain.ActivityUnit,
		Code:     domain.ActivityCodeStatus,
		UnitID:   unit.UnitID,
		UserID:   identity.UserID,
		Message:  fmt.Sprintf("Unit %s status set to %s", unit.UnitID, status),
	}); err != nil {
		return nil, err
	}
	if err := s.recorder.Audit(ctx, &domain.AuditEntry{
		AgencyID:         identity.AgencyID,
		UserID:           identity.UserID,
		Action:           domain.AuditUnitStatusChange,
		TargetCollection: "units",
		TargetID:         unit.UnitID,
		Before:           before,
		After:            unit.Clone(),
		Origin:           origin,
	}); err != nil {
		return nil, err
	}

	metrics.ObserveUnitStatus(string(status))
	s.publisher.Publish(ctx, events.Event{
		Type:     events.TypeUnitStatus,
		AgencyID: identity.AgencyID,
		UnitID:   unit.UnitID,
		Status:   string(status),
		At:       now,
	})

	return unit, nil
}

// List returns the agency's units ordered by unit id.
func (s *UnitService) List(ctx context.Context, identity *domain.Identity) ([]*domain.Unit, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, err
	}
	return s.units.ListByAgency(ctx, identity.AgencyID)
}

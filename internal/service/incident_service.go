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

// IncidentService owns the incident lifecycle: creation, unit assignment,
// status changes, notes, and reads. Every mutation is agency-scoped through
// the caller's identity and recorded before success is acknowledged.
type IncidentService struct {
	incidents   domain.IncidentRepository
	units       domain.UnitRepository
	recorder    *audit.Recorder
	coordinator *Coordinator
	publisher   events.Publisher
	clock       domain.Clock
	logger      *slog.Logger
}

// NewIncidentService creates a new incident service
func NewIncidentService(
	incidents domain.IncidentRepository,
	units domain.UnitRepository,
	recorder *audit.Recorder,
	coordinator *Coordinator,
	publisher events.Publisher,
	clock domain.Clock,
	logger *slog.Logger,
) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &IncidentService{
		incidents:   incidents,
		units:       units,
		recorder:    recorder,
		coordinator: coordinator,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
	}
}

// CreateIncidentInput captures a new call for service.
type CreateIncidentInput struct {
	Number   string
	Type     string
	Priority domain.Priority
	Location domain.Location
}

// Create opens a new incident in state NEW. Creation is activity-logged but
// not audited; there is no before snapshot for a document that did not exist.
func (s *IncidentService) Create(ctx context.Context, identity *domain.Identity, in CreateIncidentInput) (*domain.Incident, error) {
	if err := security.Authorize(identity, security.RolesCreateIncident...); err != nil {
		return nil, err
	}

	number := strings.TrimSpace(in.Number)
	if number == "" {
		return nil, domain.Validation("incident id is required")
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, domain.Validation("incident type is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.DefaultPriority
	}
	if !priority.Valid() {
		return nil, domain.Validation(fmt.Sprintf("invalid priority %q", priority))
	}
	if strings.TrimSpace(in.Location.Address) == "" {
		return nil, domain.Validation("incident address is required")
	}

	now := s.clock.Now()
	incident := &domain.Incident{
		ID:            uuid.NewString(),
		AgencyID:      identity.AgencyID,
		Number:        number,
		Type:          strings.TrimSpace(in.Type),
		Priority:      priority,
		Status:        domain.IncidentNew,
		Location:      in.Location,
		OpenedBy:      identity.UserID,
		UnitsAssigned: []string{},
		Timeline: []domain.TimelineEntry{{
			At:      now,
			Status:  domain.IncidentNew,
			Message: "Incident created",
			UserID:  identity.UserID,
		}},
		Notes:     []domain.Note{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID:       identity.AgencyID,
		Type:           domain.ActivityIncident,
		Code:           domain.ActivityCodeCreate,
		IncidentNumber: incident.Number,
		UserID:         identity.UserID,
		Message:        fmt.Sprintf("Incident %s created (%s)", incident.Number, incident.Type),
	}); err != nil {
		return nil, err
	}

	metrics.ObserveIncidentCreated()
	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeIncidentCreated,
		AgencyID:       identity.AgencyID,
		IncidentNumber: incident.Number,
		Status:         string(incident.Status),
		At:             now,
	})

	s.logger.Info("incident created",
		slog.String("agency_id", identity.AgencyID),
		slog.String("incident_id", incident.Number),
		slog.String("type", incident.Type),
	)
	return incident, nil
}

// AssignUnits merges the resolvable unit ids into the incident's assignment
// set. Unknown unit ids are dropped silently; assignment is idempotent on
// membership. The first assignment moves a NEW incident to DISPATCHED. The
// incident is persisted first, then the dispatch coordinator updates the
// units best-effort.
func (s *IncidentService) AssignUnits(ctx context.Context, identity *domain.Identity, origin domain.RequestOrigin, number string, unitIDs []string) (*domain.Incident, error) {
	if err := security.Authorize(identity, security.RolesAssignUnits...); err != nil {
		return nil, err
	}

	incident, err := s.incidents.GetByNumber(ctx, identity.AgencyID, number)
	if err != nil {
		return nil, err
	}
	before := incident.Clone()

	resolved, err := s.units.FindByUnitIDs(ctx, identity.AgencyID, normalizeUnitIDs(unitIDs))
	if err != nil {
		return nil, err
	}
	validIDs := make([]string, 0, len(resolved))
	for _, u := range resolved {
		validIDs = append(validIDs, u.UnitID)
	}

	for _, id := range validIDs {
		if !incident.HasUnit(id) {
			incident.UnitsAssigned = append(incident.UnitsAssigned, id)
		}
	}
	if incident.Status == domain.IncidentNew {
		incident.Status = domain.IncidentDispatched
	}

	now := s.clock.Now()
	message := fmt.Sprintf("Units assigned: %s", strings.Join(validIDs, ", "))
	incident.Timeline = append(incident.Timeline, domain.TimelineEntry{
		At:      now,
		Status:  incident.Status,
		Message: message,
		UserID:  identity.UserID,
	})
	incident.UpdatedAt = now

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, err
	}

	s.coordinator.Dispatch(ctx, identity.AgencyID, validIDs, incident.Number)

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID:       identity.AgencyID,
		Type:           domain.ActivityIncident,
		Code:           domain.ActivityCodeAssignUnits,
		IncidentNumber: incident.Number,
		UserID:         identity.UserID,
		Message:        message,
	}); err != nil {
		return nil, err
	}
	if err := s.recorder.Audit(ctx, &domain.AuditEntry{
		AgencyID:         identity.AgencyID,
		UserID:           identity.UserID,
		Action:           domain.AuditIncidentAssignUnits,
		TargetCollection: "incidents",
		TargetID:         incident.Number,
		Before:           before,
		After:            incident.Clone(),
		Origin:           origin,
	}); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeIncidentAssigned,
		AgencyID:       identity.AgencyID,
		IncidentNumber: incident.Number,
		UnitIDs:        validIDs,
		Status:         string(incident.Status),
		At:             now,
	})

	return incident, nil
}

// SetStatus unconditionally sets the incident to any member of the status
// enum. There is no transition graph.
func (s *IncidentService) SetStatus(ctx context.Context, identity *domain.Identity, origin domain.RequestOrigin, number string, status domain.IncidentStatus) (*domain.Incident, error) {
	if err := security.Authorize(identity, security.RolesSetIncidentStatus...); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.Validation(fmt.Sprintf("invalid incident status %q", status))
	}

	incident, err := s.incidents.GetByNumber(ctx, identity.AgencyID, number)
	if err != nil {
		return nil, err
	}
	before := incident.Clone()

	now := s.clock.Now()
	incident.Status = status
	incident.Timeline = append(incident.Timeline, domain.TimelineEntry{
		At:      now,
		Status:  status,
		Message: fmt.Sprintf("Status set to %s", status),
		UserID:  identity.UserID,
	})
	incident.UpdatedAt = now

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID:       identity.AgencyID,
		Type:           domain.ActivityIncident,
		Code:           domain.ActivityCodeStatus,
		IncidentNumber: incident.Number,
		UserID:         identity.UserID,
		Message:        fmt.Sprintf("Incident status changed to %s", status),
	}); err != nil {
		return nil, err
	}
	if err := s.recorder.Audit(ctx, &domain.AuditEntry{
		AgencyID:         identity.AgencyID,
		UserID:           identity.UserID,
		Action:           domain.AuditIncidentStatusChange,
		TargetCollection: "incidents",
		TargetID:         incident.Number,
		Before:           before,
		After:            incident.Clone(),
		Origin:           origin,
	}); err != nil {
		return nil, err
	}

	metrics.ObserveIncidentStatus(string(status))
	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeIncidentStatus,
		AgencyID:       identity.AgencyID,
		IncidentNumber: incident.Number,
		Status:         string(status),
		At:             now,
	})

	return incident, nil
}

// AddNote appends a free-text note to the incident.
func (s *IncidentService) AddNote(ctx context.Context, identity *domain.Identity, origin domain.RequestOrigin, number, text string) (*domain.Incident, error) {
	if err := security.Authorize(identity, security.RolesAddIncidentNote...); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Validation("note text is required")
	}

	incident, err := s.incidents.GetByNumber(ctx, identity.AgencyID, number)
	if err != nil {
		return nil, err
	}
	before := incident.Clone()

	now := s.clock.Now()
	incident.Notes = append(incident.Notes, domain.Note{
		At:       now,
		AuthorID: identity.UserID,
		Text:     text,
	})
	incident.UpdatedAt = now

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID:       identity.AgencyID,
		Type:           domain.ActivityIncident,
		Code:           domain.ActivityCodeNote,
		IncidentNumber: incident.Number,
		UserID:         identity.UserID,
		Message:        fmt.Sprintf("Note added to incident %s", incident.Number),
	}); err != nil {
		return nil, err
	}
	if err := s.recorder.Audit(ctx, &domain.AuditEntry{
		AgencyID:         identity.AgencyID,
		UserID:           identity.UserID,
		Action:           domain.AuditIncidentNote,
		TargetCollection: "incidents",
		TargetID:         incident.Number,
		Before:           before,
		After:            incident.Clone(),
		Origin:           origin,
	}); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeIncidentNote,
		AgencyID:       identity.AgencyID,
		IncidentNumber: incident.Number,
		At:             now,
	})

	return incident, nil
}

// Get returns one incident by its human identifier.
func (s *IncidentService) Get(ctx context.Context, identity *domain.Identity, number string) (*domain.Incident, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, err
	}
	return s.incidents.GetByNumber(ctx, identity.AgencyID, number)
}

// List returns the agency's incidents newest-created-first, optionally
// filtered by status. A non-empty status outside the enum is rejected.
func (s *IncidentService) List(ctx context.Context, identity *domain.Identity, status domain.IncidentStatus, limit int) ([]*domain.Incident, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, domain.Validation(fmt.Sprintf("invalid incident status %q", status))
	}
	return s.incidents.ListByAgency(ctx, identity.AgencyID, status, limit)
}

// normalizeUnitIDs upper-cases, trims, and de-duplicates the requested unit
// ids, preserving first-seen order.
func normalizeUnitIDs(unitIDs []string) []string {
	seen := make(map[string]struct{}, len(unitIDs))
	out := make([]string, 0, len(unitIDs))
	for _, id := range unitIDs {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

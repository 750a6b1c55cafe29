package domain

import (
	"context"
	"time"
)

// UnitStatus is the lifecycle state of an apparatus resource.
type UnitStatus string

const (
	UnitAvailable    UnitStatus = "AVAILABLE"
	UnitDispatched   UnitStatus = "DISPATCHED"
	UnitEnRoute      UnitStatus = "EN_ROUTE"
	UnitOnScene      UnitStatus = "ON_SCENE"
	UnitTransport    UnitStatus = "TRANSPORT"
	UnitClear        UnitStatus = "CLEAR"
	UnitOutOfService UnitStatus = "OUT_OF_SERVICE"
)

// Valid reports whether the status is a member of the unit enum.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitAvailable, UnitDispatched, UnitEnRoute, UnitOnScene, UnitTransport, UnitClear, UnitOutOfService:
		return true
	}
	return false
}

// ClearsAssignment reports whether entering this status releases the unit
// from its current incident. A unit cannot be clear, available, or out of
// service and still bound to an incident.
func (s UnitStatus) ClearsAssignment() bool {
	switch s {
	case UnitAvailable, UnitClear, UnitOutOfService:
		return true
	}
	return false
}

// UnitType is the apparatus category.
type UnitType string

const (
	UnitTypeEngine    UnitType = "ENGINE"
	UnitTypeLadder    UnitType = "LADDER"
	UnitTypeRescue    UnitType = "RESCUE"
	UnitTypeAmbulance UnitType = "AMBULANCE"
	UnitTypeCommand   UnitType = "COMMAND"
)

// UnitLocation is a free-form location descriptor with its last update time.
type UnitLocation struct {
	Description string    `json:"description,omitempty"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

// Unit is a staffed apparatus resource. UnitID (e.g. "ENG1") is globally
// unique; a cross-agency collision is a provisioning error. CurrentIncident
// holds the incident number the unit is bound to, or empty when unassigned.
// It is a back-reference set by the dispatch coordinator, not ownership.
type Unit struct {
	ID              string       `json:"id"`
	AgencyID        string       `json:"agency"`
	UnitID          string       `json:"unitId"`
	Callsign        string       `json:"callsign"`
	Type            UnitType     `json:"type"`
	Status          UnitStatus   `json:"status"`
	CurrentIncident string       `json:"currentIncidentId,omitempty"`
	Location        UnitLocation `json:"location"`
	Personnel       []string     `json:"personnel"`
	Version         int64        `json:"-"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy, used for before/after audit snapshots.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Personnel = append([]string(nil), u.Personnel...)
	return &c
}

// UnitRepository defines agency-scoped data access for units.
type UnitRepository interface {
	// Create provisions a new unit.
	Create(ctx context.Context, unit *Unit) error
	// GetByUnitID retrieves a unit by its identifier within an agency.
	// The identifier must already be normalized to upper case.
	GetByUnitID(ctx context.Context, agencyID, unitID string) (*Unit, error)
	// FindByUnitIDs resolves unit identifiers within an agency. Unknown
	// identifiers are omitted from the result, not reported as errors.
	FindByUnitIDs(ctx context.Context, agencyID string, unitIDs []string) ([]*Unit, error)
	// Update persists a mutated unit using an optimistic version check.
	Update(ctx context.Context, unit *Unit) error
	// AssignToIncident bulk-updates the given units to DISPATCHED bound
	// to the incident number, returning the number of units updated.
	// This is the dispatch coordinator's best-effort batch write.
	AssignToIncident(ctx context.Context, agencyID string, unitIDs []string, incidentNumber string) (int64, error)
	// ListByAgency returns units ordered by unitId ascending.
	ListByAgency(ctx context.Context, agencyID string) ([]*Unit, error)
	// ListStale returns units in an active status whose location has not
	// been updated since the cutoff.
	ListStale(ctx context.Context, agencyID string, cutoff time.Time) ([]*Unit, error)
}

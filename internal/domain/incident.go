package domain

import (
	"context"
	"time"
)

// IncidentStatus is the lifecycle state of a call for service.
type IncidentStatus string

const (
	IncidentNew        IncidentStatus = "NEW"
	IncidentDispatched IncidentStatus = "DISPATCHED"
	IncidentEnRoute    IncidentStatus = "EN_ROUTE"
	IncidentOnScene    IncidentStatus = "ON_SCENE"
	IncidentCleared    IncidentStatus = "CLEARED"
	IncidentCancelled  IncidentStatus = "CANCELLED"
)

// Valid reports whether the status is a member of the incident enum.
// There is no transition graph: any status may be set from any other.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentNew, IncidentDispatched, IncidentEnRoute, IncidentOnScene, IncidentCleared, IncidentCancelled:
		return true
	}
	return false
}

// Priority is the dispatch priority, "1" (highest) through "3".
type Priority string

const (
	Priority1 Priority = "1"
	Priority2 Priority = "2"
	Priority3 Priority = "3"

	DefaultPriority = Priority2
)

// Valid reports whether the priority is a member of the enum.
func (p Priority) Valid() bool {
	switch p {
	case Priority1, Priority2, Priority3:
		return true
	}
	return false
}

// Location is an incident address with optional coordinates.
type Location struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// TimelineEntry is one append-only record of an incident status event.
type TimelineEntry struct {
	At      time.Time      `json:"ts"`
	Status  IncidentStatus `json:"status"`
	Message string         `json:"message"`
	UserID  string         `json:"user"`
}

// Note is a free-text annotation appended to an incident.
type Note struct {
	At       time.Time `json:"ts"`
	AuthorID string    `json:"by"`
	Text     string    `json:"text"`
}

// Incident is a call for service. Number is the human identifier (e.g.
// "2403") and is unique per agency, not globally. Timeline and Notes are
// append-only; every mutation appends exactly one timeline entry.
type Incident struct {
	ID            string          `json:"id"`
	AgencyID      string          `json:"agency"`
	Number        string          `json:"incidentId"`
	Type          string          `json:"type"`
	Priority      Priority        `json:"priority"`
	Status        IncidentStatus  `json:"status"`
	Location      Location        `json:"location"`
	OpenedBy      string          `json:"openedBy"`
	UnitsAssigned []string        `json:"unitsAssigned"`
	Timeline      []TimelineEntry `json:"timeline"`
	Notes         []Note          `json:"notes"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy, used for before/after audit snapshots.
func (i *Incident) Clone() *Incident {
	c := *i
	c.UnitsAssigned = append([]string(nil), i.UnitsAssigned...)
	c.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	c.Notes = append([]Note(nil), i.Notes...)
	if i.Location.Lat != nil {
		lat := *i.Location.Lat
		c.Location.Lat = &lat
	}
	if i.Location.Lng != nil {
		lng := *i.Location.Lng
		c.Location.Lng = &lng
	}
	return &c
}

// HasUnit reports whether a unit id is already in the assignment set.
func (i *Incident) HasUnit(unitID string) bool {
	for _, u := range i.UnitsAssigned {
		if u == unitID {
			return true
		}
	}
	return false
}

// IncidentRepository defines agency-scoped data access for incidents. Every
// method requires the caller's agency id; there is no unscoped accessor.
type IncidentRepository interface {
	// Create persists a new incident. Returns a Conflict error when
	// (agency, number) already exists.
	Create(ctx context.Context, incident *Incident) error
	// GetByNumber retrieves an incident by its human identifier.
	GetByNumber(ctx context.Context, agencyID, number string) (*Incident, error)
	// Update persists a mutated incident using an optimistic version
	// check. Returns a Conflict error when a concurrent writer won.
	Update(ctx context.Context, incident *Incident) error
	// ListByAgency returns incidents newest-created-first, optionally
	// filtered by status, capped at limit.
	ListByAgency(ctx context.Context, agencyID string, status IncidentStatus, limit int) ([]*Incident, error)
}

package domain

import (
	"context"
	"time"
)

// ActivityType categorizes an activity feed entry.
type ActivityType string

const (
	ActivityIncident ActivityType = "INCIDENT"
	ActivityUnit     ActivityType = "UNIT"
	ActivityAuth     ActivityType = "AUTH"
	ActivitySystem   ActivityType = "SYSTEM"
)

// Activity codes used by the lifecycle managers.
const (
	ActivityCodeCreate      = "CREATE"
	ActivityCodeAssignUnits = "ASSIGN_UNITS"
	ActivityCodeStatus      = "STATUS"
	ActivityCodeNote        = "NOTE"
	ActivityCodeStale       = "STALE_LOCATION"
	ActivityCodeLogin       = "LOGIN"
	ActivityCodeBootstrap   = "BOOTSTRAP"
)

// ActivityEntry is one record on the human-facing per-agency event stream.
// Entries are never mutated or deleted.
type ActivityEntry struct {
	ID             int64          `json:"id"`
	AgencyID       string         `json:"agency"`
	Type           ActivityType   `json:"type"`
	Code           string         `json:"code,omitempty"`
	IncidentNumber string         `json:"incidentId,omitempty"`
	UnitID         string         `json:"unitId,omitempty"`
	UserID         string         `json:"user,omitempty"`
	Message        string         `json:"message"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ActivityRepository defines agency-scoped access to the activity stream.
type ActivityRepository interface {
	Append(ctx context.Context, entry *ActivityEntry) error
	// ListByAgency returns entries most-recent-first, capped at limit.
	ListByAgency(ctx context.Context, agencyID string, limit int) ([]*ActivityEntry, error)
}

// Audit action codes.
const (
	AuditIncidentAssignUnits  = "INCIDENT_ASSIGN_UNITS"
	AuditIncidentStatusChange = "INCIDENT_STATUS_CHANGE"
	AuditIncidentNote         = "INCIDENT_NOTE"
	AuditUnitStatusChange     = "UNIT_STATUS_CHANGE"
)

// RequestOrigin identifies where a mutation request came from.
type RequestOrigin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// AuditEntry is one structured before/after compliance record. Entries are
// never mutated or deleted.
type AuditEntry struct {
	ID               int64         `json:"id"`
	AgencyID         string        `json:"agency"`
	UserID           string        `json:"user"`
	Action           string        `json:"action"`
	TargetCollection string        `json:"targetCollection"`
	TargetID         string        `json:"targetId"`
	Before           any           `json:"before"`
	After            any           `json:"after"`
	Origin           RequestOrigin `json:"origin"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// AuditRepository defines append-only access to the audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

package service

import (
	"context"
	"log/slog"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/observability/metrics"
)

// Coordinator performs the cross-aggregate write after an incident assignment
// commits: every resolved unit is set to DISPATCHED and bound to the incident
// number in one bulk update. The batch is best-effort: the incident is
// already persisted, and a partial or failed unit update is logged, never
// rolled back. Audit and activity records for the assignment are emitted at
// the incident level, not per unit.
type Coordinator struct {
	units  domain.UnitRepository
	logger *slog.Logger
}

// NewCoordinator creates a new dispatch coordinator
func NewCoordinator(units domain.UnitRepository, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{units: units, logger: logger}
}

// Dispatch marks the given units dispatched to the incident.
func (c *Coordinator) Dispatch(ctx context.Context, agencyID string, unitIDs []string, incidentNumber string) {
	if len(unitIDs) == 0 {
		return
	}

	updated, err := c.units.AssignToIncident(ctx, agencyID, unitIDs, incidentNumber)
	if err != nil {
		c.logger.Warn("dispatch update failed",
			slog.String("agency_id", agencyID),
			slog.String("incident_id", incidentNumber),
			slog.Int("units", len(unitIDs)),
			slog.String("error", err.Error()),
		)
		return
	}

	if updated != int64(len(unitIDs)) {
		c.logger.Warn("dispatch update was partial",
			slog.String("agency_id", agencyID),
			slog.String("incident_id", incidentNumber),
			slog.Int("requested", len(unitIDs)),
			slog.Int64("updated", updated),
		)
	}

	metrics.ObserveUnitsDispatched(int(updated))
}

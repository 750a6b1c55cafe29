package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/observability/metrics"
)

// Watchdog periodically sweeps every agency for units that are in an active
// status but have not reported a location update within the staleness window,
// and flags each one on the agency's activity stream. A unit is flagged once
// per stale period; it is re-flagged only after its location moves and goes
// stale again.
type Watchdog struct {
	agencies   domain.AgencyRepository
	units      domain.UnitRepository
	recorder   *audit.Recorder
	clock      domain.Clock
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration

	flagged map[string]time.Time // unit row id -> location timestamp we flagged
}

// NewWatchdog creates a new stale-unit watchdog
func NewWatchdog(
	agencies domain.AgencyRepository,
	units domain.UnitRepository,
	recorder *audit.Recorder,
	clock domain.Clock,
	logger *slog.Logger,
	interval, staleAfter time.Duration,
) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Watchdog{
		agencies:   agencies,
		units:      units,
		recorder:   recorder,
		clock:      clock,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		flagged:    make(map[string]time.Time),
	}
}

// Start begins the watchdog loop
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("stale-unit watchdog started",
		slog.Duration("interval", w.interval),
		slog.Duration("stale_after", w.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stale-unit watchdog stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep checks every agency once
func (w *Watchdog) sweep(ctx context.Context) {
	agencies, err := w.agencies.List(ctx)
	if err != nil {
		w.logger.Error("failed to list agencies", slog.String("error", err.Error()))
		return
	}

	cutoff := w.clock.Now().Add(-w.staleAfter)
	for _, agency := range agencies {
		stale, err := w.units.ListStale(ctx, agency.ID, cutoff)
		if err != nil {
			w.logger.Error("failed to list stale units",
				slog.String("agency_id", agency.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, unit := range stale {
			w.flag(ctx, unit)
		}
	}
}

// flag emits one activity entry per stale period for a unit
func (w *Watchdog) flag(ctx context.Context, unit *domain.Unit) {
	if at, ok := w.flagged[unit.ID]; ok && at.Equal(unit.Location.LastUpdate) {
		return
	}

	logger := w.logger.With(
		slog.String("agency_id", unit.AgencyID),
		slog.String("unit_id", unit.UnitID),
	)

	err := w.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID: unit.AgencyID,
		Type:     domain.ActivitySystem,
		Code:     domain.ActivityCodeStale,
		UnitID:   unit.UnitID,
		Message:  "Unit " + unit.UnitID + " has a stale location while in status " + string(unit.Status),
	})
	if err != nil {
		logger.Error("failed to record stale unit", slog.String("error", err.Error()))
		return
	}

	w.flagged[unit.ID] = unit.Location.LastUpdate
	metrics.ObserveStaleUnit()
	logger.Warn("unit location is stale",
		slog.String("status", string(unit.Status)),
		slog.Time("last_update", unit.Location.LastUpdate),
	)
}

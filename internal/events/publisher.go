package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opslink/opslink/internal/infrastructure/redis"
	"github.com/opslink/opslink/internal/observability/metrics"
	"github.com/opslink/opslink/internal/reliability/circuitbreaker"
)

// Event types carried on the per-agency channel.
const (
	TypeIncidentCreated  = "incident.created"
	TypeIncidentAssigned = "incident.assigned"
	TypeIncidentStatus   = "incident.status"
	TypeIncidentNote     = "incident.note"
	TypeUnitStatus       = "unit.status"
)

// Event is the payload fanned out to dispatch consoles over the live stream.
type Event struct {
	Type           string    `json:"type"`
	AgencyID       string    `json:"agencyId"`
	IncidentNumber string    `json:"incidentId,omitempty"`
	UnitID         string    `json:"unitId,omitempty"`
	UnitIDs        []string  `json:"unitIds,omitempty"`
	Status         string    `json:"status,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher fans events out to live subscribers. Publishing is best-effort:
// implementations must never fail the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Channel returns the pub/sub channel name for an agency.
func Channel(agencyID string) string {
	return "opslink:events:" + agencyID
}

// RedisPublisher publishes events to a per-agency Redis channel. A circuit
// breaker keeps a down Redis from adding latency to every mutation.
type RedisPublisher struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewRedisPublisher creates a Redis-backed publisher
func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	breaker := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("event publisher circuit state changed", "from", from, "to", to)
	})
	return &RedisPublisher{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}
}

// Publish sends the event to the agency channel. Failures are logged and
// counted, never returned.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if !p.breaker.AllowRequest() {
		metrics.ObserveEventPublishFailure()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", "type", event.Type, "error", err)
		metrics.ObserveEventPublishFailure()
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.client.Publish(publishCtx, Channel(event.AgencyID), payload); err != nil {
		p.breaker.RecordFailure()
		metrics.ObserveEventPublishFailure()
		p.logger.Warn("failed to publish event",
			"type", event.Type,
			"agency_id", event.AgencyID,
			"error", err)
		return
	}

	p.breaker.RecordSuccess()
}

// NopPublisher discards all events. Used when the live stream is disabled.
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, Event) {}

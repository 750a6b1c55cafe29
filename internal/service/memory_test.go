package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/events"
)

// fixedClock returns a controllable time for deterministic assertions.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []events.Event{}
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memIncidentRepo is an in-memory domain.IncidentRepository with optimistic
// versioning and an access counter for asserting that authorization happens
// before any store access.
type memIncidentRepo struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	accesses  int
}

func newMemIncidentRepo() *memIncidentRepo {
	return &memIncidentRepo{incidents: map[string]*domain.Incident{}}
}

func incKey(agencyID, number string) string { return agencyID + "/" + number }

func (m *memIncidentRepo) Create(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	key := incKey(incident.AgencyID, incident.Number)
	if _, ok := m.incidents[key]; ok {
		return domain.Conflict("incident id already exists for this agency")
	}
	incident.Version = 1
	m.incidents[key] = incident.Clone()
	return nil
}

func (m *memIncidentRepo) GetByNumber(_ context.Context, agencyID, number string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	stored, ok := m.incidents[incKey(agencyID, number)]
	if !ok {
		return nil, domain.NotFound("incident not found")
	}
	return stored.Clone(), nil
}

func (m *memIncidentRepo) Update(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	key := incKey(incident.AgencyID, incident.Number)
	stored, ok := m.incidents[key]
	if !ok || stored.Version != incident.Version {
		return domain.Conflict("incident was modified concurrently")
	}
	incident.Version++
	m.incidents[key] = incident.Clone()
	return nil
}

func (m *memIncidentRepo) ListByAgency(_ context.Context, agencyID string, status domain.IncidentStatus, limit int) ([]*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	if limit <= 0 {
		limit = 50
	}
	out := []*domain.Incident{}
	for _, inc := range m.incidents {
		if inc.AgencyID != agencyID {
			continue
		}
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memUnitRepo is an in-memory domain.UnitRepository.
type memUnitRepo struct {
	mu       sync.Mutex
	units    map[string]*domain.Unit
	accesses int
}

func newMemUnitRepo() *memUnitRepo {
	return &memUnitRepo{units: map[string]*domain.Unit{}}
}

func unitKey(agencyID, unitID string) string { return agencyID + "/" + unitID }

func (m *memUnitRepo) Create(_ context.Context, unit *domain.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	for _, u := range m.units {
		if u.UnitID == unit.UnitID {
			return domain.Conflict("unit id already exists")
		}
	}
	unit.Version = 1
	m.units[unitKey(unit.AgencyID, unit.UnitID)] = unit.Clone()
	return nil
}

func (m *memUnitRepo) GetByUnitID(_ context.Context, agencyID, unitID string) (*domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	stored, ok := m.units[unitKey(agencyID, unitID)]
	if !ok {
		return nil, domain.NotFound("unit not found")
	}
	return stored.Clone(), nil
}

func (m *memUnitRepo) FindByUnitIDs(_ context.Context, agencyID string, unitIDs []string) ([]*domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	out := []*domain.Unit{}
	for _, id := range unitIDs {
		if stored, ok := m.units[unitKey(agencyID, id)]; ok {
			out = append(out, stored.Clone())
		}
	}
	return out, nil
}

func (m *memUnitRepo) Update(_ context.Context, unit *domain.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	key := unitKey(unit.AgencyID, unit.UnitID)
	stored, ok := m.units[key]
	if !ok || stored.Version != unit.Version {
		return domain.Conflict("unit was modified concurrently")
	}
	unit.Version++
	m.units[key] = unit.Clone()
	return nil
}

func (m *memUnitRepo) AssignToIncident(_ context.Context, agencyID string, unitIDs []string, incidentNumber string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	var count int64
	for _, id := range unitIDs {
		if stored, ok := m.units[unitKey(agencyID, id)]; ok {
			stored.Status = domain.UnitDispatched
			stored.CurrentIncident = incidentNumber
			stored.Version++
			count++
		}
	}
	return count, nil
}

func (m *memUnitRepo) ListByAgency(_ context.Context, agencyID string) ([]*domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	out := []*domain.Unit{}
	for _, u := range m.units {
		if u.AgencyID == agencyID {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (m *memUnitRepo) ListStale(_ context.Context, agencyID string, cutoff time.Time) ([]*domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	out := []*domain.Unit{}
	for _, u := range m.units {
		if u.AgencyID != agencyID {
			continue
		}
		switch u.Status {
		case domain.UnitDispatched, domain.UnitEnRoute, domain.UnitOnScene, domain.UnitTransport:
		default:
			continue
		}
		if u.Location.LastUpdate.Before(cutoff) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

// memActivityRepo is an in-memory domain.ActivityRepository. Setting
// failures makes the next N appends fail, for exercising the recorder's
// write-before-acknowledge contract.
type memActivityRepo struct {
	mu       sync.Mutex
	entries  []*domain.ActivityEntry
	nextID   int64
	failures int
}

func newMemActivityRepo() *memActivityRepo { return &memActivityRepo{} }

func (m *memActivityRepo) Append(_ context.Context, entry *domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return domain.Persistence("activity store unavailable", nil)
	}
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memActivityRepo) ListByAgency(_ context.Context, agencyID string, limit int) ([]*domain.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []*domain.ActivityEntry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AgencyID == agencyID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memActivityRepo) byCode(agencyID, code string) []*domain.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.ActivityEntry{}
	for _, e := range m.entries {
		if e.AgencyID == agencyID && e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// memAuditRepo is an in-memory domain.AuditRepository.
type memAuditRepo struct {
	mu       sync.Mutex
	entries  []*domain.AuditEntry
	nextID   int64
	failures int
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (m *memAuditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return domain.Persistence("audit store unavailable", nil)
	}
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAuditRepo) byAction(agencyID, action string) []*domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.AuditEntry{}
	for _, e := range m.entries {
		if e.AgencyID == agencyID && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// memUserRepo is an in-memory domain.UserRepository.
type memUserRepo struct {
	mu         sync.Mutex
	byID       map[string]*domain.User
	byUsername map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}, byUsername: map[string]*domain.User{}}
}

func (m *memUserRepo) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[user.Username]; ok {
		return domain.Conflict("username already exists")
	}
	m.byID[user.ID] = user
	m.byUsername[user.Username] = user
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, domain.NotFound("user not found")
}

func (m *memUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byUsername[username]; ok {
		return u, nil
	}
	return nil, domain.NotFound("user not found")
}

func (m *memUserRepo) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[user.ID]; !ok {
		return domain.NotFound("user not found")
	}
	m.byID[user.ID] = user
	m.byUsername[user.Username] = user
	return nil
}

// memAgencyRepo is an in-memory domain.AgencyRepository.
type memAgencyRepo struct {
	mu     sync.Mutex
	byID   map[string]*domain.Agency
	byCode map[string]*domain.Agency
}

func newMemAgencyRepo() *memAgencyRepo {
	return &memAgencyRepo{byID: map[string]*domain.Agency{}, byCode: map[string]*domain.Agency{}}
}

func (m *memAgencyRepo) Create(_ context.Context, agency *domain.Agency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCode[agency.Code]; ok {
		return domain.Conflict("agency code already exists")
	}
	m.byID[agency.ID] = agency
	m.byCode[agency.Code] = agency
	return nil
}

func (m *memAgencyRepo) GetByID(_ context.Context, id string) (*domain.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		return a, nil
	}
	return nil, domain.NotFound("agency not found")
}

func (m *memAgencyRepo) GetByCode(_ context.Context, code string) (*domain.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byCode[code]; ok {
		return a, nil
	}
	return nil, domain.NotFound("agency not found")
}

func (m *memAgencyRepo) List(_ context.Context) ([]*domain.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Agency{}
	for _, a := range m.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

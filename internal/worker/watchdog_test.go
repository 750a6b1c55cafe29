package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAgencyRepo struct {
	agencies []*domain.Agency
}

func (m *fakeAgencyRepo) Create(_ context.Context, agency *domain.Agency) error {
	m.agencies = append(m.agencies, agency)
	return nil
}

func (m *fakeAgencyRepo) GetByID(_ context.Context, id string) (*domain.Agency, error) {
	for _, a := range m.agencies {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, domain.NotFound("agency not found")
}

func (m *fakeAgencyRepo) GetByCode(_ context.Context, code string) (*domain.Agency, error) {
	for _, a := range m.agencies {
		if a.Code == code {
			return a, nil
		}
	}
	return nil, domain.NotFound("agency not found")
}

func (m *fakeAgencyRepo) List(_ context.Context) ([]*domain.Agency, error) {
	return m.agencies, nil
}

type fakeUnitRepo struct {
	units []*domain.Unit
}

func (m *fakeUnitRepo) Create(_ context.Context, unit *domain.Unit) error {
	m.units = append(m.units, unit)
	return nil
}

func (m *fakeUnitRepo) GetByUnitID(_ context.Context, agencyID, unitID string) (*domain.Unit, error) {
	for _, u := range m.units {
		if u.AgencyID == agencyID && u.UnitID == unitID {
			return u, nil
		}
	}
	return nil, domain.NotFound("unit not found")
}

func (m *fakeUnitRepo) FindByUnitIDs(_ context.Context, agencyID string, unitIDs []string) ([]*domain.Unit, error) {
	out := []*domain.Unit{}
	for _, id := range unitIDs {
		for _, u := range m.units {
			if u.AgencyID == agencyID && u.UnitID == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (m *fakeUnitRepo) Update(_ context.Context, unit *domain.Unit) error { return nil }

func (m *fakeUnitRepo) AssignToIncident(_ context.Context, _ string, _ []string, _ string) (int64, error) {
	return 0, nil
}

func (m *fakeUnitRepo) ListByAgency(_ context.Context, agencyID string) ([]*domain.Unit, error) {
	out := []*domain.Unit{}
	for _, u := range m.units {
		if u.AgencyID == agencyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *fakeUnitRepo) ListStale(_ context.Context, agencyID string, cutoff time.Time) ([]*domain.Unit, error) {
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
			out = append(out, u)
		}
	}
	return out, nil
}

type recordingActivityRepo struct {
	entries []*domain.ActivityEntry
}

func (m *recordingActivityRepo) Append(_ context.Context, entry *domain.ActivityEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *recordingActivityRepo) ListByAgency(_ context.Context, _ string, _ int) ([]*domain.ActivityEntry, error) {
	return m.entries, nil
}

type noopAuditRepo struct{}

func (noopAuditRepo) Append(_ context.Context, _ *domain.AuditEntry) error { return nil }

func newTestWatchdog(clock *testClock, agencies *fakeAgencyRepo, units *fakeUnitRepo, activity *recordingActivityRepo) *Watchdog {
	recorder := audit.NewRecorder(activity, noopAuditRepo{}, clock, nil)
	return NewWatchdog(agencies, units, recorder, clock, nil, time.Minute, 15*time.Minute)
}

func TestSweepFlagsStaleActiveUnits(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	agencies := &fakeAgencyRepo{agencies: []*domain.Agency{{ID: "hillsfire", Code: "HFD"}}}
	units := &fakeUnitRepo{units: []*domain.Unit{
		{ID: "r1", AgencyID: "hillsfire", UnitID: "ENG1", Status: domain.UnitOnScene,
			Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-30 * time.Minute)}},
		{ID: "r2", AgencyID: "hillsfire", UnitID: "LAD2", Status: domain.UnitOnScene,
			Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-5 * time.Minute)}},
		{ID: "r3", AgencyID: "hillsfire", UnitID: "RES3", Status: domain.UnitAvailable,
			Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-2 * time.Hour)}},
	}}
	activity := &recordingActivityRepo{}
	w := newTestWatchdog(clock, agencies, units, activity)

	w.sweep(context.Background())

	if len(activity.entries) != 1 {
		t.Fatalf("expected 1 flagged unit, got %d", len(activity.entries))
	}
	entry := activity.entries[0]
	if entry.UnitID != "ENG1" || entry.Code != domain.ActivityCodeStale {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Message != "Unit ENG1 has a stale location while in status ON_SCENE" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
}

func TestSweepFlagsOncePerStalePeriod(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	agencies := &fakeAgencyRepo{agencies: []*domain.Agency{{ID: "hillsfire", Code: "HFD"}}}
	stale := &domain.Unit{ID: "r1", AgencyID: "hillsfire", UnitID: "ENG1", Status: domain.UnitEnRoute,
		Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-time.Hour)}}
	units := &fakeUnitRepo{units: []*domain.Unit{stale}}
	activity := &recordingActivityRepo{}
	w := newTestWatchdog(clock, agencies, units, activity)
	ctx := context.Background()

	w.sweep(ctx)
	w.sweep(ctx)
	if len(activity.entries) != 1 {
		t.Fatalf("a unit must be flagged once per stale period, got %d entries", len(activity.entries))
	}

	// The unit moves, then goes stale again: it is re-flagged.
	clock.Advance(time.Hour)
	stale.Location.LastUpdate = clock.Now().Add(-20 * time.Minute)
	w.sweep(ctx)
	if len(activity.entries) != 2 {
		t.Fatalf("expected a second flag after the location moved, got %d entries", len(activity.entries))
	}
}

func TestSweepCoversEveryAgency(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	agencies := &fakeAgencyRepo{agencies: []*domain.Agency{
		{ID: "hillsfire", Code: "HFD"},
		{ID: "bayrescue", Code: "BRS"},
	}}
	units := &fakeUnitRepo{units: []*domain.Unit{
		{ID: "r1", AgencyID: "hillsfire", UnitID: "ENG1", Status: domain.UnitOnScene,
			Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-time.Hour)}},
		{ID: "r2", AgencyID: "bayrescue", UnitID: "M7", Status: domain.UnitTransport,
			Location: domain.UnitLocation{LastUpdate: clock.Now().Add(-time.Hour)}},
	}}
	activity := &recordingActivityRepo{}
	w := newTestWatchdog(clock, agencies, units, activity)

	w.sweep(context.Background())

	if len(activity.entries) != 2 {
		t.Fatalf("expected both agencies swept, got %d entries", len(activity.entries))
	}
	seen := map[string]bool{}
	for _, e := range activity.entries {
		seen[e.AgencyID] = true
	}
	if !seen["hillsfire"] || !seen["bayrescue"] {
		t.Fatalf("expected entries for both agencies, got %v", seen)
	}
}

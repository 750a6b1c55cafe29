package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opslink/opslink/internal/domain"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type flakyActivityRepo struct {
	mu       sync.Mutex
	entries  []*domain.ActivityEntry
	failures int
	attempts int
}

func (m *flakyActivityRepo) Append(_ context.Context, entry *domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return domain.Persistence("activity store unavailable", nil)
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *flakyActivityRepo) ListByAgency(_ context.Context, agencyID string, limit int) ([]*domain.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.ActivityEntry{}
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.entries[i].AgencyID == agencyID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type flakyAuditRepo struct {
	mu       sync.Mutex
	entries  []*domain.AuditEntry
	failures int
	attempts int
}

func (m *flakyAuditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return domain.Persistence("audit store unavailable", nil)
	}
	m.entries = append(m.entries, entry)
	return nil
}

func newTestRecorder(activity *flakyActivityRepo, auditRepo *flakyAuditRepo) *Recorder {
	return NewRecorder(activity, auditRepo, stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, nil)
}

func TestActivityStampsCreatedAt(t *testing.T) {
	activity := &flakyActivityRepo{}
	r := newTestRecorder(activity, &flakyAuditRepo{})

	entry := &domain.ActivityEntry{AgencyID: "a1", Type: domain.ActivityIncident, Message: "Incident 2403 created (Structure Fire)"}
	if err := r.Activity(context.Background(), entry); err != nil {
		t.Fatalf("activity: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !entry.CreatedAt.Equal(want) {
		t.Fatalf("expected CreatedAt %v, got %v", want, entry.CreatedAt)
	}

	// An explicit timestamp is preserved.
	stamped := &domain.ActivityEntry{AgencyID: "a1", Type: domain.ActivityIncident, Message: "x", CreatedAt: want.Add(-time.Hour)}
	if err := r.Activity(context.Background(), stamped); err != nil {
		t.Fatalf("activity: %v", err)
	}
	if !stamped.CreatedAt.Equal(want.Add(-time.Hour)) {
		t.Fatalf("explicit CreatedAt must not be overwritten")
	}
}

func TestActivityRetriesTransientFailure(t *testing.T) {
	activity := &flakyActivityRepo{failures: 2}
	r := newTestRecorder(activity, &flakyAuditRepo{})

	err := r.Activity(context.Background(), &domain.ActivityEntry{AgencyID: "a1", Type: domain.ActivityIncident, Message: "x"})
	if err != nil {
		t.Fatalf("two transient failures should be absorbed: %v", err)
	}
	if activity.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", activity.attempts)
	}
	if len(activity.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(activity.entries))
	}
}

func TestActivityExhaustedRetriesFail(t *testing.T) {
	activity := &flakyActivityRepo{failures: 100}
	r := newTestRecorder(activity, &flakyAuditRepo{})

	err := r.Activity(context.Background(), &domain.ActivityEntry{AgencyID: "a1", Type: domain.ActivityIncident, Message: "x"})
	if !domain.IsKind(err, domain.KindPersistence) {
		t.Fatalf("expected Persistence after exhausted retries, got %v", err)
	}
	if activity.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", activity.attempts)
	}
}

func TestAuditRetriesAndFails(t *testing.T) {
	auditRepo := &flakyAuditRepo{failures: 1}
	r := newTestRecorder(&flakyActivityRepo{}, auditRepo)

	entry := &domain.AuditEntry{AgencyID: "a1", Action: domain.AuditIncidentStatusChange, TargetID: "2403"}
	if err := r.Audit(context.Background(), entry); err != nil {
		t.Fatalf("one transient failure should be absorbed: %v", err)
	}
	if auditRepo.attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", auditRepo.attempts)
	}

	auditRepo.failures = 100
	err := r.Audit(context.Background(), &domain.AuditEntry{AgencyID: "a1", Action: domain.AuditIncidentStatusChange, TargetID: "2403"})
	if !domain.IsKind(err, domain.KindPersistence) {
		t.Fatalf("expected Persistence after exhausted retries, got %v", err)
	}
}

func TestListActivityMostRecentFirst(t *testing.T) {
	activity := &flakyActivityRepo{}
	r := newTestRecorder(activity, &flakyAuditRepo{})
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		if err := r.Activity(ctx, &domain.ActivityEntry{AgencyID: "a1", Type: domain.ActivityIncident, Message: msg}); err != nil {
			t.Fatalf("activity: %v", err)
		}
	}

	entries, err := r.ListActivity(ctx, "a1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "third" || entries[1].Message != "second" {
		t.Fatalf("expected [third second], got %v", entries)
	}
}

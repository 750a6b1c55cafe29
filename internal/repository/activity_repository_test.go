package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubConn is a database/sql/driver connection that records every query and
// serves canned rows, so repository SQL can be exercised without a server.
type stubConn struct {
	mu      sync.Mutex
	queries []string
	cols    []string
	rows    [][]driver.Value
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	return &stubRows{cols: c.cols, rows: c.rows}, nil
}

func (c *stubConn) lastQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return ""
	}
	return c.queries[len(c.queries)-1]
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

type stubConnector struct{ conn *stubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{c.conn} }

type stubDriver struct{ conn *stubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func stubDB(conn *stubConn) *sql.DB { return sql.OpenDB(stubConnector{conn: conn}) }

func TestListActivityScansRows(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conn := &stubConn{
		cols: []string{"id", "agency_id", "type", "code", "incident_number", "unit_id", "user_id", "message", "meta", "created_at"},
		rows: [][]driver.Value{
			{int64(2), "a-1", "INCIDENT", "CREATE", "2403", "", "u-disp", "Incident 2403 created (Structure Fire)", []byte(`{}`), created},
			// System entries carry no user.
			{int64(1), "a-1", "SYSTEM", "STALE_LOCATION", "", "ENG1", "", "Unit ENG1 has a stale location while in status ON_SCENE", []byte(`{}`), created},
		},
	}
	repo := NewPostgresActivityRepository(stubDB(conn), nil)

	entries, err := repo.ListByAgency(context.Background(), "a-1", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != "u-disp" || entries[0].IncidentNumber != "2403" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].UserID != "" || entries[1].UnitID != "ENG1" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestListActivityCastsUUIDBeforeTextFallback(t *testing.T) {
	conn := &stubConn{
		cols: []string{"id", "agency_id", "type", "code", "incident_number", "unit_id", "user_id", "message", "meta", "created_at"},
	}
	repo := NewPostgresActivityRepository(stubDB(conn), nil)

	if _, err := repo.ListByAgency(context.Background(), "a-1", 10); err != nil {
		t.Fatalf("list: %v", err)
	}

	query := conn.lastQuery()
	// user_id is a uuid column: COALESCE against a bare '' makes Postgres
	// resolve the literal to uuid and fail at plan time, so the column must
	// be cast to text before the empty-string fallback.
	if !strings.Contains(query, "COALESCE(user_id::text, '')") {
		t.Fatalf("user_id must be cast to text in the null fallback, query:\n%s", query)
	}
	if strings.Contains(query, "COALESCE(user_id, ") {
		t.Fatalf("uuid column compared against a text literal, query:\n%s", query)
	}
}

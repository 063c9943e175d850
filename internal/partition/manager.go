// Package partition keeps the monthly range partitions of the content table in step with time.
package partition

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/lib/pq"

	"brewfeed/backend/internal/metrics"
)

const DefaultTable = "content_items"

var nameRe = regexp.MustCompile(`_y(\d{4})m(\d{2})$`)

type Manager struct {
	db        *sql.DB
	table     string
	ahead     int
	retention int
	metrics   *metrics.Pipeline
	now       func() time.Time
}

type Option func(*Manager)

func WithTable(name string) Option {
	return func(m *Manager) { m.table = name }
}

func WithMetrics(p *metrics.Pipeline) Option {
	return func(m *Manager) { m.metrics = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager that keeps `ahead` future months and `retention` past months.
func NewManager(db *sql.DB, ahead, retention int, opts ...Option) *Manager {
	m := &Manager{db: db, table: DefaultTable, ahead: ahead, retention: retention, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the partition table name for a month, e.g. content_items_y2024m06.
func Name(table string, year int, month time.Month) string {
	return fmt.Sprintf("%s_y%04dm%02d", table, year, int(month))
}

func monthStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// EnsurePartition creates the partition for the given month if it does not exist.
func (m *Manager) EnsurePartition(ctx context.Context, year int, month time.Month) error {
	from := monthStart(year, month)
	to := from.AddDate(0, 1, 0)
	name := Name(m.table, year, month)

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		pq.QuoteIdentifier(name), pq.QuoteIdentifier(m.table), from.Format(time.DateOnly), to.Format(time.DateOnly))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	m.metrics.PartitionOp("ensure")
	slog.DebugContext(ctx, "partition ensured", "partition", name)
	return nil
}

// EnsureAhead ensures the current month and the configured number of following months.
func (m *Manager) EnsureAhead(ctx context.Context) error {
	now := m.now().UTC()
	start := monthStart(now.Year(), now.Month())
	for i := 0; i <= m.ahead; i++ {
		t := start.AddDate(0, i, 0)
		if err := m.EnsurePartition(ctx, t.Year(), t.Month()); err != nil {
			return err
		}
	}
	return nil
}

// DropPartitionsOlderThan drops partitions whose upper bound lies at or before the start of the
// current month minus months. It returns the dropped partition names.
func (m *Manager) DropPartitionsOlderThan(ctx context.Context, months int) ([]string, error) {
	now := m.now().UTC()
	cutoff := monthStart(now.Year(), now.Month()).AddDate(0, -months, 0)

	names, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range names {
		start, ok := parseName(name)
		if !ok {
			continue
		}
		if start.AddDate(0, 1, 0).After(cutoff) {
			continue
		}
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(name))); err != nil {
			return dropped, fmt.Errorf("drop partition %s: %w", name, err)
		}
		m.metrics.PartitionOp("drop")
		slog.InfoContext(ctx, "partition dropped", "partition", name, "cutoff", cutoff.Format(time.DateOnly))
		dropped = append(dropped, name)
	}
	return dropped, nil
}

// List returns the names of the table's partitions.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	query := `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = $1
		ORDER BY c.relname`
	rows, err := m.db.QueryContext(ctx, query, m.table)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Maintain runs one housekeeping pass: ensure ahead, then drop expired partitions.
func (m *Manager) Maintain(ctx context.Context) error {
	if err := m.EnsureAhead(ctx); err != nil {
		m.metrics.PartitionOp("error")
		return err
	}
	dropped, err := m.DropPartitionsOlderThan(ctx, m.retention)
	if err != nil {
		m.metrics.PartitionOp("error")
		return err
	}
	slog.InfoContext(ctx, "partition maintenance complete", "ahead_months", m.ahead, "retention_months", m.retention, "dropped", len(dropped))
	return nil
}

func parseName(name string) (time.Time, bool) {
	match := nameRe.FindStringSubmatch(name)
	if match == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return monthStart(year, time.Month(month)), true
}

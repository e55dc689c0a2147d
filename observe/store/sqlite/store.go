package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/agent-web/observe"
	observestore "github.com/PipeOpsHQ/agent-web/observe/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 200

// Fixed-width so lexical order in SQL matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `
SELECT event_id, request_id, run_id, session_id, span_id, parent_span_id, kind, status, name, provider,
       outcome, status_code, message, error, duration_ms, attributes, timestamp
FROM trace_events`

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite trace path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode trace attributes: %w", err)
	}
	const q = `
INSERT INTO trace_events (
  event_id, request_id, run_id, session_id, span_id, parent_span_id, kind, status, name, provider,
  outcome, status_code, message, error, duration_ms, attributes, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		event.ID,
		int64(event.RequestID),
		event.RunID,
		event.SessionID,
		event.SpanID,
		event.ParentSpanID,
		string(event.Kind),
		string(event.Status),
		event.Name,
		event.Provider,
		event.Outcome,
		event.StatusCode,
		event.Message,
		event.Error,
		event.DurationMs,
		string(attrs),
		event.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save trace event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsByRequest(ctx context.Context, requestID uint64) ([]observe.Event, error) {
	if requestID == 0 {
		return nil, fmt.Errorf("requestID is required")
	}
	return s.list(ctx, " WHERE request_id = ? ORDER BY timestamp ASC", []any{int64(requestID)}, observestore.ListQuery{})
}

func (s *Store) ListEventsByRun(ctx context.Context, runID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("runID is required")
	}
	return s.list(ctx, " WHERE run_id = ? ORDER BY timestamp ASC", []any{runID}, query)
}

// ListRecent returns the newest events first.
func (s *Store) ListRecent(ctx context.Context, query observestore.ListQuery) ([]observe.Event, error) {
	return s.list(ctx, " ORDER BY timestamp DESC", nil, query)
}

func (s *Store) list(ctx context.Context, clause string, args []any, query observestore.ListQuery) ([]observe.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	q := selectColumns + clause + " LIMIT ? OFFSET ?;"
	args = append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trace events: %w", err)
	}
	defer rows.Close()

	out := make([]observe.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trace events: %w", err)
	}
	return out, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (observe.Event, error) {
	var (
		e         observe.Event
		requestID int64
		kind      string
		status    string
		attrs     string
		tsRaw     string
	)
	if err := scanner.Scan(
		&e.ID,
		&requestID,
		&e.RunID,
		&e.SessionID,
		&e.SpanID,
		&e.ParentSpanID,
		&kind,
		&status,
		&e.Name,
		&e.Provider,
		&e.Outcome,
		&e.StatusCode,
		&e.Message,
		&e.Error,
		&e.DurationMs,
		&attrs,
		&tsRaw,
	); err != nil {
		return observe.Event{}, fmt.Errorf("failed to scan trace event: %w", err)
	}
	e.RequestID = uint64(requestID)
	e.Kind = observe.Kind(kind)
	e.Status = observe.Status(status)
	if tsRaw != "" {
		if ts, err := time.Parse(timestampLayout, tsRaw); err == nil {
			e.Timestamp = ts
		}
	}
	if attrs != "" {
		_ = json.Unmarshal([]byte(attrs), &e.Attributes)
	}
	e.Normalize()
	return e, nil
}

func (s *Store) AggregateMetrics(ctx context.Context, query observestore.MetricsQuery) (observestore.MetricsSummary, error) {
	if s == nil || s.db == nil {
		return observestore.MetricsSummary{}, nil
	}

	count := func(predicate string, args ...any) (int64, error) {
		q := "SELECT COUNT(*) FROM trace_events WHERE " + predicate
		if query.Since != nil {
			q += " AND timestamp >= ?"
			args = append(args, query.Since.UTC().Format(timestampLayout))
		}
		var n int64
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return 0, err
		}
		return n, nil
	}

	var (
		m   observestore.MetricsSummary
		err error
	)
	request := string(observe.KindRequest)
	completed := string(observe.StatusCompleted)
	failed := string(observe.StatusFailed)

	if m.Requests, err = count("kind = ? AND status IN (?, ?)", request, completed, failed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics requests: %w", err)
	}
	if m.RequestsFailed, err = count("kind = ? AND status = ?", request, failed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics requests failed: %w", err)
	}
	if m.Throttled, err = count("kind = ? AND outcome = ?", request, "throttled"); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics throttled: %w", err)
	}
	if m.RunsCompleted, err = count("kind = ? AND status = ?", string(observe.KindRun), completed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics runs completed: %w", err)
	}
	if m.RunsFailed, err = count("kind = ? AND status = ?", string(observe.KindRun), failed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics runs failed: %w", err)
	}
	if m.ProviderCalls, err = count("kind = ? AND status = ?", string(observe.KindProvider), completed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics provider calls: %w", err)
	}
	if m.ProviderFailures, err = count("kind = ? AND status = ?", string(observe.KindProvider), failed); err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("metrics provider failures: %w", err)
	}
	return m, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ observestore.Store = (*Store)(nil)

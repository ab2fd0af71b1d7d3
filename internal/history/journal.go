// Package history keeps a journal of server lifecycle events in the index
// database so past runs can be inspected after the process has gone.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
)

const (
	// timeLayout is fixed-width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	defaultLimit = 50
	maxLimit     = 500

	// emitTimeout bounds a single insert made through Emit.
	emitTimeout = 2 * time.Second
)

// Logger defines the logging interface for the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is one journaled lifecycle event.
type Entry struct {
	ID string `json:"id"`
	lifecycle.Event
}

// Filter controls which entries List returns.
type Filter struct {
	ServerID string         // optional
	Kind     lifecycle.Kind // optional
	Limit    int            // default 50, max 500
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Journal stores lifecycle events in SQLite. It implements lifecycle.Sink.
type Journal struct {
	db     *sql.DB
	logger Logger
}

var _ lifecycle.Sink = (*Journal)(nil)

// NewJournal creates a journal over a database migrated with the
// lifecycle_events table.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used for failed inserts from Emit.
func (j *Journal) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	j.logger = logger
}

// Emit records e. Failures are logged, never returned.
func (j *Journal) Emit(e lifecycle.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if _, err := j.Record(ctx, e); err != nil {
		j.logger.Warn("could not journal lifecycle event",
			"kind", e.Kind,
			"server_id", e.ServerID,
			"error", err,
		)
	}
}

// Record inserts e and returns the stored entry. A zero event time is
// replaced with the current time.
func (j *Journal) Record(ctx context.Context, e lifecycle.Event) (Entry, error) {
	if e.Kind == "" || e.ServerID == "" {
		return Entry{}, errors.New("event kind and server id are required")
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	entry := Entry{ID: "evt-" + uuid.NewString(), Event: e}

	var pid any
	if e.PID > 0 {
		pid = e.PID
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, kind, server_id, version, pid, address, duration_ns, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(e.Kind), e.ServerID,
		nullableString(e.Version), pid, nullableString(e.Address),
		int64(e.Duration), nullableString(e.Error),
		e.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting lifecycle event: %w", err)
	}
	return entry, nil
}

// List returns entries matching the filter, most recent first.
func (j *Journal) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.ServerID != "" {
		conditions = append(conditions, "server_id = ?")
		args = append(args, filter.ServerID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM lifecycle_events " + where //nolint:gosec // WHERE holds only placeholders
	if err := j.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting lifecycle events: %w", err)
	}

	query := `SELECT id, kind, server_id, version, pid, address, duration_ns, error, created_at
		FROM lifecycle_events ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE holds only placeholders
	rows, err := j.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle events: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes all but the newest keep entries and returns how many were
// removed. keep <= 0 removes nothing.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM lifecycle_events WHERE id NOT IN (
			SELECT id FROM lifecycle_events ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning lifecycle events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	if n > 0 {
		j.logger.Debug("pruned lifecycle journal", "removed", n, "kept", keep)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry                   Entry
		kind, createdAt         string
		version, address, errTx sql.NullString
		pid                     sql.NullInt64
		duration                int64
	)
	if err := rows.Scan(&entry.ID, &kind, &entry.ServerID, &version, &pid, &address,
		&duration, &errTx, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning lifecycle event: %w", err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing lifecycle event timestamp %q: %w", createdAt, err)
	}

	entry.Kind = lifecycle.Kind(kind)
	entry.Version = version.String
	entry.PID = int(pid.Int64)
	entry.Address = address.String
	entry.Duration = time.Duration(duration)
	entry.Error = errTx.String
	entry.Time = t
	return entry, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package storage keeps the optional run ledger: per-day sequence counters and an audit
// trail of stage transitions, in SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/ports"
	"MailPrompter/internal/retry"
)

//go:embed schema/schema.sql
var schemaSQL string

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
	DefaultSQLitePath = "mailprompter.db"

	busyTimeout = 5000 // milliseconds
	// recordedLayout sorts lexically in chronological order.
	recordedLayout = "2006-01-02T15:04:05.000000000Z"
)

// Seeder reports the highest ordinal already on disk for a category and day.
type Seeder interface {
	Highest(ctx context.Context, category string, day time.Time) (int, error)
}

// Ledger persists sequence counters and transitions.
type Ledger struct {
	db   *sql.DB
	sq   sq.StatementBuilderType
	seed Seeder
}

var (
	_ ports.SequenceAllocator  = (*Ledger)(nil)
	_ ports.SequenceReleaser    = (*Ledger)(nil)
	_ ports.TransitionRecorder = (*Ledger)(nil)
)

// Open connects to the database and applies the schema. seed may be nil, in which case
// new counters start at zero.
func Open(ctx context.Context, driver, dsn string, seed Seeder) (*Ledger, error) {
	var (
		conn *sql.DB
		err  error
		ph   sq.PlaceholderFormat
	)

	switch driver {
	case DriverSQLite:
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time keeps counter transactions from hitting SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
		ph = sq.Question
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres ledger: dsn is required")
		}
		conn, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		ph = sq.Dollar
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}

	ping := retry.Policy{MaxAttempts: 5, Interval: 100 * time.Millisecond}
	if err := ping.Do(ctx, conn.PingContext); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Ledger{
		db:   conn,
		sq:   sq.StatementBuilder.PlaceholderFormat(ph),
		seed: seed,
	}, nil
}

func sqliteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dsn, busyTimeout), nil
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Next increments the counter for category and day inside a transaction. A missing
// counter is seeded from the directories once, so existing files are never reused.
func (l *Ledger) Next(ctx context.Context, category string, day time.Time) (int, error) {
	stamp := day.Format(domain.DayLayout)

	var ordinal int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		next, err := l.increment(ctx, tx, category, stamp)
		if err == nil {
			ordinal = next
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		highest := 0
		if l.seed != nil {
			if highest, err = l.seed.Highest(ctx, category, day); err != nil {
				return fmt.Errorf("seed sequence: %w", err)
			}
		}

		query, args, err := l.sq.Insert("sequences").
			Columns("category", "day", "last_ordinal").
			Values(category, stamp, highest+1).
			Suffix("ON CONFLICT (category, day) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert sequence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			ordinal = highest + 1
			return nil
		}

		// Another writer created the row in the meantime.
		if ordinal, err = l.increment(ctx, tx, category, stamp); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("allocate %s %s: %w", category, stamp, err)
	}
	return ordinal, nil
}

// Release rolls the counter back by one when ordinal is still the last one handed out.
// Anything allocated after it keeps the counter where it is.
func (l *Ledger) Release(ctx context.Context, category string, day time.Time, ordinal int) error {
	query, args, err := l.sq.Update("sequences").
		Set("last_ordinal", ordinal-1).
		Where(sq.Eq{"category": category, "day": day.Format(domain.DayLayout), "last_ordinal": ordinal}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release %s %d: %w", category, ordinal, err)
	}
	return nil
}

func (l *Ledger) increment(ctx context.Context, tx *sql.Tx, category, stamp string) (int, error) {
	query, args, err := l.sq.Update("sequences").
		Set("last_ordinal", sq.Expr("last_ordinal + 1")).
		Where(sq.Eq{"category": category, "day": stamp}).
		Suffix("RETURNING last_ordinal").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	var ordinal int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&ordinal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("update sequence: %w", err)
	}
	return ordinal, nil
}

// Record appends one transition to the audit trail.
func (l *Ledger) Record(ctx context.Context, t domain.Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	recorded := t.Recorded
	if recorded.IsZero() {
		recorded = time.Now()
	}

	query, args, err := l.sq.Insert("transitions").
		Columns("id", "run_id", "item", "category", "day", "ordinal", "from_stage", "to_stage", "detail", "recorded_at").
		Values(
			t.ID,
			t.RunID,
			t.Item.Name,
			t.Item.Category,
			t.Item.Day.Format(domain.DayLayout),
			t.Item.Ordinal,
			string(t.From),
			string(t.To),
			t.Detail,
			recorded.UTC().Format(recordedLayout),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Recent returns the latest transitions, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := l.sq.
		Select("id", "run_id", "item", "category", "day", "ordinal", "from_stage", "to_stage", "detail", "recorded_at").
		From("transitions").
		OrderBy("recorded_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var (
			t                   domain.Transition
			day, from, to, when string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Item.Name, &t.Item.Category, &day, &t.Item.Ordinal, &from, &to, &t.Detail, &when); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = domain.Stage(from)
		t.To = domain.Stage(to)
		t.Item.Stage = t.To
		t.Item.Day, _ = time.Parse(domain.DayLayout, day)
		t.Recorded, _ = time.Parse(recordedLayout, when)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return out, nil
}

// withTx executes fn within a transaction, rolling back when it fails.
func (l *Ledger) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

package todos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const todoColumns = `id, title, description, is_completed, created_date, due_date, version`

// SQLStore is the Repository over a relational table, for SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Reasonable pragmas for an app server
		if _, err := db.Exec(`
			PRAGMA journal_mode=WAL;
			PRAGMA synchronous=NORMAL;
		`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting sqlite pragmas: %w", err)
		}
	}
	return &SQLStore{db: db, tracer: otel.Tracer("todos/store")}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate ensures the todos table exists.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	description TEXT,
	is_completed INTEGER NOT NULL DEFAULT 0,
	created_date DATETIME NOT NULL,
	due_date DATETIME,
	version TEXT NOT NULL
);`
	if s.db.DriverName() == DriverPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS todos (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	description TEXT,
	is_completed BOOLEAN NOT NULL DEFAULT FALSE,
	created_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ,
	version TEXT NOT NULL
);`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating todos table: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Todo, error) {
	ctx, span := s.tracer.Start(ctx, "todos.List")
	defer span.End()

	out := []Todo{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+todoColumns+` FROM todos ORDER BY id ASC`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("listing todos: %w", err))
	}
	for i := range out {
		normalize(&out[i])
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (Todo, error) {
	ctx, span := s.tracer.Start(ctx, "todos.Get", trace.WithAttributes(attribute.Int64("todo.id", id)))
	defer span.End()

	var t Todo
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`SELECT `+todoColumns+` FROM todos WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Todo{}, ErrNotFound
	}
	if err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("getting todo %d: %w", id, err))
	}
	normalize(&t)
	return t, nil
}

func (s *SQLStore) Create(ctx context.Context, t Todo) (Todo, error) {
	ctx, span := s.tracer.Start(ctx, "todos.Create")
	defer span.End()

	t = prepareCreate(t)
	t.CreatedDate = t.CreatedDate.UTC()
	t.DueDate = utcPtr(t.DueDate)

	err := s.db.GetContext(ctx, &t.ID, s.db.Rebind(`
		INSERT INTO todos (title, description, is_completed, created_date, due_date, version)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), t.Title, t.Description, t.IsCompleted, t.CreatedDate, t.DueDate, t.Version)
	if err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("creating todo: %w", err))
	}
	span.SetAttributes(attribute.Int64("todo.id", t.ID))
	return t, nil
}

// Update runs a compare-and-swap on the version column and reads the row back
// in the same transaction. No matching row (deleted, or version moved on) is
// reported as ErrConflict.
func (s *SQLStore) Update(ctx context.Context, t Todo) (Todo, error) {
	ctx, span := s.tracer.Start(ctx, "todos.Update", trace.WithAttributes(attribute.Int64("todo.id", t.ID)))
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE todos
		SET title = ?, description = ?, is_completed = ?, due_date = ?, version = ?
		WHERE id = ? AND version = ?
	`), t.Title, t.Description, t.IsCompleted, utcPtr(t.DueDate), newVersion(), t.ID, t.Version)
	if err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("updating todo %d: %w", t.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("updating todo %d: %w", t.ID, err))
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("todo.conflict", true))
		return Todo{}, ErrConflict
	}

	var out Todo
	if err := tx.GetContext(ctx, &out, tx.Rebind(`SELECT `+todoColumns+` FROM todos WHERE id = ?`), t.ID); err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("reading updated todo %d: %w", t.ID, err))
	}
	if err := tx.Commit(); err != nil {
		return Todo{}, spanErr(span, fmt.Errorf("committing todo %d: %w", t.ID, err))
	}
	normalize(&out)
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "todos.Delete", trace.WithAttributes(attribute.Int64("todo.id", id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM todos WHERE id = ?`), id)
	if err != nil {
		return spanErr(span, fmt.Errorf("deleting todo %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return spanErr(span, fmt.Errorf("deleting todo %d: %w", id, err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Exists(ctx context.Context, id int64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "todos.Exists", trace.WithAttributes(attribute.Int64("todo.id", id)))
	defer span.End()

	var ok bool
	err := s.db.GetContext(ctx, &ok, s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM todos WHERE id = ?)`), id)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("checking todo %d: %w", id, err))
	}
	return ok, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// normalize keeps timestamps in UTC whatever location the driver scanned them in.
func normalize(t *Todo) {
	t.CreatedDate = t.CreatedDate.UTC()
	t.DueDate = utcPtr(t.DueDate)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Helper to build DSN like: file:/absolute/path?_pragma=busy_timeout(5000)
func SQLiteFileDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file:" + filepath.ToSlash(abs) + "?_pragma=busy_timeout(5000)", nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"homecal/internal/core"
	"homecal/internal/store"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListCategories implements store.CategoryStore
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, description, type FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			id        int
			desc, typ string
		)
		if err := rows.Scan(&id, &desc, &typ); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		t, err := core.ParseCategoryType(typ)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", id, err)
		}
		out = append(out, core.NewCategory(id, desc, t))
	}
	return out, rows.Err()
}

// AddCategory implements store.CategoryStore
func (r *SQLiteRepository) AddCategory(ctx context.Context, description string, typ core.CategoryType) (core.Category, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return core.Category{}, fmt.Errorf("%w: category description is empty", store.ErrInvalid)
	}

	var c core.Category
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var id int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM categories`).Scan(&id); err != nil {
			return fmt.Errorf("next category id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, description, type) VALUES (?, ?, ?)`,
			id, description, typ.String()); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
		c = core.NewCategory(id, description, typ)
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}

	slog.InfoContext(ctx, "Category saved to SQLite", "id", c.ID(), "description", c.Description())
	return c, nil
}

// DeleteCategory implements store.CategoryStore
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return requireRow(res, "category", id)
}

// ListEvents implements store.EventStore
func (r *SQLiteRepository) ListEvents(ctx context.Context) ([]core.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, start_date_time, category_id, duration_minutes, details FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AddEvent implements store.EventStore
func (r *SQLiteRepository) AddEvent(ctx context.Context, draft core.EventDraft) (core.Event, error) {
	if err := draft.Validate(); err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}

	var ev core.Event
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := nextEventID(ctx, tx)
		if err != nil {
			return err
		}
		if ev, err = draft.Event(id); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
		return insertEvent(ctx, tx, ev, nil)
	})
	if err != nil {
		return core.Event{}, err
	}

	slog.InfoContext(ctx, "Event saved to SQLite",
		"id", ev.ID(),
		"category_id", ev.CategoryID(),
		"duration_minutes", ev.DurationInMinutes())
	return ev, nil
}

// UpdateEvent implements store.EventStore
func (r *SQLiteRepository) UpdateEvent(ctx context.Context, id int, patch store.EventPatch) (core.Event, error) {
	var updated core.Event
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, start_date_time, category_id, duration_minutes, details FROM events WHERE id = ?`, id)
		current, err := scanEvent(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %d: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if updated, err = patch.Apply(current); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE events SET duration_minutes = ?, details = ? WHERE id = ?`,
			updated.DurationInMinutes(), updated.Details(), id)
		if err != nil {
			return fmt.Errorf("update event %d: %w", id, err)
		}
		return nil
	})
	return updated, err
}

// DeleteEvent implements store.EventStore
func (r *SQLiteRepository) DeleteEvent(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	return requireRow(res, "event", id)
}

// ReplaceSource implements store.ImportStore. The swap happens in one
// transaction so readers never see a half-imported source.
func (r *SQLiteRepository) ReplaceSource(ctx context.Context, sourceID string, drafts []core.EventDraft) (int, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id is empty", store.ErrInvalid)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("clear source %s: %w", sourceID, err)
		}
		next, err := nextEventID(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range drafts {
			ev, err := d.Event(next)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalid, err)
			}
			if err := insertEvent(ctx, tx, ev, &sourceID); err != nil {
				return err
			}
			next++
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO import_runs (source_id, imported_at, event_count) VALUES (?, ?, ?)
			 ON CONFLICT(source_id) DO UPDATE SET imported_at = excluded.imported_at, event_count = excluded.event_count`,
			sourceID, time.Now().UTC().Format(timeLayout), len(drafts))
		if err != nil {
			return fmt.Errorf("record import run: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Source replaced in SQLite", "source_id", sourceID, "events", len(drafts))
	return len(drafts), nil
}

// ImportRun is the bookkeeping row of the last import of a source.
type ImportRun struct {
	SourceID   string
	ImportedAt time.Time
	EventCount int
}

// LastImport returns the most recent import of sourceID.
func (r *SQLiteRepository) LastImport(ctx context.Context, sourceID string) (ImportRun, error) {
	var (
		run ImportRun
		at  string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT source_id, imported_at, event_count FROM import_runs WHERE source_id = ?`, sourceID).
		Scan(&run.SourceID, &at, &run.EventCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ImportRun{}, fmt.Errorf("import run %s: %w", sourceID, store.ErrNotFound)
	}
	if err != nil {
		return ImportRun{}, fmt.Errorf("get import run: %w", err)
	}
	if run.ImportedAt, err = time.Parse(timeLayout, at); err != nil {
		return ImportRun{}, fmt.Errorf("parse import time: %w", err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (core.Event, error) {
	var (
		id, catID int
		start     string
		duration  float64
		details   string
	)
	if err := row.Scan(&id, &start, &catID, &duration, &details); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Event{}, err
		}
		return core.Event{}, fmt.Errorf("scan event: %w", err)
	}
	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return core.Event{}, fmt.Errorf("event %d: parse start: %w", id, err)
	}
	return core.NewEvent(id, t, catID, duration, details)
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev core.Event, sourceID *string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, start_date_time, category_id, duration_minutes, details, source_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID(), ev.StartDateTime().Format(timeLayout), ev.CategoryID(), ev.DurationInMinutes(), ev.Details(), sourceID)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.ID(), err)
	}
	return nil
}

func nextEventID(ctx context.Context, tx *sql.Tx) (int, error) {
	var id int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	return id, nil
}

func requireRow(res sql.Result, kind string, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
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

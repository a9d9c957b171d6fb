// Package sqlite implements repository.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const backend = "sqlite"

// Store is a repository.Store on SQLite. A single connection serializes
// every transaction; SQLITE_BUSY from other processes is retried.
type Store struct {
	repository.Observers

	db          *sql.DB
	maxAttempts int
}

var _ repository.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithMaxAttempts bounds RunInTx retries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// Open opens the database at path, applying migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, maxAttempts: repository.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func isUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const eventColumns = `id, user_id, name, ts, metadata, processed, processing_error, result`

func scanEvent(row scanner) (model.Event, error) {
	var (
		e         model.Event
		ts        int64
		meta, res []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Name, &ts, &meta, &e.Processed, &e.ProcessingError, &res); err != nil {
		return model.Event{}, err
	}
	e.Timestamp = fromMillis(ts)
	if err := repository.DecodeDoc(meta, &e.Metadata); err != nil {
		return model.Event{}, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
	}
	if len(res) > 0 && string(res) != "null" {
		e.Result = &model.EventResult{}
		if err := repository.DecodeDoc(res, e.Result); err != nil {
			return model.Event{}, fmt.Errorf("decode result of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func loadEvent(ctx context.Context, q queryer, id string) (model.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", repository.ErrEventNotFound, id)
	}
	return e, err
}

const userColumns = `id, display_name, team_id, xp, points, level, unlocked, progress, last_action, version`

func scanUser(row scanner) (model.User, error) {
	var (
		u                          model.User
		unlocked, progress, action []byte
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.TeamID, &u.XP, &u.Points, &u.Level, &unlocked, &progress, &action, &u.Version); err != nil {
		return model.User{}, err
	}
	if err := repository.DecodeDoc(unlocked, &u.UnlockedAchievements); err != nil {
		return model.User{}, err
	}
	if err := repository.DecodeDoc(progress, &u.AchievementProgress); err != nil {
		return model.User{}, err
	}
	if err := repository.DecodeDoc(action, &u.AchievementLastAction); err != nil {
		return model.User{}, err
	}
	u.Normalize()
	return u, nil
}

func loadUser(ctx context.Context, q queryer, id string) (model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", repository.ErrUserNotFound, id)
	}
	return u, err
}

// CreateEvent implements repository.Store.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		return model.Event{}, fmt.Errorf("%w: empty event id", repository.ErrInvalidID)
	}
	e = e.Clone()
	e.Processed, e.Result, e.ProcessingError = false, nil, ""
	meta, err := repository.EncodeDoc(e.Metadata)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, name, ts, metadata) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Name, millis(e.Timestamp), meta)
	if err != nil {
		if isUnique(err) {
			return model.Event{}, fmt.Errorf("%w: %s", repository.ErrEventExists, e.ID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	e.Timestamp = fromMillis(millis(e.Timestamp))
	s.NotifyEventCreated(ctx, e)
	return e, nil
}

// Event implements repository.Store.
func (s *Store) Event(ctx context.Context, id string) (model.Event, error) {
	return loadEvent(ctx, s.db, id)
}

// FailEvent implements repository.Store.
func (s *Store) FailEvent(ctx context.Context, id, msg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET processing_error = ? WHERE id = ? AND processed = 0`, msg, id)
	if err != nil {
		return fmt.Errorf("fail event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := loadEvent(ctx, s.db, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, id)
	}
	return nil
}

// PendingEvents implements repository.Store.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE processed = 0 ORDER BY ts, rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// User implements repository.Store.
func (s *Store) User(ctx context.Context, id string) (model.User, error) {
	return loadUser(ctx, s.db, id)
}

// Users implements repository.Store.
func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertUser implements repository.Store.
func (s *Store) UpsertUser(ctx context.Context, p repository.Profile) (model.User, error) {
	if p.ID == "" {
		return model.User{}, fmt.Errorf("%w: empty user id", repository.ErrInvalidID)
	}
	var (
		after   model.User
		changes []model.UserChange
	)
	err := repository.RetryTx(ctx, backend, s.maxAttempts, func(ctx context.Context) error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			before, err := loadUser(ctx, tx, p.ID)
			switch {
			case errors.Is(err, repository.ErrUserNotFound):
				before = model.NewUser(p.ID)
				if err := insertUser(ctx, tx, before); err != nil {
					return err
				}
			case err != nil:
				return err
			}
			team := p.TeamFor(before)
			if team != "" && team != before.TeamID {
				if err := teamExists(ctx, tx, team); err != nil {
					return err
				}
			}
			after = before.Clone()
			after.DisplayName, after.TeamID = p.DisplayName, team
			after.Version = before.Version + 1
			changes = repository.ProfileChanges(before, team, after.Version)
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET display_name = ?, team_id = ?, version = ? WHERE id = ?`,
				after.DisplayName, after.TeamID, after.Version, after.ID)
			return err
		})
	})
	if err != nil {
		return model.User{}, err
	}
	s.NotifyUserChanged(ctx, changes...)
	return after, nil
}

func teamExists(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", repository.ErrTeamNotFound, id)
	}
	return err
}

func insertUser(ctx context.Context, q queryer, u model.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, unlocked, progress, last_action, level, version) VALUES (?, '[]', '{}', '{}', 1, 0)`, u.ID)
	return err
}

// Team implements repository.Store.
func (s *Store) Team(ctx context.Context, id string) (model.Team, error) {
	var t model.Team
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, xp, points, total_points FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.XP, &t.Points, &t.TotalPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Team{}, fmt.Errorf("%w: %s", repository.ErrTeamNotFound, id)
	}
	return t, err
}

// UpsertTeam implements repository.Store.
func (s *Store) UpsertTeam(ctx context.Context, id, name string) (model.Team, error) {
	if id == "" {
		return model.Team{}, fmt.Errorf("%w: empty team id", repository.ErrInvalidID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET name = excluded.name`, id, name)
	if err != nil {
		return model.Team{}, fmt.Errorf("upsert team: %w", err)
	}
	return s.Team(ctx, id)
}

// IncrementTeam implements repository.Store.
func (s *Store) IncrementTeam(ctx context.Context, teamID string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET xp = xp + ?, points = points + ?, total_points = total_points + ? WHERE id = ?`,
		delta, delta, delta, teamID)
	if err != nil {
		return fmt.Errorf("increment team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrTeamNotFound, teamID)
	}
	return nil
}

// Ledger implements repository.Store.
func (s *Store) Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, amount, from_account, to_account, reason, event_id, ts FROM ledger WHERE to_account = ? ORDER BY seq`,
		model.UserAccount(userID))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.LedgerEntry, 0)
	for rows.Next() {
		var (
			e  model.LedgerEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Amount, &e.From, &e.To, &e.Reason, &e.EventID, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Achievements implements repository.Store.
func (s *Store) Achievements(ctx context.Context, userID string) ([]model.AchievementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, achievement_id, event_id, xp, badge, earned_at FROM achievements WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.AchievementRecord, 0)
	for rows.Next() {
		var (
			r  model.AchievementRecord
			ts int64
		)
		if err := rows.Scan(&r.UserID, &r.AchievementID, &r.EventID, &r.XP, &r.Badge, &ts); err != nil {
			return nil, err
		}
		r.EarnedAt = fromMillis(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// withTx runs fn in one database transaction. Busy errors become conflicts
// so RetryTx re-runs the attempt.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return repository.Conflict(err)
		}
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isBusy(err) {
			return repository.Conflict(err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return repository.Conflict(err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTx implements repository.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	var changes []model.UserChange
	err := repository.RetryTx(ctx, backend, s.maxAttempts, func(ctx context.Context) error {
		var t *txn
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			t = newTxn(tx)
			if err := fn(ctx, t); err != nil {
				return err
			}
			return t.flush(ctx)
		})
		if err != nil {
			return err
		}
		changes = t.changes()
		return nil
	})
	if err != nil {
		return err
	}
	s.NotifyUserChanged(ctx, changes...)
	return nil
}

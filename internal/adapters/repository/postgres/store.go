// Package postgres implements repository.Store on PostgreSQL.
//
// Transactions run at serializable isolation and lock the user rows they
// read; serialization failures and deadlocks are retried by RunInTx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
)

const backend = "postgres"

var (
	// ErrMigrationFailed indicates a migration failure.
	ErrMigrationFailed = errors.New("postgres: migration failed")
	// ErrConnect indicates the pool could not be established.
	ErrConnect = errors.New("postgres: connect failed")
)

// SQLSTATE codes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Store is a repository.Store on a pgx connection pool.
type Store struct {
	repository.Observers

	pool        *pgxpool.Pool
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

// Open connects to databaseURL and applies migrations.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("%w: database url is required", ErrConnect)
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %v", ErrConnect, err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrConnect, err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool, maxAttempts: repository.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const eventColumns = `id, user_id, name, ts, metadata, processed, processing_error, result`

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e         model.Event
		meta, res []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Timestamp, &meta, &e.Processed, &e.ProcessingError, &res); err != nil {
		return model.Event{}, err
	}
	e.Timestamp = e.Timestamp.UTC()
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

func loadEvent(ctx context.Context, q querier, id string) (model.Event, error) {
	e, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", repository.ErrEventNotFound, id)
	}
	return e, err
}

const userColumns = `id, display_name, team_id, xp, points, level, unlocked, progress, last_action, version`

func scanUser(row pgx.Row) (model.User, error) {
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

// loadUser reads a user; forUpdate locks the row for the enclosing tx.
func loadUser(ctx context.Context, q querier, id string, forUpdate bool) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	u, err := scanUser(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", repository.ErrUserNotFound, id)
	}
	return u, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateEvent implements repository.Store.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		return model.Event{}, fmt.Errorf("%w: empty event id", repository.ErrInvalidID)
	}
	e = e.Clone()
	e.Processed, e.Result, e.ProcessingError = false, nil, ""
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	meta, err := repository.EncodeDoc(e.Metadata)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, user_id, name, ts, metadata) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Name, e.Timestamp, meta)
	if err != nil {
		if sqlState(err) == codeUniqueViolation {
			return model.Event{}, fmt.Errorf("%w: %s", repository.ErrEventExists, e.ID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	s.NotifyEventCreated(ctx, e)
	return e, nil
}

// Event implements repository.Store.
func (s *Store) Event(ctx context.Context, id string) (model.Event, error) {
	return loadEvent(ctx, s.pool, id)
}

// FailEvent implements repository.Store.
func (s *Store) FailEvent(ctx context.Context, id, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET processing_error = $1 WHERE id = $2 AND NOT processed`, msg, id)
	if err != nil {
		return fmt.Errorf("fail event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := loadEvent(ctx, s.pool, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, id)
	}
	return nil
}

// PendingEvents implements repository.Store.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE NOT processed ORDER BY ts, seq LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return collect(rows, scanEvent)
}

// User implements repository.Store.
func (s *Store) User(ctx context.Context, id string) (model.User, error) {
	return loadUser(ctx, s.pool, id, false)
}

// Users implements repository.Store.
func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collect(rows, scanUser)
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
		return s.withTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, p.ID); err != nil {
				return err
			}
			before, err := loadUser(ctx, tx, p.ID, true)
			if err != nil {
				return err
			}
			team := p.TeamFor(before)
			if team != "" && team != before.TeamID {
				var one int
				err := tx.QueryRow(ctx, `SELECT 1 FROM teams WHERE id = $1`, team).Scan(&one)
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: %s", repository.ErrTeamNotFound, team)
				}
				if err != nil {
					return err
				}
			}
			after = before.Clone()
			after.DisplayName, after.TeamID = p.DisplayName, team
			after.Version = before.Version + 1
			changes = repository.ProfileChanges(before, team, after.Version)
			_, err = tx.Exec(ctx,
				`UPDATE users SET display_name = $1, team_id = $2, version = $3 WHERE id = $4`,
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

// Team implements repository.Store.
func (s *Store) Team(ctx context.Context, id string) (model.Team, error) {
	var t model.Team
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, xp, points, total_points FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.XP, &t.Points, &t.TotalPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Team{}, fmt.Errorf("%w: %s", repository.ErrTeamNotFound, id)
	}
	return t, err
}

// UpsertTeam implements repository.Store.
func (s *Store) UpsertTeam(ctx context.Context, id, name string) (model.Team, error) {
	if id == "" {
		return model.Team{}, fmt.Errorf("%w: empty team id", repository.ErrInvalidID)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, id, name)
	if err != nil {
		return model.Team{}, fmt.Errorf("upsert team: %w", err)
	}
	return s.Team(ctx, id)
}

// IncrementTeam implements repository.Store.
func (s *Store) IncrementTeam(ctx context.Context, teamID string, delta int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET xp = xp + $1, points = points + $1, total_points = total_points + $1 WHERE id = $2`,
		delta, teamID)
	if err != nil {
		return fmt.Errorf("increment team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", repository.ErrTeamNotFound, teamID)
	}
	return nil
}

func scanLedger(row pgx.Row) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.Type, &e.Amount, &e.From, &e.To, &e.Reason, &e.EventID, &e.Timestamp)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}

// Ledger implements repository.Store.
func (s *Store) Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, amount, from_account, to_account, reason, event_id, ts FROM ledger WHERE to_account = $1 ORDER BY seq`,
		model.UserAccount(userID))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return collect(rows, scanLedger)
}

func scanAchievement(row pgx.Row) (model.AchievementRecord, error) {
	var r model.AchievementRecord
	err := row.Scan(&r.UserID, &r.AchievementID, &r.EventID, &r.XP, &r.Badge, &r.EarnedAt)
	r.EarnedAt = r.EarnedAt.UTC()
	return r, err
}

// Achievements implements repository.Store.
func (s *Store) Achievements(ctx context.Context, userID string) ([]model.AchievementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, achievement_id, event_id, xp, badge, earned_at FROM achievements WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return collect(rows, scanAchievement)
}

// withTx runs fn in one serializable transaction. Serialization failures
// and deadlocks become conflicts so RetryTx re-runs the attempt.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}, fn)
	if err != nil && isRetryable(err) {
		return repository.Conflict(err)
	}
	return err
}

// RunInTx implements repository.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	var changes []model.UserChange
	err := repository.RetryTx(ctx, backend, s.maxAttempts, func(ctx context.Context) error {
		var t *txn
		err := s.withTx(ctx, func(tx pgx.Tx) error {
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

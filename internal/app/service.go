// Package service wires the store, the evaluation engine and the
// projections fed by the store's change feed, and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kudos/internal/adapters/leaderboard"
	"github.com/okian/kudos/internal/adapters/mq/queue"
	"github.com/okian/kudos/internal/adapters/mq/worker"
	"github.com/okian/kudos/internal/adapters/notify"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/dedupe"
	"github.com/okian/kudos/internal/domain/engine"
	"github.com/okian/kudos/internal/domain/leveling"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/internal/domain/teamsync"
	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
)

// Queue names used as metrics labels.
const (
	eventQueueName  = "events"
	changeQueueName = "user_changes"
)

// Stats is a point-in-time view of the service for monitoring.
type Stats struct {
	Started          bool   `json:"started"`
	Workers          int    `json:"workers"`
	TeamWorkers      int    `json:"teamWorkers"`
	QueueLength      int    `json:"queueLength"`
	QueueSize        int    `json:"queueSize"`
	ChangeQueueLen   int    `json:"changeQueueLength"`
	RankedUsers      int    `json:"rankedUsers"`
	DedupeEntries    int64  `json:"dedupeEntries"`
	CatalogVersion   string `json:"catalogVersion"`
	Rules            int    `json:"rules"`
	EventsProcessed  int64  `json:"eventsProcessed"`
	EventsFailed     int64  `json:"eventsFailed"`
	EventsDuplicated int64  `json:"eventsDuplicated"`
}

// Service accepts events, dispatches them to the engine and keeps the
// leaderboard and team aggregates in step with committed user changes.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	catalog   *catalog.Catalog
	engine    *engine.Engine
	syncer    *teamsync.Syncer
	deduper   dedupe.Deduper
	publisher notify.Publisher
	board     atomic.Pointer[leaderboard.Board]

	events      *queue.InMemoryQueue[string]
	changes     *queue.InMemoryQueue[model.UserChange]
	eventPool   *worker.Pool[string]
	changePool  *worker.Pool[model.UserChange]
	engineOpts  []engine.Option
	workerCount int
	queueSize   int

	teamWorkerCount int
	teamQueueSize   int
	dedupeSize      int

	started bool
	stopped bool

	logger logger.Logger
}

// New constructs a Service over store evaluating the rules in cat.
func New(store repository.Store, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:           store,
		catalog:         cat,
		publisher:       notify.Nop{},
		workerCount:     runtime.NumCPU() * 4,
		queueSize:       10_000,
		teamWorkerCount: runtime.NumCPU(),
		teamQueueSize:   10_000,
		dedupeSize:      100_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	engineOpts := append([]engine.Option{engine.WithCommitHook(s.notify)}, s.engineOpts...)
	s.engine = engine.New(store, cat, engineOpts...)
	s.syncer = teamsync.New(store)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	// Queues exist before Start so the store's observers never see them
	// change; events stored before Start wait in the queue.
	s.events = queue.NewInMemoryQueue[string](
		queue.WithName(eventQueueName),
		queue.WithCapacity(s.queueSize),
	)
	s.changes = queue.NewInMemoryQueue[model.UserChange](
		queue.WithName(changeQueueName),
		queue.WithCapacity(s.teamQueueSize),
	)
	s.eventPool = worker.NewPool[string](s.events, s.evaluate,
		worker.WithName("evaluator"),
		worker.WithSize(s.workerCount),
	)
	s.changePool = worker.NewPool[model.UserChange](s.changes, s.applyChange,
		worker.WithName("teamsync"),
		worker.WithSize(s.teamWorkerCount),
	)
	store.OnEventCreated(s.onEventCreated)
	store.OnUserChanged(s.onUserChanged)
	return s
}

// Start seeds the leaderboard and starts the worker pools. A stopped
// service cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting reward service...")

	// Changes queued before seeding are applied after it; the board drops
	// versions it already holds.
	users, err := s.store.Users(ctx)
	if err != nil {
		return fmt.Errorf("seed leaderboard: %w", err)
	}
	// Workers outlive ctx; only Stop ends them, after the queues drain.
	runCtx := context.WithoutCancel(ctx)
	board := leaderboard.New(runCtx)
	board.Seed(users)
	s.board.Store(board)

	s.eventPool.Start(runCtx)
	s.changePool.Start(runCtx)
	s.started = true

	s.logger.Info(ctx, "reward service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("teamWorkers", s.teamWorkerCount),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("rankedUsers", len(users)),
		logger.String("catalog", s.catalog.Version()),
	)
	return nil
}

// Stop drains the queues and stops the pools. Events still queued when ctx
// expires stay pending in the store; user changes still queued are applied
// before Stop returns.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.logger.Info(ctx, "stopping reward service...")

	var errs []error
	_ = s.events.Close()
	if err := s.eventPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("evaluator: %w", err))
	}
	_ = s.changes.Close()
	if err := s.changePool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("teamsync: %w", err))
	}
	if left := s.changes.Drain(); len(left) > 0 {
		s.logger.Warn(ctx, "applying leftover user changes", logger.Int("count", len(left)))
		for _, c := range left {
			_ = s.applyChange(context.WithoutCancel(ctx), c)
		}
	}
	_ = s.board.Load().Close()
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "reward service stopped")
	return errors.Join(errs...)
}

// Submit validates and stores a producer event. A repeated producer id
// reports duplicate and stores nothing.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (ev model.Event, duplicate bool, err error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return model.Event{}, false, fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(sub.Name) == "" {
		return model.Event{}, false, fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	metrics.RecordEventReceived()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now().UTC()
	}
	if s.deduper.SeenAndRecord(ctx, sub.ID) {
		metrics.RecordEventDuplicate()
		return model.Event{}, true, nil
	}

	ev, err = s.store.CreateEvent(ctx, model.Event{
		ID:        sub.ID,
		UserID:    sub.UserID,
		Name:      sub.Name,
		Timestamp: sub.Timestamp,
		Metadata:  sub.Metadata,
	})
	switch {
	case errors.Is(err, repository.ErrEventExists):
		metrics.RecordEventDuplicate()
		return model.Event{}, true, nil
	case err != nil:
		s.deduper.Unrecord(ctx, sub.ID)
		return model.Event{}, false, err
	}
	return ev, false, nil
}

// Reprocess dispatches a pending event again.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	ev, err := s.store.Event(ctx, id)
	if err != nil {
		return err
	}
	if ev.Processed {
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, id)
	}
	if err := s.dispatch(ctx, id); err != nil {
		return err
	}
	metrics.RecordEventReprocessed()
	return nil
}

// PendingEvents lists unprocessed events, oldest first. limit <= 0 lists all.
func (s *Service) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	events, err := s.store.PendingEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		metrics.UpdatePendingEvents(len(events))
	}
	return events, nil
}

// Event returns a stored event.
func (s *Service) Event(ctx context.Context, id string) (model.Event, error) {
	return s.store.Event(ctx, id)
}

// User returns a user.
func (s *Service) User(ctx context.Context, id string) (model.User, error) {
	return s.store.User(ctx, id)
}

// UpsertUser creates or updates a user's profile.
func (s *Service) UpsertUser(ctx context.Context, p repository.Profile) (model.User, error) {
	return s.store.UpsertUser(ctx, p)
}

// Team returns a team.
func (s *Service) Team(ctx context.Context, id string) (model.Team, error) {
	return s.store.Team(ctx, id)
}

// UpsertTeam creates or renames a team.
func (s *Service) UpsertTeam(ctx context.Context, id, name string) (model.Team, error) {
	return s.store.UpsertTeam(ctx, id, name)
}

// Ledger returns the entries credited to a user.
func (s *Service) Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	if _, err := s.store.User(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Ledger(ctx, userID)
}

// Achievements returns a user's achievement records.
func (s *Service) Achievements(ctx context.Context, userID string) ([]model.AchievementRecord, error) {
	if _, err := s.store.User(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Achievements(ctx, userID)
}

// Grant adjusts a user's xp on behalf of actor.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, reason, actor string) (model.User, error) {
	return s.engine.Grant(ctx, userID, amount, reason, actor)
}

// Rules returns the catalog's rules.
func (s *Service) Rules() []catalog.Rule { return s.catalog.Rules() }

// Levels returns the level thresholds.
func (s *Service) Levels() []leveling.Threshold { return leveling.Thresholds() }

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	b, err := s.leaderboard()
	if err != nil {
		return nil, err
	}
	return b.TopN(ctx, n)
}

// Rank returns the leaderboard entry of a user.
func (s *Service) Rank(ctx context.Context, userID string) (leaderboard.Entry, error) {
	b, err := s.leaderboard()
	if err != nil {
		return leaderboard.Entry{}, err
	}
	return b.Rank(ctx, userID)
}

func (s *Service) leaderboard() (*leaderboard.Board, error) {
	b := s.board.Load()
	if b == nil {
		return nil, ErrNotStarted
	}
	return b, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Started:          s.started,
		Workers:          s.workerCount,
		TeamWorkers:      s.teamWorkerCount,
		QueueSize:        s.queueSize,
		DedupeEntries:    s.deduper.Size(),
		CatalogVersion:   s.catalog.Version(),
		Rules:            s.catalog.Len(),
		EventsProcessed:  counter("kudos_ledger_events_processed_total"),
		EventsFailed:     counter("kudos_ledger_events_failed_total"),
		EventsDuplicated: counter("kudos_ledger_events_duplicate_total"),
	}
	st.QueueLength = s.events.Len(ctx)
	st.ChangeQueueLen = s.changes.Len(ctx)
	if b := s.board.Load(); b != nil {
		st.RankedUsers = b.Count(ctx)
	}
	return st
}

// counter reads a process-wide metric; metrics not yet observed read as 0.
func counter(name string) int64 {
	v, err := metrics.Total(name)
	if err != nil {
		return 0
	}
	return int64(v)
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/kudos/internal/domain/model"
)

const backendMemory = "memory"

type eventDoc struct {
	event   model.Event
	version int64
	seq     int64
}

// MemoryStore is a Store kept in process memory. Transactions are
// optimistic: every document read is versioned and the commit fails, and
// the callback is re-run, when any of them changed in the meantime.
type MemoryStore struct {
	Observers

	mu           sync.RWMutex
	events       map[string]*eventDoc
	seq          int64
	users        map[string]model.User
	teams        map[string]model.Team
	ledger       []model.LedgerEntry
	achievements map[string][]model.AchievementRecord
	closed       bool

	maxAttempts int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		events:       make(map[string]*eventDoc),
		users:        make(map[string]model.User),
		teams:        make(map[string]model.Team),
		achievements: make(map[string][]model.AchievementRecord),
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEvent implements Store.
func (s *MemoryStore) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		return model.Event{}, fmt.Errorf("%w: empty event id", ErrInvalidID)
	}
	e = e.Clone()
	e.Processed = false
	e.Result = nil
	e.ProcessingError = ""

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Event{}, ErrClosed
	}
	if _, ok := s.events[e.ID]; ok {
		s.mu.Unlock()
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventExists, e.ID)
	}
	s.seq++
	s.events[e.ID] = &eventDoc{event: e, version: 1, seq: s.seq}
	s.mu.Unlock()

	s.NotifyEventCreated(ctx, e)
	return e.Clone(), nil
}

// Event implements Store.
func (s *MemoryStore) Event(_ context.Context, id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return doc.event.Clone(), nil
}

// FailEvent implements Store.
func (s *MemoryStore) FailEvent(_ context.Context, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if doc.event.Processed {
		return fmt.Errorf("%w: %s", ErrEventProcessed, id)
	}
	doc.event.ProcessingError = msg
	doc.version++
	return nil
}

// PendingEvents implements Store.
func (s *MemoryStore) PendingEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	docs := make([]*eventDoc, 0)
	for _, d := range s.events {
		if !d.event.Processed {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		ti, tj := docs[i].event.Timestamp, docs[j].event.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return docs[i].seq < docs[j].seq
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]model.Event, len(docs))
	for i, d := range docs {
		out[i] = d.event.Clone()
	}
	s.mu.RUnlock()
	return out, nil
}

// User implements Store.
func (s *MemoryStore) User(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u.Clone(), nil
}

// Users implements Store.
func (s *MemoryStore) Users(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertUser implements Store.
func (s *MemoryStore) UpsertUser(ctx context.Context, p Profile) (model.User, error) {
	if p.ID == "" {
		return model.User{}, fmt.Errorf("%w: empty user id", ErrInvalidID)
	}
	s.mu.Lock()
	u, ok := s.users[p.ID]
	if !ok {
		u = model.NewUser(p.ID)
	}
	team := p.TeamFor(u)
	if _, known := s.teams[team]; team != "" && team != u.TeamID && !known {
		s.mu.Unlock()
		return model.User{}, fmt.Errorf("%w: %s", ErrTeamNotFound, team)
	}
	changes := ProfileChanges(u, team, u.Version+1)
	u = u.Clone()
	u.DisplayName = p.DisplayName
	u.TeamID = team
	u.Version++
	s.users[p.ID] = u
	s.mu.Unlock()

	s.NotifyUserChanged(ctx, changes...)
	return u.Clone(), nil
}

// Team implements Store.
func (s *MemoryStore) Team(_ context.Context, id string) (model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return model.Team{}, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	return t, nil
}

// UpsertTeam implements Store.
func (s *MemoryStore) UpsertTeam(_ context.Context, id, name string) (model.Team, error) {
	if id == "" {
		return model.Team{}, fmt.Errorf("%w: empty team id", ErrInvalidID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		t = model.Team{ID: id}
	}
	t.Name = name
	s.teams[id] = t
	return t, nil
}

// IncrementTeam implements Store.
func (s *MemoryStore) IncrementTeam(_ context.Context, teamID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	t.XP += delta
	t.Points += delta
	t.TotalPoints += delta
	s.teams[teamID] = t
	return nil
}

// Ledger implements Store.
func (s *MemoryStore) Ledger(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	account := model.UserAccount(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LedgerEntry, 0)
	for _, e := range s.ledger {
		if e.To == account {
			out = append(out, e)
		}
	}
	return out, nil
}

// Achievements implements Store.
func (s *MemoryStore) Achievements(_ context.Context, userID string) ([]model.AchievementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AchievementRecord{}, s.achievements[userID]...), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// RunInTx implements Store.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var changes []model.UserChange
	err := RetryTx(ctx, backendMemory, s.maxAttempts, func(ctx context.Context) error {
		tx := newMemoryTx(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		var err error
		changes, err = tx.commit()
		return err
	})
	if err != nil {
		return err
	}
	s.NotifyUserChanged(ctx, changes...)
	return nil
}

type memoryTx struct {
	s *MemoryStore

	// versions observed on first read; 0 means the document was absent
	userReads  map[string]int64
	eventReads map[string]int64

	users        map[string]model.User
	userOrder    []string
	baseXP       map[string]int64
	achievements []model.AchievementRecord
	ledger       []model.LedgerEntry
	completed    map[string]model.EventResult
}

func newMemoryTx(s *MemoryStore) *memoryTx {
	return &memoryTx{
		s:          s,
		userReads:  make(map[string]int64),
		eventReads: make(map[string]int64),
		users:      make(map[string]model.User),
		baseXP:     make(map[string]int64),
		completed:  make(map[string]model.EventResult),
	}
}

func (tx *memoryTx) Event(_ context.Context, id string) (model.Event, error) {
	tx.s.mu.RLock()
	doc, ok := tx.s.events[id]
	var e model.Event
	var v int64
	if ok {
		e, v = doc.event.Clone(), doc.version
	}
	tx.s.mu.RUnlock()

	if _, seen := tx.eventReads[id]; !seen {
		tx.eventReads[id] = v
	}
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if res, done := tx.completed[id]; done {
		e.Processed = true
		e.ProcessingError = ""
		r := res
		e.Result = &r
	}
	return e, nil
}

func (tx *memoryTx) User(_ context.Context, id string) (model.User, error) {
	if u, ok := tx.users[id]; ok {
		return u.Clone(), nil
	}
	tx.s.mu.RLock()
	u, ok := tx.s.users[id]
	if ok {
		u = u.Clone()
	}
	tx.s.mu.RUnlock()

	if _, seen := tx.userReads[id]; !seen {
		tx.userReads[id] = u.Version
		tx.baseXP[id] = u.XP
	}
	if !ok {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

func (tx *memoryTx) SaveUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidID)
	}
	if _, seen := tx.userReads[u.ID]; !seen {
		// blind writes still take part in conflict detection
		if _, err := tx.User(ctx, u.ID); err != nil {
			return err
		}
	}
	if _, staged := tx.users[u.ID]; !staged {
		tx.userOrder = append(tx.userOrder, u.ID)
	}
	tx.users[u.ID] = u.Clone()
	return nil
}

func (tx *memoryTx) AppendAchievement(_ context.Context, r model.AchievementRecord) error {
	tx.achievements = append(tx.achievements, r)
	return nil
}

func (tx *memoryTx) AppendLedger(_ context.Context, e model.LedgerEntry) error {
	tx.ledger = append(tx.ledger, e)
	return nil
}

func (tx *memoryTx) CompleteEvent(ctx context.Context, id string, res model.EventResult) error {
	e, err := tx.Event(ctx, id)
	if err != nil {
		return err
	}
	if e.Processed {
		return fmt.Errorf("%w: %s", ErrEventProcessed, id)
	}
	res.Unlocked = append([]string{}, res.Unlocked...)
	tx.completed[id] = res
	return nil
}

// commit validates every read and applies the staged writes atomically.
func (tx *memoryTx) commit() ([]model.UserChange, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	for id, v := range tx.userReads {
		if s.users[id].Version != v {
			return nil, Conflict(fmt.Errorf("user %s changed", id))
		}
	}
	for id, v := range tx.eventReads {
		var cur int64
		if doc, ok := s.events[id]; ok {
			cur = doc.version
		}
		if cur != v {
			return nil, Conflict(fmt.Errorf("event %s changed", id))
		}
	}

	var changes []model.UserChange
	for _, id := range tx.userOrder {
		u := tx.users[id]
		u.Version = tx.userReads[id] + 1
		s.users[id] = u
		if c, ok := XPChange(tx.baseXP[id], u, ChangeSource(id, tx.ledger)); ok {
			changes = append(changes, c)
		}
	}
	for _, r := range tx.achievements {
		s.achievements[r.UserID] = append(s.achievements[r.UserID], r)
	}
	s.ledger = append(s.ledger, tx.ledger...)
	for id, res := range tx.completed {
		doc := s.events[id]
		r := res
		doc.event.Processed = true
		doc.event.ProcessingError = ""
		doc.event.Result = &r
		doc.version++
	}
	return changes, nil
}

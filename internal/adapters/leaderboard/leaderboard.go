// Package leaderboard keeps an in-memory ranking of users by xp, fed by the
// store's user change feed.
//
// Ranks use competition ranking: users with equal xp share a rank and the
// next rank skips ahead (1, 2, 2, 4).
package leaderboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/kudos/internal/domain/leveling"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/metrics"
)

// Entry is one row of the board.
type Entry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	XP     int64  `json:"xp"`
	Level  int    `json:"level"`
}

// Snapshot is an immutable copy of the leading entries.
type Snapshot struct {
	Top     []Entry   `json:"top"`
	Users   int       `json:"users"`
	TakenAt time.Time `json:"takenAt"`

	gen uint64
}

type record struct {
	xp      int64
	version int64
}

// Board ranks users by xp. It is safe for concurrent use.
type Board struct {
	mu   sync.RWMutex
	root *node
	byID map[string]record

	snapshotInterval time.Duration
	topCacheSize     int
	snapshot         atomic.Pointer[Snapshot]
	// gen counts applied mutations; a snapshot is current while its gen matches.
	gen atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New returns an empty board and starts its snapshot loop.
func New(ctx context.Context, opts ...Option) *Board {
	b := &Board{
		byID:             make(map[string]record),
		snapshotInterval: time.Second,
		topCacheSize:     100,
		stop:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publishSnapshot()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.C:
				b.publishSnapshot()
			}
		}
	}()
	return b
}

// Close stops the snapshot loop.
func (b *Board) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return nil
}

// Seed loads users into the board. Users already present with a newer
// version are kept.
func (b *Board) Seed(users []model.User) {
	b.mu.Lock()
	for _, u := range users {
		b.setLocked(u.ID, u.XP, u.Version)
	}
	n := len(b.byID)
	b.mu.Unlock()
	metrics.UpdateLeaderboardUsers(n)
}

// Apply folds a user change into the board. Team transfers leave xp
// untouched and are ignored; changes older than the stored version are
// dropped.
func (b *Board) Apply(_ context.Context, c model.UserChange) {
	if c.Source == model.ChangeTeamTransfer {
		return
	}
	b.mu.Lock()
	b.setLocked(c.UserID, c.NewXP, c.Version)
	n := len(b.byID)
	b.mu.Unlock()
	metrics.UpdateLeaderboardUsers(n)
}

func (b *Board) setLocked(id string, xp, version int64) {
	if old, ok := b.byID[id]; ok {
		if version <= old.version {
			return
		}
		b.root = remove(b.root, id, old.xp)
	}
	b.byID[id] = record{xp: xp, version: version}
	b.root = insert(b.root, id, xp)
	b.gen.Add(1)
}

// Rank returns the entry of userID.
func (b *Board) Rank(_ context.Context, userID string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.byID[userID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Rank:   countAbove(b.root, rec.xp) + 1,
		UserID: userID,
		XP:     rec.xp,
		Level:  leveling.LevelFor(rec.xp),
	}, nil
}

// TopN returns the first n entries, best first. Requests within the top
// cache are served from the snapshot, rebuilt first if the board changed
// since it was taken.
func (b *Board) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	if n <= b.topCacheSize {
		s := b.snapshot.Load()
		if s.gen != b.gen.Load() {
			s = b.publishSnapshot()
		}
		return append([]Entry(nil), s.Top[:min(n, len(s.Top))]...), nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topLocked(n), nil
}

func (b *Board) topLocked(n int) []Entry {
	nodes := make([]*node, 0, min(n, len(b.byID)))
	collect(b.root, n, &nodes)

	out := make([]Entry, len(nodes))
	for i, nd := range nodes {
		rank := i + 1
		if i > 0 && nd.xp == nodes[i-1].xp {
			rank = out[i-1].Rank
		}
		out[i] = Entry{Rank: rank, UserID: nd.id, XP: nd.xp, Level: leveling.LevelFor(nd.xp)}
	}
	return out
}

// Count returns the number of ranked users.
func (b *Board) Count(_ context.Context) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Snapshot returns the last published snapshot.
func (b *Board) Snapshot() Snapshot {
	return *b.snapshot.Load()
}

func (b *Board) publishSnapshot() *Snapshot {
	b.mu.RLock()
	s := &Snapshot{
		Top:     b.topLocked(b.topCacheSize),
		Users:   len(b.byID),
		TakenAt: time.Now().UTC(),
		gen:     b.gen.Load(),
	}
	b.mu.RUnlock()
	b.snapshot.Store(s)
	return s
}

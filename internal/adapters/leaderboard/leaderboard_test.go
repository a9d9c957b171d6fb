package leaderboard

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okian/kudos/internal/domain/model"
)

func change(id string, xp, version int64) model.UserChange {
	return model.UserChange{UserID: id, NewXP: xp, Version: version, Source: model.ChangeReward}
}

func TestBoard_BasicOperations(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	if count := b.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	b.Apply(ctx, change("u1", 150, 1))
	if count := b.Count(ctx); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := b.Rank(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.XP != 150 || entry.Level != 2 {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, err := b.Rank(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := b.TopN(ctx, 0); err != ErrInvalidLimit {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestBoard_CompetitionRanking(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	b.Apply(ctx, change("d", 10, 1))
	b.Apply(ctx, change("a", 50, 1))
	b.Apply(ctx, change("c", 30, 1))
	b.Apply(ctx, change("b", 30, 1))

	top, err := b.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Entry{
		{Rank: 1, UserID: "a", XP: 50, Level: 1},
		{Rank: 2, UserID: "b", XP: 30, Level: 1},
		{Rank: 2, UserID: "c", XP: 30, Level: 1},
		{Rank: 4, UserID: "d", XP: 10, Level: 1},
	}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(top))
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	for _, w := range want {
		got, err := b.Rank(ctx, w.UserID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Rank != w.Rank {
			t.Errorf("rank of %s: expected %d, got %d", w.UserID, w.Rank, got.Rank)
		}
	}

	top, _ = b.TopN(ctx, 2)
	if len(top) != 2 || top[1].UserID != "b" {
		t.Errorf("unexpected truncated top %+v", top)
	}
}

func TestBoard_VersionsAndTransfers(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	b.Apply(ctx, change("u1", 100, 3))
	b.Apply(ctx, change("u1", 40, 2))
	if e, _ := b.Rank(ctx, "u1"); e.XP != 100 {
		t.Errorf("stale change applied: %+v", e)
	}

	b.Apply(ctx, model.UserChange{UserID: "u1", TeamID: "t1", OldXP: 100, NewXP: 0, Version: 4, Source: model.ChangeTeamTransfer})
	if e, _ := b.Rank(ctx, "u1"); e.XP != 100 {
		t.Errorf("team transfer changed xp: %+v", e)
	}

	b.Apply(ctx, change("u1", 320, 5))
	if e, _ := b.Rank(ctx, "u1"); e.XP != 320 || e.Level != 3 {
		t.Errorf("expected 320 xp at level 3, got %+v", e)
	}
	if b.Count(ctx) != 1 {
		t.Errorf("expected a single user, got %d", b.Count(ctx))
	}
}

func TestBoard_Seed(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	b.Apply(ctx, change("u1", 500, 7))
	b.Seed([]model.User{
		{ID: "u1", XP: 200, Version: 6},
		{ID: "u2", XP: 300, Version: 2},
	})

	top, _ := b.TopN(ctx, 5)
	if len(top) != 2 || top[0].UserID != "u1" || top[0].XP != 500 || top[1].UserID != "u2" {
		t.Errorf("unexpected board after seed %+v", top)
	}
}

func TestBoard_Snapshot(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, WithSnapshotInterval(10*time.Millisecond), WithTopCacheSize(2))
	defer func() { _ = b.Close() }()

	if s := b.Snapshot(); s.Users != 0 || len(s.Top) != 0 {
		t.Errorf("expected empty snapshot, got %+v", s)
	}

	for i := 0; i < 5; i++ {
		b.Apply(ctx, change(fmt.Sprintf("u%d", i), int64(i*10), 1))
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Snapshot().Users != 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s := b.Snapshot()
	if s.Users != 5 {
		t.Fatalf("snapshot never caught up: %+v", s)
	}
	if len(s.Top) != 2 || s.Top[0].UserID != "u4" {
		t.Errorf("unexpected snapshot top %+v", s.Top)
	}
}

func TestBoard_TopNServedFromSnapshot(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, WithSnapshotInterval(time.Hour), WithTopCacheSize(3))
	defer func() { _ = b.Close() }()

	for i := 0; i < 5; i++ {
		b.Apply(ctx, change(fmt.Sprintf("u%d", i), int64(i*10), 1))
	}

	top, err := b.TopN(ctx, 2)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "u4" || top[1].UserID != "u3" {
		t.Fatalf("unexpected top %+v", top)
	}
	if s := b.Snapshot(); s.Users != 5 || len(s.Top) != 3 || s.Top[0].UserID != "u4" {
		t.Errorf("read did not refresh the snapshot: %+v", s)
	}

	top[0].UserID = "mutated"
	if s := b.Snapshot(); s.Top[0].UserID != "u4" {
		t.Errorf("caller mutated the snapshot: %+v", s.Top)
	}

	b.Apply(ctx, change("u0", 100, 2))
	top, _ = b.TopN(ctx, 1)
	if len(top) != 1 || top[0].UserID != "u0" || top[0].XP != 100 {
		t.Errorf("stale top after apply: %+v", top)
	}

	all, _ := b.TopN(ctx, 10)
	if len(all) != 5 || all[0].UserID != "u0" || all[4].UserID != "u1" {
		t.Errorf("unexpected full board %+v", all)
	}
}

func TestBoard_MatchesSortedReference(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	r := rand.New(rand.NewSource(42))
	xp := make(map[string]int64)
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("user%03d", r.Intn(300))
		v := int64(r.Intn(50)) * 10
		xp[id] = v
		b.Apply(ctx, change(id, v, int64(i+1)))
	}

	ids := make([]string, 0, len(xp))
	for id := range xp {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if xp[ids[i]] != xp[ids[j]] {
			return xp[ids[i]] > xp[ids[j]]
		}
		return ids[i] < ids[j]
	})

	top, err := b.TopN(ctx, len(ids))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(top))
	}
	for i, id := range ids {
		if top[i].UserID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, top[i].UserID)
		}
		above := 0
		for _, other := range ids {
			if xp[other] > xp[id] {
				above++
			}
		}
		e, _ := b.Rank(ctx, id)
		if e.Rank != above+1 || top[i].Rank != above+1 {
			t.Fatalf("rank of %s: expected %d, got %d/%d", id, above+1, e.Rank, top[i].Rank)
		}
	}
}

func TestBoard_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := New(ctx)
	defer func() { _ = b.Close() }()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-u%d", w, i%20)
				b.Apply(ctx, change(id, int64(i), int64(i+1)))
				_, _ = b.Rank(ctx, id)
				_, _ = b.TopN(ctx, 10)
			}
		}(w)
	}
	wg.Wait()

	if got := b.Count(ctx); got != 160 {
		t.Errorf("expected 160 users, got %d", got)
	}
}

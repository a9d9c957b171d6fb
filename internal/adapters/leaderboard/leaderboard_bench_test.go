package leaderboard

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
)

func seeded(b *testing.B, users int) *Board {
	b.Helper()
	ctx := context.Background()
	board := New(ctx)
	b.Cleanup(func() { _ = board.Close() })
	for i := 0; i < users; i++ {
		board.Apply(ctx, change(fmt.Sprintf("user%d", i), int64(rand.Intn(10_000)), 1))
	}
	return board
}

func BenchmarkBoard_Apply(b *testing.B) {
	board := seeded(b, 10_000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		board.Apply(ctx, change(fmt.Sprintf("user%d", i%10_000), int64(i%10_000), int64(i+2)))
	}
}

func BenchmarkBoard_Rank(b *testing.B) {
	board := seeded(b, 10_000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = board.Rank(ctx, fmt.Sprintf("user%d", i%10_000))
	}
}

func BenchmarkBoard_TopN(b *testing.B) {
	board := seeded(b, 10_000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = board.TopN(ctx, 100)
	}
}

package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/kudos/pkg/logger"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	require.NoError(t, logger.InitWithWriter(io.Discard))
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return m, rc
}

func TestPublishDeliversReward(t *testing.T) {
	_, rc := setup(t)
	ctx := context.Background()

	sub := rc.Subscribe(ctx, "rewards")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rc, WithChannel("rewards"))
	assert.Equal(t, "rewards", p.Channel())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(ctx, Reward{
		EventID: "ev-1", UserID: "u1", XPGained: 15,
		Unlocked: []string{"streak_7"}, Level: 2, ProcessedAt: at,
	}))

	select {
	case msg := <-sub.Channel():
		var got Reward
		require.NoError(t, sonic.UnmarshalString(msg.Payload, &got))
		assert.Equal(t, "ev-1", got.EventID)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, int64(15), got.XPGained)
		assert.Equal(t, []string{"streak_7"}, got.Unlocked)
		assert.Equal(t, 2, got.Level)
		assert.True(t, got.ProcessedAt.Equal(at))
		assert.Contains(t, msg.Payload, `"processedAt"`)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	require.NoError(t, p.Close())
}

func TestPublishSkipsEmptyReward(t *testing.T) {
	_, rc := setup(t)
	ctx := context.Background()

	sub := rc.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rc)
	require.NoError(t, p.Publish(ctx, Reward{EventID: "ev-2", UserID: "u1"}))

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishReportsConnectionErrors(t *testing.T) {
	m, rc := setup(t)
	p := NewRedisPublisher(rc)
	m.Close()

	err := p.Publish(context.Background(), Reward{EventID: "ev-3", UserID: "u1", XPGained: 5})
	assert.True(t, errors.Is(err, ErrPublish))
}

func TestDial(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	addr := m.Addr()

	p, err := Dial(ctx, addr, WithChannel(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, p.Channel())
	require.NoError(t, p.Close())

	m.Close()
	_, err = Dial(ctx, addr)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Reward{XPGained: 1}))
	assert.NoError(t, p.Close())
}

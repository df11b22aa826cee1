package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker_ExclusiveUntilReleased(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "resume:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "resume:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryLock(ctx, "resume:2", time.Minute)
	assert.True(t, ok, "keys are independent")

	release()
	_, ok, _ = l.TryLock(ctx, "resume:1", time.Minute)
	assert.True(t, ok)
}

func TestLocalLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	staleRelease, ok, _ := l.TryLock(ctx, "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	// the first holder must not free the new holder's lease
	staleRelease()
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)
}

// Runs only when REDIS_TEST_ADDR points at a disposable redis.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := NewRedisLocker(client, "reimburse-flow:test:"+uuid.NewString()+":", zap.NewNop())
	require.NoError(t, l.Ping(ctx))

	release, ok, err := l.TryLock(ctx, "resume:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "resume:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	again, ok, err := l.TryLock(ctx, "resume:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackend_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	backend := NewRedisBackend(db, "repscore:")
	ctx := context.Background()

	mock.ExpectGet("repscore:missing").SetErr(redis.Nil)
	value, ok, err := backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	mock.ExpectGet("repscore:present").SetVal("payload")
	value, ok, err = backend.Get(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), value)

	mock.ExpectGet("repscore:broken").SetErr(errors.New("connection refused"))
	_, ok, err = backend.Get(ctx, "broken")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBackend_SetAndDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	backend := NewRedisBackend(db, "repscore:")
	ctx := context.Background()

	mock.ExpectSet("repscore:k", []byte("v"), time.Minute).SetVal("OK")
	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))

	mock.ExpectDel("repscore:k").SetVal(1)
	require.NoError(t, backend.Delete(ctx, "k"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryBackend_SetGetDelete(t *testing.T) {
	backend := NewMemoryBackend(1)
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, backend.Delete(ctx, "k"))
	_, ok, _ = backend.Get(ctx, "k")
	assert.False(t, ok)
}

func TestExpireSeconds(t *testing.T) {
	assert.Equal(t, 0, expireSeconds(0))
	assert.Equal(t, 0, expireSeconds(-time.Second))
	assert.Equal(t, 1, expireSeconds(10*time.Millisecond))
	assert.Equal(t, 60, expireSeconds(time.Minute))
	assert.Equal(t, 2, expireSeconds(1500*time.Millisecond))
}

// stubBackend is a Backend whose availability can be toggled.
type stubBackend struct {
	mu    sync.Mutex
	down  bool
	calls int
	data  map[string][]byte
}

func newStubBackend() *stubBackend {
	return &stubBackend{data: make(map[string][]byte)}
}

func (sb *stubBackend) setDown(down bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.down = down
}

func (sb *stubBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.calls++
	if sb.down {
		return nil, false, errors.New("dial tcp: connection refused")
	}
	v, ok := sb.data[key]
	return v, ok, nil
}

func (sb *stubBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.calls++
	if sb.down {
		return errors.New("dial tcp: connection refused")
	}
	sb.data[key] = value
	return nil
}

func (sb *stubBackend) Delete(_ context.Context, key string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.calls++
	if sb.down {
		return errors.New("dial tcp: connection refused")
	}
	delete(sb.data, key)
	return nil
}

func TestLayered_UsesRemoteWhenHealthy(t *testing.T) {
	remote := newStubBackend()
	memory := NewMemoryBackend(1)
	layered := NewLayered(remote, memory)
	ctx := context.Background()

	require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, []byte("v"), remote.data["k"])

	_, ok, _ := memory.Get(ctx, "k")
	assert.False(t, ok, "memory is not written while remote is healthy")

	value, ok, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
	assert.False(t, layered.Degraded())
}

func TestLayered_FallsBackAndLogsOncePerOutage(t *testing.T) {
	remote := newStubBackend()
	var transitions []bool
	layered := NewLayered(remote, NewMemoryBackend(1),
		WithRetryInterval(0),
		WithStateHook(func(degraded bool) { transitions = append(transitions, degraded) }),
	)
	ctx := context.Background()

	remote.setDown(true)
	for i := 0; i < 5; i++ {
		require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))
		value, ok, err := layered.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), value)
	}
	assert.True(t, layered.Degraded())
	assert.Equal(t, []bool{true}, transitions, "one warning per outage")

	remote.setDown(false)
	_, ok, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "recovered remote is the source again")
	assert.False(t, layered.Degraded())

	remote.setDown(true)
	_, _, _ = layered.Get(ctx, "k")
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestLayered_SkipsRemoteUntilRetry(t *testing.T) {
	remote := newStubBackend()
	now := time.Unix(1000, 0)
	layered := NewLayered(remote, NewMemoryBackend(1), WithRetryInterval(10*time.Second))
	layered.now = func() time.Time { return now }
	ctx := context.Background()

	remote.setDown(true)
	_, _, _ = layered.Get(ctx, "k")
	assert.Equal(t, 1, remote.calls)

	for i := 0; i < 10; i++ {
		_, _, _ = layered.Get(ctx, "k")
	}
	assert.Equal(t, 1, remote.calls, "remote is not probed before retry interval")

	now = now.Add(11 * time.Second)
	remote.setDown(false)
	_, _, _ = layered.Get(ctx, "k")
	assert.Equal(t, 2, remote.calls)
	assert.False(t, layered.Degraded())
}

func TestLayered_MemoryOnly(t *testing.T) {
	layered := NewLayered(nil, NewMemoryBackend(1))
	ctx := context.Background()

	require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
	assert.False(t, layered.Degraded())
}

func TestLayered_RedisOutage(t *testing.T) {
	db, mock := redismock.NewClientMock()
	layered := NewLayered(NewRedisBackend(db, ""), NewMemoryBackend(1), WithRetryInterval(0))
	ctx := context.Background()

	mock.ExpectSet("k", []byte("v"), time.Minute).SetErr(errors.New("connection refused"))
	require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	value, ok, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
	assert.True(t, layered.Degraded())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONHelpers(t *testing.T) {
	backend := NewMemoryBackend(1)
	ctx := context.Background()

	type snapshot struct {
		Points float64 `json:"points"`
	}

	var got snapshot
	assert.False(t, GetJSON(ctx, backend, "u1", &got))

	SetJSON(ctx, backend, "u1", snapshot{Points: 42}, time.Minute)
	assert.True(t, GetJSON(ctx, backend, "u1", &got))
	assert.Equal(t, 42.0, got.Points)

	require.NoError(t, backend.Set(ctx, "u2", []byte("{not json"), time.Minute))
	assert.False(t, GetJSON(ctx, backend, "u2", &got))
}

package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := NewStore(ctx, Config{Path: filepath.Join(t.TempDir(), "notifyhub.db"), MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func device(token, key string) notify.Device {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return notify.Device{PushToken: token, APIKey: key, DeviceInfo: "Pixel 9", RegisteredAt: now, UpdatedAt: now}
}

func TestNewStore_MigrationLogsGoThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s, err := NewStore(context.Background(), Config{
		Path:         filepath.Join(t.TempDir(), "notifyhub.db"),
		MaxOpenConns: 1,
		Logger:       logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var entry map[string]any
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &entry))
	assert.Equal(t, "migrations", entry["component"])
	assert.Contains(t, buf.String(), "00001_create_devices.sql")
}

func TestBuildDSN(t *testing.T) {
	t.Run("Should build DSN for file path with pragmas", func(t *testing.T) {
		d := buildDSN(Config{Path: "/tmp/test.db"})
		assert.Contains(t, d, "file:/tmp/test.db")
		assert.Contains(t, d, "_pragma=journal_mode(WAL)")
		assert.Contains(t, d, "_pragma=foreign_keys(ON)")
		assert.Contains(t, d, "_pragma=busy_timeout(5000)")
	})
	t.Run("Should build DSN for in-memory shared cache", func(t *testing.T) {
		assert.Contains(t, buildDSN(Config{Path: ":memory:"}), "file::memory:?cache=shared")
	})
}

func TestInsertOrGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, created, err := s.InsertOrGet(ctx, device("tok-A", "API-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "API-1", first.APIKey)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "Pixel 9", first.DeviceInfo)
	assert.Equal(t, 2026, first.RegisteredAt.Year())

	again, created, err := s.InsertOrGet(ctx, device("tok-A", "API-2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "API-1", again.APIKey, "existing key must be returned")
	assert.Equal(t, first.ID, again.ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertOrGet_DuplicateAPIKeyFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.InsertOrGet(ctx, device("tok-A", "API-1"))
	require.NoError(t, err)

	_, _, err = s.InsertOrGet(ctx, device("tok-B", "API-1"))
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestInsertOrGet_ConcurrentSameToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	keys := make([]string, workers)
	createdCount := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, created, err := s.InsertOrGet(ctx, device("tok-race", "API-RACE-"+string(rune('A'+i))))
			keys[i], createdCount[i], errs[i] = d.APIKey, created, err
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
		if createdCount[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.InsertOrGet(ctx, device("tok-A", "API-1"))
	require.NoError(t, err)
	_, _, err = s.InsertOrGet(ctx, device("tok-B", "API-2"))
	require.NoError(t, err)

	t.Run("Find unknown key", func(t *testing.T) {
		_, err := s.FindByAPIKey(ctx, "API-nope")
		assert.ErrorIs(t, err, notify.ErrDeviceNotFound)
	})

	t.Run("Update keeps the API key", func(t *testing.T) {
		require.NoError(t, s.UpdateToken(ctx, "API-1", "tok-A2"))

		d, err := s.FindByAPIKey(ctx, "API-1")
		require.NoError(t, err)
		assert.Equal(t, "tok-A2", d.PushToken)
		assert.True(t, d.UpdatedAt.After(d.RegisteredAt))
	})

	t.Run("Update unknown key", func(t *testing.T) {
		assert.ErrorIs(t, s.UpdateToken(ctx, "API-nope", "tok-X"), notify.ErrDeviceNotFound)
	})

	t.Run("Update onto a token owned by another device", func(t *testing.T) {
		assert.ErrorIs(t, s.UpdateToken(ctx, "API-1", "tok-B"), notify.ErrPushTokenTaken)
	})
}

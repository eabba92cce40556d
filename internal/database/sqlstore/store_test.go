package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AstroBot/bot/chat"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.migrate())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
	require.FileExists(t, path)
}

func TestOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	fresh, err := s.Load(ctx, "whatsapp:380501234567")
	require.NoError(t, err)
	require.True(t, fresh.IsNew())

	fresh.FlowID, fresh.StepID, fresh.Language = "main", "root", "hi"
	fresh.Set("birth_date", "1990-08-15")
	require.NoError(t, s.Save(ctx, fresh))
	require.Equal(t, int64(1), fresh.Version)

	dup := chat.NewSession("whatsapp:380501234567")
	require.ErrorIs(t, s.Save(ctx, dup), chat.ErrConcurrentModification)

	a, _ := s.Load(ctx, "whatsapp:380501234567")
	b, _ := s.Load(ctx, "whatsapp:380501234567")
	require.Equal(t, "hi", a.Language)
	require.Equal(t, "1990-08-15", a.GetString("birth_date"))

	a.StepID = "birth"
	require.NoError(t, s.Save(ctx, a))
	b.StepID = "confirm"
	require.ErrorIs(t, s.Save(ctx, b), chat.ErrConcurrentModification)

	got, _ := s.Load(ctx, "whatsapp:380501234567")
	require.Equal(t, "birth", got.StepID)
	require.Equal(t, int64(2), got.Version)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Now()

	stale := chat.NewSession("stale")
	stale.FlowID, stale.StepID, stale.Language = "main", "confirm", "hi"
	stale.Set("birth_date", "1990-08-15")
	stale.LastActivityAt = now.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, stale))

	idle := chat.NewSession("idle")
	idle.FlowID, idle.StepID = "main", "root"
	idle.LastActivityAt = now.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, idle))

	fresh := chat.NewSession("fresh")
	fresh.FlowID, fresh.StepID = "main", "confirm"
	fresh.LastActivityAt = now
	require.NoError(t, s.Save(ctx, fresh))

	n, err := s.ExpireStale(ctx, now.Add(-30*time.Minute), "main", "root")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, _ := s.Load(ctx, "stale")
	require.Equal(t, "root", got.StepID)
	require.Equal(t, "hi", got.Language)
	require.Empty(t, got.Context)
	require.Equal(t, int64(2), got.Version)

	got, _ = s.Load(ctx, "fresh")
	require.Equal(t, "confirm", got.StepID)

	require.NoError(t, s.Delete(ctx, "stale"))
	got, _ = s.Load(ctx, "stale")
	require.True(t, got.IsNew())
}

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAndRoundTrip(t *testing.T, cfg *config.Config) progress.Substrate {
	t.Helper()
	kv, closer, err := OpenSubstrate(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(closer)

	require.NoError(t, kv.Set("exstem:progress:E1", `{"exam_id":"E1"}`))
	v, ok, err := kv.Get("exstem:progress:E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"exam_id":"E1"}`, v)
	return kv
}

func TestOpenSubstrate(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		kv := openAndRoundTrip(t, &config.Config{StoreDriver: config.StoreDriverMemory})
		assert.IsType(t, &progress.MemorySubstrate{}, kv)
	})

	t.Run("file", func(t *testing.T) {
		kv := openAndRoundTrip(t, &config.Config{
			StoreDriver: config.StoreDriverFile,
			StoreDir:    t.TempDir(),
		})
		assert.IsType(t, &progress.FileSubstrate{}, kv)
	})

	t.Run("sqlite runs migrations", func(t *testing.T) {
		kv := openAndRoundTrip(t, &config.Config{
			StoreDriver: config.StoreDriverSQLite,
			SQLitePath:  filepath.Join(t.TempDir(), "progress.db"),
		})
		assert.IsType(t, &progress.SQLiteSubstrate{}, kv)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		kv := openAndRoundTrip(t, &config.Config{
			StoreDriver: config.StoreDriverRedis,
			RedisURL:    "redis://" + mr.Addr() + "/0",
		})
		assert.IsType(t, &progress.RedisSubstrate{}, kv)
	})

	t.Run("sealed", func(t *testing.T) {
		kv := openAndRoundTrip(t, &config.Config{
			StoreDriver:     config.StoreDriverMemory,
			StorePassphrase: "lab-passphrase",
		})
		assert.IsType(t, &progress.SealedSubstrate{}, kv)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := OpenSubstrate(context.Background(), &config.Config{StoreDriver: "etcd"}, zerolog.Nop())
		assert.ErrorContains(t, err, "unsupported store driver")
	})
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "progress.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewSQLiteMigrator(db)
	require.NoError(t, err)
	require.NoError(t, Up(m))
	require.NoError(t, Up(m))

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, version)
}

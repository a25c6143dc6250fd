package progress

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// exerciseSubstrate checks the contract every substrate must honour.
func exerciseSubstrate(t *testing.T, kv Substrate) {
	t.Helper()

	_, ok, err := kv.Get("exstem:progress:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("exstem:progress:E1", `{"a":1}`))
	require.NoError(t, kv.Set("exstem:progress:E2", `{"a":2}`))
	require.NoError(t, kv.Set("exstem:stats:7", `{}`))
	require.NoError(t, kv.Set("exstem:progress:E1", `{"a":3}`))

	v, ok, err := kv.Get("exstem:progress:E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":3}`, v)

	keys, err := kv.Keys("exstem:progress:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exstem:progress:E1", "exstem:progress:E2"}, keys)

	require.NoError(t, kv.Remove("exstem:progress:E1"))
	require.NoError(t, kv.Remove("exstem:progress:E1"), "removing a missing key is a no-op")

	_, ok, err = kv.Get("exstem:progress:E1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySubstrate(t *testing.T) {
	exerciseSubstrate(t, NewMemorySubstrate())
}

func TestFileSubstrate(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileSubstrate(dir)
	require.NoError(t, err)
	exerciseSubstrate(t, kv)

	// A second substrate over the same directory sees the same data.
	reopened, err := NewFileSubstrate(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get("exstem:progress:E2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, v)

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files must not be left behind")
}

func TestSQLiteSubstrate(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE progress_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)

	exerciseSubstrate(t, NewSQLiteSubstrate(db))
}

func TestRedisSubstrate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	exerciseSubstrate(t, NewRedisSubstrate(rdb))
}

func TestSealedSubstrate(t *testing.T) {
	inner := NewMemorySubstrate()
	isSealed, err := IsSealed(inner)
	require.NoError(t, err)
	assert.False(t, isSealed)

	sealed, err := NewSealedSubstrate(inner, "lab-passphrase")
	require.NoError(t, err)
	isSealed, err = IsSealed(inner)
	require.NoError(t, err)
	assert.True(t, isSealed, "the salt marks the store as sealed")
	exerciseSubstrate(t, sealed)

	require.NoError(t, sealed.Set("exstem:progress:E9", `{"answers":{"q1":["A"]}}`))
	raw, ok, err := inner.Get("exstem:progress:E9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "answers", "plaintext must not reach the inner substrate")

	t.Run("same passphrase reopens", func(t *testing.T) {
		again, err := NewSealedSubstrate(inner, "lab-passphrase")
		require.NoError(t, err)
		v, ok, err := again.Get("exstem:progress:E9")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"answers":{"q1":["A"]}}`, v)
	})

	t.Run("wrong passphrase fails", func(t *testing.T) {
		other, err := NewSealedSubstrate(inner, "someone-else")
		require.NoError(t, err)
		_, _, err = other.Get("exstem:progress:E9")
		assert.ErrorIs(t, err, ErrSealBroken)
	})

	t.Run("value moved to another key fails", func(t *testing.T) {
		require.NoError(t, inner.Set("exstem:progress:E10", raw))
		_, _, err := sealed.Get("exstem:progress:E10")
		assert.ErrorIs(t, err, ErrSealBroken)
	})

	t.Run("empty passphrase rejected", func(t *testing.T) {
		_, err := NewSealedSubstrate(inner, "")
		assert.Error(t, err)
	})
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTOSAVE_DEBOUNCE_MS", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.AutosaveDebounce)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, StoreDriverFile, cfg.StoreDriver)
	assert.False(t, cfg.Sealed())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_DEBOUNCE_MS", "250")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("QUESTIONS_PER_PAGE", "not-a-number")
	t.Setenv("STORE_PASSPHRASE", "lab-secret")
	t.Setenv("ALLOWED_ORIGINS", " http://localhost:5173 , ,app://exam")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.AutosaveDebounce)
	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.QuestionsPerPage)
	assert.True(t, cfg.Sealed())
	assert.Equal(t, []string{"http://localhost:5173", "app://exam"}, cfg.AllowedOrigins)
}

func TestStorageKeys(t *testing.T) {
	k := NewStorageKeyStruct("exstem")

	key := k.ProgressKey("E1")
	assert.Equal(t, "exstem:progress:E1", key)

	id, ok := k.ExamIDFromProgressKey(key)
	assert.True(t, ok)
	assert.Equal(t, "E1", id)

	_, ok = k.ExamIDFromProgressKey(k.StatsKey("42"))
	assert.False(t, ok)
	_, ok = k.ExamIDFromProgressKey(k.ProgressPrefix())
	assert.False(t, ok)
}

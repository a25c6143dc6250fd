package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/progress"
)

// OpenSubstrate builds the progress substrate selected by STORE_DRIVER,
// applying migrations for SQL drivers and sealing values when a passphrase
// is configured. The returned closer releases the underlying connection.
func OpenSubstrate(ctx context.Context, cfg *config.Config, log zerolog.Logger) (progress.Substrate, func(), error) {
	kv, closer, err := OpenDriver(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Sealed() {
		sealed, err := progress.NewSealedSubstrate(kv, cfg.StorePassphrase)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("seal store: %w", err)
		}
		log.Info().Msg("Progress store sealed at rest")
		return sealed, closer, nil
	}
	return kv, closer, nil
}

// OpenDriver opens the raw substrate of STORE_DRIVER without sealing it.
// Operator tools use it to detect a sealed store before asking for the
// passphrase.
func OpenDriver(ctx context.Context, cfg *config.Config, log zerolog.Logger) (progress.Substrate, func(), error) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Memory store selected: progress will not survive a restart")
		return progress.NewMemorySubstrate(), noop, nil

	case config.StoreDriverFile:
		kv, err := progress.NewFileSubstrate(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("dir", cfg.StoreDir).Msg("File store opened")
		return kv, noop, nil

	case config.StoreDriverSQLite:
		db, err := OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		m, err := NewSQLiteMigrator(db)
		if err == nil {
			err = Up(m)
		}
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return progress.NewSQLiteSubstrate(db), func() { db.Close() }, nil

	case config.StoreDriverPostgres:
		m, err := NewPostgresMigrator(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		err = Up(m)
		m.Close()
		if err != nil {
			return nil, nil, err
		}
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
		if err != nil {
			return nil, nil, err
		}
		return progress.NewPostgresSubstrate(pool), pool.Close, nil

	case config.StoreDriverRedis:
		rdb, err := OpenRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		return progress.NewRedisSubstrate(rdb), func() { rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

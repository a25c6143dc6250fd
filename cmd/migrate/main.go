package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/database"
	"github.com/stemsi/exstem-agent/internal/logger"
)

func main() {
	// Load config
	cfg := config.Load()

	var driver string
	flag.StringVar(&driver, "driver", cfg.StoreDriver, "Store driver to migrate (sqlite or postgres)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	m, closeDB := open(driver, cfg)
	defer closeDB()

	command := args[0]
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Up failed: %v", err)
		}
		fmt.Println("Migrated up successfully")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Down failed: %v", err)
		}
		fmt.Println("Migrated down successfully")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Version: none")
			return
		}
		if err != nil {
			log.Fatalf("Version failed: %v", err)
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("force requires version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version: %v", err)
		}
		if err := m.Force(v); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		fmt.Printf("Forced version to %d\n", v)
	default:
		printUsage()
	}
}

// open builds a migrator over the embedded migrations of driver.
func open(driver string, cfg *config.Config) (*migrate.Migrate, func()) {
	switch driver {
	case config.StoreDriverSQLite:
		zl := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		db, err := database.OpenSQLite(context.Background(), cfg.SQLitePath, zl)
		if err != nil {
			log.Fatalf("Open SQLite failed: %v", err)
		}
		m, err := database.NewSQLiteMigrator(db)
		if err != nil {
			log.Fatalf("Migration failed to initialize: %v", err)
		}
		return m, func() { db.Close() }

	case config.StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL is not set")
		}
		m, err := database.NewPostgresMigrator(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Migration failed to initialize: %v", err)
		}
		return m, func() { m.Close() }

	default:
		log.Fatalf("Driver %q has no schema to migrate", driver)
		return nil, nil
	}
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/database"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/progress"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	var format string
	var yes bool
	flag.StringVar(&format, "format", "table", "Output format: table, json or yaml")
	flag.BoolVar(&yes, "yes", false, "Do not ask before discarding progress")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(2)
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	// stdout carries command output; logs go to stderr.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Open Progress Store ───────────────────────────────────────────
	kv, closeStore, err := database.OpenDriver(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open progress store")
	}
	defer closeStore()

	kv, err = unseal(kv, cfg.StorePassphrase)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to unseal progress store")
	}

	c := &cli{
		store:   progress.NewStore(kv, clockwork.NewRealClock(), log),
		log:     log,
		out:     os.Stdout,
		in:      bufio.NewReader(os.Stdin),
		format:  format,
		confirm: !yes,
	}
	if err := c.run(flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// unseal wraps kv in a SealedSubstrate when it holds sealed values. The
// passphrase is read from the terminal when STORE_PASSPHRASE is unset.
func unseal(kv progress.Substrate, passphrase string) (progress.Substrate, error) {
	sealed, err := progress.IsSealed(kv)
	if err != nil {
		return nil, err
	}
	if !sealed && passphrase == "" {
		return kv, nil
	}

	if passphrase == "" {
		fmt.Fprint(os.Stderr, "Store passphrase: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr) // Newline after passphrase input
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = string(raw)
	}
	return progress.NewSealedSubstrate(kv, passphrase)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: progressctl [flags] <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  list                 unfinished exams on this workstation")
	fmt.Fprintln(os.Stderr, "  show <exam_id>       stored progress of one exam")
	fmt.Fprintln(os.Stderr, "  discard <exam_id>    drop the progress of one exam")
	fmt.Fprintln(os.Stderr, "  prune <hours>        drop progress idle for longer than hours")
	fmt.Fprintln(os.Stderr, "  stats <user_id>      completed exams of a student")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

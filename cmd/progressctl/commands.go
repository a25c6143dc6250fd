package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stemsi/exstem-agent/internal/recovery"
	"gopkg.in/yaml.v3"
)

var errUsage = errors.New("invalid arguments, see -h")

// cli runs one operator command against the progress store.
type cli struct {
	store   *progress.Store
	log     zerolog.Logger
	out     io.Writer
	in      *bufio.Reader
	format  string
	confirm bool
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "list":
		return c.list()
	case "show":
		if len(args) != 2 {
			return errUsage
		}
		return c.show(args[1])
	case "discard":
		if len(args) != 2 {
			return errUsage
		}
		return c.discard(args[1])
	case "prune":
		if len(args) != 2 {
			return errUsage
		}
		hours, err := strconv.Atoi(args[1])
		if err != nil || hours <= 0 {
			return fmt.Errorf("prune: hours must be a positive number")
		}
		return c.prune(time.Duration(hours) * time.Hour)
	case "stats":
		if len(args) != 2 {
			return errUsage
		}
		return c.stats(args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *cli) list() error {
	candidates := recovery.New(c.store, c.log).CheckAll()

	if c.format != "table" {
		return c.encode(candidates)
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXAM\tSTUDENT\tLABEL\tANSWERED\tELAPSED\tREMAINING\tLAST ACTIVITY")
	for _, cand := range candidates {
		remaining := "-"
		if cand.RemainingSeconds != nil {
			remaining = formatSeconds(*cand.RemainingSeconds)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (%d%%)\t%s\t%s\t%s\n",
			cand.ExamID, cand.UserID, cand.Label,
			cand.AnsweredCount, cand.TotalQuestions, cand.PercentComplete,
			formatSeconds(cand.ElapsedSeconds), remaining,
			cand.LastActivity.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func (c *cli) show(examID string) error {
	rec, ok := c.store.Load(examID)
	if !ok {
		return fmt.Errorf("no progress stored for %s", examID)
	}
	if c.format == "table" {
		return c.encodeAs("yaml", rec)
	}
	return c.encode(rec)
}

func (c *cli) discard(examID string) error {
	if _, ok := c.store.Load(examID); !ok {
		return fmt.Errorf("no progress stored for %s", examID)
	}

	if c.confirm {
		fmt.Fprintf(c.out, "Discard the progress of %s? This cannot be undone [y/N]: ", examID)
		answer, _ := c.in.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Fprintln(c.out, "Aborted")
			return nil
		}
	}

	recovery.New(c.store, c.log).Discard(examID)
	fmt.Fprintf(c.out, "Discarded %s\n", examID)
	return nil
}

func (c *cli) prune(maxAge time.Duration) error {
	n := c.store.PruneOlderThan(maxAge)
	fmt.Fprintf(c.out, "Pruned %d record(s) idle for more than %s\n", n, maxAge)
	return nil
}

func (c *cli) stats(userID string) error {
	stats := c.store.Stats(userID)

	if c.format != "table" {
		return c.encode(stats)
	}

	fmt.Fprintf(c.out, "Student %s: %d exam(s), %s total\n",
		userID, stats.TotalExams, formatSeconds(stats.TotalTimeSpentSeconds))
	if len(stats.History) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXAM\tSUBJECT\tSCORE\tPASSED\tCORRECT\tTIME\tCOMPLETED")
	for _, h := range stats.History {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%t\t%d/%d\t%s\t%s\n",
			h.ExamID, h.SubjectName, h.Score, h.Passed,
			h.CorrectAnswers, h.TotalQuestions,
			formatSeconds(h.TimeSpentSeconds),
			h.CompletedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func (c *cli) encode(v any) error {
	return c.encodeAs(c.format, v)
}

func (c *cli) encodeAs(format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so the yaml keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func formatSeconds(s int) string {
	return (time.Duration(s) * time.Second).String()
}

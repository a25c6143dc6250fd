package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestCLI(t *testing.T, format, input string) (*cli, *bytes.Buffer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	out := &bytes.Buffer{}
	return &cli{
		store:   progress.NewStore(progress.NewMemorySubstrate(), clock, zerolog.Nop()),
		log:     zerolog.Nop(),
		out:     out,
		in:      bufio.NewReader(strings.NewReader(input)),
		format:  format,
		confirm: true,
	}, out, clock
}

func seed(c *cli, clock clockwork.Clock, examID string) {
	c.store.Save(examID, model.ProgressRecord{
		ExamID:           examID,
		UserID:           "42",
		LastActivity:     clock.Now(),
		Answers:          model.AnswerMap{"q1": {"A"}},
		TimeSpentSeconds: 90,
		TotalQuestions:   4,
		TimeLimitSeconds: 600,
		SubjectName:      "Kimia",
	})
}

func TestListTable(t *testing.T) {
	c, out, clock := newTestCLI(t, "table", "")
	seed(c, clock, "E1")

	require.NoError(t, c.run([]string{"list"}))
	assert.Contains(t, out.String(), "STUDENT")
	assert.Contains(t, out.String(), "42")
	assert.Contains(t, out.String(), "Kimia")
	assert.Contains(t, out.String(), "1/4 (25%)")
	assert.Contains(t, out.String(), "1m30s")
}

func TestListJSON(t *testing.T) {
	c, out, clock := newTestCLI(t, "json", "")
	seed(c, clock, "E1")

	require.NoError(t, c.run([]string{"list"}))

	var got []model.RecoveryCandidate
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "E1", got[0].ExamID)
	assert.Equal(t, 25, got[0].PercentComplete)
}

func TestShowYAMLUsesJSONKeys(t *testing.T) {
	c, out, clock := newTestCLI(t, "yaml", "")
	seed(c, clock, "E1")

	require.NoError(t, c.run([]string{"show", "E1"}))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "E1", doc["exam_id"])
	assert.Equal(t, 90, doc["time_spent_seconds"])
}

func TestDiscardAsksFirst(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		c, out, clock := newTestCLI(t, "table", "n\n")
		seed(c, clock, "E1")

		require.NoError(t, c.run([]string{"discard", "E1"}))
		assert.Contains(t, out.String(), "Aborted")
		_, ok := c.store.Load("E1")
		assert.True(t, ok)
	})

	t.Run("confirmed", func(t *testing.T) {
		c, out, clock := newTestCLI(t, "table", "y\n")
		seed(c, clock, "E1")

		require.NoError(t, c.run([]string{"discard", "E1"}))
		assert.Contains(t, out.String(), "Discarded E1")
		_, ok := c.store.Load("E1")
		assert.False(t, ok)
	})

	t.Run("unknown exam", func(t *testing.T) {
		c, _, _ := newTestCLI(t, "table", "y\n")
		assert.ErrorContains(t, c.run([]string{"discard", "E404"}), "no progress stored")
	})
}

func TestPrune(t *testing.T) {
	c, out, clock := newTestCLI(t, "table", "")
	seed(c, clock, "OLD")
	clock.Advance(48 * time.Hour)
	seed(c, clock, "NEW")

	require.NoError(t, c.run([]string{"prune", "24"}))
	assert.Contains(t, out.String(), "Pruned 1 record(s)")

	_, ok := c.store.Load("OLD")
	assert.False(t, ok)
	_, ok = c.store.Load("NEW")
	assert.True(t, ok)

	assert.Error(t, c.run([]string{"prune", "zero"}))
}

func TestStats(t *testing.T) {
	c, out, clock := newTestCLI(t, "table", "")
	c.store.RecordCompletion("42", model.HistoryEntry{
		ExamID:           "E1",
		SubjectName:      "Kimia",
		Score:            75,
		Passed:           true,
		CorrectAnswers:   3,
		TotalQuestions:   4,
		TimeSpentSeconds: 300,
		CompletedAt:      clock.Now(),
	})

	require.NoError(t, c.run([]string{"stats", "42"}))
	assert.Contains(t, out.String(), "Student 42: 1 exam(s), 5m0s total")
	assert.Contains(t, out.String(), "75.0")
}

func TestRunRejectsBadInvocations(t *testing.T) {
	c, _, _ := newTestCLI(t, "table", "")

	assert.ErrorIs(t, c.run(nil), errUsage)
	assert.ErrorIs(t, c.run([]string{"show"}), errUsage)
	assert.ErrorContains(t, c.run([]string{"explode"}), "unknown command")

	c.format = "xml"
	assert.ErrorContains(t, c.run([]string{"list"}), "unknown format")
}

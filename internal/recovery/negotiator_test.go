package recovery

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newNegotiator(t *testing.T) (*Negotiator, *progress.Store) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(base)
	store := progress.NewStore(progress.NewMemorySubstrate(), clock, zerolog.Nop())
	return New(store, zerolog.Nop()), store
}

func TestCheckSurfacesNonEmptyProgress(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{
		ExamID:           "E1",
		Answers:          model.AnswerMap{"q1": {"A"}},
		TotalQuestions:   5,
		TimeSpentSeconds: 30,
		TimeLimitSeconds: 120,
		LastActivity:     base,
	})

	c, ok := n.Check("E1")
	require.True(t, ok)
	assert.Equal(t, 1, c.AnsweredCount)
	assert.Equal(t, 20, c.PercentComplete)
	assert.Equal(t, 30, c.ElapsedSeconds)
	require.NotNil(t, c.RemainingSeconds)
	assert.Equal(t, 90, *c.RemainingSeconds)
	assert.Equal(t, "Exam E1", c.Label)

	rec, err := n.Restore(c)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": {"A"}}, rec.Answers)
}

func TestCheckIgnoresMissingAndEmptyProgress(t *testing.T) {
	n, store := newNegotiator(t)

	_, ok := n.Check("E1")
	assert.False(t, ok)

	store.Save("E2", model.ProgressRecord{ExamID: "E2", Answers: model.AnswerMap{}, TotalQuestions: 5})
	_, ok = n.Check("E2")
	assert.False(t, ok)

	store.Save("E3", model.ProgressRecord{ExamID: "E3", Answers: model.AnswerMap{"q1": {}}, TotalQuestions: 5})
	_, ok = n.Check("E3")
	assert.False(t, ok, "an explicitly cleared selection is not progress")
}

func TestInvalidRecordIsDiscarded(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{
		ExamID:               "E1",
		Answers:              model.AnswerMap{"q1": {"A"}},
		TotalQuestions:       5,
		CurrentQuestionIndex: 9,
	})

	_, ok := n.Check("E1")
	assert.False(t, ok)

	_, ok = store.Load("E1")
	assert.False(t, ok)
}

func TestRestoreAfterRecordVanished(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{ExamID: "E1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5})

	c, ok := n.Check("E1")
	require.True(t, ok)

	store.Clear("E1")
	_, err := n.Restore(c)
	assert.ErrorIs(t, err, ErrNotRecoverable)
}

func TestCheckAllNewestFirst(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{ExamID: "E1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5, LastActivity: base.Add(-time.Hour)})
	store.Save("E2", model.ProgressRecord{ExamID: "E2", Answers: model.AnswerMap{"q1": {"B"}}, TotalQuestions: 5, LastActivity: base, SubjectName: "Fisika"})
	store.Save("E3", model.ProgressRecord{ExamID: "E3", Answers: model.AnswerMap{}, TotalQuestions: 5, LastActivity: base})

	all := n.CheckAll()
	require.Len(t, all, 2)
	assert.Equal(t, "E2", all[0].ExamID)
	assert.Equal(t, "Fisika", all[0].Label)
	assert.Equal(t, "E1", all[1].ExamID)
}

func TestCheckForFiltersByOwner(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{ExamID: "E1", UserID: "u1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5})
	store.Save("E2", model.ProgressRecord{ExamID: "E2", UserID: "u2", Answers: model.AnswerMap{"q1": {"B"}}, TotalQuestions: 5})

	mine := n.CheckFor("u1")
	require.Len(t, mine, 1)
	assert.Equal(t, "E1", mine[0].ExamID)
	assert.Equal(t, "u1", mine[0].UserID)

	assert.Empty(t, n.CheckFor("u3"))
	assert.Len(t, n.CheckAll(), 2)
}

func TestDiscard(t *testing.T) {
	n, store := newNegotiator(t)
	store.Save("E1", model.ProgressRecord{ExamID: "E1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5})

	n.Discard("E1")
	n.Discard("E1")

	_, ok := n.Check("E1")
	assert.False(t, ok)
	assert.Empty(t, n.CheckAll())
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterReturnsLiveSession(t *testing.T) {
	f := newFixture(t, examStart(0))

	first := f.enter(t)
	require.NoError(t, first.SelectAnswer("q1", []string{"A"}))

	second := f.enter(t)
	assert.Same(t, first, second)
	assert.Equal(t, model.AnswerMap{"q1": {"A"}}, second.View().Answers)

	_, err := f.manager.Enter(context.Background(), "token", "u2", "t1")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestEnterAfterSubmissionStartsNewSession(t *testing.T) {
	f := newFixture(t, examStart(0))

	first := f.enter(t)
	_, err := first.Submit(context.Background())
	require.NoError(t, err)

	second := f.enter(t)
	assert.NotSame(t, first, second)
	assert.Equal(t, model.SessionStateRunning, second.View().State)
	assert.Equal(t, model.SessionStateEnded, first.View().State)
}

func TestEnterPropagatesStartFailure(t *testing.T) {
	f := newFixture(t, examStart(0))
	f.remote.startErr = errors.New("403 exam not open")

	_, err := f.manager.Enter(context.Background(), "token", "u1", "t1")
	assert.ErrorContains(t, err, "start exam")
	_, err = f.manager.Get("u1", "E1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEnterPrunesStaleProgress(t *testing.T) {
	f := newFixture(t, examStart(0))
	f.manager.opts.PruneMaxAge = 24 * time.Hour
	f.store.Save("OLD", model.ProgressRecord{
		ExamID:       "OLD",
		Answers:      model.AnswerMap{"q1": {"A"}},
		LastActivity: f.clock.Now().Add(-48 * time.Hour),
	})

	f.enter(t)

	_, ok := f.store.Load("OLD")
	assert.False(t, ok)
}

func TestGetChecksOwner(t *testing.T) {
	f := newFixture(t, examStart(0))
	f.enter(t)

	c, err := f.manager.Get("u1", "E1")
	require.NoError(t, err)
	assert.Equal(t, "E1", c.ExamID())

	_, err = f.manager.Get("u2", "E1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Get("u1", "E2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDiscard(t *testing.T) {
	t.Run("no live session", func(t *testing.T) {
		f := newFixture(t, examStart(0))
		f.store.Save("E9", model.ProgressRecord{ExamID: "E9", UserID: "u1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5})

		require.NoError(t, f.manager.Discard("u1", "E9"))
		assert.Empty(t, f.manager.Candidates("u1"))
	})

	t.Run("awaiting recovery", func(t *testing.T) {
		f := newFixture(t, examStart(0))
		f.store.Save("E1", model.ProgressRecord{ExamID: "E1", UserID: "u1", Answers: model.AnswerMap{"q1": {"A"}}, TotalQuestions: 5})
		c := f.enter(t)

		require.NoError(t, f.manager.Discard("u1", "E1"))
		assert.Equal(t, model.SessionStateRunning, c.View().State)
		assert.Empty(t, c.View().Answers)
	})

	t.Run("running session is refused", func(t *testing.T) {
		f := newFixture(t, examStart(0))
		c := f.enter(t)
		require.NoError(t, c.SelectAnswer("q1", []string{"A"}))

		assert.ErrorIs(t, f.manager.Discard("u1", "E1"), ErrSessionActive)
		_, ok := f.store.Load("E1")
		assert.True(t, ok)
	})
}

func TestShutdownSavesAndClosesSessions(t *testing.T) {
	f := newFixture(t, examStart(0))
	c := f.enter(t)
	require.NoError(t, c.SelectAnswer("q1", []string{"A"}))

	f.manager.Shutdown(context.Background())

	assert.Len(t, f.remote.Autosaves(), 1)
	assert.Equal(t, model.SessionStateClosed, c.View().State)
	_, err := f.manager.Get("u1", "E1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rec, ok := f.store.Load("E1")
	require.True(t, ok)
	assert.Equal(t, model.AnswerMap{"q1": {"A"}}, rec.Answers)
}

func TestRecoveryIsScopedToOwner(t *testing.T) {
	f := newFixture(t, examStart(0))
	c := f.enter(t)
	require.NoError(t, c.SelectAnswer("q1", []string{"A"}))
	require.NoError(t, f.manager.Leave(context.Background(), "u1", "E1", true))

	assert.Empty(t, f.manager.Candidates("u2"))
	candidates := f.manager.Candidates("u1")
	require.Len(t, candidates, 1)
	assert.Equal(t, "u1", candidates[0].UserID)

	assert.ErrorIs(t, f.manager.Discard("u2", "E1"), ErrSessionNotFound)

	_, err := f.manager.Enter(context.Background(), "token", "u2", "t1")
	assert.ErrorIs(t, err, ErrProgressOwned)
	_, err = f.manager.Get("u2", "E1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rec, ok := f.store.Load("E1")
	require.True(t, ok, "progress survives another student's attempts")
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, model.AnswerMap{"q1": {"A"}}, rec.Answers)

	again := f.enter(t)
	assert.Equal(t, model.SessionStateAwaitingRecovery, again.View().State)
}

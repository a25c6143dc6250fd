package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutSubmitsExactlyOnce(t *testing.T) {
	var fired atomic.Int32
	var at Snapshot
	r := New(Config{
		TimeLimitSeconds: 3,
		TotalQuestions:   10,
		OnExpire: func(s Snapshot) {
			fired.Add(1)
			at = s
		},
	})

	r.Tick()
	r.Tick()
	assert.Equal(t, StateRunning, r.State())
	assert.Zero(t, fired.Load())

	r.Tick()
	assert.Equal(t, StateSubmitting, r.State())
	assert.EqualValues(t, 1, fired.Load())
	assert.Equal(t, 3, at.ElapsedSeconds)
	require.NotNil(t, at.RemainingSeconds)
	assert.Equal(t, 0, *at.RemainingSeconds)
	assert.True(t, at.Expired)

	for i := 0; i < 5; i++ {
		r.Tick()
	}
	assert.EqualValues(t, 1, fired.Load())
	assert.Equal(t, 3, r.Snapshot().ElapsedSeconds, "countdown frozen while submitting")

	assert.False(t, r.AbortSubmit(), "a forced submission cannot be aborted")
	r.End()
	r.Tick()
	assert.EqualValues(t, 1, fired.Load())
}

func TestUntimedNeverExpires(t *testing.T) {
	r := New(Config{TotalQuestions: 3, OnExpire: func(Snapshot) { t.Fatal("untimed exam expired") }})

	for i := 0; i < 1000; i++ {
		r.Tick()
	}
	snap := r.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 1000, snap.ElapsedSeconds)
	assert.Nil(t, snap.RemainingSeconds)
}

func TestOnTickReportsEveryCountedTick(t *testing.T) {
	var ticks []int
	r := New(Config{TimeLimitSeconds: 60, TotalQuestions: 1, OnTick: func(s Snapshot) {
		ticks = append(ticks, s.ElapsedSeconds)
	}})

	r.Tick()
	r.Tick()
	require.NoError(t, r.BeginSubmit())
	r.Tick()

	assert.Equal(t, []int{1, 2}, ticks)
}

func TestNavigation(t *testing.T) {
	r := New(Config{TotalQuestions: 12, PageSize: 5})

	assert.Equal(t, 3, r.Snapshot().PageCount)

	require.NoError(t, r.GoToQuestion(7))
	snap := r.Snapshot()
	assert.Equal(t, 7, snap.QuestionIndex)
	assert.Equal(t, 1, snap.PageIndex)

	require.NoError(t, r.GoToPage(2))
	snap = r.Snapshot()
	assert.Equal(t, 2, snap.PageIndex)
	assert.Equal(t, 10, snap.QuestionIndex)

	assert.ErrorIs(t, r.GoToQuestion(12), ErrOutOfRange)
	assert.ErrorIs(t, r.GoToQuestion(-1), ErrOutOfRange)
	assert.ErrorIs(t, r.GoToPage(3), ErrOutOfRange)
}

func TestNavigationRejectedOutsideRunning(t *testing.T) {
	r := New(Config{TotalQuestions: 5})

	require.NoError(t, r.BeginSubmit())
	assert.ErrorIs(t, r.GoToQuestion(1), ErrNotRunning)
	assert.ErrorIs(t, r.GoToPage(0), ErrNotRunning)
	assert.ErrorIs(t, r.BeginSubmit(), ErrNotRunning)

	require.True(t, r.AbortSubmit())
	require.NoError(t, r.GoToQuestion(1))

	r.End()
	assert.ErrorIs(t, r.GoToQuestion(2), ErrNotRunning)
	assert.False(t, r.AbortSubmit())
}

func TestRestore(t *testing.T) {
	r := New(Config{TimeLimitSeconds: 120, TotalQuestions: 12, PageSize: 5})

	r.Restore(45, 7, 1)
	snap := r.Snapshot()
	assert.Equal(t, 45, snap.ElapsedSeconds)
	require.NotNil(t, snap.RemainingSeconds)
	assert.Equal(t, 75, *snap.RemainingSeconds)
	assert.Equal(t, 7, snap.QuestionIndex)
	assert.Equal(t, 1, snap.PageIndex)

	r.Restore(10, 99, 99)
	snap = r.Snapshot()
	assert.Equal(t, 11, snap.QuestionIndex)
	assert.Equal(t, 2, snap.PageIndex)
}

func TestRestoreSpentBudgetExpiresOnNextTick(t *testing.T) {
	var fired atomic.Int32
	r := New(Config{TimeLimitSeconds: 60, TotalQuestions: 1, OnExpire: func(Snapshot) { fired.Add(1) }})

	r.Restore(90, 0, 0)
	assert.Equal(t, StateRunning, r.State())

	r.Tick()
	assert.Equal(t, StateSubmitting, r.State())
	assert.EqualValues(t, 1, fired.Load())
}

func TestRunTicksOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := New(Config{TimeLimitSeconds: 2, TotalQuestions: 1, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return r.Snapshot().ElapsedSeconds == 1 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return r.State() == StateSubmitting }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

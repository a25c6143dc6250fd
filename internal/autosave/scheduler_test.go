package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

type fakeRemote struct {
	mu    sync.Mutex
	calls []model.AnswerMap
	err   error
	block chan struct{}
}

func (f *fakeRemote) Autosave(ctx context.Context, examID string, delta model.AnswerMap) error {
	f.mu.Lock()
	f.calls = append(f.calls, delta.Clone())
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRemote) Calls() []model.AnswerMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AnswerMap, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) set(err error, block chan struct{}) {
	f.mu.Lock()
	f.err, f.block = err, block
	f.mu.Unlock()
}

type fixture struct {
	clock  *clockwork.FakeClock
	store  *progress.Store
	remote *fakeRemote
	sched  *Scheduler
}

func newFixture(t *testing.T, seed model.AnswerMap) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := progress.NewStore(progress.NewMemorySubstrate(), clock, zerolog.Nop())
	remote := &fakeRemote{}
	sched := New(Config{
		ExamID:   "E1",
		Debounce: 5 * time.Second,
		Clock:    clock,
		Seed:     seed,
	}, store, remote, zerolog.Nop())
	t.Cleanup(sched.Disable)
	return &fixture{clock: clock, store: store, remote: remote, sched: sched}
}

func (f *fixture) record(answers model.AnswerMap) {
	f.sched.Record(model.ProgressRecord{
		ExamID:         "E1",
		Answers:        answers,
		TotalQuestions: 5,
		LastActivity:   f.clock.Now(),
	})
}

func (f *fixture) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.remote.Calls()) == n }, waitFor, pollEvery)
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := f.sched.Status()
		return !st.InFlight && st.State == StateIdle
	}, waitFor, pollEvery)
}

func TestRecordSavesLocallyBeforeSync(t *testing.T) {
	f := newFixture(t, nil)

	f.record(model.AnswerMap{"q1": {"optA"}})

	rec, ok := f.store.Load("E1")
	require.True(t, ok)
	assert.Equal(t, model.AnswerMap{"q1": {"optA"}}, rec.Answers)
	assert.Empty(t, f.remote.Calls())

	st := f.sched.Status()
	assert.Equal(t, StatePendingRemoteSync, st.State)
	assert.True(t, st.Unsaved)
}

func TestDebounceCoalescesMutations(t *testing.T) {
	f := newFixture(t, nil)

	f.record(model.AnswerMap{"q1": {"A"}})
	f.clock.Advance(2 * time.Second)
	f.record(model.AnswerMap{"q1": {"B"}})

	f.clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.remote.Calls(), "the timer restarts on every mutation")

	f.clock.Advance(2 * time.Second)
	f.waitCalls(t, 1)
	f.waitIdle(t)

	assert.Equal(t, model.AnswerMap{"q1": {"B"}}, f.remote.Calls()[0])

	st := f.sched.Status()
	assert.False(t, st.Unsaved)
	require.NotNil(t, st.LastSaved)
	assert.Equal(t, f.clock.Now(), *st.LastSaved)
}

func TestUnchangedAnswersDoNotSync(t *testing.T) {
	f := newFixture(t, model.AnswerMap{"q1": {"A", "B"}})

	f.record(model.AnswerMap{"q1": {"A", "B"}})
	assert.Equal(t, StateIdle, f.sched.Status().State)

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.remote.Calls())

	_, ok := f.store.Load("E1")
	assert.True(t, ok, "local write happens even without a delta")
}

func TestRevertingAChangeCancelsPendingSync(t *testing.T) {
	f := newFixture(t, model.AnswerMap{"q1": {"A"}})

	f.record(model.AnswerMap{"q1": {"B"}})
	f.record(model.AnswerMap{"q1": {"A"}})

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.remote.Calls())
	assert.Equal(t, StateIdle, f.sched.Status().State)
}

func TestDeltaCarriesOnlyChangedKeys(t *testing.T) {
	f := newFixture(t, model.AnswerMap{"q1": {"A"}, "q2": {"B"}})

	f.record(model.AnswerMap{"q1": {"A"}, "q2": {"C"}, "q3": {"D"}})
	f.clock.Advance(5 * time.Second)
	f.waitCalls(t, 1)

	assert.Equal(t, model.AnswerMap{"q2": {"C"}, "q3": {"D"}}, f.remote.Calls()[0])
}

func TestFailedDeltaIsRetriedWithNextMutation(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.set(errors.New("502 bad gateway"), nil)

	f.record(model.AnswerMap{"q2": {"C"}})
	f.clock.Advance(5 * time.Second)
	f.waitCalls(t, 1)
	f.waitIdle(t)
	assert.True(t, f.sched.Status().Unsaved)

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.remote.Calls(), 1, "no automatic retry loop")

	f.remote.set(nil, nil)
	f.record(model.AnswerMap{"q2": {"C"}, "q3": {"D"}})
	f.clock.Advance(5 * time.Second)
	f.waitCalls(t, 2)

	assert.Equal(t, model.AnswerMap{"q2": {"C"}, "q3": {"D"}}, f.remote.Calls()[1])
	f.waitIdle(t)
	assert.False(t, f.sched.Status().Unsaved)
}

func TestSingleRequestInFlight(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.remote.set(nil, release)

	f.record(model.AnswerMap{"q1": {"A"}})
	f.clock.Advance(5 * time.Second)
	f.waitCalls(t, 1)
	require.Eventually(t, func() bool { return f.sched.Status().InFlight }, waitFor, pollEvery)

	f.record(model.AnswerMap{"q1": {"A"}, "q2": {"B"}})
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		f.sched.mu.Lock()
		defer f.sched.mu.Unlock()
		return f.sched.rearm
	}, waitFor, pollEvery)
	assert.Len(t, f.remote.Calls(), 1, "expired debounce waits for the in-flight request")

	f.remote.set(nil, nil)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1), "debounce re-armed after completion")

	f.clock.Advance(5 * time.Second)
	f.waitCalls(t, 2)
	assert.Equal(t, model.AnswerMap{"q2": {"B"}}, f.remote.Calls()[1])
}

func TestDisabledSchedulerIgnoresArmedTimer(t *testing.T) {
	f := newFixture(t, nil)

	f.record(model.AnswerMap{"q1": {"A"}})
	f.sched.Disable()
	f.store.Clear("E1")

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.remote.Calls())

	f.record(model.AnswerMap{"q1": {"B"}})
	f.sched.Checkpoint(model.ProgressRecord{ExamID: "E1", Answers: model.AnswerMap{"q1": {"B"}}})
	_, ok := f.store.Load("E1")
	assert.False(t, ok, "no local write after disable")

	assert.ErrorIs(t, f.sched.ForceSync(context.Background()), ErrDisabled)
	assert.Equal(t, StateDisabled, f.sched.Status().State)
}

func TestForceSyncBypassesDebounce(t *testing.T) {
	f := newFixture(t, nil)

	f.record(model.AnswerMap{"q1": {"A"}})
	require.NoError(t, f.sched.ForceSync(context.Background()))

	require.Len(t, f.remote.Calls(), 1)
	assert.Equal(t, model.AnswerMap{"q1": {"A"}}, f.remote.Calls()[0])
	assert.False(t, f.sched.Status().Unsaved)

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.remote.Calls(), 1, "the stopped debounce does not fire")

	require.NoError(t, f.sched.ForceSync(context.Background()))
	assert.Len(t, f.remote.Calls(), 1, "nothing to sync")
}

func TestForceSyncReportsFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.set(errors.New("connection refused"), nil)

	f.record(model.AnswerMap{"q1": {"A"}})
	assert.Error(t, f.sched.ForceSync(context.Background()))
	assert.True(t, f.sched.Status().Unsaved)
}

func TestForceSyncWaitsForInFlightRequest(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.remote.set(nil, release)

	f.record(model.AnswerMap{"q1": {"A"}})
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return f.sched.Status().InFlight }, waitFor, pollEvery)

	f.record(model.AnswerMap{"q1": {"A"}, "q2": {"B"}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.sched.ForceSync(ctx), context.DeadlineExceeded)

	f.remote.set(nil, nil)
	close(release)
	require.NoError(t, f.sched.ForceSync(context.Background()))

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.AnswerMap{"q2": {"B"}}, calls[1])
}

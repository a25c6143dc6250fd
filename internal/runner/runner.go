// Package runner keeps the clock and the navigation pointers of a running
// exam and forces the submission when time runs out.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of a Runner.
type State string

const (
	StateRunning    State = "RUNNING"
	StateSubmitting State = "SUBMITTING"
	StateEnded      State = "ENDED"
)

const (
	DefaultPageSize = 5
	DefaultInterval = time.Second
)

var (
	ErrNotRunning = errors.New("exam is not running")
	ErrOutOfRange = errors.New("navigation target out of range")
)

// Config configures a Runner.
type Config struct {
	// TimeLimitSeconds of zero means untimed.
	TimeLimitSeconds int
	TotalQuestions   int
	PageSize         int
	Interval         time.Duration
	Clock            clockwork.Clock

	// OnTick runs after every counted tick, outside the runner's lock.
	OnTick func(Snapshot)
	// OnExpire runs exactly once, when the remaining time reaches zero.
	OnExpire func(Snapshot)
}

// Snapshot is a consistent view of the runner.
type Snapshot struct {
	State            State
	ElapsedSeconds   int
	RemainingSeconds *int
	QuestionIndex    int
	PageIndex        int
	PageCount        int
	Expired          bool
}

// Runner owns elapsed/remaining time and the current question and page.
type Runner struct {
	cfg Config

	mu        sync.Mutex
	state     State
	elapsed   int
	remaining int
	question  int
	page      int
	expired   bool
}

// New creates a Runner in the Running state with the full time budget.
func New(cfg Config) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TimeLimitSeconds < 0 {
		cfg.TimeLimitSeconds = 0
	}
	return &Runner{
		cfg:       cfg,
		state:     StateRunning,
		remaining: cfg.TimeLimitSeconds,
	}
}

// Run ticks once per interval until ctx is done or the runner ends.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Tick()
			if r.State() == StateEnded {
				return
			}
		}
	}
}

// Tick advances the clock by one second. Ticks outside Running are ignored.
func (r *Runner) Tick() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}

	r.elapsed++
	fire := false
	if r.cfg.TimeLimitSeconds > 0 {
		if r.remaining > 0 {
			r.remaining--
		}
		if r.remaining == 0 && !r.expired {
			r.expired = true
			r.state = StateSubmitting
			fire = true
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.OnTick != nil {
		r.cfg.OnTick(snap)
	}
	if fire && r.cfg.OnExpire != nil {
		r.cfg.OnExpire(snap)
	}
}

// GoToQuestion moves to question index q and to the page holding it.
func (r *Runner) GoToQuestion(q int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return ErrNotRunning
	}
	if q < 0 || q >= r.cfg.TotalQuestions {
		return ErrOutOfRange
	}
	r.question = q
	r.page = q / r.cfg.PageSize
	return nil
}

// GoToPage moves to page p and to its first question.
func (r *Runner) GoToPage(p int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return ErrNotRunning
	}
	if p < 0 || p >= r.pageCount() {
		return ErrOutOfRange
	}
	r.page = p
	r.question = p * r.cfg.PageSize
	return nil
}

// BeginSubmit freezes the countdown for a manual submission.
func (r *Runner) BeginSubmit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return ErrNotRunning
	}
	r.state = StateSubmitting
	return nil
}

// AbortSubmit returns a failed manual submission to Running. A submission
// forced by expiry cannot be aborted.
func (r *Runner) AbortSubmit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSubmitting || r.expired {
		return false
	}
	r.state = StateRunning
	return true
}

// End moves the runner to its terminal state.
func (r *Runner) End() {
	r.mu.Lock()
	r.state = StateEnded
	r.mu.Unlock()
}

// Restore resumes from recovered progress. Indexes are clamped to the
// question set; a budget already spent expires on the next tick.
func (r *Runner) Restore(elapsed, question, page int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.elapsed = max(elapsed, 0)
	if r.cfg.TimeLimitSeconds > 0 {
		r.remaining = max(r.cfg.TimeLimitSeconds-r.elapsed, 0)
	}

	last := max(r.cfg.TotalQuestions-1, 0)
	r.question = min(max(question, 0), last)
	r.page = min(max(page, 0), max(r.pageCount()-1, 0))
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns a consistent copy of the runner's state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runner) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          r.state,
		ElapsedSeconds: r.elapsed,
		QuestionIndex:  r.question,
		PageIndex:      r.page,
		PageCount:      r.pageCount(),
		Expired:        r.expired,
	}
	if r.cfg.TimeLimitSeconds > 0 {
		remaining := r.remaining
		snap.RemainingSeconds = &remaining
	}
	return snap
}

func (r *Runner) pageCount() int {
	return (r.cfg.TotalQuestions + r.cfg.PageSize - 1) / r.cfg.PageSize
}

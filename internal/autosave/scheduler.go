// Package autosave decides when an exam's answers are mirrored to the local
// progress store and when they are synchronised with the exam server.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/metrics"
	"github.com/stemsi/exstem-agent/internal/model"
)

// State of a Scheduler.
type State string

const (
	StateIdle              State = "IDLE"
	StatePendingLocalWrite State = "PENDING_LOCAL_WRITE"
	StatePendingRemoteSync State = "PENDING_REMOTE_SYNC"
	StateDisabled          State = "DISABLED"
)

const (
	DefaultDebounce       = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// ErrDisabled is returned by ForceSync once the scheduler has been disabled.
var ErrDisabled = errors.New("autosave disabled")

// Saver is the local half of the scheduler: a synchronous, non-failing write.
type Saver interface {
	Save(examID string, rec model.ProgressRecord)
}

// Syncer sends a SyncDelta to the exam server.
type Syncer interface {
	Autosave(ctx context.Context, examID string, delta model.AnswerMap) error
}

// Config configures one Scheduler.
type Config struct {
	ExamID         string
	Debounce       time.Duration
	RequestTimeout time.Duration
	Clock          clockwork.Clock
	// Seed is the answer map the server already holds.
	Seed model.AnswerMap
}

// Status is the autosave view exposed to the UI.
type Status struct {
	State     State      `json:"state"`
	LastSaved *time.Time `json:"last_saved,omitempty"`
	InFlight  bool       `json:"in_flight"`
	Unsaved   bool       `json:"unsaved"`
}

// Scheduler owns the autosave state machine of one exam session.
//
// Every mutation is written locally before Record returns. Remote sync is
// debounced, carries only the delta against the last acknowledged snapshot,
// and never has more than one request outstanding.
type Scheduler struct {
	examID         string
	debounce       time.Duration
	requestTimeout time.Duration
	clock          clockwork.Clock
	store          Saver
	remote         Syncer
	log            zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	current   model.AnswerMap
	synced    model.AnswerMap
	timer     clockwork.Timer
	gen       uint64
	inFlight  bool
	idle      chan struct{}
	rearm     bool
	lastSaved time.Time
}

// New creates a Scheduler in the Idle state.
func New(cfg Config, store Saver, remote Syncer, log zerolog.Logger) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	seed := cfg.Seed.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		examID:         cfg.ExamID,
		debounce:       cfg.Debounce,
		requestTimeout: cfg.RequestTimeout,
		clock:          cfg.Clock,
		store:          store,
		remote:         remote,
		log:            log.With().Str("component", "autosave").Str("exam_id", cfg.ExamID).Logger(),
		ctx:            ctx,
		cancel:         cancel,
		state:          StateIdle,
		current:        seed.Clone(),
		synced:         seed,
	}
}

// Record handles an answer mutation. The record is saved locally before
// Record returns; a remote sync is scheduled if the answers differ from the
// last acknowledged snapshot.
func (s *Scheduler) Record(rec model.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisabled {
		return
	}

	s.state = StatePendingLocalWrite
	s.current = rec.Answers.Clone()
	s.store.Save(s.examID, rec)

	if len(model.Diff(s.synced, s.current)) == 0 {
		s.stopTimerLocked()
		s.state = StateIdle
		return
	}

	s.state = StatePendingRemoteSync
	s.armLocked()
}

// Checkpoint saves rec locally without touching the debounce timer.
func (s *Scheduler) Checkpoint(rec model.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisabled {
		return
	}
	s.current = rec.Answers.Clone()
	s.store.Save(s.examID, rec)
}

// ForceSync bypasses the debounce and syncs the pending delta now. If a
// request is already in flight it waits for it first. ctx bounds the wait
// and the request.
func (s *Scheduler) ForceSync(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state == StateDisabled {
			s.mu.Unlock()
			return ErrDisabled
		}
		if s.inFlight {
			idle := s.idle
			s.mu.Unlock()
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.stopTimerLocked()
		delta, ok := s.beginSyncLocked()
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return s.send(ctx, delta)
	}
}

// Disable moves the scheduler to its terminal state. Pending timers are
// stopped, an in-flight request is cancelled, and later callbacks do nothing.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisabled {
		return
	}
	s.stopTimerLocked()
	s.state = StateDisabled
	s.rearm = false
	s.cancel()
	s.log.Debug().Msg("Autosave disabled")
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		InFlight: s.inFlight,
		Unsaved:  s.state != StateDisabled && len(model.Diff(s.synced, s.current)) > 0,
	}
	if !s.lastSaved.IsZero() {
		t := s.lastSaved
		st.LastSaved = &t
	}
	return st
}

func (s *Scheduler) armLocked() {
	s.stopTimerLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.onDebounce(gen) })
}

// stopTimerLocked also bumps the generation so a timer that already fired
// but has not yet taken the lock becomes a no-op.
func (s *Scheduler) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onDebounce(gen uint64) {
	s.mu.Lock()
	if s.state == StateDisabled || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	if s.inFlight {
		s.rearm = true
		s.mu.Unlock()
		return
	}

	delta, ok := s.beginSyncLocked()
	s.mu.Unlock()
	if ok {
		_ = s.send(context.Background(), delta)
	}
}

func (s *Scheduler) beginSyncLocked() (model.AnswerMap, bool) {
	delta := model.Diff(s.synced, s.current)
	if len(delta) == 0 {
		s.state = StateIdle
		metrics.AutosaveSyncs.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil, false
	}
	s.state = StatePendingRemoteSync
	s.inFlight = true
	s.idle = make(chan struct{})
	return delta, true
}

func (s *Scheduler) send(ctx context.Context, delta model.AnswerMap) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	metrics.AutosaveDeltaSize.Observe(float64(len(delta)))
	err := s.remote.Autosave(reqCtx, s.examID, delta)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	close(s.idle)
	s.idle = nil

	if s.state == StateDisabled {
		return ErrDisabled
	}

	if err != nil {
		s.log.Warn().Err(err).Int("delta_size", len(delta)).Msg("Autosave sync failed")
		metrics.AutosaveSyncs.WithLabelValues(metrics.ResultError).Inc()
	} else {
		s.synced.Merge(delta)
		s.lastSaved = s.clock.Now()
		metrics.AutosaveSyncs.WithLabelValues(metrics.ResultOK).Inc()
		s.log.Debug().Int("delta_size", len(delta)).Msg("Autosave synced")
	}

	switch {
	case s.rearm:
		s.rearm = false
		s.state = StatePendingRemoteSync
		s.armLocked()
	case s.timer == nil:
		s.state = StateIdle
	}
	return err
}

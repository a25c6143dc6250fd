package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/autosave"
	"github.com/stemsi/exstem-agent/internal/metrics"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/recovery"
	"github.com/stemsi/exstem-agent/internal/runner"
)

const (
	triggerManual  = "manual"
	triggerTimeout = "timeout"
)

// Controller owns one exam session. All mutations go through it; it is the
// only writer of the exam's progress record.
type Controller struct {
	session    model.ExamSession
	userID     string
	seed       model.AnswerMap
	opts       Options
	clock      clockwork.Clock
	store      Store
	remote     Remote
	negotiator *recovery.Negotiator
	sched      *autosave.Scheduler
	run        *runner.Runner
	log        zerolog.Logger

	// submitMu serialises submissions so a manual submit racing the
	// deadline cannot grade the exam twice.
	submitMu sync.Mutex

	mu        sync.Mutex
	state     model.SessionState
	answers   model.AnswerMap
	startTime time.Time
	candidate *model.RecoveryCandidate
	result    *model.SubmitResult
	ticks     int
	stopRun   context.CancelFunc
	closed    bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

type controllerParams struct {
	start      model.ExamStart
	userID     string
	opts       Options
	store      Store
	remote     Remote
	negotiator *recovery.Negotiator
	log        zerolog.Logger
}

func newController(p controllerParams) *Controller {
	session := p.start.Session()
	seed := make(model.AnswerMap, len(p.start.SavedAnswers))
	for qID, sel := range p.start.SavedAnswers {
		if session.HasQuestion(qID) {
			seed[qID] = model.NormalizeSelection(sel)
		}
	}

	c := &Controller{
		session:    session,
		userID:     p.userID,
		seed:       seed,
		opts:       p.opts,
		clock:      p.opts.Clock,
		store:      p.store,
		remote:     p.remote,
		negotiator: p.negotiator,
		log: p.log.With().
			Str("component", "session").
			Str("exam_id", session.ExamID).
			Str("user_id", p.userID).
			Logger(),
		answers:   seed.Clone(),
		startTime: p.opts.Clock.Now(),
		subs:      make(map[chan Event]struct{}),
	}

	c.sched = autosave.New(autosave.Config{
		ExamID:         session.ExamID,
		Debounce:       p.opts.Debounce,
		RequestTimeout: p.opts.RequestTimeout,
		Clock:          p.opts.Clock,
		Seed:           seed,
	}, p.store, p.remote, p.log)

	c.run = runner.New(runner.Config{
		TimeLimitSeconds: session.TimeLimitSeconds,
		TotalQuestions:   session.TotalQuestions,
		PageSize:         p.opts.PageSize,
		Interval:         p.opts.TickInterval,
		Clock:            p.opts.Clock,
		OnTick:           c.onTick,
		OnExpire:         c.onExpire,
	})

	metrics.ActiveSessions.Inc()
	return c
}

// ExamID returns the exam this controller runs.
func (c *Controller) ExamID() string { return c.session.ExamID }

// UserID returns the student who owns the session.
func (c *Controller) UserID() string { return c.userID }

// awaitRecovery parks the controller until the student resolves candidate.
func (c *Controller) awaitRecovery(candidate model.RecoveryCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = model.SessionStateAwaitingRecovery
	c.candidate = &candidate
}

// begin starts a fresh session from the server-provided answers.
func (c *Controller) begin() {
	c.mu.Lock()
	c.sched.Checkpoint(c.recordLocked(c.run.Snapshot()))
	c.startLocked()
	c.mu.Unlock()
	c.publish(EventState, "")
}

// Resolve answers the recovery prompt. Restoring applies the stored answers,
// elapsed time and navigation position together; discarding drops the local
// record and starts from an empty answer map.
func (c *Controller) Resolve(restore bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != model.SessionStateAwaitingRecovery || c.candidate == nil {
		c.mu.Unlock()
		return ErrNoPendingRecovery
	}
	candidate := *c.candidate
	c.candidate = nil

	var restoreErr error
	if restore {
		rec, err := c.negotiator.Restore(candidate)
		if err == nil {
			c.applyLocked(rec)
		} else {
			restoreErr = err
			c.resetLocked()
		}
	} else {
		c.negotiator.Discard(c.session.ExamID)
		c.resetLocked()
	}
	c.startLocked()
	c.mu.Unlock()

	c.publish(EventState, "")
	return restoreErr
}

func (c *Controller) applyLocked(rec model.ProgressRecord) {
	answers := make(model.AnswerMap, len(rec.Answers))
	for qID, sel := range rec.Answers {
		if c.session.HasQuestion(qID) {
			answers[qID] = model.NormalizeSelection(sel)
		}
	}
	c.answers = answers
	if !rec.StartTime.IsZero() {
		c.startTime = rec.StartTime
	}
	c.run.Restore(rec.TimeSpentSeconds, rec.CurrentQuestionIndex, rec.CurrentPageIndex)
	c.sched.Record(c.recordLocked(c.run.Snapshot()))
}

func (c *Controller) resetLocked() {
	c.answers = model.AnswerMap{}
	c.startTime = c.clock.Now()
	c.run.Restore(0, 0, 0)
	c.sched.Record(c.recordLocked(c.run.Snapshot()))
}

func (c *Controller) startLocked() {
	c.state = model.SessionStateRunning
	ctx, cancel := context.WithCancel(context.Background())
	c.stopRun = cancel
	go c.run.Run(ctx)
	c.log.Info().
		Int("total_questions", c.session.TotalQuestions).
		Int("time_limit_seconds", c.session.TimeLimitSeconds).
		Int("answered", c.answers.Answered()).
		Msg("Exam session started")
}

// SelectAnswer records the selection for questionID. The progress record is
// written locally before SelectAnswer returns.
func (c *Controller) SelectAnswer(questionID string, options []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return err
	}
	if !c.session.HasQuestion(questionID) {
		return fmt.Errorf("%s: %w", questionID, ErrUnknownQuestion)
	}
	if c.run.State() != runner.StateRunning {
		return ErrNotRunning
	}

	c.answers[questionID] = model.NormalizeSelection(options)
	c.sched.Record(c.recordLocked(c.run.Snapshot()))
	return nil
}

// GoToQuestion moves to question index q.
func (c *Controller) GoToQuestion(q int) error {
	return c.navigate(func() error { return c.run.GoToQuestion(q) })
}

// GoToPage moves to page p.
func (c *Controller) GoToPage(p int) error {
	return c.navigate(func() error { return c.run.GoToPage(p) })
}

func (c *Controller) navigate(move func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return err
	}
	if err := move(); err != nil {
		return err
	}
	c.sched.Checkpoint(c.recordLocked(c.run.Snapshot()))
	return nil
}

// ForceSave writes the current progress locally and syncs the pending delta
// with the exam server without waiting for the debounce.
func (c *Controller) ForceSave(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.sched.Checkpoint(c.recordLocked(c.run.Snapshot()))
	c.mu.Unlock()

	if err := c.sched.ForceSync(ctx); err != nil {
		return fmt.Errorf("force save: %w", err)
	}
	return nil
}

// Leave tears the session down when the student navigates away. It first
// gives the force-save a bounded attempt; if that cannot be confirmed and the
// student has not confirmed leaving anyway, ErrProgressMayBeLost is returned
// and the session keeps running. Local progress is kept for recovery.
func (c *Controller) Leave(ctx context.Context, confirm bool) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == model.SessionStateRunning {
		saveCtx, cancel := context.WithTimeout(ctx, c.opts.LeaveTimeout)
		err := c.ForceSave(saveCtx)
		cancel()
		if err != nil {
			if !confirm {
				c.log.Warn().Err(err).Msg("Leave blocked: progress not confirmed")
				return fmt.Errorf("%w: %w", ErrProgressMayBeLost, err)
			}
			c.log.Warn().Err(err).Msg("Leaving with unsynced progress")
		}
	}

	c.Close()
	return nil
}

// Submit grades the exam with the answers recorded now. A failure is
// returned wrapped in ErrSubmitFailed and the exam goes back to running; a
// submission forced by the deadline stays submitting and can be retried by
// calling Submit again.
func (c *Controller) Submit(ctx context.Context) (model.SubmitResult, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if c.state == model.SessionStateEnded && c.result != nil {
		res := *c.result
		c.mu.Unlock()
		return res, nil
	}
	if err := c.checkActiveLocked(); err != nil {
		c.mu.Unlock()
		return model.SubmitResult{}, err
	}

	trigger := triggerManual
	snap := c.run.Snapshot()
	if snap.State == runner.StateSubmitting && snap.Expired {
		trigger = triggerTimeout
	} else if err := c.run.BeginSubmit(); err != nil {
		c.mu.Unlock()
		return model.SubmitResult{}, err
	}
	snap = c.run.Snapshot()
	c.state = model.SessionStateSubmitting
	answers := c.answers.Clone()
	c.sched.Checkpoint(c.recordLocked(snap))
	c.mu.Unlock()

	c.publish(EventState, "")
	return c.submit(ctx, trigger, answers, snap)
}

func (c *Controller) submit(ctx context.Context, trigger string, answers model.AnswerMap, snap runner.Snapshot) (model.SubmitResult, error) {
	res, err := c.remote.Submit(ctx, c.session.ExamID, answers, c.session.TopicID)
	if err != nil {
		metrics.Submissions.WithLabelValues(trigger, metrics.ResultError).Inc()
		c.log.Error().Err(err).Str("trigger", trigger).Msg("Submission failed")

		c.mu.Lock()
		if c.run.AbortSubmit() {
			c.state = model.SessionStateRunning
		}
		c.mu.Unlock()

		c.publish(EventSubmitFailed, err.Error())
		return model.SubmitResult{}, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	c.sched.Disable()
	c.store.Clear(c.session.ExamID)
	c.store.RecordCompletion(c.userID, model.HistoryEntry{
		ExamID:           c.session.ExamID,
		TopicID:          c.session.TopicID,
		SubjectName:      c.session.SubjectName,
		Score:            res.Score,
		Passed:           res.Passed,
		CorrectAnswers:   res.CorrectAnswers,
		TotalQuestions:   res.TotalQuestions,
		TimeSpentSeconds: snap.ElapsedSeconds,
		CompletedAt:      c.clock.Now(),
	})
	c.run.End()

	c.mu.Lock()
	c.state = model.SessionStateEnded
	c.result = &res
	if c.stopRun != nil {
		c.stopRun()
	}
	c.mu.Unlock()

	metrics.Submissions.WithLabelValues(trigger, metrics.ResultOK).Inc()
	c.log.Info().
		Str("trigger", trigger).
		Float64("score", res.Score).
		Bool("passed", res.Passed).
		Int("elapsed_seconds", snap.ElapsedSeconds).
		Msg("Exam submitted")

	c.publish(EventState, "")
	return res, nil
}

func (c *Controller) onTick(snap runner.Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.ticks++
	if c.ticks%c.opts.CheckpointEvery == 0 {
		c.sched.Checkpoint(c.recordLocked(snap))
	}
	c.mu.Unlock()

	c.publish(EventTick, "")
}

// onExpire runs on the runner's goroutine; the runner is already
// submitting, so the answers can no longer change.
func (c *Controller) onExpire(snap runner.Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = model.SessionStateSubmitting
	answers := c.answers.Clone()
	c.sched.Checkpoint(c.recordLocked(snap))
	c.mu.Unlock()

	c.log.Info().Int("elapsed_seconds", snap.ElapsedSeconds).Msg("Time is up, submitting")
	c.publish(EventState, "")

	go func() {
		c.submitMu.Lock()
		defer c.submitMu.Unlock()

		c.mu.Lock()
		done := c.state == model.SessionStateEnded || c.closed
		c.mu.Unlock()
		if done {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		_, _ = c.submit(ctx, triggerTimeout, answers, snap)
	}()
}

// Close stops timers and the autosave scheduler. Local progress is kept.
// Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.state != model.SessionStateEnded {
		c.state = model.SessionStateClosed
	}
	if c.stopRun != nil {
		c.stopRun()
	}
	c.mu.Unlock()

	c.sched.Disable()
	metrics.ActiveSessions.Dec()
	c.log.Info().Msg("Exam session closed")

	c.subMu.Lock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.subMu.Unlock()
}

// View returns the read model of the session.
func (c *Controller) View() model.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() model.SessionView {
	snap := c.run.Snapshot()
	status := c.sched.Status()

	v := model.SessionView{
		Session:              c.session,
		State:                c.state,
		Answers:              c.answers.Clone(),
		ElapsedSeconds:       snap.ElapsedSeconds,
		RemainingSeconds:     snap.RemainingSeconds,
		CurrentQuestionIndex: snap.QuestionIndex,
		CurrentPageIndex:     snap.PageIndex,
		PageCount:            snap.PageCount,
		Unsaved:              status.Unsaved,
		LastSaved:            status.LastSaved,
		Recovery:             c.candidate,
		Result:               c.result,
	}
	if c.state == model.SessionStateAwaitingRecovery {
		v.Answers = model.AnswerMap{}
	}
	return v
}

// Subscribe returns a channel of session events. Slow subscribers miss
// events rather than block the session. The channel is closed by Close or
// by the returned cancel function.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	c.subMu.Lock()
	if closed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) publish(typ EventType, errMsg string) {
	ev := Event{Type: typ, View: c.View(), Error: errMsg}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Controller) checkActiveLocked() error {
	switch {
	case c.closed:
		return ErrSessionClosed
	case c.state == model.SessionStateAwaitingRecovery:
		return ErrAwaitingRecovery
	case c.state == model.SessionStateEnded:
		return ErrNotRunning
	}
	return nil
}

func (c *Controller) recordLocked(snap runner.Snapshot) model.ProgressRecord {
	return model.ProgressRecord{
		ExamID:               c.session.ExamID,
		UserID:               c.userID,
		Answers:              c.answers.Clone(),
		TimeSpentSeconds:     snap.ElapsedSeconds,
		CurrentQuestionIndex: snap.QuestionIndex,
		CurrentPageIndex:     snap.PageIndex,
		StartTime:            c.startTime,
		LastActivity:         c.clock.Now(),
		TotalQuestions:       c.session.TotalQuestions,
		TopicID:              c.session.TopicID,
		SubjectID:            c.session.SubjectID,
		SubjectName:          c.session.SubjectName,
		TimeLimitSeconds:     c.session.TimeLimitSeconds,
		PassScore:            c.session.PassScore,
	}
}

// isTerminal reports whether the session can be replaced by a new one.
func (c *Controller) isTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.state == model.SessionStateEnded
}

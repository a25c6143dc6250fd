// Package recovery surfaces unfinished local progress and lets the student
// decide whether to resume or discard it.
package recovery

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
)

// ErrNotRecoverable is returned by Restore when the record behind a
// candidate disappeared or no longer passes validation.
var ErrNotRecoverable = errors.New("progress is no longer recoverable")

// Store is the subset of the progress store the negotiator needs.
type Store interface {
	Load(examID string) (model.ProgressRecord, bool)
	Clear(examID string)
	ListAll() iter.Seq[model.ProgressRecord]
}

// Negotiator never restores on its own: it only reports candidates and acts
// on an explicit Restore or Discard.
type Negotiator struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Negotiator {
	return &Negotiator{
		store: store,
		log:   log.With().Str("component", "recovery").Logger(),
	}
}

// Check returns the candidate for examID if it has a non-empty answer map.
func (n *Negotiator) Check(examID string) (model.RecoveryCandidate, bool) {
	rec, ok := n.store.Load(examID)
	if !ok {
		return model.RecoveryCandidate{}, false
	}
	return n.candidate(rec)
}

// CheckAll lists every candidate, most recently active first.
func (n *Negotiator) CheckAll() []model.RecoveryCandidate {
	return n.collect(func(model.ProgressRecord) bool { return true })
}

// CheckFor lists the candidates owned by userID, most recently active first.
func (n *Negotiator) CheckFor(userID string) []model.RecoveryCandidate {
	return n.collect(func(rec model.ProgressRecord) bool { return rec.UserID == userID })
}

func (n *Negotiator) collect(keep func(model.ProgressRecord) bool) []model.RecoveryCandidate {
	out := []model.RecoveryCandidate{}
	for rec := range n.store.ListAll() {
		if !keep(rec) {
			continue
		}
		if c, ok := n.candidate(rec); ok {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b model.RecoveryCandidate) int {
		return b.LastActivity.Compare(a.LastActivity)
	})
	return out
}

// Restore returns the full record behind c. The caller applies it as a
// whole: answers, elapsed time and navigation position together.
func (n *Negotiator) Restore(c model.RecoveryCandidate) (model.ProgressRecord, error) {
	rec, ok := n.store.Load(c.ExamID)
	if !ok {
		return model.ProgressRecord{}, fmt.Errorf("restore %s: %w", c.ExamID, ErrNotRecoverable)
	}
	if err := validate(rec); err != nil {
		n.discardInvalid(rec.ExamID, err)
		return model.ProgressRecord{}, fmt.Errorf("restore %s: %w", c.ExamID, ErrNotRecoverable)
	}
	rec.Answers = rec.Answers.Clone()
	n.log.Info().Str("exam_id", c.ExamID).Int("answered", rec.Answers.Answered()).Msg("Progress restored")
	return rec, nil
}

// Discard drops the local progress of examID.
func (n *Negotiator) Discard(examID string) {
	n.store.Clear(examID)
	n.log.Info().Str("exam_id", examID).Msg("Progress discarded")
}

func (n *Negotiator) candidate(rec model.ProgressRecord) (model.RecoveryCandidate, bool) {
	if err := validate(rec); err != nil {
		n.discardInvalid(rec.ExamID, err)
		return model.RecoveryCandidate{}, false
	}
	answered := rec.Answers.Answered()
	if answered == 0 {
		return model.RecoveryCandidate{}, false
	}

	c := model.RecoveryCandidate{
		ExamID:         rec.ExamID,
		UserID:         rec.UserID,
		Label:          label(rec),
		AnsweredCount:  answered,
		TotalQuestions: rec.TotalQuestions,
		ElapsedSeconds: rec.TimeSpentSeconds,
		LastActivity:   rec.LastActivity,
	}
	if rec.TotalQuestions > 0 {
		c.PercentComplete = answered * 100 / rec.TotalQuestions
	}
	if rec.TimeLimitSeconds > 0 {
		remaining := max(rec.TimeLimitSeconds-rec.TimeSpentSeconds, 0)
		c.RemainingSeconds = &remaining
	}
	return c, true
}

func (n *Negotiator) discardInvalid(examID string, err error) {
	n.log.Warn().Err(err).Str("exam_id", examID).Msg("Invalid progress record discarded")
	n.store.Clear(examID)
}

func validate(rec model.ProgressRecord) error {
	switch {
	case rec.TimeSpentSeconds < 0:
		return errors.New("negative time spent")
	case rec.CurrentQuestionIndex < 0 || rec.CurrentPageIndex < 0:
		return errors.New("negative navigation index")
	case rec.TotalQuestions < 0:
		return errors.New("negative question count")
	case rec.TotalQuestions > 0 && rec.CurrentQuestionIndex >= rec.TotalQuestions:
		return errors.New("question index beyond question count")
	case rec.TotalQuestions > 0 && rec.Answers.Answered() > rec.TotalQuestions:
		return errors.New("more answers than questions")
	}
	return nil
}

func label(rec model.ProgressRecord) string {
	if rec.SubjectName != "" {
		return rec.SubjectName
	}
	return "Exam " + rec.ExamID
}

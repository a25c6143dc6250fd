// Package session runs exam sessions on the agent: it wires the progress
// store, the autosave scheduler, the recovery negotiator and the runner for
// each exam a student enters.
package session

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-agent/internal/autosave"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/runner"
)

var (
	ErrSessionNotFound   = errors.New("exam session not found")
	ErrSessionClosed     = errors.New("exam session closed")
	ErrSessionActive     = errors.New("exam session is in progress")
	ErrProgressOwned     = errors.New("exam progress belongs to another student")
	ErrAwaitingRecovery  = errors.New("exam is waiting for a recovery decision")
	ErrNoPendingRecovery = errors.New("no recovery decision pending")
	ErrUnknownQuestion   = errors.New("question does not belong to this exam")
	ErrNotRunning        = runner.ErrNotRunning
	ErrOutOfRange        = runner.ErrOutOfRange
	ErrProgressMayBeLost = errors.New("progress may be lost")
	ErrSubmitFailed      = errors.New("submission failed")
)

// Store is the progress store as used by sessions.
type Store interface {
	Save(examID string, rec model.ProgressRecord)
	Load(examID string) (model.ProgressRecord, bool)
	Clear(examID string)
	ListAll() iter.Seq[model.ProgressRecord]
	PruneOlderThan(maxAge time.Duration) int
	RecordCompletion(userID string, entry model.HistoryEntry)
	Stats(userID string) model.UserStats
}

// Remote is the exam server as seen by one student.
type Remote interface {
	StartExam(ctx context.Context, topicID string) (model.ExamStart, error)
	Autosave(ctx context.Context, examID string, delta model.AnswerMap) error
	Submit(ctx context.Context, examID string, answers model.AnswerMap, topicID string) (model.SubmitResult, error)
}

// RemoteFor returns the Remote authenticated as the holder of token.
type RemoteFor func(token string) Remote

// Options tunes every session created by a Manager.
type Options struct {
	Debounce        time.Duration
	RequestTimeout  time.Duration
	TickInterval    time.Duration
	CheckpointEvery int
	PageSize        int
	LeaveTimeout    time.Duration
	PruneMaxAge     time.Duration
	Clock           clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = autosave.DefaultDebounce
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = autosave.DefaultRequestTimeout
	}
	if o.TickInterval <= 0 {
		o.TickInterval = runner.DefaultInterval
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 10
	}
	if o.PageSize <= 0 {
		o.PageSize = runner.DefaultPageSize
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = 3 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// EventType names what a session Event reports.
type EventType string

const (
	EventTick         EventType = "tick"
	EventState        EventType = "state"
	EventSubmitFailed EventType = "submit_failed"
)

// Event is pushed to subscribers of a Controller.
type Event struct {
	Type  EventType         `json:"type"`
	View  model.SessionView `json:"view"`
	Error string            `json:"error,omitempty"`
}

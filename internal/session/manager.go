package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/recovery"
)

// Manager owns every live exam session of the agent.
type Manager struct {
	store      Store
	remoteFor  RemoteFor
	negotiator *recovery.Negotiator
	opts       Options
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewManager creates a Manager. remoteFor derives the exam server client for
// a student token.
func NewManager(store Store, remoteFor RemoteFor, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		remoteFor:  remoteFor,
		negotiator: recovery.New(store, log),
		opts:       opts.withDefaults(),
		log:        log.With().Str("component", "session_manager").Logger(),
		sessions:   make(map[string]*Controller),
	}
}

// Enter starts the exam for topicID on the exam server and returns its
// controller. If unfinished local progress exists the controller waits in
// AWAITING_RECOVERY until Resolve is called; otherwise it is already running.
// Entering an exam that is live for the same student returns the live
// controller.
func (m *Manager) Enter(ctx context.Context, token, userID, topicID string) (*Controller, error) {
	remote := m.remoteFor(token)

	start, err := remote.StartExam(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("start exam: %w", err)
	}
	if start.TopicID == "" {
		start.TopicID = topicID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if live, ok := m.sessions[start.ExamID]; ok {
		if !live.isTerminal() {
			if live.UserID() != userID {
				return nil, ErrSessionActive
			}
			return live, nil
		}
		live.Close()
		delete(m.sessions, start.ExamID)
	}

	if m.opts.PruneMaxAge > 0 {
		m.store.PruneOlderThan(m.opts.PruneMaxAge)
	}

	// One progress record per exam: another student's unfinished work on
	// this workstation is neither offered nor overwritten.
	candidate, found := m.negotiator.Check(start.ExamID)
	if found && candidate.UserID != userID {
		return nil, ErrProgressOwned
	}

	c := newController(controllerParams{
		start:      start,
		userID:     userID,
		opts:       m.opts,
		store:      m.store,
		remote:     remote,
		negotiator: m.negotiator,
		log:        m.log,
	})
	m.sessions[start.ExamID] = c

	if found {
		c.awaitRecovery(candidate)
		m.log.Info().
			Str("exam_id", start.ExamID).
			Int("answered", candidate.AnsweredCount).
			Msg("Unfinished progress found, awaiting decision")
		return c, nil
	}

	c.begin()
	return c, nil
}

// Get returns the live controller of examID owned by userID.
func (m *Manager) Get(userID, examID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.sessions[examID]
	if !ok || c.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Leave navigates the student away from examID. See Controller.Leave.
func (m *Manager) Leave(ctx context.Context, userID, examID string, confirm bool) error {
	c, err := m.Get(userID, examID)
	if err != nil {
		return err
	}
	if err := c.Leave(ctx, confirm); err != nil {
		return err
	}
	m.remove(c)
	return nil
}

// Candidates lists the unfinished exams of userID that can be resumed.
func (m *Manager) Candidates(userID string) []model.RecoveryCandidate {
	return m.negotiator.CheckFor(userID)
}

// Discard drops the local progress of an exam that is not running. A session
// waiting for a recovery decision is resolved as discarded. Progress owned by
// another student is reported as not found.
func (m *Manager) Discard(userID, examID string) error {
	m.mu.Lock()
	c, ok := m.sessions[examID]
	m.mu.Unlock()

	if ok && !c.isTerminal() {
		if c.UserID() != userID {
			return ErrSessionActive
		}
		err := c.Resolve(false)
		if errors.Is(err, ErrNoPendingRecovery) {
			return ErrSessionActive
		}
		return err
	}
	if rec, ok := m.store.Load(examID); ok && rec.UserID != userID {
		return ErrSessionNotFound
	}
	m.negotiator.Discard(examID)
	return nil
}

// Stats returns the completed-exam statistics of userID.
func (m *Manager) Stats(userID string) model.UserStats {
	return m.store.Stats(userID)
}

// Shutdown gives every running session a bounded force-save and closes all
// sessions. Local progress stays on disk for recovery after restart.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	live := make([]*Controller, 0, len(m.sessions))
	for id, c := range m.sessions {
		live = append(live, c)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Leave(ctx, true)
		}()
	}
	wg.Wait()

	if len(live) > 0 {
		m.log.Info().Int("count", len(live)).Msg("Sessions closed")
	}
}

func (m *Manager) remove(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[c.ExamID()] == c {
		delete(m.sessions, c.ExamID())
	}
}

package progress

import (
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/metrics"
	"github.com/stemsi/exstem-agent/internal/model"
)

// Store persists ProgressRecords per exam and the per-user statistics.
// It holds no business logic: every failure is logged and swallowed so a
// lost autosave tick never reaches the exam session.
type Store struct {
	kv    Substrate
	keys  *config.StorageKeyStruct
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewStore creates a Store over kv.
func NewStore(kv Substrate, clock clockwork.Clock, log zerolog.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		kv:    kv,
		keys:  config.StorageKey,
		clock: clock,
		log:   log.With().Str("component", "progress_store").Logger(),
	}
}

// Save writes rec under examID, overwriting any previous record.
// LastActivity never moves backwards for the same exam.
func (s *Store) Save(examID string, rec model.ProgressRecord) {
	if examID == "" {
		s.log.Warn().Msg("Save called without exam id")
		metrics.ProgressWrites.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	rec.ExamID = examID
	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}

	if prev, ok := s.Load(examID); ok && rec.LastActivity.Before(prev.LastActivity) {
		rec.LastActivity = prev.LastActivity
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Encode progress record")
		metrics.ProgressWrites.WithLabelValues(metrics.ResultError).Inc()
		return
	}

	if err := s.kv.Set(s.keys.ProgressKey(examID), string(data)); err != nil {
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Write progress record")
		metrics.ProgressWrites.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	metrics.ProgressWrites.WithLabelValues(metrics.ResultOK).Inc()
}

// Load returns the record stored for examID. Missing and malformed records
// both report false.
func (s *Store) Load(examID string) (model.ProgressRecord, bool) {
	rec, res := s.read(examID)
	return rec, res == readOK
}

type readResult int

const (
	readOK readResult = iota
	readMissing
	// readCorrupt marks a value that is present but can never be decoded:
	// bad JSON, a record stored under another exam's key, or a sealed
	// value the current passphrase cannot open.
	readCorrupt
	// readFailed marks a substrate error that may clear up on retry.
	readFailed
)

func (s *Store) read(examID string) (model.ProgressRecord, readResult) {
	raw, ok, err := s.kv.Get(s.keys.ProgressKey(examID))
	if errors.Is(err, ErrSealBroken) {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Unreadable progress record ignored")
		metrics.ProgressCorrupt.Inc()
		return model.ProgressRecord{}, readCorrupt
	}
	if err != nil {
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Read progress record")
		return model.ProgressRecord{}, readFailed
	}
	if !ok {
		return model.ProgressRecord{}, readMissing
	}

	var rec model.ProgressRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Malformed progress record ignored")
		metrics.ProgressCorrupt.Inc()
		return model.ProgressRecord{}, readCorrupt
	}
	if rec.ExamID != examID {
		s.log.Warn().Str("exam_id", examID).Str("stored_exam_id", rec.ExamID).Msg("Progress record under wrong key ignored")
		metrics.ProgressCorrupt.Inc()
		return model.ProgressRecord{}, readCorrupt
	}
	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}
	return rec, readOK
}

// Clear removes the record for examID. Clearing a missing record is a no-op.
func (s *Store) Clear(examID string) {
	if err := s.kv.Remove(s.keys.ProgressKey(examID)); err != nil {
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Remove progress record")
	}
}

// ListAll yields every readable record currently in the store. Each range
// over the sequence re-enumerates the substrate keys.
func (s *Store) ListAll() iter.Seq[model.ProgressRecord] {
	return func(yield func(model.ProgressRecord) bool) {
		for _, examID := range s.examIDs() {
			rec, ok := s.Load(examID)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// PruneOlderThan deletes every record whose LastActivity predates
// now - maxAge and returns how many were deleted. Records that can never be
// decoded are deleted too, whatever their age; records whose read failed
// are left for a later pass.
func (s *Store) PruneOlderThan(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)
	pruned, corrupt := 0, 0
	for _, examID := range s.examIDs() {
		rec, res := s.read(examID)
		switch res {
		case readCorrupt:
			corrupt++
		case readOK:
			if !rec.LastActivity.Before(cutoff) {
				continue
			}
		default:
			continue
		}
		s.Clear(examID)
		pruned++
	}
	if pruned > 0 {
		metrics.ProgressPruned.Add(float64(pruned))
		s.log.Info().
			Int("count", pruned).
			Int("unreadable", corrupt).
			Dur("max_age", maxAge).
			Msg("Pruned stale progress records")
	}
	return pruned
}

// RecordCompletion folds a graded attempt into the user's statistics.
func (s *Store) RecordCompletion(userID string, entry model.HistoryEntry) {
	stats := s.Stats(userID)
	stats.Add(entry)

	data, err := json.Marshal(stats)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Encode user stats")
		return
	}
	if err := s.kv.Set(s.keys.StatsKey(userID), string(data)); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Write user stats")
	}
}

// Stats returns the user's statistics, or empty statistics when none are
// stored or the stored value is unreadable.
func (s *Store) Stats(userID string) model.UserStats {
	empty := model.UserStats{UserID: userID, History: []model.HistoryEntry{}}

	raw, ok, err := s.kv.Get(s.keys.StatsKey(userID))
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Read user stats")
		return empty
	}
	if !ok {
		return empty
	}

	var stats model.UserStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Malformed user stats ignored")
		return empty
	}
	stats.UserID = userID
	if stats.History == nil {
		stats.History = []model.HistoryEntry{}
	}
	return stats
}

func (s *Store) examIDs() []string {
	keys, err := s.kv.Keys(s.keys.ProgressPrefix())
	if err != nil {
		s.log.Error().Err(err).Msg("List progress keys")
		return nil
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := s.keys.ExamIDFromProgressKey(key); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

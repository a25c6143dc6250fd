package model

import "time"

// MaxHistoryEntries bounds the per-user history kept in local storage.
const MaxHistoryEntries = 50

// UserStats aggregates a student's completed exams on this workstation.
// It is updated only on successful submission.
type UserStats struct {
	UserID                string         `json:"user_id"`
	TotalExams            int            `json:"total_exams"`
	TotalTimeSpentSeconds int            `json:"total_time_spent_seconds"`
	History               []HistoryEntry `json:"history"`
}

// HistoryEntry records one graded attempt.
type HistoryEntry struct {
	ExamID           string    `json:"exam_id"`
	TopicID          string    `json:"topic_id,omitempty"`
	SubjectName      string    `json:"subject_name,omitempty"`
	Score            float64   `json:"score"`
	Passed           bool      `json:"passed"`
	CorrectAnswers   int       `json:"correct_answers"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Add prepends entry and keeps the history bounded.
func (s *UserStats) Add(entry HistoryEntry) {
	s.TotalExams++
	s.TotalTimeSpentSeconds += entry.TimeSpentSeconds
	s.History = append([]HistoryEntry{entry}, s.History...)
	if len(s.History) > MaxHistoryEntries {
		s.History = s.History[:MaxHistoryEntries]
	}
}

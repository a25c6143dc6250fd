package model

import (
	"time"
)

// ExamSession identifies one attempt at one exam.
type ExamSession struct {
	ExamID           string   `json:"exam_id"`
	TopicID          string   `json:"topic_id,omitempty"`
	SubjectID        string   `json:"subject_id,omitempty"`
	SubjectName      string   `json:"subject_name,omitempty"`
	TotalQuestions   int      `json:"total_questions"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
	PassScore        float64  `json:"pass_score"`
	QuestionIDs      []string `json:"question_ids"`
}

// Timed reports whether the session has a deadline. An untimed session never
// forces a submission.
func (s ExamSession) Timed() bool {
	return s.TimeLimitSeconds > 0
}

// HasQuestion reports whether qID belongs to the session's question set.
func (s ExamSession) HasQuestion(qID string) bool {
	for _, id := range s.QuestionIDs {
		if id == qID {
			return true
		}
	}
	return false
}

// ProgressRecord is the persisted snapshot of one ExamSession.
type ProgressRecord struct {
	ExamID               string    `json:"exam_id"`
	UserID               string    `json:"user_id"`
	Answers              AnswerMap `json:"answers"`
	TimeSpentSeconds     int       `json:"time_spent_seconds"`
	CurrentQuestionIndex int       `json:"current_question_index"`
	CurrentPageIndex     int       `json:"current_page_index"`
	StartTime            time.Time `json:"start_time"`
	LastActivity         time.Time `json:"last_activity"`
	TotalQuestions       int       `json:"total_questions"`

	// Session metadata copied from ExamSession.
	TopicID          string  `json:"topic_id,omitempty"`
	SubjectID        string  `json:"subject_id,omitempty"`
	SubjectName      string  `json:"subject_name,omitempty"`
	TimeLimitSeconds int     `json:"time_limit_seconds"`
	PassScore        float64 `json:"pass_score"`
}

// RecoveryCandidate describes an exam with unfinished local progress.
// It is derived from a ProgressRecord on demand and never persisted.
type RecoveryCandidate struct {
	ExamID           string    `json:"exam_id"`
	UserID           string    `json:"user_id"`
	Label            string    `json:"label"`
	AnsweredCount    int       `json:"answered_count"`
	TotalQuestions   int       `json:"total_questions"`
	PercentComplete  int       `json:"percent_complete"`
	ElapsedSeconds   int       `json:"elapsed_seconds"`
	RemainingSeconds *int      `json:"remaining_seconds,omitempty"`
	LastActivity     time.Time `json:"last_activity"`
}

// SessionState enumerates the lifecycle of a controller as seen by the UI.
type SessionState string

const (
	SessionStateAwaitingRecovery SessionState = "AWAITING_RECOVERY"
	SessionStateRunning          SessionState = "RUNNING"
	SessionStateSubmitting       SessionState = "SUBMITTING"
	SessionStateEnded            SessionState = "ENDED"
	SessionStateClosed           SessionState = "CLOSED"
)

// SessionView is the read model of a live exam returned to the UI.
type SessionView struct {
	Session              ExamSession        `json:"session"`
	State                SessionState       `json:"state"`
	Answers              AnswerMap          `json:"answers"`
	ElapsedSeconds       int                `json:"elapsed_seconds"`
	RemainingSeconds     *int               `json:"remaining_seconds,omitempty"`
	CurrentQuestionIndex int                `json:"current_question_index"`
	CurrentPageIndex     int                `json:"current_page_index"`
	PageCount            int                `json:"page_count"`
	Unsaved              bool               `json:"unsaved"`
	LastSaved            *time.Time         `json:"last_saved,omitempty"`
	Recovery             *RecoveryCandidate `json:"recovery,omitempty"`
	Result               *SubmitResult      `json:"result,omitempty"`
}

package model

// Topic is the canonical catalogue entry an exam is started from.
type Topic struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	SubjectID        string  `json:"subject_id,omitempty"`
	SubjectName      string  `json:"subject_name,omitempty"`
	QuestionCount    int     `json:"question_count,omitempty"`
	TimeLimitMinutes int     `json:"time_limit_minutes,omitempty"`
	PassScore        float64 `json:"pass_score,omitempty"`
}

// EnterExamRequest is the payload for entering an exam from a topic.
type EnterExamRequest struct {
	TopicID string `json:"topic_id" binding:"required,min=1,max=64,ref"`
}

// RecoveryAction enumerates the student's answer to a recovery prompt.
type RecoveryAction string

const (
	RecoveryActionRestore RecoveryAction = "restore"
	RecoveryActionDiscard RecoveryAction = "discard"
)

// ResolveRecoveryRequest is the payload answering a recovery prompt.
type ResolveRecoveryRequest struct {
	Action RecoveryAction `json:"action" binding:"required,oneof=restore discard"`
}

// LeaveExamRequest is the payload for navigating away from a running exam.
type LeaveExamRequest struct {
	Confirm bool `json:"confirm"`
}

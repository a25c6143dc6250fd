package model

import (
	"encoding/json"
)

// Question is an exam question as delivered to the student. The agent only
// relies on ID; text and options are passed through to the UI untouched.
type Question struct {
	ID           string          `json:"id"`
	QuestionText string          `json:"question_text,omitempty"`
	QuestionType QuestionType    `json:"question_type,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
	OrderNum     int             `json:"order_num,omitempty"`
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMultipleAnswer QuestionType = "MULTIPLE_ANSWER"
)

// SelectAnswerRequest is the payload for answering one question.
type SelectAnswerRequest struct {
	Options []string `json:"options" binding:"omitempty,max=26,dive,min=1,max=64,ref"`
}

// NavigateRequest moves the current question or page pointer.
// Exactly one of the two indexes must be set.
type NavigateRequest struct {
	QuestionIndex *int `json:"question_index" binding:"omitempty,min=0"`
	PageIndex     *int `json:"page_index" binding:"omitempty,min=0"`
}

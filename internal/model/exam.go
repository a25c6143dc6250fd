package model

// ExamStart is the canonical result of the exam-start collaborator.
type ExamStart struct {
	ExamID           string     `json:"exam_id"`
	TopicID          string     `json:"topic_id,omitempty"`
	SubjectID        string     `json:"subject_id,omitempty"`
	SubjectName      string     `json:"subject_name,omitempty"`
	Questions        []Question `json:"questions"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	PassScore        float64    `json:"pass_score"`
	SavedAnswers     AnswerMap  `json:"saved_answers,omitempty"`
}

// Session derives the ExamSession the controller runs on.
func (e ExamStart) Session() ExamSession {
	ids := make([]string, 0, len(e.Questions))
	for _, q := range e.Questions {
		ids = append(ids, q.ID)
	}
	limit := e.TimeLimitMinutes * 60
	if limit < 0 {
		limit = 0
	}
	return ExamSession{
		ExamID:           e.ExamID,
		TopicID:          e.TopicID,
		SubjectID:        e.SubjectID,
		SubjectName:      e.SubjectName,
		TotalQuestions:   len(e.Questions),
		TimeLimitSeconds: limit,
		PassScore:        e.PassScore,
		QuestionIDs:      ids,
	}
}

// StartExamRequest is the payload sent to the exam-start collaborator.
type StartExamRequest struct {
	TopicID string `json:"topic_id"`
}

// AutosaveRequest carries a SyncDelta to the autosave collaborator.
type AutosaveRequest struct {
	Answers AnswerMap `json:"answers"`
}

// SubmitRequest carries the full AnswerMap to the submission collaborator.
type SubmitRequest struct {
	Answers AnswerMap `json:"answers"`
	TopicID string    `json:"topic_id,omitempty"`
}

// SubmitResult is the grading outcome returned on submission.
type SubmitResult struct {
	Score          float64 `json:"score"`
	Passed         bool    `json:"passed"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalQuestions int     `json:"total_questions"`
	PassScore      float64 `json:"pass_score"`
}

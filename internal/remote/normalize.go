package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stemsi/exstem-agent/internal/model"
)

// topicShape tags the layouts the topic catalogue has been served in.
type topicShape int

const (
	shapeUnknown      topicShape = iota
	shapeBareArray               // [ {topic}, ... ]
	shapeTopics                  // { "topics": [...] }
	shapeDataArray               // { "data": [...] }
	shapeDataSubjects            // { "data": { "subjects": [ { ..., "topics": [...] } ] } }
	shapeDataTopics              // { "data": { "topics": [...] } }
)

func (s topicShape) String() string {
	switch s {
	case shapeBareArray:
		return "bare_array"
	case shapeTopics:
		return "topics"
	case shapeDataArray:
		return "data_array"
	case shapeDataSubjects:
		return "data_subjects"
	case shapeDataTopics:
		return "data_topics"
	default:
		return "unknown"
	}
}

// flexString accepts a JSON string or number. Identifiers are UUID strings
// on current servers and integers on older ones.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexSelection accepts a single option ID or a list of them.
type flexSelection []string

func (f *flexSelection) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = flexSelection{}
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var ids []flexString
		if err := json.Unmarshal(b, &ids); err != nil {
			return err
		}
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, string(id))
		}
		*f = out
		return nil
	}
	var id flexString
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	*f = flexSelection{string(id)}
	return nil
}

type wireTopic struct {
	ID               flexString `json:"id"`
	Name             string     `json:"name"`
	Title            string     `json:"title"`
	SubjectID        flexString `json:"subject_id"`
	SubjectName      string     `json:"subject_name"`
	QuestionCount    int        `json:"question_count"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	DurationMinutes  int        `json:"duration_minutes"`
	PassScore        float64    `json:"pass_score"`
}

func (w wireTopic) topic() model.Topic {
	t := model.Topic{
		ID:               string(w.ID),
		Name:             w.Name,
		SubjectID:        string(w.SubjectID),
		SubjectName:      w.SubjectName,
		QuestionCount:    w.QuestionCount,
		TimeLimitMinutes: w.TimeLimitMinutes,
		PassScore:        w.PassScore,
	}
	if t.Name == "" {
		t.Name = w.Title
	}
	if t.TimeLimitMinutes == 0 {
		t.TimeLimitMinutes = w.DurationMinutes
	}
	return t
}

type wireSubject struct {
	ID     flexString  `json:"id"`
	Name   string      `json:"name"`
	Topics []wireTopic `json:"topics"`
}

// detectTopicShape classifies raw and returns the JSON holding the payload
// for that shape.
func detectTopicShape(raw []byte) (topicShape, json.RawMessage) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return shapeUnknown, nil
	}
	if raw[0] == '[' {
		return shapeBareArray, raw
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return shapeUnknown, nil
	}
	if topics, ok := top["topics"]; ok {
		return shapeTopics, topics
	}
	data, ok := top["data"]
	if !ok {
		return shapeUnknown, nil
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return shapeDataArray, data
	}

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(data, &inner); err != nil {
		return shapeUnknown, nil
	}
	if subjects, ok := inner["subjects"]; ok {
		return shapeDataSubjects, subjects
	}
	if topics, ok := inner["topics"]; ok {
		return shapeDataTopics, topics
	}
	return shapeUnknown, nil
}

// NormalizeTopics turns any known catalogue layout into a flat topic list.
func NormalizeTopics(raw []byte) ([]model.Topic, error) {
	shape, payload := detectTopicShape(raw)

	var wire []wireTopic
	switch shape {
	case shapeBareArray, shapeTopics, shapeDataArray, shapeDataTopics:
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, fmt.Errorf("decode %s topics: %w", shape, err)
		}
	case shapeDataSubjects:
		var subjects []wireSubject
		if err := json.Unmarshal(payload, &subjects); err != nil {
			return nil, fmt.Errorf("decode %s topics: %w", shape, err)
		}
		for _, s := range subjects {
			for _, t := range s.Topics {
				if t.SubjectID == "" {
					t.SubjectID = s.ID
				}
				if t.SubjectName == "" {
					t.SubjectName = s.Name
				}
				wire = append(wire, t)
			}
		}
	default:
		return nil, fmt.Errorf("decode topics: %w", ErrMalformedResponse)
	}

	topics := make([]model.Topic, 0, len(wire))
	for _, w := range wire {
		topics = append(topics, w.topic())
	}
	return topics, nil
}

// unwrapData returns the "data" member of an ExStem envelope, or raw itself
// when the body is not enveloped. want is a key only the bare payload has.
func unwrapData(raw []byte, want string) json.RawMessage {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return raw
	}
	if _, ok := top[want]; ok {
		return raw
	}
	if data, ok := top["data"]; ok {
		return data
	}
	return raw
}

type wireQuestion struct {
	ID           flexString      `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType string          `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

type wireExamStart struct {
	ExamID           flexString               `json:"exam_id"`
	TopicID          flexString               `json:"topic_id"`
	SubjectID        flexString               `json:"subject_id"`
	SubjectName      string                   `json:"subject_name"`
	Questions        []wireQuestion           `json:"questions"`
	TimeLimitMinutes int                      `json:"time_limit_minutes"`
	DurationMinutes  int                      `json:"duration_minutes"`
	PassScore        float64                  `json:"pass_score"`
	SavedAnswers     map[string]flexSelection `json:"saved_answers"`
}

// NormalizeExamStart decodes the exam-start result, bare or enveloped.
func NormalizeExamStart(raw []byte) (model.ExamStart, error) {
	var w wireExamStart
	if err := json.Unmarshal(unwrapData(raw, "exam_id"), &w); err != nil {
		return model.ExamStart{}, fmt.Errorf("decode exam start: %w", err)
	}
	if w.ExamID == "" {
		return model.ExamStart{}, fmt.Errorf("decode exam start: missing exam_id: %w", ErrMalformedResponse)
	}

	start := model.ExamStart{
		ExamID:           string(w.ExamID),
		TopicID:          string(w.TopicID),
		SubjectID:        string(w.SubjectID),
		SubjectName:      w.SubjectName,
		Questions:        make([]model.Question, 0, len(w.Questions)),
		TimeLimitMinutes: w.TimeLimitMinutes,
		PassScore:        w.PassScore,
	}
	if start.TimeLimitMinutes == 0 {
		start.TimeLimitMinutes = w.DurationMinutes
	}

	seen := make(map[string]bool, len(w.Questions))
	for i, q := range w.Questions {
		id := string(q.ID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		if seen[id] {
			return model.ExamStart{}, fmt.Errorf("decode exam start: duplicate question %s: %w", id, ErrMalformedResponse)
		}
		seen[id] = true
		start.Questions = append(start.Questions, model.Question{
			ID:           id,
			QuestionText: q.QuestionText,
			QuestionType: model.QuestionType(q.QuestionType),
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		})
	}

	if len(w.SavedAnswers) > 0 {
		start.SavedAnswers = make(model.AnswerMap, len(w.SavedAnswers))
		for qID, sel := range w.SavedAnswers {
			if !seen[qID] {
				continue
			}
			start.SavedAnswers[qID] = model.NormalizeSelection(sel)
		}
	}
	return start, nil
}

type wireSubmitResult struct {
	Score          float64 `json:"score"`
	Passed         bool    `json:"passed"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalQuestions int     `json:"total_questions"`
	PassScore      float64 `json:"pass_score"`
}

// NormalizeSubmitResult decodes the grading result, bare or enveloped.
func NormalizeSubmitResult(raw []byte) (model.SubmitResult, error) {
	var w wireSubmitResult
	if err := json.Unmarshal(unwrapData(raw, "score"), &w); err != nil {
		return model.SubmitResult{}, fmt.Errorf("decode submit result: %w", err)
	}
	return model.SubmitResult(w), nil
}

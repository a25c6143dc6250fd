package websocket

import (
	"github.com/stemsi/exstem-agent/internal/model"
)

// ─── Actions (Client → Agent) ───────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSave     Action = "save"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload carries every action. Fields unused by an action are
// ignored.
type RequestPayload struct {
	Action        Action   `json:"action"`
	QuestionID    string   `json:"question_id,omitempty"`
	Options       []string `json:"options,omitempty"`
	QuestionIndex *int     `json:"question_index,omitempty"`
	PageIndex     *int     `json:"page_index,omitempty"`
}

// ─── Events (Agent → Client) ────────────────────────────────────────

type Event string

const (
	EventTick         Event = "tick"
	EventState        Event = "state"
	EventSubmitFailed Event = "submit_failed"
	EventAck          Event = "ack"
	EventGraded       Event = "graded"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// SessionEvent pushes the session view, on every tick and state change.
type SessionEvent struct {
	Event Event             `json:"event"`
	View  model.SessionView `json:"view"`
	Error string            `json:"error,omitempty"`
}

// AckResponse confirms an answer, navigate or save action.
type AckResponse struct {
	Event  Event             `json:"event"`
	Action Action            `json:"action"`
	View   model.SessionView `json:"view"`
}

type GradedResponse struct {
	Event  Event              `json:"event"`
	Result model.SubmitResult `json:"result"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

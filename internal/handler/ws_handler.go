package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/response"
	"github.com/stemsi/exstem-agent/internal/session"
	ws "github.com/stemsi/exstem-agent/internal/websocket"
)

const eventBuffer = 16

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session to the UI.
type WSHandler struct {
	sessions Sessions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions Sessions, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/exams/:exam_id/stream?token=...
// Pushes tick and state events of an entered exam and accepts answer,
// navigate, save, submit and ping actions.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	// Resolve the session before upgrading so a bad exam ID gets a normal
	// HTTP error.
	ctrl, err := h.sessions.Get(claims.StudentID(), c.Param("exam_id"))
	if err != nil {
		failWith(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)

	wsLog := h.log.With().
		Str("student_id", claims.StudentID()).
		Str("exam_id", ctrl.ExamID()).
		Logger()
	wsLog.Info().Msg("Student connected")

	events, unsubscribe := ctrl.Subscribe(eventBuffer)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pump(conn, events)
	}()

	conn.WriteTyped(ws.SessionEvent{Event: ws.EventState, View: ctrl.View()})

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(conn, wsLog, ctrl, &msg)
	}

	unsubscribe()
	<-pumpDone
	conn.Close("")
}

// pump forwards session events until the subscription ends. A session closed
// from elsewhere closes the socket.
func (h *WSHandler) pump(conn *ws.Conn, events <-chan session.Event) {
	for ev := range events {
		out := ws.SessionEvent{View: ev.View, Error: ev.Error}
		switch ev.Type {
		case session.EventTick:
			out.Event = ws.EventTick
		case session.EventSubmitFailed:
			out.Event = ws.EventSubmitFailed
		default:
			out.Event = ws.EventState
		}
		if err := conn.WriteTyped(out); err != nil {
			return
		}
	}
	conn.Close("session closed")
}

func (h *WSHandler) dispatch(conn *ws.Conn, wsLog zerolog.Logger, ctrl *session.Controller, msg *ws.RequestPayload) {
	var err error
	switch msg.Action {
	case ws.ActionPing:
		conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		return

	case ws.ActionAnswer:
		if msg.QuestionID == "" {
			conn.WriteError(msg.Action, string(response.ErrValidation), "question_id is required")
			return
		}
		err = ctrl.SelectAnswer(msg.QuestionID, msg.Options)

	case ws.ActionNavigate:
		err = navigate(ctrl, msg.QuestionIndex, msg.PageIndex)

	case ws.ActionSave:
		err = ctrl.ForceSave(context.Background())

	case ws.ActionSubmit:
		result, err := ctrl.Submit(context.Background())
		if err != nil {
			wsLog.Warn().Err(err).Msg("Submit over WebSocket failed")
			writeActionError(conn, msg.Action, err)
			return
		}
		conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: result})
		return

	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		conn.WriteError(msg.Action, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		return
	}

	if err != nil {
		writeActionError(conn, msg.Action, err)
		return
	}
	conn.WriteTyped(ws.AckResponse{Event: ws.EventAck, Action: msg.Action, View: ctrl.View()})
}

func writeActionError(conn *ws.Conn, action ws.Action, err error) {
	code := response.ErrValidation
	if !errors.Is(err, errNavigateTarget) {
		_, code = classify(err)
	}
	if action == ws.ActionSave && (code == response.ErrInternal || code == response.ErrUpstreamUnavailable) {
		code = response.ErrSaveFailed
	}
	conn.WriteError(action, string(code), response.GetMessage(code))
}

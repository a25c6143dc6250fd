package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/recovery"
	"github.com/stemsi/exstem-agent/internal/response"
	"github.com/stemsi/exstem-agent/internal/service"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/validator"
)

// TopicLister reads the topic catalogue of the exam server.
type TopicLister interface {
	ListTopics(ctx context.Context) ([]model.Topic, error)
}

// TopicsFor returns the TopicLister authenticated as the holder of token.
type TopicsFor func(token string) TopicLister

// Sessions is the part of session.Manager the handlers drive.
type Sessions interface {
	Enter(ctx context.Context, token, userID, topicID string) (*session.Controller, error)
	Get(userID, examID string) (*session.Controller, error)
	Leave(ctx context.Context, userID, examID string, confirm bool) error
	Candidates(userID string) []model.RecoveryCandidate
	Discard(userID, examID string) error
	Stats(userID string) model.UserStats
}

// ExamHandler serves the exam UI running next to the agent.
type ExamHandler struct {
	sessions  Sessions
	topicsFor TopicsFor
	log       zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(sessions Sessions, topicsFor TopicsFor, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		sessions:  sessions,
		topicsFor: topicsFor,
		log:       log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListTopics godoc
// GET /api/v1/topics
// Returns the topics the student can start an exam from.
func (h *ExamHandler) ListTopics(c *gin.Context) {
	if _, ok := studentClaims(c); !ok {
		return
	}

	topics, err := h.topicsFor(middleware.GetToken(c)).ListTopics(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("List topics failed")
		failWith(c, err)
		return
	}
	if topics == nil {
		topics = []model.Topic{}
	}

	response.Success(c, http.StatusOK, gin.H{"topics": topics})
}

// EnterExam godoc
// POST /api/v1/exams
// Starts the exam of a topic. When unfinished progress exists the returned
// session is AWAITING_RECOVERY and carries the recovery candidate.
func (h *ExamHandler) EnterExam(c *gin.Context) {
	claims, ok := studentClaims(c)
	if !ok {
		return
	}

	var req model.EnterExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, err := h.sessions.Enter(c.Request.Context(), middleware.GetToken(c), claims.StudentID(), req.TopicID)
	if err != nil {
		h.log.Warn().Err(err).Str("topic_id", req.TopicID).Msg("Enter exam failed")
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": ctrl.View()})
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
func (h *ExamHandler) GetExam(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": ctrl.View()})
}

// ResolveRecovery godoc
// POST /api/v1/exams/:exam_id/recovery
// Restores or discards the unfinished progress of an exam just entered. A
// restore whose record is gone starts fresh and reports restored=false.
func (h *ExamHandler) ResolveRecovery(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req model.ResolveRecoveryRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	restore := req.Action == model.RecoveryActionRestore
	err := ctrl.Resolve(restore)
	if err != nil && !errors.Is(err, recovery.ErrNotRecoverable) {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exam":     ctrl.View(),
		"restored": restore && err == nil,
	})
}

// SelectAnswer godoc
// PUT /api/v1/exams/:exam_id/answers/:question_id
// Records a selection. An empty option list clears the answer.
func (h *ExamHandler) SelectAnswer(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	questionID := strings.TrimSpace(c.Param("question_id"))
	if questionID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := ctrl.SelectAnswer(questionID, req.Options); err != nil {
		failWith(c, err)
		return
	}

	view := ctrl.View()
	response.Success(c, http.StatusOK, gin.H{
		"question_id": questionID,
		"options":     view.Answers[questionID],
		"unsaved":     view.Unsaved,
	})
}

// Navigate godoc
// POST /api/v1/exams/:exam_id/navigate
func (h *ExamHandler) Navigate(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := navigate(ctrl, req.QuestionIndex, req.PageIndex); err != nil {
		if errors.Is(err, errNavigateTarget) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"detail": err.Error()})
			return
		}
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": ctrl.View()})
}

// SaveNow godoc
// POST /api/v1/exams/:exam_id/save
// Forces an immediate sync with the exam server. Local progress is already
// written whether or not the sync succeeds.
func (h *ExamHandler) SaveNow(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	if err := ctrl.ForceSave(context.WithoutCancel(c.Request.Context())); err != nil {
		status, code := classify(err)
		if code == response.ErrInternal || code == response.ErrUpstreamUnavailable {
			status, code = http.StatusBadGateway, response.ErrSaveFailed
		}
		h.log.Warn().Err(err).Str("exam_id", ctrl.ExamID()).Msg("Force save failed")
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": ctrl.View()})
}

// LeaveExam godoc
// POST /api/v1/exams/:exam_id/leave
// Leaves the exam. Without confirm, a failed final save keeps the exam
// running and returns PROGRESS_MAY_BE_LOST.
func (h *ExamHandler) LeaveExam(c *gin.Context) {
	claims, ok := studentClaims(c)
	if !ok {
		return
	}

	var req model.LeaveExamRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	err := h.sessions.Leave(c.Request.Context(), claims.StudentID(), c.Param("exam_id"), req.Confirm)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// SubmitExam godoc
// POST /api/v1/exams/:exam_id/submit
// Submits the answers for grading. Calling it again after success returns
// the same result.
func (h *ExamHandler) SubmitExam(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	result, err := ctrl.Submit(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result, "exam": ctrl.View()})
}

// ListRecovery godoc
// GET /api/v1/recovery
// Lists the student's exams with unfinished progress on this workstation.
func (h *ExamHandler) ListRecovery(c *gin.Context) {
	claims, ok := studentClaims(c)
	if !ok {
		return
	}

	candidates := h.sessions.Candidates(claims.StudentID())
	if candidates == nil {
		candidates = []model.RecoveryCandidate{}
	}
	response.Success(c, http.StatusOK, gin.H{"candidates": candidates})
}

// DiscardRecovery godoc
// DELETE /api/v1/recovery/:exam_id
func (h *ExamHandler) DiscardRecovery(c *gin.Context) {
	claims, ok := studentClaims(c)
	if !ok {
		return
	}

	if err := h.sessions.Discard(claims.StudentID(), c.Param("exam_id")); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"discarded": true})
}

// GetStats godoc
// GET /api/v1/stats
func (h *ExamHandler) GetStats(c *gin.Context) {
	claims, ok := studentClaims(c)
	if !ok {
		return
	}

	stats := h.sessions.Stats(claims.StudentID())
	if stats.History == nil {
		stats.History = []model.HistoryEntry{}
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// ─── Helpers ──────────────────────────────────────────────────────────

func studentClaims(c *gin.Context) (*service.Claims, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	return claims, true
}

func (h *ExamHandler) controller(c *gin.Context) (*session.Controller, bool) {
	claims, ok := studentClaims(c)
	if !ok {
		return nil, false
	}

	ctrl, err := h.sessions.Get(claims.StudentID(), c.Param("exam_id"))
	if err != nil {
		failWith(c, err)
		return nil, false
	}
	return ctrl, true
}

var errNavigateTarget = errors.New("exactly one of question_index and page_index is required")

func navigate(ctrl *session.Controller, questionIndex, pageIndex *int) error {
	switch {
	case questionIndex != nil && pageIndex == nil:
		return ctrl.GoToQuestion(*questionIndex)
	case pageIndex != nil && questionIndex == nil:
		return ctrl.GoToPage(*pageIndex)
	default:
		return errNavigateTarget
	}
}

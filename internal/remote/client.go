// Package remote is the agent's client for the ExStem exam server.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
)

// Client talks to the exam server on behalf of one student. The zero-token
// client returned by New is only useful for deriving per-student clients
// with As.
type Client struct {
	http  *resty.Client
	token string
	log   zerolog.Logger
}

// New creates a client for the exam server at baseURL.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "exstem-agent")

	return &Client{
		http: httpClient,
		log:  log.With().Str("component", "remote").Logger(),
	}
}

// As returns a client that authenticates with token. The underlying HTTP
// connection pool is shared.
func (c *Client) As(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// StartExam starts (or resumes on the server) the exam for topicID.
func (c *Client) StartExam(ctx context.Context, topicID string) (model.ExamStart, error) {
	body, err := c.do(ctx, http.MethodPost, "/exams/start", nil, model.StartExamRequest{TopicID: topicID})
	if err != nil {
		return model.ExamStart{}, err
	}
	return NormalizeExamStart(body)
}

// Autosave sends a SyncDelta. Only the status code matters.
func (c *Client) Autosave(ctx context.Context, examID string, delta model.AnswerMap) error {
	_, err := c.do(ctx, http.MethodPost, "/exams/{exam_id}/autosave",
		map[string]string{"exam_id": examID},
		model.AutosaveRequest{Answers: delta},
	)
	return err
}

// Submit sends the full answer map for grading.
func (c *Client) Submit(ctx context.Context, examID string, answers model.AnswerMap, topicID string) (model.SubmitResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/exams/{exam_id}/submit",
		map[string]string{"exam_id": examID},
		model.SubmitRequest{Answers: answers, TopicID: topicID},
	)
	if err != nil {
		return model.SubmitResult{}, err
	}
	return NormalizeSubmitResult(body)
}

// ListTopics returns the topic catalogue in canonical form.
func (c *Client) ListTopics(ctx context.Context) ([]model.Topic, error) {
	body, err := c.do(ctx, http.MethodGet, "/topics", nil, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeTopics(body)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	if params != nil {
		req.SetPathParams(params)
	}
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, ErrUnreachable, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("url", resp.Request.URL).
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("Exam server call")

	if resp.IsError() {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

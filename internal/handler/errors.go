package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-agent/internal/autosave"
	"github.com/stemsi/exstem-agent/internal/recovery"
	"github.com/stemsi/exstem-agent/internal/remote"
	"github.com/stemsi/exstem-agent/internal/response"
	"github.com/stemsi/exstem-agent/internal/session"
)

// classify maps a session or upstream error to an HTTP status and error code.
// Wrapping sentinels are checked before the upstream error they carry.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone, response.ErrExamClosed
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrProgressOwned):
		return http.StatusConflict, response.ErrExamSessionActive
	case errors.Is(err, session.ErrAwaitingRecovery):
		return http.StatusConflict, response.ErrAwaitingRecovery
	case errors.Is(err, session.ErrNoPendingRecovery):
		return http.StatusConflict, response.ErrNoPendingRecovery
	case errors.Is(err, recovery.ErrNotRecoverable):
		return http.StatusConflict, response.ErrNotRecoverable
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, session.ErrOutOfRange):
		return http.StatusBadRequest, response.ErrNavigationOutOfRange
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, autosave.ErrDisabled):
		return http.StatusConflict, response.ErrExamNotRunning
	case errors.Is(err, session.ErrProgressMayBeLost):
		return http.StatusConflict, response.ErrProgressMayBeLost
	case errors.Is(err, session.ErrSubmitFailed):
		return http.StatusBadGateway, response.ErrSubmitFailed
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return http.StatusUnauthorized, response.ErrTokenInvalid
		case apiErr.Status == http.StatusForbidden, apiErr.Status == http.StatusNotFound:
			return apiErr.Status, response.ErrExamNotAvailable
		case apiErr.Status == http.StatusTooManyRequests:
			return http.StatusTooManyRequests, response.ErrRateLimitExceeded
		default:
			return http.StatusBadGateway, response.ErrUpstreamUnavailable
		}
	}

	switch {
	case errors.Is(err, remote.ErrMalformedResponse):
		return http.StatusBadGateway, response.ErrUpstreamUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrUpstreamUnavailable
	case errors.Is(err, remote.ErrUnreachable):
		return http.StatusBadGateway, response.ErrUpstreamUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error envelope for err. Upstream refusals carry the
// exam server's own message as detail.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		response.FailWithDetail(c, status, code, apiErr.Message)
		return
	}
	response.Fail(c, status, code)
}

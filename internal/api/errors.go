package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/generator"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

// statusFor maps an error from the layers below to an HTTP status.
func statusFor(err error) int {
	var genErr *generator.GenerationError
	switch {
	case errors.Is(err, docstore.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrValidation),
		errors.Is(err, docstore.ErrEmptyFile),
		errors.Is(err, docstore.ErrInvalidText),
		errors.Is(err, docstore.ErrExtension),
		errors.Is(err, docstore.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrFatal), errors.As(err, &genErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail aborts the request with a {"detail": ...} body. Internal errors are
// logged in full and reported generically.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	detail := err.Error()
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", status),
		zap.Error(err),
	}
	switch {
	case status == http.StatusInternalServerError:
		s.log.Error("request failed", fields...)
		detail = "Internal server error"
	case status >= 500:
		s.log.Error("upstream failure", fields...)
	default:
		s.log.Warn("client error", fields...)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// badRequest reports a malformed request body.
func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, &session.ValidationError{Reason: err.Error()})
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BodyParseError marks a request body that could not be parsed as JSON.
type BodyParseError struct {
	Err error
}

func (e *BodyParseError) Error() string {
	return e.Err.Error()
}

func (e *BodyParseError) Unwrap() error {
	return e.Err
}

// APIError is a client-facing failure with a fixed status and message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func newAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

var (
	errUnauthorized       = newAPIError(http.StatusUnauthorized, "authentication required")
	errInvalidCredentials = newAPIError(http.StatusUnauthorized, "invalid credentials")
	errUserExists         = newAPIError(http.StatusConflict, "username already exists")
	errChatNotFound       = newAPIError(http.StatusNotFound, "chat not found")
	errMessageNotFound    = newAPIError(http.StatusNotFound, "message not found")
	errNotMessageOwner    = newAPIError(http.StatusForbidden, "only the sender can delete a message")
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// errorBoundary renders the last error recorded on the context. Internal
// error text is only exposed in development mode.
func errorBoundary(development bool, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var parseErr *BodyParseError
		var apiErr *APIError
		switch {
		case errors.As(err, &parseErr):
			c.JSON(http.StatusBadRequest, errorResponse{
				Message: "Invalid JSON format in request body",
				Error:   parseErr.Error(),
			})
		case errors.As(err, &apiErr):
			c.JSON(apiErr.Status, errorResponse{Message: apiErr.Message})
		default:
			log.Error("request failed", zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path), zap.Error(err))
			resp := errorResponse{Message: "Internal server error"}
			if development {
				resp.Error = err.Error()
			}
			c.JSON(http.StatusInternalServerError, resp)
		}
	}
}

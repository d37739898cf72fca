// Package response writes the JSON error body shared by every endpoint.
package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx JSON response.
// Code is a stable machine-readable identifier and Message is safe to show to users.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Retryable  *bool  `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// SendError sends a standardized JSON error response and aborts the handler chain
func SendError(c *gin.Context, status int, code, message string, err error) {
	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// SendRetryableError sends an error the client may retry, optionally after retryAfter seconds
func SendRetryableError(c *gin.Context, status int, code, message string, retryAfter int, err error) {
	retryable := true
	resp := ErrorResponse{
		Error:      http.StatusText(status),
		Code:       code,
		Message:    message,
		Retryable:  &retryable,
		RetryAfter: retryAfter,
	}
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

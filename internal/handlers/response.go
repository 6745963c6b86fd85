package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knograph/knograph-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError maps service-layer errors onto the envelope; anything
// that is not an apierr comes back as a 500 with a generic message so
// internals do not leak.
func RespondServiceError(c *gin.Context, err error) {
	status, code := apierr.StatusAndCode(err)
	if status == http.StatusInternalServerError {
		RespondError(c, status, code, nil)
		return
	}
	RespondError(c, status, code, err)
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/becomeliminal/nim-recall/core"
)

// Response is the envelope of every API answer.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error codes carried in Response.Code. 0 is success.
const (
	CodeOK           = 0
	CodeInvalidInput = 1001
	CodeNotFound     = 1002
	CodeInternal     = 1003
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "success", Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: CodeOK, Message: "success", Data: data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: CodeInvalidInput, Message: message})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{Code: CodeNotFound, Message: message})
}

// fail maps a core error onto a status code.
func fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, Response{Code: code, Message: err.Error()})
}

func statusFor(err error) (int, int) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Package response writes the JSON error bodies shared by every HTTP route.
package response

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Numeric codes carried in error bodies. They are negative so clients can
// tell them apart from HTTP status codes.
const (
	CodeUnauthorized  = -1
	CodeRouteNotFound = -2
	CodeLoginFailed   = -3
	CodeBadRequest    = -4
	CodeInternal      = -5
)

// Machine-readable error names.
const (
	ErrUnauthorized  = "Unauthorized"
	ErrRouteNotFound = "RouteNotFound"
	ErrLoginFailed   = "LoginFailed"
	ErrBadRequest    = "BadRequest"
	ErrInternal      = "Internal"
)

// ErrorBody is the structured error returned by every route.
type ErrorBody struct {
	Code        int    `json:"code"`
	Error       string `json:"error"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Method      string `json:"method"`
}

func newBody(c *gin.Context, code int, name, description string) ErrorBody {
	return ErrorBody{
		Code:        code,
		Error:       name,
		Description: description,
		Path:        c.Request.URL.Path,
		Method:      c.Request.Method,
	}
}

// Abort writes the error body and stops the handler chain.
func Abort(c *gin.Context, status, code int, name, description string) {
	c.AbortWithStatusJSON(status, newBody(c, code, name, description))
}

// Unauthorized rejects a request that carries no live session.
func Unauthorized(c *gin.Context) {
	Abort(c, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthorized, "a valid session is required")
}

// LoginFailed is the single answer for unknown users and wrong passwords.
func LoginFailed(c *gin.Context) {
	Abort(c, http.StatusUnauthorized, CodeLoginFailed, ErrLoginFailed, "invalid username or password")
}

// BadRequest rejects malformed input.
func BadRequest(c *gin.Context, description string) {
	Abort(c, http.StatusBadRequest, CodeBadRequest, ErrBadRequest, description)
}

// InternalError reports a failure the caller cannot fix.
func InternalError(c *gin.Context, description string) {
	Abort(c, http.StatusInternalServerError, CodeInternal, ErrInternal, description)
}

// RouteNotFound answers any request no route matched.
func RouteNotFound(c *gin.Context) {
	Abort(c, http.StatusNotFound, CodeRouteNotFound, ErrRouteNotFound,
		fmt.Sprintf("The route %s with method %s does not exist", c.Request.URL.RequestURI(), c.Request.Method))
}

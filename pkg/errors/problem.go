package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	problemBaseURL     = "https://carecall.dev/problems"
	problemContentType = "application/problem+json"
)

// problemSlugs maps statuses to the last path segment of the problem type URI.
var problemSlugs = map[int]string{
	http.StatusBadRequest:            "bad-request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not-found",
	http.StatusConflict:              "idempotency-conflict",
	http.StatusRequestEntityTooLarge: "payload-too-large",
	http.StatusTooManyRequests:       "rate-limit-exceeded",
	http.StatusInternalServerError:   "internal-error",
	http.StatusBadGateway:            "upstream-error",
	http.StatusServiceUnavailable:    "unavailable",
}

// ProblemDetail is an RFC 7807 body. TraceID matches the X-Trace-ID header.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ProblemType returns the type URI used for status.
func ProblemType(status int) string {
	if slug, ok := problemSlugs[status]; ok {
		return problemBaseURL + "/" + slug
	}
	return problemBaseURL + "/error"
}

func problemFor(c *gin.Context, status int, detail string) ProblemDetail {
	traceID := c.GetString("trace_id")
	if traceID == "" {
		traceID = c.GetString("request_id")
	}
	return ProblemDetail{
		Type:     ProblemType(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		TraceID:  traceID,
		Instance: c.Request.URL.Path,
	}
}

// ErrorResponse writes a problem+json body. Handlers return right after.
func ErrorResponse(c *gin.Context, status int, detail string) {
	c.Header("Content-Type", problemContentType)
	c.JSON(status, problemFor(c, status, detail))
}

// AbortWithProblem is ErrorResponse for middleware: it also stops the chain.
func AbortWithProblem(c *gin.Context, status int, detail string) {
	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problemFor(c, status, detail))
}

// InternalError logs err and answers 500 without leaking it to the caller.
func InternalError(c *gin.Context, err error, log *zap.Logger) {
	log.Error("Request failed",
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("trace_id", c.GetString("trace_id")),
	)
	_ = c.Error(err)
	ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
}

func BadRequest(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadRequest, detail)
}

func Unauthorized(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnauthorized, detail)
}

func Forbidden(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusForbidden, detail)
}

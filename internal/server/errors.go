package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/usagegate"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware renders the last error a handler attached, unless the
// handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records err for ErrorHandlingMiddleware and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
	}
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// errorRule maps one class of error to its response. Rules are checked in order, so
// narrower errors must come before the classes they also match.
type errorRule struct {
	match   func(error) bool
	status  int
	kind    string
	message string
}

func is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

var errorRules = []errorRule{
	{is(ErrUnauthorized), http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{is(domain.ErrInsufficientBalance), http.StatusPaymentRequired, "insufficient_balance", "not enough WowCoins, top up or upgrade to continue"},
	{is(domain.ErrReservationClosed), http.StatusConflict, "conflict", "reservation already closed"},
	{is(usagegate.ErrRateLimited), http.StatusTooManyRequests, "rate_limited", "too many requests"},
	{is(domain.ErrAccountNotFound), http.StatusNotFound, "not_found", "account not initialized"},
	{is(config.ErrFeatureNotFound), http.StatusNotFound, "not_found", "feature not found"},
	{is(ErrNotFound, domain.ErrReservationNotFound), http.StatusNotFound, "not_found", "not found"},
	{is(domain.ErrLockTimeout), http.StatusServiceUnavailable, "lock_timeout", "account busy, retry"},
	{is(ErrServiceUnavailable, domain.ErrStoreUnavailable), http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	if errors.Is(err, ErrInvalidRequest) || domain.IsValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{fieldError(err)},
		}
	}

	for _, rule := range errorRules {
		if rule.match(err) {
			return rule.status, errorPayload{Type: rule.kind, Message: rule.message}
		}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// fieldError derives the offending field from codes shaped like "invalid_<field>".
func fieldError(err error) ValidationError {
	code := err.Error()
	if errors.Is(err, ErrInvalidRequest) || code == domain.ErrInvalidRequest.Error() {
		return ValidationError{Field: "request", Code: "invalid_request", Message: "invalid request"}
	}
	return ValidationError{Field: strings.TrimPrefix(code, "invalid_"), Code: code, Message: "invalid value"}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

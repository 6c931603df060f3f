package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for conditions checked by identity across packages.
var (
	ErrMonitorNotFound = errors.New("monitor not found")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

// Error codes, grouped the way spec.md §7 classifies failures: fatal
// codes never retry, the rest are individually classified transient
// or not via IsTransient.
const (
	CodeFatalInvalidJob         = "FATAL_INVALID_JOB"
	CodeFatalUnsupportedInput   = "FATAL_UNSUPPORTED_INPUT"
	CodeFatalInvalidAlertState  = "FATAL_INVALID_ALERT_STATE"
	CodeMonitorIndexError       = "MONITOR_INDEX_ERROR"
	CodeMonitorLoadError        = "MONITOR_LOAD_ERROR"
	CodeInputSearchError        = "INPUT_SEARCH_ERROR"
	CodeTriggerScriptError      = "TRIGGER_SCRIPT_ERROR"
	CodeActionTemplateError     = "ACTION_TEMPLATE_ERROR"
	CodeActionPublishError      = "ACTION_PUBLISH_ERROR"
	CodeValidationError         = "VALIDATION_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden                = "FORBIDDEN"
	CodeInternalError           = "INTERNAL_ERROR"
	CodeRateLimited             = "RATE_LIMITED"
)

// fatalCodes never qualify for retry regardless of the Cause.
var fatalCodes = map[string]bool{
	CodeFatalInvalidJob:        true,
	CodeFatalUnsupportedInput:  true,
	CodeFatalInvalidAlertState: true,
}

// AppError represents an error that carries a stable code plus
// structured context, the shape the admin/dry-run API surfaces.
type AppError struct {
	Type       string                 `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
	Transient  bool                   `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       "application_error",
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Details:    make(map[string]interface{}),
	}
}

func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       "application_error",
		Code:       code,
		Message:    message,
		Cause:      err,
		HTTPStatus: httpStatus,
		Details:    make(map[string]interface{}),
	}
}

func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithField(key string, value interface{}) *AppError {
	return e.WithDetails(key, value)
}

// Transiently marks the error eligible for retry by the caller's policy.
func (e *AppError) Transiently() *AppError {
	e.Transient = true
	return e
}

// Constructors for the error classes each runner stage produces.

func NewFatalInvalidJob(message string) *AppError {
	return New(CodeFatalInvalidJob, message, http.StatusBadRequest)
}

func NewFatalUnsupportedInput(inputKind interface{}) *AppError {
	return New(CodeFatalUnsupportedInput, "unsupported input type", http.StatusBadRequest).
		WithField("kind", inputKind)
}

func NewFatalInvalidAlertState(state interface{}) *AppError {
	return New(CodeFatalInvalidAlertState, "invalid alert state transition", http.StatusConflict).
		WithField("state", state)
}

func NewMonitorIndexError(cause error) *AppError {
	return Wrap(cause, CodeMonitorIndexError, "failed to read current alerts", http.StatusInternalServerError).Transiently()
}

func NewMonitorLoadError(cause error) *AppError {
	return Wrap(cause, CodeMonitorLoadError, "failed to load monitor definition", http.StatusInternalServerError)
}

func NewInputSearchError(cause error, inputIndex int) *AppError {
	return Wrap(cause, CodeInputSearchError, "input search failed", http.StatusBadGateway).
		WithField("input_index", inputIndex).Transiently()
}

func NewTriggerScriptError(cause error, triggerID string) *AppError {
	return Wrap(cause, CodeTriggerScriptError, "trigger condition evaluation failed", http.StatusUnprocessableEntity).
		WithField("trigger_id", triggerID)
}

func NewActionTemplateError(cause error, actionID string) *AppError {
	return Wrap(cause, CodeActionTemplateError, "action template rendering failed", http.StatusUnprocessableEntity).
		WithField("action_id", actionID)
}

func NewActionPublishError(cause error, actionID string) *AppError {
	return Wrap(cause, CodeActionPublishError, "action publish failed", http.StatusBadGateway).
		WithField("action_id", actionID).Transiently()
}

func NewValidationError(message, field string) *AppError {
	return New(CodeValidationError, message, http.StatusBadRequest).WithField("field", field)
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithField("resource", resource).WithField("id", id)
}

func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized access"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "access forbidden"
	}
	return New(CodeForbidden, message, http.StatusForbidden)
}

func NewInternalError(message string, cause error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return Wrap(cause, CodeInternalError, message, http.StatusInternalServerError)
}

func NewRateLimitError() *AppError {
	return New(CodeRateLimited, "too many requests, please try again later", http.StatusTooManyRequests)
}

// IsTransient reports whether a retry policy should attempt the
// operation again: any error that is not an AppError, or an AppError
// explicitly marked Transient whose code is not one of the fatal codes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if fatalCodes[appErr.Code] {
			return false
		}
		return appErr.Transient
	}
	return true
}

func IsNotFoundError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return errors.Is(err, ErrAlertNotFound) || errors.Is(err, ErrMonitorNotFound)
}

func IsAuthenticationError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeUnauthorized || appErr.Code == CodeForbidden
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	switch {
	case IsNotFoundError(err):
		return http.StatusNotFound
	case IsAuthenticationError(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts an error to the admin API's JSON error envelope.
func ToResponse(err error) map[string]interface{} {
	var appErr *AppError
	if errors.As(err, &appErr) {
		body := map[string]interface{}{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		return map[string]interface{}{"success": false, "error": body}
	}
	return map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "UNKNOWN_ERROR",
			"message": err.Error(),
		},
	}
}

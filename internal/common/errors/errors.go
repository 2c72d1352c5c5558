// Package errors provides structured error handling for the login risk service
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrBadRequest   ErrorCode = "BAD_REQUEST"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"

	ErrInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Storage
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrRedisError ErrorCode = "REDIS_ERROR"

	// Risk engine
	ErrModelNotReady ErrorCode = "MODEL_NOT_READY"
	ErrInvalidRules  ErrorCode = "INVALID_RULES"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message, http.StatusInternalServerError)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrBadRequest, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return New(ErrForbidden, message, http.StatusForbidden)
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return New(ErrValidation, message, http.StatusBadRequest)
}

// RateLimit creates a rate limit error
func RateLimit(message string) *AppError {
	return New(ErrRateLimit, message, http.StatusTooManyRequests)
}

// InvalidToken creates an invalid token error
func InvalidToken(details string) *AppError {
	return &AppError{
		Code:       ErrInvalidToken,
		Message:    "Invalid authentication token",
		Details:    details,
		StatusCode: http.StatusUnauthorized,
	}
}

// TokenExpired creates a token expired error
func TokenExpired() *AppError {
	return New(ErrTokenExpired, "Authentication token has expired", http.StatusUnauthorized)
}

// DatabaseError creates a database error
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrDatabase,
		Message:    "Database operation failed",
		Details:    operation,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// RedisError creates a cache/store error
func RedisError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrRedisError,
		Message:    "Store operation failed",
		Details:    operation,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// ModelNotReady is returned by admin operations that need a trained model
func ModelNotReady(samples, required int) *AppError {
	return (&AppError{
		Code:       ErrModelNotReady,
		Message:    "Anomaly model has insufficient training data",
		StatusCode: http.StatusConflict,
	}).WithMetadata("samples", samples).WithMetadata("required", required)
}

// InvalidRules rejects a security rule set
func InvalidRules(details string) *AppError {
	return &AppError{
		Code:       ErrInvalidRules,
		Message:    "Invalid security rules",
		Details:    details,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// ErrorResponse is the JSON response structure for errors
type ErrorResponse struct {
	Error     ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Metadata:  appErr.Metadata,
		RequestID: reqIDStr,
	})
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

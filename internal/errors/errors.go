// Package errors provides the typed error hierarchy used across civicdesk
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the base interface for all civicdesk errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// BaseError is the base implementation of AppError
type BaseError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"code"`
	Details    string `json:"details,omitempty"`
}

func (e *BaseError) Error() string {
	return e.Message
}

func (e *BaseError) HTTPStatus() int {
	return e.StatusCode
}

func (e *BaseError) Code() string {
	return e.ErrorCode
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	BaseError
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s not found", resource),
			StatusCode: http.StatusNotFound,
			ErrorCode:  "NOT_FOUND",
		},
		Resource: resource,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "VALIDATION_ERROR",
		},
		Field: field,
	}
}

// PermissionDeniedError represents a permission denied error
type PermissionDeniedError struct {
	BaseError
	Action   string
	Resource string
}

func NewPermissionDeniedError(action, resource string) *PermissionDeniedError {
	return &PermissionDeniedError{
		BaseError: BaseError{
			Message:    "permission denied",
			StatusCode: http.StatusForbidden,
			ErrorCode:  "PERMISSION_DENIED",
		},
		Action:   action,
		Resource: resource,
	}
}

// NewForbiddenError is a PermissionDeniedError with a caller supplied message
func NewForbiddenError(message string) *PermissionDeniedError {
	err := NewPermissionDeniedError("", "")
	err.Message = message
	return err
}

// UnauthorizedError represents an authentication error
type UnauthorizedError struct {
	BaseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusUnauthorized,
			ErrorCode:  "UNAUTHORIZED",
		},
	}
}

// InternalError represents an internal server error
type InternalError struct {
	BaseError
	OriginalError error
}

func NewInternalError(original error) *InternalError {
	return &InternalError{
		BaseError: BaseError{
			Message:    "internal server error",
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  "INTERNAL_ERROR",
		},
		OriginalError: original,
	}
}

func (e *InternalError) Unwrap() error {
	return e.OriginalError
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	BaseError
	Resource string
}

func NewConflictError(resource string) *ConflictError {
	return &ConflictError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s already exists", resource),
			StatusCode: http.StatusConflict,
			ErrorCode:  "CONFLICT",
		},
		Resource: resource,
	}
}

// NewConflictMessage is a ConflictError carrying a full message
func NewConflictMessage(message string) *ConflictError {
	err := NewConflictError("")
	err.Message = message
	return err
}

// BadRequestError represents a generic bad request error
type BadRequestError struct {
	BaseError
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "BAD_REQUEST",
		},
	}
}

// =============================================================================
// REQUEST ADMISSION
// =============================================================================

// Kind classifies a request admission rejection
type Kind string

const (
	KindInvalidRequestType      Kind = "INVALID_REQUEST_TYPE"
	KindOutsideSubmissionWindow Kind = "OUTSIDE_SUBMISSION_WINDOW"
	KindInvalidSubSector        Kind = "INVALID_SUB_SECTOR"
	KindInvalidServiceOption    Kind = "INVALID_SERVICE_OPTION"
	KindImageRequired           Kind = "IMAGE_REQUIRED"
	KindDuplicateInPeriod       Kind = "DUPLICATE_IN_PERIOD"
	KindImageTooLarge           Kind = "IMAGE_TOO_LARGE"
	KindUnsupportedImageType    Kind = "UNSUPPORTED_IMAGE_TYPE"
	KindStorageFailure          Kind = "STORAGE_FAILURE"
)

var kindStatus = map[Kind]int{
	KindInvalidRequestType:      http.StatusForbidden,
	KindOutsideSubmissionWindow: http.StatusForbidden,
	KindInvalidSubSector:        http.StatusConflict,
	KindInvalidServiceOption:    http.StatusConflict,
	KindImageRequired:           http.StatusConflict,
	KindDuplicateInPeriod:       http.StatusForbidden,
	KindImageTooLarge:           http.StatusConflict,
	KindUnsupportedImageType:    http.StatusConflict,
	KindStorageFailure:          http.StatusInternalServerError,
}

// AdmissionError is returned when a request submission is rejected
type AdmissionError struct {
	BaseError
	Kind  Kind
	cause error
}

func NewAdmissionError(kind Kind, message string) *AdmissionError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusBadRequest
	}
	return &AdmissionError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: status,
			ErrorCode:  string(kind),
		},
		Kind: kind,
	}
}

// NewStorageFailure wraps a store failure; the cause is never shown to clients
func NewStorageFailure(cause error) *AdmissionError {
	err := NewAdmissionError(KindStorageFailure, "request could not be stored")
	err.cause = cause
	return err
}

func (e *AdmissionError) Unwrap() error {
	return e.cause
}

// IsKind reports whether err (or anything it wraps) is an AdmissionError of kind
func IsKind(err error, kind Kind) bool {
	var ae *AdmissionError
	if stderrors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// ToHTTPError converts any error to an appropriate HTTP response
func ToHTTPError(err error) (int, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	var ae AppError
	if stderrors.As(err, &ae) {
		return ae.HTTPStatus(), map[string]interface{}{
			"error":   ae.Code(),
			"message": ae.Error(),
		}
	}

	// Default to internal server error for unknown errors
	return http.StatusInternalServerError, map[string]interface{}{
		"error":   "INTERNAL_ERROR",
		"message": "internal server error",
	}
}

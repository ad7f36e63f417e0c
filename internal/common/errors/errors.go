package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
)

var (
	// ErrDeliveryRejected is returned by a subscriber that could not accept an
	// event. The bus evicts such subscribers after the publish pass.
	ErrDeliveryRejected = errors.New("delivery rejected")

	ErrDuplicateSubscriber = errors.New("subscriber already registered")
	ErrSessionClosed       = errors.New("session closed")
)

type ValidationError struct {
	fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation errors"
}

func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{fields}
}

func (e ValidationError) Fields() map[string]string {
	return e.fields
}

func (e ValidationError) ProblemDetails() *huma.ErrorModel {
	keys := make([]string, 0, len(e.fields))
	for field := range e.fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	errors := make([]*huma.ErrorDetail, len(keys))
	for i, field := range keys {
		errors[i] = &huma.ErrorDetail{
			Message:  e.fields[field],
			Location: field,
		}
	}
	return &huma.ErrorModel{
		Title:  http.StatusText(http.StatusBadRequest),
		Status: http.StatusBadRequest,
		Detail: "Validation failed",
		Errors: errors,
	}
}

type InternalError struct {
	message string
	values  []any
}

func (e *InternalError) Error() string {
	if len(e.values) == 0 {
		return e.message
	}
	return fmt.Sprintf(e.message, e.values...)
}

func NewInternalError(message string, values ...any) *InternalError {
	return &InternalError{message, values}
}

// DriverError reports a failure of the native sensor layer.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

func NewDriverError(op string, err error) *DriverError {
	return &DriverError{Op: op, Err: err}
}

// LogWriteError is fatal to the log session that produced it.
type LogWriteError struct {
	Path string
	Err  error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("log write %s: %v", e.Path, e.Err)
}

func (e *LogWriteError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func NewNotFoundError(format string, values ...any) *NotFoundError {
	return &NotFoundError{Resource: fmt.Sprintf(format, values...)}
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrFetch
	ErrTranslationArity
	ErrDuplicateJob
	ErrQueueSaturated
	ErrInvalidUnit
	ErrNotFound
	ErrStorage
	ErrValidation
	ErrConfig
)

// Sentinels usable with errors.Is; an *Error matches the sentinel of its Type.
var (
	Fetch            = &Error{Type: ErrFetch, Message: "fetch failed"}
	TranslationArity = &Error{Type: ErrTranslationArity, Message: "translation result count mismatch"}
	DuplicateJob     = &Error{Type: ErrDuplicateJob, Message: "update job already queued"}
	QueueSaturated   = &Error{Type: ErrQueueSaturated, Message: "update queue is full"}
	InvalidUnit      = &Error{Type: ErrInvalidUnit, Message: "unit not in table of contents"}
	NotFound         = &Error{Type: ErrNotFound, Message: "not found"}
)

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	e := New(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports type equality so that errors.Is(err, apperr.DuplicateJob) holds
// for any DuplicateJob-typed error in the chain.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrFetch:
		return "Fetch"
	case ErrTranslationArity:
		return "TranslationArity"
	case ErrDuplicateJob:
		return "DuplicateJob"
	case ErrQueueSaturated:
		return "QueueSaturated"
	case ErrInvalidUnit:
		return "InvalidUnit"
	case ErrNotFound:
		return "NotFound"
	case ErrStorage:
		return "Storage"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

func IsType(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first *Error in the chain, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrUnknown
}

// ArityError reports a query/result length mismatch.
func ArityError(queries, results int) *Error {
	return Newf(ErrTranslationArity, "expected %d results, got %d", queries, results).
		WithContext("queries", queries).
		WithContext("results", results)
}

// HTTPStatus maps an error to the status code surfaced to API callers.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrInvalidUnit, ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDuplicateJob:
		return http.StatusConflict
	case ErrQueueSaturated:
		return http.StatusServiceUnavailable
	case ErrFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the text shown to API callers for err.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Type {
	case ErrFetch:
		return "failed to fetch from provider: " + e.Message
	case ErrDuplicateJob:
		return "update job is already queued"
	case ErrQueueSaturated:
		return "update queue is full, try later"
	case ErrTranslationArity:
		return "translation result count does not match the query"
	case ErrInvalidUnit, ErrValidation, ErrNotFound:
		return e.Message
	default:
		return "internal error"
	}
}

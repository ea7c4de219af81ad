package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"imaged/internal/store"
	"imaged/pkg/types"
)

// ValidationError carries every invalid input field of a request. It is
// returned before anything is written.
type ValidationError struct {
	Fields []types.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// validation accumulates field errors.
type validation struct{ fields []types.FieldError }

func (v *validation) add(field, format string, args ...any) {
	v.fields = append(v.fields, types.FieldError{Field: field, Error: fmt.Sprintf(format, args...)})
}

func (v *validation) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// NotFoundError is a missing entity addressed by the request.
type NotFoundError struct{ err error }

func (e *NotFoundError) Error() string   { return e.err.Error() }
func (e *NotFoundError) Unwrap() error   { return e.err }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError refuses an operation on an entity that is in use.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string   { return e.Msg }
func (e *ConflictError) StatusCode() int { return http.StatusBadRequest }

func conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// notFound converts repository not-found errors; other errors pass unchanged.
func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{err: err}
	}
	return err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

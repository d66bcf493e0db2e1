package service

import (
	"errors"

	"github.com/sifan077/shortlink/internal/app/repository"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAliasTaken signals that a requested custom alias is already in use.
	ErrAliasTaken = errors.New("alias already in use")
	// ErrCapacityExhausted signals that no free code was found within the attempt budget.
	// It points at an undersized code length or a damaged store, never at the caller.
	ErrCapacityExhausted = errors.New("could not allocate a unique short code")
	// ErrLinkNotFound is returned when a code does not resolve to a link.
	ErrLinkNotFound = repository.ErrLinkNotFound
)

// ValidationError describes malformed caller input. Message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by storage and services. Callers test with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInactiveAccount     = errors.New("account inactive")
	ErrConflict            = errors.New("conflict")
	ErrTimeout             = errors.New("operation timed out")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrPartialBatchFailure = errors.New("partial batch failure")
)

// ValidationError reports a malformed or contradictory field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError is a shorthand used by the Validate methods.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Resource names used in NotFoundError.
const (
	ResourceAccount     = "account"
	ResourceCategory    = "category"
	ResourceTransaction = "transaction"
	ResourceRecurring   = "recurring transaction"
	ResourceBudget      = "budget"
	ResourceGoal        = "goal"
)

// NotFoundError indicates a resource is missing or belongs to another owner.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is matches ErrNotFound, and ErrAccountNotFound for missing accounts.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || (target == ErrAccountNotFound && e.Resource == ResourceAccount)
}

// IsTransient reports whether the whole operation can safely be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStorageUnavailable)
}

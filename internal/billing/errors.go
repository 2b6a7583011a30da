package billing

import (
	"errors"
	"fmt"

	"github.com/AnuragDani/subscription-billing/internal/store"
)

// ValidationError is a rejected input; the caller must change the request
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// NotFoundError names the missing entity
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError is a lost race or a state clash; retrying may succeed
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

var (
	ErrMissingCustomerID = ValidationError{Field: "customer_id", Message: "customer_id is required"}
	ErrMissingPlanID     = ValidationError{Field: "plan_id", Message: "plan_id is required"}
	ErrSamePlan          = ValidationError{Field: "new_plan_id", Message: "subscription is already on this plan"}
	ErrPlanInactive      = ValidationError{Field: "plan_id", Message: "plan is not active"}
	ErrCurrencyMismatch  = ValidationError{Field: "plan_id", Message: "plan currency does not match customer currency"}
	ErrNotActive         = ValidationError{Field: "status", Message: "subscription is not active"}
	ErrNotPayable        = ValidationError{Field: "status", Message: "invoice cannot be paid in its current status"}

	ErrAlreadySubscribed = ConflictError{Message: "customer already has an active subscription"}
)

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

// lookupError turns a store miss into a NotFoundError for resource
func lookupError(err error, resource, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError{Resource: resource, ID: id}
	}
	return conflictError(err)
}

// conflictError turns a store conflict into a ConflictError
func conflictError(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return ConflictError{Message: "concurrent update, retry the request"}
	}
	return err
}

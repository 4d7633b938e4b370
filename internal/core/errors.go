package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every typed error below matches one of these with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrPartialFailure = errors.New("partial failure")
	ErrNotFound       = errors.New("not found")
)

// Validation reasons.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameAccount       = errors.New("source and destination account are the same")
	ErrFrozenAccount     = errors.New("account is frozen")
	ErrSplitMismatch     = errors.New("split amounts do not sum to the transaction amount")
	ErrEmptyName         = errors.New("empty name")
	ErrNameTooLong       = errors.New("name too long (max 200 characters)")
	ErrEmptyAccount      = errors.New("empty account id")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrInvalidStatus     = errors.New("invalid transaction status")
	ErrInvalidFrequency  = errors.New("invalid recurring frequency")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAccount    = errors.New("invalid account type")
	ErrNotRecurring      = errors.New("transaction is not recurring")
	ErrRecurringComplete = errors.New("recurring schedule is complete")
)

// ValidationError is returned before any store call when a request is rejected.
type ValidationError struct {
	Field  string
	Reason error
	// IDs of the entities involved, for display.
	EntityIDs []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(" on " + e.Field)
	}
	if len(e.EntityIDs) > 0 {
		b.WriteString(" [" + strings.Join(e.EntityIDs, ", ") + "]")
	}
	if e.Reason != nil {
		b.WriteString(": " + e.Reason.Error())
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Reason }

// Invalid is a shorthand for building a ValidationError.
func Invalid(field string, reason error, ids ...string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, EntityIDs: ids}
}

// ConflictError reports a concurrent write detected by the store.
type ConflictError struct {
	Entity string
	ID     string
	// Expected and Actual are the version tokens involved, when known.
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s %s: expected version %d, found %d", e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports a missing account or transaction.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PartialFailureError reports that only one leg of a transfer was committed.
// Fatal is set when the compensating delete failed as well, leaving the
// ledger inconsistent until someone reconciles it by hand.
type PartialFailureError struct {
	LinkID       string
	CommittedLeg string
	AccountID    string
	Amount       string
	Cause        error
	Compensation error
	Fatal        bool
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("transfer %s partially committed (leg %s on account %s, amount %s): %v",
		e.LinkID, e.CommittedLeg, e.AccountID, e.Amount, e.Cause)
	if e.Fatal {
		msg += fmt.Sprintf("; compensation failed: %v; manual reconciliation required", e.Compensation)
	} else {
		msg += "; committed leg rolled back"
	}
	return msg
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailureError) Unwrap() []error {
	errs := []error{e.Cause}
	if e.Compensation != nil {
		errs = append(errs, e.Compensation)
	}
	return errs
}

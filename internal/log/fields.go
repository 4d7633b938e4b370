package log

import (
	"errors"

	"ledgerengine/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldDuration      = "duration_ms"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldTemplateID    = "template_id"
	FieldTransferLink  = "transfer_link_id"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldEventID       = "event_id"
	FieldEventKind     = "kind"
	FieldDate          = "date"
	FieldProcessed     = "processed"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentReconciler = "reconciler"
	ComponentTransfer   = "transfer"
	ComponentRecurring  = "recurring"
	ComponentAlerts     = "alerts"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpReconcile = "reconcile"
	OpTransfer  = "transfer"
	OpPay       = "pay_recurring"
	OpProcess   = "process_due"
	OpRefresh   = "refresh_alerts"
	OpConsume   = "consume"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation     = "validation_error"
	ErrorTypeConfiguration  = "configuration_error"
	ErrorTypeDatabase       = "database_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeConflict       = "conflict_error"
	ErrorTypePartialFailure = "partial_failure"
	ErrorTypeInternal       = "internal_error"
)

// ErrorType classifies err by the ledger error kinds.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrPartialFailure):
		return ErrorTypePartialFailure
	case errors.Is(err, core.ErrConflict):
		return ErrorTypeConflict
	default:
		return ErrorTypeInternal
	}
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error and its classification
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithAccount adds the account id
func (f LogFields) WithAccount(id string) LogFields {
	f[FieldAccountID] = id
	return f
}

// WithTransaction adds the identifying fields of a transaction
func (f LogFields) WithTransaction(tx core.Transaction) LogFields {
	f[FieldTransactionID] = tx.ID
	f[FieldAccountID] = tx.AccountID
	f[FieldAmount] = tx.NumericAmount.String()
	if tx.TransferLinkID != "" {
		f[FieldTransferLink] = tx.TransferLinkID
	}
	return f
}

// WithEvent adds ledger event fields
func (f LogFields) WithEvent(id, kind string) LogFields {
	f[FieldEventID] = id
	f[FieldEventKind] = kind
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

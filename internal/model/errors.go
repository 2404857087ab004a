package model

import "errors"

// ErrorKind classifies errors into local vs. global severity. Per-entry kinds
// (RecipientInvalid, MessengerTransient) are local: the executor records
// them on the WorkflowEntry and continues. StoreUnavailable is global: when
// the executor cannot fetch its next batch it escalates the whole campaign
// to Stopped. SessionLost is defined but never raised by the executor; a
// send that fails on a lost session is recorded on its entry like any
// other failed send.
type ErrorKind string

const (
	ErrRecipientInvalidKind ErrorKind = "recipient_invalid"
	ErrMessengerTransient   ErrorKind = "messenger_transient"
	ErrSessionLost          ErrorKind = "session_lost"
	ErrStoreUnavailable     ErrorKind = "store_unavailable"
	ErrConcurrencyConflict  ErrorKind = "concurrency_conflict"
	ErrTemplateInvalid      ErrorKind = "template_invalid"
)

// Sentinel errors for conditions callers need to branch on with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRunning    = errors.New("campaign already running")
	ErrNotRunning        = errors.New("campaign not running")
	ErrCampaignStopped   = errors.New("stopped campaigns cannot be restarted")
	ErrNoValidContacts   = errors.New("no valid contacts")
	ErrConcurrentClaim   = errors.New("workflow entry claimed by another worker")
)

// ClassifiedError pairs an underlying error with its taxonomy kind and
// whether it is safe to treat as transient (retryable in a future
// version; the executor does not retry transient errors today).
type ClassifiedError struct {
	Kind      ErrorKind
	Transient bool
	Err       error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewRecipientInvalid wraps err as a non-retryable recipient error.
func NewRecipientInvalid(err error) *ClassifiedError {
	return &ClassifiedError{Kind: ErrRecipientInvalidKind, Transient: false, Err: err}
}

// NewTransient wraps err as a transient messenger error.
func NewTransient(err error) *ClassifiedError {
	return &ClassifiedError{Kind: ErrMessengerTransient, Transient: true, Err: err}
}

package ledger

import (
	"errors"
	"fmt"
	"strings"

	"game-reward-ledger/models"
)

// Error classes. Every concrete kind below unwraps to at most one of these.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
)

// Kind is a sentinel for one failure reason. Kinds are compared with errors.Is.
type Kind struct {
	code  string
	msg   string
	class error
}

func (k *Kind) Error() string { return k.msg }
func (k *Kind) Unwrap() error { return k.class }

// Code is the stable machine-readable name of the kind.
func (k *Kind) Code() string { return k.code }

func newKind(code, msg string, class error) *Kind {
	return &Kind{code: code, msg: msg, class: class}
}

var (
	ErrInvalidRank         = newKind("invalid_rank", "final rank must be at least 1", ErrValidation)
	ErrFutureEndTime       = newKind("future_end_time", "session end time is in the future", ErrValidation)
	ErrInvalidSessionID    = newKind("invalid_session_id", "malformed session id", ErrValidation)
	ErrInvalidPlayer       = newKind("invalid_player", "player identity is required", ErrValidation)
	ErrEmptyBatch          = newKind("empty_batch", "batch has no entries", ErrValidation)
	ErrDuplicateBatchEntry = newKind("duplicate_batch_entry", "session appears twice in batch", ErrValidation)
	ErrInvalidConfig       = newKind("invalid_config", "invalid reward config", ErrValidation)
	ErrMissingField        = newKind("missing_field", "required field missing", ErrValidation)

	ErrDuplicateSession = newKind("duplicate_session", "session already submitted", nil)
	ErrNotFound         = newKind("not_found", "session not found", nil)
	ErrUnauthorized     = newKind("unauthorized", "caller lacks the required capability", nil)

	ErrAlreadyDecided = newKind("already_decided", "session already verified", ErrState)
	ErrNotVerified    = newKind("not_verified", "session is not approved", ErrState)
	ErrAlreadyClaimed = newKind("already_claimed", "reward already claimed", ErrState)
	ErrNotOwner       = newKind("not_owner", "caller is not the session player", ErrState)
	ErrNoPendingMint  = newKind("no_pending_mint", "no mint is pending for session", ErrState)

	ErrExternalCall = newKind("external_call_failed", "token mint failed, retry later", nil)
)

// NoIndex marks an Error that did not come from a batch entry.
const NoIndex = -1

// Error carries the operation, the offending session and the failure kind.
type Error struct {
	Op        string
	SessionID models.SessionID
	Index     int
	Kind      *Kind
	Err       error
}

// NewError builds an Error for a single-session operation.
func NewError(op string, id models.SessionID, kind *Kind, cause error) *Error {
	return &Error{Op: op, SessionID: id, Index: NoIndex, Kind: kind, Err: cause}
}

// AtIndex tags the error with the batch entry that produced it.
func (e *Error) AtIndex(i int) *Error {
	e.Index = i
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.SessionID != "" {
		b.WriteString(" ")
		b.WriteString(e.SessionID.String())
	}
	if e.Index != NoIndex {
		fmt.Fprintf(&b, " (batch entry %d)", e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the Kind wrapped by err, or nil.
func KindOf(err error) *Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// IsRetriable reports failures the caller may safely retry.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrExternalCall)
}

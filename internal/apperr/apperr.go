package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Code is the stable, machine-readable error category returned to callers.
type Code string

const (
	CodeForbidden          Code = "FORBIDDEN"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeValidation         Code = "VALIDATION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeGatewayUnavailable Code = "GATEWAY_UNAVAILABLE"
	CodeOrphanEvent        Code = "ORPHAN_EVENT"
)

// Reason codes attached to denials and precondition failures.
const (
	ReasonNotOwner           = "NOT_OWNER"
	ReasonRoleNotAllowed     = "ROLE_NOT_ALLOWED"
	ReasonInvalidSourceState = "INVALID_SOURCE_STATE"
	ReasonUnknownTransition  = "UNKNOWN_TRANSITION"
	ReasonReconcilerOnly     = "RECONCILER_ONLY"
	ReasonTerminalState      = "TERMINAL_STATE"
	ReasonMilestonesUnpaid   = "MILESTONES_UNPAID"
	ReasonFundsHeld          = "FUNDS_HELD"
	ReasonAmountMismatch     = "AMOUNT_MISMATCH"
	ReasonBidNotAccepted     = "BID_NOT_ACCEPTED"
	ReasonDuplicate          = "DUPLICATE"
	ReasonStaleState         = "STALE_STATE"
	ReasonGatewayRejected    = "GATEWAY_REJECTED"
)

// Error carries a stable code, an optional reason and a human-readable message.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

func Forbidden(reason, message string) *Error {
	return newError(CodeForbidden, reason, message)
}

func InvalidState(reason, message string) *Error {
	return newError(CodeInvalidState, reason, message)
}

func InvalidTransition(reason, message string) *Error {
	return newError(CodeInvalidTransition, reason, message)
}

func Validation(message string) *Error {
	return newError(CodeValidation, "", message)
}

func NotFound(entity string) *Error {
	return newError(CodeNotFound, "", entity+" not found")
}

func Conflict(reason, message string) *Error {
	return newError(CodeConflict, reason, message)
}

func GatewayUnavailable(err error) *Error {
	e := newError(CodeGatewayUnavailable, "", "escrow gateway unavailable")
	e.Err = err
	return e
}

func OrphanEvent(holdID string) *Error {
	return newError(CodeOrphanEvent, "", "no payment matches hold "+holdID)
}

// CodeOf extracts the Code from an error chain; empty if the error is not ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// FromStore translates storage-layer errors into the taxonomy.
// Unique-constraint violations become CONFLICT, missing rows NOT_FOUND.
func FromStore(err error, entity string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Conflict(ReasonDuplicate, entity+" already exists")
	}
	return err
}

// Package enginerr defines the settlement engine's error taxonomy.
//
// Every rejection an engine entry point can produce carries one of the
// codes below. Callers match with the Is* predicates rather than string
// comparison; predicates use errors.As so wrapped errors match too.
//
// Race outcomes deserve a note: AlreadyCompleted is the expected result
// for the loser of a completion race (timer firing after a manual cancel,
// a contract completing an offer the party already exited). Callers that
// raced intentionally must treat it as a no-op, not a failure.
package enginerr

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// Caller/shape errors. These fail before any state is mutated.

	// CodeDuplicateHandle indicates a table create with a handle that is
	// already present.
	CodeDuplicateHandle Code = "DUPLICATE_HANDLE"

	// CodeUnknownHandle indicates a lookup for a handle the table has
	// never seen, or one that was deleted and is not separately tracked.
	CodeUnknownHandle Code = "UNKNOWN_HANDLE"

	// CodeInvalidRecord indicates a record that failed schema validation.
	CodeInvalidRecord Code = "INVALID_RECORD"

	// CodeUnexpectedPayment indicates a payment supplied for a payout rule
	// that does not escrow anything (a "want" rule).
	CodeUnexpectedPayment Code = "UNEXPECTED_PAYMENT"

	// CodeUnrecognizedRuleKind indicates a payout rule kind outside the
	// four recognized kinds.
	CodeUnrecognizedRuleKind Code = "UNRECOGNIZED_RULE_KIND"

	// CodeMissingRule indicates a nil payout rule where one was required.
	CodeMissingRule Code = "MISSING_RULE"

	// CodeUnsupportedModuleFormat indicates contract code in a format the
	// installer does not recognize.
	CodeUnsupportedModuleFormat Code = "UNSUPPORTED_MODULE_FORMAT"

	// Invariant violations. The whole proposed batch is rejected and the
	// offer table is left exactly as before the call.

	// CodeRightsNotConserved indicates a reallocation that would create or
	// destroy value for some asset kind.
	CodeRightsNotConserved Code = "RIGHTS_NOT_CONSERVED"

	// CodeOfferNotSafe indicates a reallocation that would leave an offer
	// with neither a full refund nor a full payout.
	CodeOfferNotSafe Code = "OFFER_NOT_SAFE"

	// Lifecycle violations.

	// CodeAlreadyCompleted indicates a completion attempt on an offer that
	// already completed. Expected for intentional racers.
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"

	// CodeInvalidInvite indicates redemption of an invite whose handle is
	// unrecognized or already redeemed.
	CodeInvalidInvite Code = "INVALID_INVITE"
)

// Error is a code-carrying engine error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Handle identifies the affected handle, when there is one.
	Handle string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("%s: %s (handle=%s)", e.Code, e.Message, e.Handle)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHandle creates an Error annotated with the affected handle.
func WithHandle(code Code, message, handle string) *Error {
	return &Error{Code: code, Message: message, Handle: handle}
}

// CodeOf extracts the engine error code from err, or "" if err is not an
// engine error. Unwraps via errors.As.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsUnknownHandle reports whether err is an UnknownHandle error.
func IsUnknownHandle(err error) bool { return HasCode(err, CodeUnknownHandle) }

// IsDuplicateHandle reports whether err is a DuplicateHandle error.
func IsDuplicateHandle(err error) bool { return HasCode(err, CodeDuplicateHandle) }

// IsInvalidRecord reports whether err is an InvalidRecord error.
func IsInvalidRecord(err error) bool { return HasCode(err, CodeInvalidRecord) }

// IsAlreadyCompleted reports whether err is an AlreadyCompleted error.
// Callers that raced a completion on purpose should treat this as a no-op.
func IsAlreadyCompleted(err error) bool { return HasCode(err, CodeAlreadyCompleted) }

// IsInvalidInvite reports whether err is an InvalidInvite error.
func IsInvalidInvite(err error) bool { return HasCode(err, CodeInvalidInvite) }

// IsRightsNotConserved reports whether err is a RightsNotConserved error.
func IsRightsNotConserved(err error) bool { return HasCode(err, CodeRightsNotConserved) }

// IsOfferNotSafe reports whether err is an OfferNotSafe error.
func IsOfferNotSafe(err error) bool { return HasCode(err, CodeOfferNotSafe) }

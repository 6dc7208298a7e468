package apperrors

import (
	"errors"
	"fmt"
)

// Error defines a standard application error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Wrapped underlying error.
	WrappedErr error `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.WrappedErr != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.WrappedErr)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.WrappedErr != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.WrappedErr)
	}
	return e.Kind.String()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.WrappedErr
}

// Kind defines the kind or class of an error.
type Kind uint8

const (
	Other               Kind = iota // Unclassified error
	Internal                        // Internal error
	Validation                      // Malformed or out-of-range input
	InvalidAmount                   // Amount exceeds what the operation allows
	InvalidState                    // Operation forbidden from the current state
	NotFound                        // Entity does not exist
	AlreadyPaid                     // Installment already settled
	SignatureInvalid                // Webhook or payment signature mismatch
	DuplicateDelivery               // Webhook already processed
	InsufficientBalance             // Payout exceeds available balance
	BelowMinimum                    // Payout below the configured minimum
	RetryLimitExceeded              // Payment retried too many times
	GatewayFailure                  // Gateway call failed
	Unauthorized                    // Missing or invalid credentials
	Forbidden                       // Authenticated but not allowed
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal_error"
	case Validation:
		return "validation_error"
	case InvalidAmount:
		return "invalid_amount"
	case InvalidState:
		return "invalid_state"
	case NotFound:
		return "not_found"
	case AlreadyPaid:
		return "already_paid"
	case SignatureInvalid:
		return "signature_invalid"
	case DuplicateDelivery:
		return "duplicate_delivery"
	case InsufficientBalance:
		return "insufficient_balance"
	case BelowMinimum:
		return "below_minimum"
	case RetryLimitExceeded:
		return "retry_limit_exceeded"
	case GatewayFailure:
		return "gateway_failure"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unclassified_error"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// E builds an *Error from any combination of Kind, string message and wrapped error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case *Error:
			// keep the inner kind unless one was given explicitly
			if e.Kind == Other {
				e.Kind = arg.Kind
			}
			e.WrappedErr = arg
		case error:
			e.WrappedErr = arg
		case string:
			e.Message = arg
		}
	}
	return e
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Other
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	As = errors.As
)

package errorsx

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error tags an underlying error with a reason code and, optionally, the
// operation that failed. The first reason attached to a chain wins.
type Error struct {
	Op     string
	Reason ReasonCode
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches reason to err. It returns nil for nil and leaves errors that
// already carry a reason untouched.
func Wrap(err error, reason ReasonCode) error {
	return WrapOp("", err, reason)
}

// WrapOp is Wrap with the failing operation prefixed to the message.
func WrapOp(op string, err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if op == "" {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Op: op, Reason: reason, Err: err}
}

// Errorf formats a new error carrying reason.
func Errorf(reason ReasonCode, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Reason returns the reason attached anywhere in err's chain, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// IsTimeout reports whether err was caused by a deadline, either a context
// deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

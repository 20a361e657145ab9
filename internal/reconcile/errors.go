package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// Operation names used in errors.
const (
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ErrUnimplemented matches any UnimplementedError via errors.Is.
var ErrUnimplemented = errors.New("operation not implemented")

// ErrInvalidPresence is returned when a state carries a presence value that
// is neither present nor absent.
var ErrInvalidPresence = errors.New("invalid presence")

// UnimplementedError is returned by a handler operation that the concrete
// handler does not support.
type UnimplementedError struct {
	// Handler is the concrete handler type, e.g. "*storage.Handler".
	Handler string
	Op      string
}

// Error implements the error interface.
func (e *UnimplementedError) Error() string {
	if e.Handler == "" {
		return fmt.Sprintf("handler has not implemented %q", e.Op)
	}
	return fmt.Sprintf("%s has not implemented %q", e.Handler, e.Op)
}

// Is reports ErrUnimplemented as a match.
func (e *UnimplementedError) Is(target error) bool {
	return target == ErrUnimplemented
}

// IsUnimplemented returns true if err is or wraps an UnimplementedError.
func IsUnimplemented(err error) bool {
	return errors.Is(err, ErrUnimplemented)
}

// Failure is the error for one resource whose reconciliation failed.
type Failure struct {
	Name       string
	Transition Transition
	// Op is the handler operation that failed. It is empty when the failure
	// happened before any operation was chosen (e.g. invalid presence).
	Op  string
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Transition == NoOp {
		if f.Op == "" {
			return fmt.Sprintf("reconcile %q: %v", f.Name, f.Err)
		}
		return fmt.Sprintf("reconcile %q (%s): %v", f.Name, f.Op, f.Err)
	}
	if f.Op == "" || f.Op == f.Transition.String() {
		return fmt.Sprintf("%s %q: %v", f.Transition, f.Name, f.Err)
	}
	return fmt.Sprintf("%s %q (%s): %v", f.Transition, f.Name, f.Op, f.Err)
}

// Unwrap returns the underlying handler error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// BatchError collects every per-resource failure of a continue-on-error run.
type BatchError struct {
	Failures []*Failure
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return "reconcile: 1 resource failed: " + e.Failures[0].Error()
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("reconcile: %d resources failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failures extracts per-resource failures from an error returned by
// Dispatcher.Reconcile.
func Failures(err error) []*Failure {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Failures
	}
	var f *Failure
	if errors.As(err, &f) {
		return []*Failure{f}
	}
	return nil
}

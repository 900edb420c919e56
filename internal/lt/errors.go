package lt

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLayout          = errors.New("invalid matrix layout")
	ErrShapeMismatch          = errors.New("shape mismatch")
	ErrUnsupportedCombination = errors.New("unsupported type combination")
	ErrInsufficientWorkspace  = errors.New("insufficient workspace")
	ErrExecutionFailed        = errors.New("execution failed")
)

// ShapeMismatchError names the pair of dimensions that disagree.
type ShapeMismatchError struct {
	Left, Right       string
	LeftDim, RightDim int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s=%d does not match %s=%d", ErrShapeMismatch, e.Left, e.LeftDim, e.Right, e.RightDim)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// UnsupportedError is returned when the library cannot run the requested
// combination of types and precisions.
type UnsupportedError struct {
	Status Status
	Reason string
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrUnsupportedCombination, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrUnsupportedCombination, e.Status)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedCombination }

// InsufficientWorkspaceError reports a workspace buffer smaller than the
// algorithm requires. Retrying with a buffer of Required bytes is valid.
type InsufficientWorkspaceError struct {
	Required, Provided uint64
}

func (e *InsufficientWorkspaceError) Error() string {
	return fmt.Sprintf("%s: algorithm requires %d bytes, %d provided", ErrInsufficientWorkspace, e.Required, e.Provided)
}

func (e *InsufficientWorkspaceError) Unwrap() error { return ErrInsufficientWorkspace }

// ExecutionError carries the native status of a failed library call. Err is
// set when the driver failed with something other than a Status.
type ExecutionError struct {
	Op     string
	Status Status
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrExecutionFailed, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrExecutionFailed, e.Op, e.Status)
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExecutionFailed, e.Err}
	}
	return []error{ErrExecutionFailed}
}

// classify maps an error returned by a Driver to the error taxonomy.
func classify(op string, err error) error {
	var status Status
	if !errors.As(err, &status) {
		var typed *UnsupportedError
		if errors.As(err, &typed) {
			return err
		}
		return &ExecutionError{Op: op, Status: StatusInternalError, Err: err}
	}
	switch status {
	case StatusNotSupported, StatusArchMismatch:
		return &UnsupportedError{Status: status}
	default:
		return &ExecutionError{Op: op, Status: status}
	}
}

package nn

import (
	"fmt"
)

// Error is the kind of every failure the training engine reports. The kinds
// are global values so callers can match them with errors.Is.
type Error struct{ string }

func (err Error) Error() string {
	return err.string
}

var (
	// ErrUninitializedModel is returned when propagation or persistence is
	// attempted before Init.
	ErrUninitializedModel = Error{"model is not initialized"}
	// ErrDimensionMismatch covers malformed dimension vectors and weight
	// shapes that disagree with them.
	ErrDimensionMismatch = Error{"dimension mismatch"}
	// ErrIO matches every *IOError.
	ErrIO = Error{"model i/o failed"}
	// ErrInvalidHyperparameter is returned for configuration values the
	// engine cannot train with.
	ErrInvalidHyperparameter = Error{"invalid hyperparameter"}
)

// IOError records a failed model read or write. Err is nil when the file was
// readable but its contents were corrupt.
type IOError struct {
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *IOError) Error() string {
	s := fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *IOError) Unwrap() error { return e.Err }

// Is reports ErrIO as a match so every IOError can be tested by kind.
func (e *IOError) Is(target error) bool { return target == ErrIO }

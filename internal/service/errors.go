package service

import (
	"errors"
	"fmt"
	"strings"
)

// --- Error Definitions ---
var (
	// ErrValidation marks a rejected request: missing files, empty description or empty callback.
	ErrValidation = errors.New("validation failed")
	// ErrDecode marks a callback whose encoding is unsupported or malformed.
	ErrDecode = errors.New("callback could not be decoded")
	// ErrForwarding marks a failed hand-off to the external processor.
	ErrForwarding = errors.New("forwarding to processor failed")
	// ErrStorage marks a failed directory or write operation.
	ErrStorage = errors.New("artifact storage failed")
	// ErrUnknownCorrelation is returned only when correlation enforcement is on.
	ErrUnknownCorrelation = errors.New("unknown request id")
)

// ForwardingError describes one failed dispatch. StatusCode is zero when the
// processor could not be reached at all.
type ForwardingError struct {
	RequestID  string
	StatusCode int
	Err        error
}

func (e *ForwardingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("forward request %s: processor responded %d", e.RequestID, e.StatusCode)
	}
	return fmt.Sprintf("forward request %s: %v", e.RequestID, e.Err)
}

func (e *ForwardingError) Unwrap() error { return e.Err }

func (e *ForwardingError) Is(target error) bool { return target == ErrForwarding }

// ValidationError lists every problem found in one rejected request.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages(), "; ")
}

// Messages returns the problems as plain strings.
func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return msgs
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func decodeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

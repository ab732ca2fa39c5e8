package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure surfaced by the client.
type Kind string

const (
	// KindConflict indicates a name collision (container already exists)
	KindConflict Kind = "conflict"

	// KindNotFound indicates an absent container or object
	KindNotFound Kind = "not_found"

	// KindAuth indicates the backend rejected the credentials
	KindAuth Kind = "auth"

	// KindTransient indicates a network or service fault; callers may retry
	KindTransient Kind = "transient"

	// KindValidation indicates a malformed name or argument
	KindValidation Kind = "validation"
)

// Error types
var (
	// ErrConflict indicates a container with the same name already exists
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a container or object was not found
	ErrNotFound = errors.New("not found")

	// ErrAuth indicates the backend rejected the supplied credentials
	ErrAuth = errors.New("authentication failed")

	// ErrTransient indicates a retryable network or service failure
	ErrTransient = errors.New("transient failure")

	// ErrValidation indicates a malformed name or argument
	ErrValidation = errors.New("validation failed")
)

var sentinels = map[Kind]error{
	KindConflict:   ErrConflict,
	KindNotFound:   ErrNotFound,
	KindAuth:       ErrAuth,
	KindTransient:  ErrTransient,
	KindValidation: ErrValidation,
}

// Sentinel returns the sentinel error for a kind.
func (k Kind) Sentinel() error {
	if err, ok := sentinels[k]; ok {
		return err
	}
	return ErrTransient
}

// ParseKind maps a kind name back to a Kind. Unknown names map to KindTransient.
func ParseKind(s string) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sentinels[k]; ok {
		return k
	}
	return KindTransient
}

// Error is returned by every Client operation.
type Error struct {
	Kind      Kind
	Op        string
	Backend   string
	Container string
	Object    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.Container != "" {
		fmt.Fprintf(&b, " for container %s", e.Container)
	}
	if e.Object != "" {
		fmt.Fprintf(&b, " object %s", e.Object)
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " on backend %s", e.Backend)
	}
	fmt.Fprintf(&b, " (%s)", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrNotFound)
// holds for a NotFound error whatever its cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// NewError wraps cause in the sentinel of kind. Backends use it to report a
// classified failure without building a full *Error.
func NewError(kind Kind, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind.Sentinel(), fmt.Sprintf(format, args...))
}

// WrapError classifies cause as kind while keeping it in the chain.
func WrapError(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind.Sentinel()) {
		return cause
	}
	return &kindError{kind: kind, err: cause}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind.Sentinel(), e.err} }

// KindOf classifies err. Nil has no kind; context cancellation and anything
// unrecognised are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, k := range []Kind{KindValidation, KindNotFound, KindConflict, KindAuth, KindTransient} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return KindTransient
}

// IsCanceled reports whether err was caused by context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return err != nil && KindOf(err) == KindConflict }

// IsAuth reports whether err is an Auth error.
func IsAuth(err error) bool { return err != nil && KindOf(err) == KindAuth }

// IsTransient reports whether err is a Transient error.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

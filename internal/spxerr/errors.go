// Package spxerr defines the closed error taxonomy shared by every layer of
// the spx client. It is a closed sum type by convention, not by the type
// system: callers compare against the exported Kind constants with
// errors.As, never by string matching.
package spxerr

import "fmt"

// Kind is one of the six error categories spx ever surfaces to a caller.
type Kind int

const (
	// NotSupported means the device did not advertise vSpectranext+ in its
	// qSupported response.
	NotSupported Kind = iota
	// Io covers transport failure, timeout exhaustion, malformed frames,
	// checksum-retry exhaustion, and unrecognized errno values.
	Io
	NotFound
	PermissionDenied
	Exists
	Invalid
)

func (k Kind) String() string {
	switch k {
	case NotSupported:
		return "not supported"
	case Io:
		return "I/O error"
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case Exists:
		return "already exists"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the failing operation and, where available, the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, spxerr.New(spxerr.NotFound, "", nil)) — more commonly
// they use errors.As and compare .Kind directly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf constructs an *Error with a formatted message as its cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// FromErrno maps a POSIX errno value (as reported by the device in
// "E<errno>"/"F-1,<errno>" responses) to a Kind, preserving the numeric
// code in the message for anything not in the closed set.
func FromErrno(op string, errno int) *Error {
	switch errno {
	case 2:
		return New(NotFound, op, fmt.Errorf("errno %d", errno))
	case 5:
		return New(Io, op, fmt.Errorf("errno %d", errno))
	case 13:
		return New(PermissionDenied, op, fmt.Errorf("errno %d", errno))
	case 17:
		return New(Exists, op, fmt.Errorf("errno %d", errno))
	case 22:
		return New(Invalid, op, fmt.Errorf("errno %d", errno))
	default:
		return Errorf(Io, op, "unrecognized errno %d", errno)
	}
}

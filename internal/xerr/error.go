package xerr

import "fmt"

// Error is the concrete type every CORE package raises. It preserves the
// original message and the wrapped cause, and carries the recoverable
// marker computed once at classification time so callers never need to
// re-derive it.
type Error struct {
	Kind        Kind
	Message     string
	Recoverable bool
	Cause       error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: Recoverable(kind)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: Recoverable(kind), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, xerr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// otherwise Unknown. A nil err yields the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Unknown
}

// asError is a tiny local errors.As to avoid importing errors just for
// KindOf and IsRecoverable.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRecoverable reports whether err (an *Error, possibly wrapped) is
// marked recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if asError(err, &e) {
		return e.Recoverable
	}
	return false
}

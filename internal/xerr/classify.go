package xerr

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeKind maps transport status codes 1:1 onto the top taxonomy block.
var codeKind = map[codes.Code]Kind{
	codes.Canceled:           Cancelled,
	codes.Unknown:            Unknown,
	codes.InvalidArgument:    InvalidArgument,
	codes.DeadlineExceeded:   DeadlineExceeded,
	codes.NotFound:           NotFound,
	codes.AlreadyExists:      AlreadyExists,
	codes.PermissionDenied:   PermissionDenied,
	codes.ResourceExhausted:  ResourceExhausted,
	codes.FailedPrecondition: FailedPrecondition,
	codes.Aborted:            Aborted,
	codes.OutOfRange:         OutOfRange,
	codes.Unimplemented:      NotImplemented,
	codes.Internal:           Internal,
	codes.Unavailable:        Unavailable,
	codes.DataLoss:           DataLoss,
	codes.Unauthenticated:    Unauthenticated,
}

// messageKind is a string-match table from server error message
// substrings to application-level kinds. Matching is case-insensitive
// substring containment, checked in the order below (first match wins).
var messageKind = []struct {
	substr string
	kind   Kind
}{
	{"role name already exists", RoleExists},
	{"user name already exists", UserExists},
	{"role is not granted to the user", RoleNotGranted},
	{"role name not found", RoleNotFound},
	{"user name not found", UserNotFound},
	{"authentication failed, invalid user id or password", AuthenticationFailed},
	{"invalid auth token", InvalidAuthToken},
	{"auth: token is invalid", InvalidAuthToken},
	{"requested lease not found", LeaseInvalid},
	{"lease not found", LeaseInvalid},
	{"lease already exists", LeaseInvalid},
}

// Classify maps a transport-level error (expected to be, or wrap, a
// google.golang.org/grpc/status error) to a typed *Error. The original
// message and the error chain are preserved via Cause; the recoverable
// marker is set iff the resolved Kind is in the recoverable set.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if already, ok := err.(*Error); ok {
		return already
	}

	st, ok := status.FromError(err)
	msg := err.Error()
	if ok {
		msg = st.Message()
		lower := strings.ToLower(msg)
		for _, m := range messageKind {
			if strings.Contains(lower, m.substr) {
				return Wrap(m.kind, msg, err)
			}
		}
		if kind, ok := codeKind[st.Code()]; ok {
			return Wrap(kind, msg, err)
		}
		return Wrap(Unknown, msg, err)
	}

	// Not a status error at all (e.g. a local context.DeadlineExceeded or
	// an error returned by a CORE invariant check) — still try the
	// message table before falling back to Unknown.
	lower := strings.ToLower(msg)
	for _, m := range messageKind {
		if strings.Contains(lower, m.substr) {
			return Wrap(m.kind, msg, err)
		}
	}
	return Wrap(Unknown, msg, err)
}

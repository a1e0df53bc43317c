// Package xerr defines the error taxonomy shared by every package in
// this client and the classifier that turns a transport-level failure
// into one of its typed members.
package xerr

// Kind enumerates every distinguishable failure the client surface can
// report. The first block corresponds 1:1 to transport status codes; the
// second block is populated by matching server error message text.
type Kind string

const (
	Cancelled          Kind = "Cancelled"
	Unknown            Kind = "Unknown"
	InvalidArgument    Kind = "InvalidArgument"
	DeadlineExceeded   Kind = "DeadlineExceeded"
	NotFound           Kind = "NotFound"
	AlreadyExists      Kind = "AlreadyExists"
	PermissionDenied   Kind = "PermissionDenied"
	ResourceExhausted  Kind = "ResourceExhausted"
	FailedPrecondition Kind = "FailedPrecondition"
	Aborted            Kind = "Aborted"
	OutOfRange         Kind = "OutOfRange"
	NotImplemented     Kind = "NotImplemented"
	Internal           Kind = "Internal"
	Unavailable        Kind = "Unavailable"
	DataLoss           Kind = "DataLoss"
	Unauthenticated    Kind = "Unauthenticated"

	// Application-level kinds, derived from server error message text or
	// raised directly by CORE packages.
	RoleExists           Kind = "RoleExists"
	UserExists           Kind = "UserExists"
	RoleNotGranted       Kind = "RoleNotGranted"
	RoleNotFound         Kind = "RoleNotFound"
	UserNotFound         Kind = "UserNotFound"
	AuthenticationFailed Kind = "AuthenticationFailed"
	InvalidAuthToken     Kind = "InvalidAuthToken"
	LeaseInvalid         Kind = "LeaseInvalid"
	LockFailed           Kind = "LockFailed"
	WatchStreamEnded     Kind = "WatchStreamEnded"
	NoLeader             Kind = "NoLeader"
	NotLeader            Kind = "NotLeader"
	STMConflict          Kind = "STMConflict"
	ClientClosed         Kind = "ClientClosed"
	NotCampaigning       Kind = "NotCampaigning"
	ClientRuntime        Kind = "ClientRuntime"
)

// recoverable is the set of kinds for which a retry against a different
// host, or a different attempt of the same call, has a chance of
// succeeding.
var recoverable = map[Kind]bool{
	Cancelled:        true,
	Unknown:          true,
	DeadlineExceeded: true,
	ResourceExhausted: true,
	Aborted:          true,
	Internal:         true,
	Unavailable:      true,
}

// Recoverable reports whether k is in the recoverable set.
func Recoverable(k Kind) bool {
	return recoverable[k]
}

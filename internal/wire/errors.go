package wire

import (
	"errors"
	"fmt"
)

// ErrKind enumerates the error taxonomy shared by the HTTP API client (C3) and
// the VFS dispatch layer's POSIX error mapping (C5). Every error that
// crosses the client/server boundary is classified into exactly one of
// these before it reaches C5.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindInvalidArgument
	KindTransportFailure
	KindServerFailure
	KindProtocol
	KindClosed
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindTransportFailure:
		return "TransportFailure"
	case KindServerFailure:
		return "ServerFailure"
	case KindProtocol:
		return "Protocol"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// APIError is the concrete error type returned by the HTTP API client and
// propagated through C4/C6 up to C5, where WithErrorMapping translates it
// into a syscall.Errno.
type APIError struct {
	Kind   ErrKind
	Status int // HTTP status code, 0 if not applicable (e.g. Transport).
	Op     string
	Path   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is lets callers write errors.Is(err, wire.ErrNotFound) etc. by matching
// on Kind rather than identity.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is comparisons against a bare Kind.
var (
	ErrNotFound         = &APIError{Kind: KindNotFound}
	ErrPermissionDenied = &APIError{Kind: KindPermissionDenied}
	ErrAlreadyExists    = &APIError{Kind: KindAlreadyExists}
	ErrInvalidArgument  = &APIError{Kind: KindInvalidArgument}
	ErrTransportFailure = &APIError{Kind: KindTransportFailure}
	ErrServerFailure    = &APIError{Kind: KindServerFailure}
	ErrProtocol         = &APIError{Kind: KindProtocol}
	ErrClosed           = &APIError{Kind: KindClosed}
)

// NewAPIError wraps cause into an APIError of the given kind for op on path.
func NewAPIError(kind ErrKind, status int, op, path string, cause error) *APIError {
	return &APIError{Kind: kind, Status: status, Op: op, Path: path, Err: cause}
}

// KindFromStatus classifies an HTTP status code per spec.md §4.3/§7.
func KindFromStatus(status int) ErrKind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 403:
		return KindPermissionDenied
	case status == 409:
		return KindAlreadyExists
	case status == 400:
		return KindInvalidArgument
	case status >= 500:
		return KindServerFailure
	case status >= 400:
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

// AsAPIError extracts an *APIError from err, classifying unrecognized
// errors as KindTransportFailure (network-level failures that never made
// it to a status code) so that callers always get a taxonomy member.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Kind: KindTransportFailure, Err: err}
}

// Package corestreamerrors implements the engine's error taxonomy:
// a closed set of error kinds, each carrying a domain/code pair
// a host can match on plus a human description and free-form debug
// context, and an explicit recoverable/fatal propagation policy.
package corestreamerrors

import "fmt"

// Kind enumerates the closed set of error kinds the session reports.
type Kind int

const (
	InvalidEncoding Kind = iota
	NotAPlaylist
	NotAVariant
	EmptyMediaPlaylist
	Inconsistent
	UnsupportedEncryption
	KeyFetchFailed
	InvalidKey
	StreamDecrypt
	TypefindFailed
	ResourceNotFound
	NetworkError
	NotNegotiated
	InternalBug
)

func (k Kind) String() string {
	switch k {
	case InvalidEncoding:
		return "InvalidEncoding"
	case NotAPlaylist:
		return "NotAPlaylist"
	case NotAVariant:
		return "NotAVariant"
	case EmptyMediaPlaylist:
		return "EmptyMediaPlaylist"
	case Inconsistent:
		return "Inconsistent"
	case UnsupportedEncryption:
		return "UnsupportedEncryption"
	case KeyFetchFailed:
		return "KeyFetchFailed"
	case InvalidKey:
		return "InvalidKey"
	case StreamDecrypt:
		return "StreamDecrypt"
	case TypefindFailed:
		return "TypefindFailed"
	case ResourceNotFound:
		return "ResourceNotFound"
	case NetworkError:
		return "NetworkError"
	case NotNegotiated:
		return "NotNegotiated"
	case InternalBug:
		return "InternalBug"
	default:
		return "Unknown"
	}
}

// Fatal reports whether this kind, on its own, must be surfaced to the
// host as session-terminating rather than handled locally.
// ResourceNotFound is only fatal after the scheduler's retry/rematch
// policy gives up — callers escalate it with Error.AsFatal once that point
// is reached,
// so the zero-value answer here is the "still recoverable" case.
func (k Kind) Fatal() bool {
	switch k {
	case InvalidEncoding, NotAPlaylist, UnsupportedEncryption, StreamDecrypt, NotNegotiated, InternalBug:
		return true
	default:
		return false
	}
}

// Error is the concrete error value carried through the system: a Kind
// plus the (domain, code, description, debug_info) host-facing
// contract.
type Error struct {
	Kind        Kind
	Domain      string
	Code        string
	Description string
	DebugInfo   string
	Cause       error

	// fatalOverride lets a caller escalate an otherwise-recoverable kind
	// (ResourceNotFound after N consecutive failures) without inventing a
	// new Kind value.
	fatalOverride *bool
}

func (e *Error) Error() string {
	if e.DebugInfo != "" {
		return fmt.Sprintf("%s: %s (%s/%s): %s", e.Kind, e.Description, e.Domain, e.Code, e.DebugInfo)
	}
	return fmt.Sprintf("%s: %s (%s/%s)", e.Kind, e.Description, e.Domain, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether this error instance is session-terminating.
func (e *Error) IsFatal() bool {
	if e.fatalOverride != nil {
		return *e.fatalOverride
	}
	return e.Kind.Fatal()
}

// New builds an Error of the given kind.
func New(kind Kind, domain, code, description string) *Error {
	return &Error{Kind: kind, Domain: domain, Code: code, Description: description}
}

// Wrap builds an Error of the given kind around a lower-level cause,
// carrying the cause's text as debug_info.
func Wrap(kind Kind, domain, code, description string, cause error) *Error {
	info := ""
	if cause != nil {
		info = cause.Error()
	}
	return &Error{Kind: kind, Domain: domain, Code: code, Description: description, DebugInfo: info, Cause: cause}
}

// AsFatal returns a copy of e with fatality forced to true — used when a
// recoverable kind (ResourceNotFound) crosses the retry-count threshold
// and must now terminate the session.
func (e *Error) AsFatal() *Error {
	fatal := true
	clone := *e
	clone.fatalOverride = &fatal
	return &clone
}

// Package provider connects the responder to the remote identity backends.
//
// A Backend performs the blocking work: enumerating subdomains, refreshing an
// account into the identity store, and authenticating a request. The
// Dispatcher runs those calls on their own goroutines with a per-call
// timeout and resumes the caller through a typed continuation. Every call is
// bound to a Handle owned by the waiting request; once the handle is
// invalidated (the client went away) the completion is dropped.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/domain"
)

var (
	// ErrTransport reports that the channel to the backend broke mid-call.
	// The client connection that issued the call cannot be trusted to be in
	// a consistent state and is closed.
	ErrTransport = errors.New("provider: transport failure")

	// ErrNoBackend is returned for a domain whose provider is not registered.
	ErrNoBackend = errors.New("provider: no backend registered")
)

// Major classifies a provider failure.
type Major uint16

const (
	MajorOK Major = iota
	MajorOffline
	MajorTimeout
	MajorFatal
)

func (m Major) String() string {
	switch m {
	case MajorOK:
		return "ok"
	case MajorOffline:
		return "offline"
	case MajorTimeout:
		return "timeout"
	case MajorFatal:
		return "fatal"
	default:
		return fmt.Sprintf("major(%d)", uint16(m))
	}
}

// Error is the major/minor/message triple a backend reports on failure.
type Error struct {
	Major   Major
	Minor   uint32
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider error %s/%d", e.Major, e.Minor)
	}
	return fmt.Sprintf("provider error %s/%d: %s", e.Major, e.Minor, e.Message)
}

// Offline builds an Error telling the caller the backend is unreachable.
func Offline(msg string) *Error {
	return &Error{Major: MajorOffline, Message: msg}
}

// Fatal builds an Error for a request the backend refused to process.
func Fatal(minor uint32, msg string) *Error {
	return &Error{Major: MajorFatal, Minor: minor, Message: msg}
}

// IsOffline reports whether err is a provider Error with MajorOffline or
// MajorTimeout.
func IsOffline(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Major == MajorOffline || pe.Major == MajorTimeout
	}
	return false
}

// AuthResult is what a backend returns for an authentication request.
type AuthResult struct {
	Status pam.Status

	// Items are appended to the client response in order.
	Items []pam.ResponseItem

	// ResponseDelay, in seconds, asks the responder to hold the reply.
	ResponseDelay int
}

// Backend is a remote identity source for one or more domains.
//
// Implementations are called from dispatcher goroutines and must honor ctx.
// A request passed to Authenticate is a private copy; the backend may keep
// reading it until it returns.
type Backend interface {
	Name() string

	// RefreshDomains returns the names of the subdomains known below dom.
	RefreshDomains(ctx context.Context, dom *domain.Domain) ([]string, error)

	// RefreshAccount fetches name (a UPN when isUPN) together with its group
	// memberships and writes the result into the identity store. A user that
	// does not exist is removed from the store and is not an error.
	RefreshAccount(ctx context.Context, dom *domain.Domain, name string, isUPN bool) error

	// Authenticate runs the PAM command of req against the backend.
	Authenticate(ctx context.Context, dom *domain.Domain, req *pam.Request) (*AuthResult, error)
}

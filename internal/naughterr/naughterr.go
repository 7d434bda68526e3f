// Package naughterr defines the error taxonomy shared by the placement,
// replication, and transport layers, and the HTTP status each maps to.
package naughterr

import (
	"fmt"
	"net/http"
)

// Kind identifies one of the error classes from spec §7.
type Kind int

const (
	// KindNotFound: container or file not present locally and no eligible
	// owner served it.
	KindNotFound Kind = iota
	// KindBadRequest: unrecognized route/method, malformed tar, malformed
	// JSON body.
	KindBadRequest
	// KindNonLocalStore: a redirect-disabled PUT landed on a non-owner.
	KindNonLocalStore
	// KindNotAuthorized: missing/invalid bearer on a protected endpoint.
	KindNotAuthorized
	// KindPingFailed: internal, swallowed by gossip fan-out.
	KindPingFailed
	// KindStoreFailed: internal, swallowed by replication fan-out.
	KindStoreFailed
	// KindInternal: transport/timeout/JSON/HMAC failures, mapped to 500.
	KindInternal
)

// Error is the concrete error type returned by the core packages.
type Error struct {
	Kind    Kind
	Message string
	// URI is set for StoreFailed and PingFailed, where it identifies the
	// peer the request failed against, and for NonLocalStore, where it
	// holds the container id.
	URI string
}

func (e *Error) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.URI)
	}
	return e.Message
}

// StatusCode maps a Kind to the HTTP status spec §7 assigns it.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNonLocalStore:
		return http.StatusGone
	case KindNotAuthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NotFound constructs a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BadRequest constructs a KindBadRequest error.
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NonLocalStore constructs a KindNonLocalStore error for containerID.
func NonLocalStore(containerID string) *Error {
	return &Error{Kind: KindNonLocalStore, Message: "not an owner for container", URI: containerID}
}

// NotAuthorized constructs a KindNotAuthorized error.
func NotAuthorized() *Error {
	return &Error{Kind: KindNotAuthorized, Message: "missing or invalid bearer token"}
}

// PingFailed constructs a KindPingFailed error for peerURI.
func PingFailed(peerURI string, cause error) *Error {
	return &Error{Kind: KindPingFailed, Message: fmt.Sprintf("ping failed: %v", cause), URI: peerURI}
}

// StoreFailed constructs a KindStoreFailed error for peerURI.
func StoreFailed(peerURI string, cause error) *Error {
	return &Error{Kind: KindStoreFailed, Message: fmt.Sprintf("store failed: %v", cause), URI: peerURI}
}

// Internal wraps an unclassified internal failure.
func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a naughterr.Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

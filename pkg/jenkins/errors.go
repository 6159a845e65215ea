package jenkins

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed Jenkins call.
type ErrorKind string

const (
	KindNotConnected    ErrorKind = "not_connected"
	KindAuth            ErrorKind = "auth"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindHTTP            ErrorKind = "http"
	KindConnection      ErrorKind = "connection"
	KindTimeout         ErrorKind = "timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindRequest         ErrorKind = "request"
)

// Error is a classified failure with a user-facing message.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by every operation issued without an active session.
var ErrNotConnected = &Error{
	Kind:    KindNotConnected,
	Message: "Not connected to Jenkins server",
}

// KindOf returns the classification of err, or "" if err is not a Jenkins error.
func KindOf(err error) ErrorKind {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Kind
	}

	return ""
}

// IsNotConnected reports whether err was caused by a missing session.
func IsNotConnected(err error) bool {
	return KindOf(err) == KindNotConnected
}

// opError prefixes a classified error with the operation that produced it.
type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *opError) Unwrap() error {
	return e.err
}

func wrapOp(op string, err error) error {
	return &opError{op: op, err: err}
}

// statusError classifies an HTTP error status.
func statusError(code int) *Error {
	e := &Error{StatusCode: code}

	switch code {
	case http.StatusUnauthorized:
		e.Kind = KindAuth
		e.Message = "Authentication failed - check username/password"
	case http.StatusForbidden:
		e.Kind = KindForbidden
		e.Message = "Access denied - insufficient permissions"
	case http.StatusNotFound:
		e.Kind = KindNotFound
		e.Message = "Jenkins server not found or endpoint unavailable"
	default:
		e.Kind = KindHTTP
		e.Message = fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code))
	}

	return e
}

// transportError classifies a failure that happened before a status code was received.
func transportError(err error) *Error {
	if isTimeout(err) {
		return &Error{
			Kind:    KindTimeout,
			Message: "Request timeout - Jenkins server may be slow",
			Err:     err,
		}
	}

	if isConnectionFailure(err) {
		return &Error{
			Kind:    KindConnection,
			Message: "Connection failed - check server URL and network",
			Err:     err,
		}
	}

	return &Error{
		Kind:    KindRequest,
		Message: fmt.Sprintf("Request error: %v", err),
		Err:     err,
	}
}

func invalidResponseError(err error) *Error {
	return &Error{
		Kind:    KindInvalidResponse,
		Message: "Invalid JSON response from Jenkins",
		Err:     err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func isConnectionFailure(err error) bool {
	var (
		dnsErr     *net.DNSError
		opErr      *net.OpError
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		recordErr  tls.RecordHeaderError
		invalidErr x509.CertificateInvalidError
	)

	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.As(err, &certErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr),
		errors.As(err, &recordErr),
		errors.As(err, &invalidErr):
		return true
	}

	return false
}

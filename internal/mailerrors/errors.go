// Package mailerrors defines the tagged error taxonomy shared by the transport,
// protocol, pool, discovery, and sync layers (see spec §7 ERROR HANDLING DESIGN).
package mailerrors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error tag. Every error raised by the core that a
// caller might branch on carries one of these via errors.As(*Error).
type Kind string

const (
	ConnectionFailed          Kind = "connection_failed"
	Timeout                   Kind = "timeout"
	TLSUpgradeFailed          Kind = "tls_upgrade_failed"
	CertificateValidationFail Kind = "certificate_validation_failed"
	StarttlsNotSupported      Kind = "starttls_not_supported"
	AuthenticationFailed      Kind = "authentication_failed"
	CommandFailed             Kind = "command_failed"
	InvalidResponse           Kind = "invalid_response"
	ParsingFailed             Kind = "parsing_failed"
	FolderNotFound            Kind = "folder_not_found"
	MessageNotFound           Kind = "message_not_found"
	MaxRetriesExhausted       Kind = "max_retries_exhausted"
	OperationCancelled        Kind = "operation_cancelled"
	TokenExpired              Kind = "token_expired"
	TokenRefreshFailed        Kind = "token_refresh_failed"
	NoCredentials             Kind = "no_credentials"
	Cancelled                 Kind = "cancelled"
	ConnectionClosed          Kind = "connection_closed"
)

// Error is the tagged error value. Text carries the human-readable detail;
// Kind is what callers switch on.
type Error struct {
	Kind Kind
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Text, e.Err)
	}
	if e.Text != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Text)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with no wrapped cause.
func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Text: text}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(kind Kind, text string, err error) *Error {
	return &Error{Kind: kind, Text: text, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the error kind is one the retry policies in
// IMAPClient.connect / CredentialResolver should retry (spec §7 propagation policy).
func Retryable(err error) bool {
	switch KindOf(err) {
	case ConnectionFailed, Timeout, ConnectionClosed:
		return true
	default:
		return false
	}
}

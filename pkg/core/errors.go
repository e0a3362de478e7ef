package core

import (
	"fmt"
	"net/url"
)

// Error is the canonical error shape surfaced by the session core.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransport covers non-2xx upstream responses and connection failures.
	// It is the only kind that is user-visible: sessions render it as the
	// assistant message text instead of raising.
	ErrTransport ErrorType = "transport_error"

	// ErrParse marks a malformed stream record. Always recovered locally by
	// skipping the record.
	ErrParse ErrorType = "parse_error"

	// ErrTranslation marks a failed translation call. Recovered by delivering
	// the untranslated source text.
	ErrTranslation ErrorType = "translation_error"

	// ErrTrackAttach marks a playback attach failure (for example autoplay
	// restrictions). Logged only; never tears down the session.
	ErrTrackAttach ErrorType = "track_attach_error"

	ErrInvalidRequest ErrorType = "invalid_request_error"

	// ErrAuthentication marks a rejected credential (401/403 from the token
	// issuance endpoint). Never user-visible; the session reports it via the
	// error callback and disconnects.
	ErrAuthentication ErrorType = "authentication_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error for a rejected
// credential.
func NewAuthenticationError(status int, message string) *Error {
	return &Error{
		Type:       ErrAuthentication,
		Message:    message,
		StatusCode: status,
	}
}

// NewTransportStatusError creates a transport error for a non-2xx response.
func NewTransportStatusError(status int, message string) *Error {
	return &Error{
		Type:       ErrTransport,
		Message:    message,
		StatusCode: status,
	}
}

// NewParseError creates a parse error for a malformed stream record.
func NewParseError(message string) *Error {
	return &Error{
		Type:    ErrParse,
		Message: message,
	}
}

// NewTranslationError wraps a failed translation call.
func NewTranslationError(underlying error) *Error {
	return &Error{
		Type:    ErrTranslation,
		Message: underlying.Error(),
	}
}

// NewTrackAttachError wraps a playback attach failure for the given track.
func NewTrackAttachError(trackID string, underlying error) *Error {
	return &Error{
		Type:    ErrTrackAttach,
		Message: fmt.Sprintf("track %s: %v", trackID, underlying),
		Code:    trackID,
	}
}

// UserVisible reports whether this error kind may be rendered to the user.
// Only transport errors are; everything else is absorbed at the component
// boundary that produced it.
func (e *Error) UserVisible() bool {
	return e.Type == ErrTransport
}

// TransportError represents connection-level failures (DNS, timeouts,
// connection reset, TLS handshake) while talking to an upstream service.
//
// Use errors.As(err, &TransportError{}) to distinguish connection failures
// from canonical status errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

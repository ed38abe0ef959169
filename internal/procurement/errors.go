package procurement

import (
	"errors"
	"fmt"
	"strings"
)

// MaxBodyExcerpt bounds how much of a failing response body is kept for diagnostics.
const MaxBodyExcerpt = 512

// ErrAllSourcesExhausted is returned when every fetch strategy failed.
var ErrAllSourcesExhausted = errors.New("all record sources exhausted")

// ErrMethodNotSupported is returned by transports that cannot issue a given method.
var ErrMethodNotSupported = errors.New("method not supported by transport")

// TransportError reports a failed HTTP exchange. Status is 0 for network faults.
type TransportError struct {
	Transport string
	Status    int
	Body      string
	Blocked   bool
	Err       error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s transport", e.Transport)
	if e.Status > 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Blocked {
		b.WriteString(" (blocked)")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %q", e.Body)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not the expected structured data.
type DecodeError struct {
	Transport string
	Body      string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s decode: %v", e.Transport, e.Err)
	}
	return fmt.Sprintf("%s decode: %v: %q", e.Transport, e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigMissingError lists required configuration inputs that were not provided.
type ConfigMissingError struct {
	Keys []string
}

func (e *ConfigMissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// NotifyError reports a failed delivery of one notification.
type NotifyError struct {
	Sink      string
	ProjectID string
	Err       error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s for project %q: %v", e.Sink, e.ProjectID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Excerpt trims body to MaxBodyExcerpt bytes without splitting a UTF-8 sequence.
func Excerpt(body []byte) string {
	if len(body) <= MaxBodyExcerpt {
		return strings.TrimSpace(string(body))
	}
	cut := MaxBodyExcerpt
	for cut > 0 && body[cut]&0xC0 == 0x80 {
		cut--
	}
	return strings.TrimSpace(string(body[:cut])) + "…"
}

// StatusOf extracts the HTTP status from a TransportError chain, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// Package transport holds the response handling shared by every Transport implementation.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// BlockDetector classifies anti-bot responses.
type BlockDetector interface {
	IsBlocked(status int, body []byte) bool
}

var errInvalidJSON = errors.New("response body is not valid JSON")

// Decode turns a completed HTTP exchange into the Transport contract: a JSON
// body for status < 400, otherwise a *TransportError or *DecodeError.
func Decode(name string, status int, body []byte, detector BlockDetector) (json.RawMessage, error) {
	blocked := detector != nil && detector.IsBlocked(status, body)
	if status >= http.StatusBadRequest {
		return nil, &procurement.TransportError{
			Transport: name,
			Status:    status,
			Body:      procurement.Excerpt(body),
			Blocked:   blocked,
			Err:       errors.New(http.StatusText(status)),
		}
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		if blocked {
			return nil, &procurement.TransportError{
				Transport: name,
				Status:    status,
				Body:      procurement.Excerpt(body),
				Blocked:   true,
				Err:       errors.New("challenge page served instead of data"),
			}
		}
		return nil, &procurement.DecodeError{
			Transport: name,
			Body:      procurement.Excerpt(body),
			Err:       errInvalidJSON,
		}
	}
	return json.RawMessage(trimmed), nil
}

// NetworkError wraps a fault that produced no HTTP response.
func NetworkError(name string, err error) error {
	return &procurement.TransportError{Transport: name, Err: err}
}

// CloneHeader copies h so callers may mutate the result.
func CloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

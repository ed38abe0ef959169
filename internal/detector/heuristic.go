// Package detector recognizes anti-bot interstitials served in place of JSON.
package detector

import (
	"bytes"
	"net/http"
	"strings"
)

// Heuristic flags responses that look like a WAF or bot-challenge page.
type Heuristic struct {
	markers [][]byte
}

// NewHeuristic creates a detector. Extra markers are matched case-insensitively
// in addition to the built-in set.
func NewHeuristic(extra ...string) *Heuristic {
	markers := make([][]byte, 0, len(defaultMarkers)+len(extra))
	markers = append(markers, defaultMarkers...)
	for _, m := range extra {
		m = strings.TrimSpace(m)
		if m != "" {
			markers = append(markers, []byte(strings.ToLower(m)))
		}
	}
	return &Heuristic{markers: markers}
}

var defaultMarkers = [][]byte{
	[]byte("request rejected"),
	[]byte("the requested url was rejected"),
	[]byte("_incapsula_resource"),
	[]byte("cf-chl"),
	[]byte("attention required"),
	[]byte("access denied"),
	[]byte("captcha"),
	[]byte("support id is"),
}

// IsBlocked reports whether status and body indicate the client was blocked
// rather than the request being malformed or the server failing.
func (h *Heuristic) IsBlocked(status int, body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range h.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if !looksLikeHTML(lower) {
		return false
	}
	switch status {
	case http.StatusForbidden, http.StatusNotAcceptable, http.StatusTooManyRequests:
		return true
	}
	// A 200 HTML page full of script where JSON was expected is a JS challenge.
	return status < http.StatusBadRequest && scriptDensityHigh(string(lower))
}

func looksLikeHTML(lower []byte) bool {
	trimmed := bytes.TrimSpace(lower)
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) ||
		bytes.HasPrefix(trimmed, []byte("<html")) ||
		bytes.Contains(trimmed, []byte("<body"))
}

func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}

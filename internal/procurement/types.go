// Package procurement defines the core types shared across the watcher's subsystems.
package procurement

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Well-known record fields returned by the e-GP datastore.
const (
	FieldProjectID   = "project_id"
	FieldProjectName = "project_name"
	FieldBudget      = "sum_price_agree"
	FieldDepartment  = "dept_name"
	FieldProvince    = "prov_name"
)

// Record is one announcement row as returned by the portal. No schema is
// enforced; unknown fields round-trip untouched.
type Record map[string]any

// ProjectID returns the trimmed string form of project_id, or "" when absent.
func (r Record) ProjectID() string {
	return r.Field(FieldProjectID)
}

// Field returns the trimmed string form of a scalar field.
func (r Record) Field(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Snapshot is the newest-first notification history.
type Snapshot []Record

// IDs returns the set of non-empty project ids held by the snapshot.
func (s Snapshot) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s))
	for _, rec := range s {
		if id := rec.ProjectID(); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// Request describes a single upstream call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// FullURL returns URL with Query encoded onto it.
func (r Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + r.Query.Encode()
}

// MethodOrGet returns the request method, defaulting to GET.
func (r Request) MethodOrGet() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

package source

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// DefaultMatchFields are the record fields searched for keywords.
var DefaultMatchFields = []string{
	procurement.FieldProjectName,
	procurement.FieldProvince,
	procurement.FieldDepartment,
}

// Filter keeps records where a keyword occurs in one of the match fields.
// Matching is done on NFC-normalized, case-folded text so composed and
// decomposed Thai vowel marks compare equal.
type Filter struct {
	keywords []string
	fields   []string
}

// NewFilter builds a Filter. Empty keywords are ignored.
func NewFilter(keywords, fields []string) *Filter {
	if len(fields) == 0 {
		fields = DefaultMatchFields
	}
	f := &Filter{fields: fields}
	for _, k := range keywords {
		if n := f.normalize(k); n != "" {
			f.keywords = append(f.keywords, n)
		}
	}
	return f
}

// Relevant reports whether rec matches any keyword.
func (f *Filter) Relevant(rec procurement.Record) bool {
	for _, field := range f.fields {
		value := f.normalize(rec.Field(field))
		if value == "" {
			continue
		}
		for _, keyword := range f.keywords {
			if strings.Contains(value, keyword) {
				return true
			}
		}
	}
	return false
}

// Apply returns the relevant records in their original order.
func (f *Filter) Apply(records []procurement.Record) []procurement.Record {
	out := make([]procurement.Record, 0, len(records))
	for _, rec := range records {
		if f.Relevant(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// A Caser is stateful, so each call gets its own.
func (f *Filter) normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

package source

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SQLQuery renders the precise server-side filter for datastore_search_sql.
type SQLQuery struct {
	ResourceID  string
	Keywords    []string
	MatchFields []string
	Limit       int
}

// Statement returns the SELECT statement. Every (field, keyword) pair becomes
// one LIKE clause joined with OR.
func (q SQLQuery) Statement() string {
	var clauses []string
	for _, field := range q.MatchFields {
		for _, keyword := range q.Keywords {
			if strings.TrimSpace(keyword) == "" {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s LIKE '%%%s%%'", quoteIdent(field), escapeLiteral(keyword)))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT * FROM %s`, quoteIdent(q.ResourceID))
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " OR "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String()
}

// KeywordQuery is the coarse full-text fallback, one request per keyword.
type KeywordQuery struct {
	ResourceID string
	Keywords   []string
	Limit      int
}

// Params returns the datastore_search parameters for one keyword.
func (q KeywordQuery) Params(keyword string) url.Values {
	params := url.Values{}
	params.Set("resource_id", q.ResourceID)
	params.Set("q", keyword)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

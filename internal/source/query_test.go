package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLStatement(t *testing.T) {
	t.Parallel()

	q := SQLQuery{
		ResourceID:  "abc-123",
		Keywords:    []string{"อินทร์บุรี", "สิงห์บุรี"},
		MatchFields: []string{"project_name", "prov_name"},
		Limit:       200,
	}
	assert.Equal(t,
		`SELECT * FROM "abc-123" WHERE "project_name" LIKE '%อินทร์บุรี%' OR "project_name" LIKE '%สิงห์บุรี%' OR "prov_name" LIKE '%อินทร์บุรี%' OR "prov_name" LIKE '%สิงห์บุรี%' LIMIT 200`,
		q.Statement())
}

func TestSQLStatementEscapesQuotes(t *testing.T) {
	t.Parallel()

	q := SQLQuery{ResourceID: `a"b`, Keywords: []string{"o'brien", " "}, MatchFields: []string{"dept_name"}}
	assert.Equal(t, `SELECT * FROM "a""b" WHERE "dept_name" LIKE '%o''brien%'`, q.Statement())
}

func TestSQLStatementWithoutKeywords(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `SELECT * FROM "r" LIMIT 5`, SQLQuery{ResourceID: "r", MatchFields: DefaultMatchFields, Limit: 5}.Statement())
}

func TestKeywordParams(t *testing.T) {
	t.Parallel()

	p := KeywordQuery{ResourceID: "r", Limit: 100}.Params("อินทร์บุรี")
	assert.Equal(t, "r", p.Get("resource_id"))
	assert.Equal(t, "อินทร์บุรี", p.Get("q"))
	assert.Equal(t, "100", p.Get("limit"))

	assert.Empty(t, KeywordQuery{ResourceID: "r"}.Params("x").Get("limit"))
}

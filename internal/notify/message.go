// Package notify formats new-record announcements and fans them out to sinks.
package notify

import (
	"strings"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Placeholders used when a record lacks a field.
const (
	MissingDepartment = "ไม่ระบุหน่วยงาน"
	MissingProject    = "ไม่ระบุชื่อโครงการ"
	MissingBudget     = "ไม่ระบุ"
)

// Template customizes the fixed announcement layout.
type Template struct {
	// Signature is appended as a final paragraph when set, e.g. "(by Alieninburi)".
	Signature string
}

// FormatMessage renders the announcement text for one record.
func FormatMessage(rec procurement.Record, tmpl Template) string {
	var b strings.Builder
	b.WriteString("📢 มีประกาศจัดซื้อจัดจ้างใหม่ในพื้นที่!\n\n")
	b.WriteString("🏢 หน่วยงาน: ")
	b.WriteString(orDefault(rec.Field(procurement.FieldDepartment), MissingDepartment))
	b.WriteString("\n📌 โครงการ: ")
	b.WriteString(orDefault(rec.Field(procurement.FieldProjectName), MissingProject))
	b.WriteString("\n💰 งบประมาณ: ")
	b.WriteString(orDefault(rec.Field(procurement.FieldBudget), MissingBudget))
	b.WriteString(" บาท")
	if sig := strings.TrimSpace(tmpl.Signature); sig != "" {
		b.WriteString("\n\n")
		b.WriteString(sig)
	}
	return b.String()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

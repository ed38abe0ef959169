package store

import "github.com/JakeFAU/egp-watch/internal/procurement"

// Diff returns the fetched records whose project id is not in snapshot, in
// fetched order. Records without an id are never new, and repeated ids in
// fetched collapse to their first occurrence.
func Diff(fetched []procurement.Record, snapshot procurement.Snapshot) []procurement.Record {
	seen := snapshot.IDs()
	out := make([]procurement.Record, 0)
	for _, rec := range fetched {
		id := rec.ProjectID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out
}

package install

import (
	"fmt"
	"sort"
	"strings"
)

// PackageError marks a broken or incomplete export package: missing manifest,
// missing entity files, checksum mismatches, malformed JSON.
type PackageError struct {
	Msg string
	Err error
}

func (e *PackageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PackageError) Unwrap() error { return e.Err }

// UnmappedDatabase describes one source database without a usable mapping and
// the cards that depend on it.
type UnmappedDatabase struct {
	SourceID int
	Name     string
	CardIDs  []int
}

// MappingError aborts an import before any write: some databases referenced
// by non-archived cards have no mapping, or a mapped target database does not
// exist on the target instance.
type MappingError struct {
	Unmapped       []UnmappedDatabase
	MissingTargets []int
}

func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString("database mapping is incomplete; no content was written\n")

	if len(e.Unmapped) > 0 {
		b.WriteString("\nUnmapped source databases:\n")
		for _, db := range e.Unmapped {
			ids := make([]string, len(db.CardIDs))
			for i, id := range db.CardIDs {
				ids[i] = fmt.Sprintf("%d", id)
			}
			fmt.Fprintf(&b, "  - database %d (%s), required by cards: %s\n", db.SourceID, db.Name, strings.Join(ids, ", "))
		}
		b.WriteString("\nAdd the missing entries to your db_map.json, for example:\n")
		b.WriteString(e.template())
	}

	if len(e.MissingTargets) > 0 {
		b.WriteString("\nMapped target databases not found on the target instance:\n")
		for _, id := range e.MissingTargets {
			fmt.Fprintf(&b, "  - target database %d\n", id)
		}
	}
	return b.String()
}

// template renders a db_map.json skeleton listing every unmapped database.
func (e *MappingError) template() string {
	sorted := make([]UnmappedDatabase, len(e.Unmapped))
	copy(sorted, e.Unmapped)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceID < sorted[j].SourceID })

	var entries []string
	for _, db := range sorted {
		entries = append(entries, fmt.Sprintf("    %q: <target_db_id>", fmt.Sprintf("%d", db.SourceID)))
	}
	return fmt.Sprintf("{\n  \"by_id\": {\n%s\n  },\n  \"by_name\": {}\n}\n", strings.Join(entries, ",\n"))
}

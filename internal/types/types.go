// Package types defines the entity index records shared by the export and
// import pipelines, and the manifest that ties an export package together.
//
// Full card and dashboard payloads live on disk as JSON files; the manifest
// holds only index records plus content checksums.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Collection is a named folder in the collection forest.
type Collection struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Slug            string  `json:"slug,omitempty"`
	Description     *string `json:"description,omitempty"`
	ParentID        *int    `json:"parent_id,omitempty"`
	PersonalOwnerID *int    `json:"personal_owner_id,omitempty"`
	// Path is the sanitized name chain from the scope boundary, '/'-joined.
	// Paths are unique within a package and lexicographically prefix-ordered,
	// so sorting by Path yields parent-before-child install order.
	Path string `json:"path"`
}

// Card is a saved question or model. Dataset marks models (questions flagged
// as reusable datasets).
type Card struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	DatabaseID   int    `json:"database_id"`
	FilePath     string `json:"file_path"`
	Checksum     string `json:"checksum"`
	Archived     bool   `json:"archived"`
	Dataset      bool   `json:"dataset"`
}

// Dashboard indexes an exported dashboard. OrderedCards lists the source ids
// of every card referenced by its panels and parameter value sources.
type Dashboard struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	OrderedCards []int  `json:"ordered_cards"`
	FilePath     string `json:"file_path"`
	Checksum     string `json:"checksum"`
	Archived     bool   `json:"archived"`
}

// PermissionGroup is captured verbatim; membership is not reconciled.
type PermissionGroup struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// FieldMeta and TableMeta carry the name/id pairs needed to rebuild table and
// field mappings on the target by name.
type FieldMeta struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type TableMeta struct {
	ID     int         `json:"id"`
	Name   string      `json:"name"`
	Fields []FieldMeta `json:"fields"`
}

type DatabaseMeta struct {
	Tables []TableMeta `json:"tables"`
}

// ManifestMeta records provenance for an export run. Secrets in CLIArgs are
// redacted before the manifest is written.
type ManifestMeta struct {
	SourceURL       string            `json:"source_url"`
	ExportTimestamp string            `json:"export_timestamp"`
	ToolVersion     string            `json:"tool_version"`
	ExportID        string            `json:"export_id,omitempty"`
	CLIArgs         map[string]string `json:"cli_args"`
}

// Manifest is the root object of manifest.json.
type Manifest struct {
	Meta             ManifestMeta            `json:"meta"`
	Databases        IntKeyMap[string]       `json:"databases"`
	DatabaseMetadata IntKeyMap[DatabaseMeta] `json:"database_metadata"`
	Collections      []Collection            `json:"collections"`
	Cards            []Card                  `json:"cards"`
	Dashboards       []Dashboard             `json:"dashboards"`
	PermissionGroups []PermissionGroup       `json:"permission_groups,omitempty"`

	// The two permission graphs are opaque: captured verbatim at export and
	// rewritten only at the key level during import.
	PermissionsGraph           map[string]interface{} `json:"permissions_graph,omitempty"`
	CollectionPermissionsGraph map[string]interface{} `json:"collection_permissions_graph,omitempty"`
}

// NewManifest returns a manifest with allocated maps.
func NewManifest(meta ManifestMeta) *Manifest {
	return &Manifest{
		Meta:             meta,
		Databases:        IntKeyMap[string]{},
		DatabaseMetadata: IntKeyMap[DatabaseMeta]{},
	}
}

// CardByID returns the manifest card record with the given source id.
func (m *Manifest) CardByID(id int) (Card, bool) {
	for _, c := range m.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// IntKeyMap is a map keyed by integers that serializes with string keys, as
// JSON requires. Conversion back to integer keys happens on load, so the
// in-memory model uses integer keys throughout.
type IntKeyMap[T any] map[int]T

func (m IntKeyMap[T]) MarshalJSON() ([]byte, error) {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return json.Marshal(out)
}

func (m *IntKeyMap[T]) UnmarshalJSON(data []byte) error {
	raw := map[string]T{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(map[int]T, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("non-integer map key %q: %w", k, err)
		}
		out[n] = v
	}
	*m = out
	return nil
}

// DatabaseMap is the user-authored source-to-target database mapping.
// ByID keys are source database ids as strings (JSON object keys); ByID wins
// over ByName when both match.
type DatabaseMap struct {
	ByID   map[string]int `json:"by_id"`
	ByName map[string]int `json:"by_name"`
}

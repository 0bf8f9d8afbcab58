// Package resolve owns the source-to-target identifier tables built during
// import: databases (from the user map), tables and fields (matched by name
// within a mapped database), collections and cards (registered as each is
// created on the target).
//
// Tables grow monotonically: a registration never replaces an existing entry.
package resolve

import (
	"context"
	"fmt"

	"github.com/mbmove/mbmove/internal/logx"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// schemaKey scopes a table or field id to its source database: ids are only
// meaningful within one database's metadata.
type schemaKey struct {
	db int
	id int
}

// MetadataFetcher is the one client operation schema-map construction needs.
type MetadataFetcher interface {
	GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error)
}

// Resolver translates source identifiers to target identifiers.
type Resolver struct {
	manifest *types.Manifest
	dbMap    types.DatabaseMap
	log      *logx.Logger

	tables      map[schemaKey]int
	fields      map[schemaKey]int
	collections map[int]int
	cards       map[int]int
}

// New returns an empty resolver over the manifest and user database map.
func New(manifest *types.Manifest, dbMap types.DatabaseMap, log *logx.Logger) *Resolver {
	if log == nil {
		log = logx.Discard()
	}
	return &Resolver{
		manifest:    manifest,
		dbMap:       dbMap,
		log:         log,
		tables:      map[schemaKey]int{},
		fields:      map[schemaKey]int{},
		collections: map[int]int{},
		cards:       map[int]int{},
	}
}

// Database resolves a source database id. by_id entries win over by_name.
func (r *Resolver) Database(srcID int) (int, bool) {
	if tgt, ok := r.dbMap.ByID[fmt.Sprintf("%d", srcID)]; ok {
		return tgt, true
	}
	if name, ok := r.manifest.Databases[srcID]; ok {
		if tgt, ok := r.dbMap.ByName[name]; ok {
			return tgt, true
		}
	}
	return 0, false
}

// KnownTargetDatabase reports whether id is one of the map's target ids.
// Used by the rewriter to keep re-runs over already-rewritten payloads
// idempotent.
func (r *Resolver) KnownTargetDatabase(id int) bool {
	for _, tgt := range r.dbMap.ByID {
		if tgt == id {
			return true
		}
	}
	for _, tgt := range r.dbMap.ByName {
		if tgt == id {
			return true
		}
	}
	return false
}

// MappedTargetDatabases returns the distinct target ids reachable from the
// manifest's databases through the map.
func (r *Resolver) MappedTargetDatabases() []int {
	seen := map[int]bool{}
	var out []int
	for srcID := range r.manifest.Databases {
		if tgt, ok := r.Database(srcID); ok && !seen[tgt] {
			seen[tgt] = true
			out = append(out, tgt)
		}
	}
	return out
}

// Table resolves a (source database, source table) pair.
func (r *Resolver) Table(srcDB, srcTable int) (int, bool) {
	tgt, ok := r.tables[schemaKey{srcDB, srcTable}]
	return tgt, ok
}

// Field resolves a (source database, source field) pair.
func (r *Resolver) Field(srcDB, srcField int) (int, bool) {
	tgt, ok := r.fields[schemaKey{srcDB, srcField}]
	return tgt, ok
}

// Collection resolves a source collection id.
func (r *Resolver) Collection(srcID int) (int, bool) {
	tgt, ok := r.collections[srcID]
	return tgt, ok
}

// Card resolves a source card id.
func (r *Resolver) Card(srcID int) (int, bool) {
	tgt, ok := r.cards[srcID]
	return tgt, ok
}

// RegisterCollection records a collection resolution. The first registration
// wins; later calls for the same source id are ignored.
func (r *Resolver) RegisterCollection(srcID, tgtID int) {
	if _, exists := r.collections[srcID]; exists {
		return
	}
	r.collections[srcID] = tgtID
}

// RegisterCard records a card resolution. The first registration wins.
func (r *Resolver) RegisterCard(srcID, tgtID int) {
	if _, exists := r.cards[srcID]; exists {
		return
	}
	r.cards[srcID] = tgtID
}

// CardMap returns a copy of the card table, for reporting.
func (r *Resolver) CardMap() map[int]int {
	out := make(map[int]int, len(r.cards))
	for k, v := range r.cards {
		out[k] = v
	}
	return out
}

// BuildSchemaMaps fetches each mapped target database's metadata once and
// matches tables and fields by name against the manifest's source metadata.
// Missing names are warned about, never fatal: a card that actually relies on
// a missing id fails at install with a structured reason.
func (r *Resolver) BuildSchemaMaps(ctx context.Context, fetcher MetadataFetcher) error {
	fetched := map[int]map[string]interface{}{}

	for srcDB, srcName := range r.manifest.Databases {
		tgtDB, ok := r.Database(srcDB)
		if !ok {
			r.log.Debugf("skipping schema mapping for unmapped database %d", srcDB)
			continue
		}
		srcMeta, ok := r.manifest.DatabaseMetadata[srcDB]
		if !ok || len(srcMeta.Tables) == 0 {
			r.log.Debugf("no table metadata for source database %d; table rewriting unavailable", srcDB)
			continue
		}

		tgtMeta, ok := fetched[tgtDB]
		if !ok {
			var err error
			tgtMeta, err = fetcher.GetDatabaseMetadata(ctx, tgtDB)
			if err != nil {
				r.log.Warnf("failed to fetch metadata for target database %d: %v; schema rewriting unavailable for it", tgtDB, err)
				continue
			}
			fetched[tgtDB] = tgtMeta
		}

		tgtTables, tgtFields := indexTargetMetadata(tgtMeta)
		r.log.Debugf("mapping schema of source database %d (%s) onto target database %d: %d source tables, %d target tables",
			srcDB, srcName, tgtDB, len(srcMeta.Tables), len(tgtTables))

		for _, srcTable := range srcMeta.Tables {
			tgtTableID, ok := tgtTables[srcTable.Name]
			if !ok {
				r.log.Warnf("table %q (id %d) of database %d has no match on target database %d; cards using it may fail",
					srcTable.Name, srcTable.ID, srcDB, tgtDB)
				continue
			}
			r.tables[schemaKey{srcDB, srcTable.ID}] = tgtTableID

			byName := tgtFields[tgtTableID]
			for _, srcField := range srcTable.Fields {
				tgtFieldID, ok := byName[srcField.Name]
				if !ok {
					r.log.Warnf("field %q (id %d) of table %q has no match on target; cards using it may fail",
						srcField.Name, srcField.ID, srcTable.Name)
					continue
				}
				r.fields[schemaKey{srcDB, srcField.ID}] = tgtFieldID
			}
		}
	}
	return nil
}

// indexTargetMetadata flattens a metadata response into name-indexed tables
// and, per table, name-indexed fields.
func indexTargetMetadata(meta map[string]interface{}) (map[string]int, map[int]map[string]int) {
	tables := map[string]int{}
	fields := map[int]map[string]int{}

	rawTables, _ := meta["tables"].([]interface{})
	for _, rawTable := range rawTables {
		table, _ := rawTable.(map[string]interface{})
		if table == nil {
			continue
		}
		id, ok := mbql.AsInt(table["id"])
		if !ok {
			continue
		}
		name, _ := table["name"].(string)
		tables[name] = id

		byName := map[string]int{}
		rawFields, _ := table["fields"].([]interface{})
		for _, rawField := range rawFields {
			field, _ := rawField.(map[string]interface{})
			if field == nil {
				continue
			}
			fid, ok := mbql.AsInt(field["id"])
			if !ok {
				continue
			}
			fname, _ := field["name"].(string)
			byName[fname] = fid
		}
		fields[id] = byName
	}
	return tables, fields
}

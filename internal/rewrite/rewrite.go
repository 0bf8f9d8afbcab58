// Package rewrite transforms exported card payloads so every identifier they
// carry points at the target instance: database ids, table ids, field refs,
// card references in queries and native SQL, and result metadata.
//
// Rewriting is pure. The input payload is never mutated; callers get a deep
// copy with the substitutions applied. Running the rewriter over an already
// rewritten payload is a no-op because target database ids are recognized and
// passed through.
package rewrite

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mbmove/mbmove/internal/logx"
	"github.com/mbmove/mbmove/internal/mbql"
)

// Lookup supplies the identifier tables the rewriter consults. Satisfied by
// *resolve.Resolver.
type Lookup interface {
	Database(srcID int) (int, bool)
	KnownTargetDatabase(id int) bool
	Table(srcDB, srcID int) (int, bool)
	Field(srcDB, srcID int) (int, bool)
	Card(srcID int) (int, bool)
}

// Rewriter applies identifier substitutions to card payloads.
type Rewriter struct {
	lookup Lookup
	log    *logx.Logger
}

// New returns a rewriter over the given lookup tables.
func New(lookup Lookup, log *logx.Logger) *Rewriter {
	if log == nil {
		log = logx.Discard()
	}
	return &Rewriter{lookup: lookup, log: log}
}

// Card rewrites a card payload. The returned ok is false when the payload
// carries no database reference at all, in which case the copy is returned
// unchanged. An error means the payload references a database that is neither
// mapped nor already a target id.
func (r *Rewriter) Card(payload map[string]interface{}) (map[string]interface{}, bool, error) {
	out, err := deepCopy(payload)
	if err != nil {
		return nil, false, err
	}

	srcDB, found := cardDatabaseID(out)
	if !found {
		return out, false, nil
	}

	tgtDB, ok := r.lookup.Database(srcDB)
	if !ok {
		if r.lookup.KnownTargetDatabase(srcDB) {
			// Already rewritten; substitutions below are identity maps then.
			tgtDB = srcDB
		} else {
			return nil, false, fmt.Errorf("database %d is not mapped", srcDB)
		}
	}

	out["database_id"] = tgtDB
	dq, _ := out["dataset_query"].(map[string]interface{})
	if dq != nil {
		dq["database"] = tgtDB
	}

	if id, ok := mbql.AsInt(out["table_id"]); ok {
		out["table_id"] = r.tableID(srcDB, id)
	} else if cardID, ok := mbql.ParseCardRef(out["table_id"]); ok {
		out["table_id"] = mbql.FormatCardRef(r.cardID(cardID))
	}

	if dq != nil {
		switch mbql.DetectDialect(dq) {
		case mbql.DialectStages:
			r.rewriteStages(dq, srcDB)
		default:
			if inner, _ := dq["query"].(map[string]interface{}); inner != nil {
				r.rewriteInnerQuery(inner, srcDB)
			}
			if native, _ := dq["native"].(map[string]interface{}); native != nil {
				if sql, ok := native["query"].(string); ok {
					native["query"] = r.rewriteNativeSQL(sql)
				}
				r.rewriteTemplateTags(native, "template-tags")
			}
		}
	}

	if meta, ok := out["result_metadata"].([]interface{}); ok {
		r.rewriteResultMetadata(meta, srcDB)
	}
	if viz, ok := out["visualization_settings"].(map[string]interface{}); ok {
		r.FieldRefs(viz, srcDB)
	}
	return out, true, nil
}

// FieldRefs walks any JSON subtree and remaps every ["field", id, ...] and
// ["field-id", id] reference in place. Used for dashboard parameter mappings
// and visualization settings, whose trees embed field refs at arbitrary depth.
func (r *Rewriter) FieldRefs(node interface{}, srcDB int) {
	switch n := node.(type) {
	case map[string]interface{}:
		for _, v := range n {
			r.FieldRefs(v, srcDB)
		}
	case []interface{}:
		if id, ok := mbql.IsFieldRef(n); ok {
			n[1] = r.fieldID(srcDB, id)
			if len(n) > 2 {
				r.FieldRefs(n[2], srcDB)
			}
			return
		}
		for _, v := range n {
			r.FieldRefs(v, srcDB)
		}
	}
}

// cardDatabaseID finds the source database reference of a payload, checking
// database_id first and falling back to dataset_query.database.
func cardDatabaseID(payload map[string]interface{}) (int, bool) {
	if id, ok := mbql.AsInt(payload["database_id"]); ok {
		return id, true
	}
	if dq, _ := payload["dataset_query"].(map[string]interface{}); dq != nil {
		if id, ok := mbql.AsInt(dq["database"]); ok {
			return id, true
		}
	}
	return 0, false
}

// rewriteInnerQuery handles one legacy inner query: its source-table, nested
// source-query, joins, and the clause subtrees that may hold field refs.
func (r *Rewriter) rewriteInnerQuery(inner map[string]interface{}, srcDB int) {
	r.rewriteSourceTable(inner, srcDB)

	if nested, _ := inner["source-query"].(map[string]interface{}); nested != nil {
		r.rewriteInnerQuery(nested, srcDB)
	}

	joins, _ := inner["joins"].([]interface{})
	for _, raw := range joins {
		join, _ := raw.(map[string]interface{})
		if join == nil {
			continue
		}
		r.rewriteSourceTable(join, srcDB)
		if cond, ok := join["condition"]; ok {
			r.FieldRefs(cond, srcDB)
		}
		if fields, ok := join["fields"]; ok {
			r.FieldRefs(fields, srcDB)
		}
	}

	for _, key := range mbql.ClauseKeys {
		if sub, ok := inner[key]; ok {
			r.FieldRefs(sub, srcDB)
		}
	}
}

// rewriteStages handles the newer dialect: one pass per stage, dispatching on
// the stage kind.
func (r *Rewriter) rewriteStages(dq map[string]interface{}, srcDB int) {
	stages, _ := dq["stages"].([]interface{})
	for _, raw := range stages {
		stage, _ := raw.(map[string]interface{})
		if stage == nil {
			continue
		}
		switch stage["lib/type"] {
		case mbql.StageKindMBQL:
			r.rewriteInnerQuery(stage, srcDB)
		case mbql.StageKindNative:
			if sql, ok := stage["native"].(string); ok {
				stage["native"] = r.rewriteNativeSQL(sql)
			}
			r.rewriteTemplateTags(stage, "template-tags")
		}
	}
}

// rewriteSourceTable remaps a source-table value that is either a card
// reference string or a raw table id.
func (r *Rewriter) rewriteSourceTable(m map[string]interface{}, srcDB int) {
	v, ok := m["source-table"]
	if !ok {
		return
	}
	if cardID, ok := mbql.ParseCardRef(v); ok {
		m["source-table"] = mbql.FormatCardRef(r.cardID(cardID))
		return
	}
	if id, ok := mbql.AsInt(v); ok {
		m["source-table"] = r.tableID(srcDB, id)
	}
}

// rewriteNativeSQL substitutes {{#id-slug}} card references in SQL text.
func (r *Rewriter) rewriteNativeSQL(sql string) string {
	return mbql.SQLCardRefPattern.ReplaceAllStringFunc(sql, func(match string) string {
		parts := mbql.SQLCardRefPattern.FindStringSubmatch(match)
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return match
		}
		return fmt.Sprintf("{{#%d-%s}}", r.cardID(id), parts[2])
	})
}

// rewriteTemplateTags remaps card-typed template tags under holder[key]: the
// card-id value plus the tag's map key, name, and display-name, which all
// encode the id. A leading # on the key is preserved.
func (r *Rewriter) rewriteTemplateTags(holder map[string]interface{}, key string) {
	tags, _ := holder[key].(map[string]interface{})
	if tags == nil {
		return
	}
	renamed := map[string]interface{}{}
	for tagKey, raw := range tags {
		tag, _ := raw.(map[string]interface{})
		if tag == nil || tag["type"] != "card" {
			renamed[tagKey] = raw
			continue
		}
		srcCard, ok := mbql.AsInt(tag["card-id"])
		if !ok {
			renamed[tagKey] = raw
			continue
		}
		tgtCard := r.cardID(srcCard)
		tag["card-id"] = tgtCard

		newKey := renameTagString(tagKey, srcCard, tgtCard)
		if name, ok := tag["name"].(string); ok {
			tag["name"] = renameTagString(name, srcCard, tgtCard)
		}
		if display, ok := tag["display-name"].(string); ok {
			tag["display-name"] = renameTagString(display, srcCard, tgtCard)
		}
		renamed[newKey] = tag
	}
	holder[key] = renamed
}

// renameTagString rewrites "<n>-slug" or "#<n>-slug" to carry the new id.
// Strings in any other shape pass through unchanged.
func renameTagString(s string, srcCard, tgtCard int) string {
	m := mbql.TagKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	id, err := strconv.Atoi(m[2])
	if err != nil || id != srcCard {
		return s
	}
	return fmt.Sprintf("%s%d-%s", m[1], tgtCard, m[3])
}

// rewriteResultMetadata remaps each column record's field_ref, id, and
// table_id. Metadata is advisory; the server regenerates it on first run, so
// misses here are harmless.
func (r *Rewriter) rewriteResultMetadata(meta []interface{}, srcDB int) {
	for _, raw := range meta {
		col, _ := raw.(map[string]interface{})
		if col == nil {
			continue
		}
		if ref, ok := col["field_ref"].([]interface{}); ok {
			if id, ok := mbql.IsFieldRef(ref); ok {
				ref[1] = r.fieldID(srcDB, id)
			}
		}
		if id, ok := mbql.AsInt(col["id"]); ok {
			col["id"] = r.fieldID(srcDB, id)
		}
		if id, ok := mbql.AsInt(col["table_id"]); ok {
			col["table_id"] = r.tableID(srcDB, id)
		}
	}
}

// tableID maps a table id, keeping the original and warning when no mapping
// exists.
func (r *Rewriter) tableID(srcDB, id int) int {
	if tgt, ok := r.lookup.Table(srcDB, id); ok {
		return tgt
	}
	r.log.Warnf("no target mapping for table %d of database %d; keeping original id", id, srcDB)
	return id
}

func (r *Rewriter) fieldID(srcDB, id int) int {
	if tgt, ok := r.lookup.Field(srcDB, id); ok {
		return tgt
	}
	r.log.Warnf("no target mapping for field %d of database %d; keeping original id", id, srcDB)
	return id
}

// cardID maps a referenced card id. Unresolved references are kept verbatim;
// dependency ordering means they indicate a dependency that failed to install,
// which the card's own install surfaces as a failure.
func (r *Rewriter) cardID(id int) int {
	if tgt, ok := r.lookup.Card(id); ok {
		return tgt
	}
	r.log.Warnf("referenced card %d has no target mapping; keeping original id", id)
	return id
}

// deepCopy clones a JSON tree through a marshal round trip.
func deepCopy(m map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copy payload: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copy payload: %w", err)
	}
	return out, nil
}

// Package mbql is the single catalog of query-tree reference shapes: which
// structures inside a card payload can point at tables, fields, and other
// cards. Export-side dependency discovery and import-side rewriting both
// dispatch through this package so the shapes are declared once.
//
// Two dialect generations coexist. The legacy dialect keeps the query under
// dataset_query.query (or dataset_query.native); the newer one carries a
// dataset_query.stages list where each stage declares its kind via lib/type.
package mbql

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Dialect identifies the query-language generation of a dataset_query.
type Dialect int

const (
	DialectLegacy Dialect = iota
	DialectStages
)

// DetectDialect inspects a dataset_query once; selection is per payload.
func DetectDialect(datasetQuery map[string]interface{}) Dialect {
	if datasetQuery == nil {
		return DialectLegacy
	}
	if _, ok := datasetQuery["stages"]; ok {
		return DialectStages
	}
	if t, ok := datasetQuery["lib/type"].(string); ok && t == "mbql/query" {
		return DialectStages
	}
	return DialectLegacy
}

const (
	// StageKindMBQL and StageKindNative are the lib/type values of stage
	// entries in the newer dialect.
	StageKindMBQL   = "mbql.stage/mbql"
	StageKindNative = "mbql.stage/native"

	cardRefPrefix = "card__"
)

// ClauseKeys are the inner-query keys whose subtrees may contain field
// references.
var ClauseKeys = []string{"filter", "aggregation", "breakout", "order-by", "fields", "expressions"}

// SQLCardRefPattern matches {{#<id>-<slug>}} references embedded in native
// SQL text. It cannot distinguish real references from occurrences inside SQL
// string literals or comments; that limitation is accepted.
var SQLCardRefPattern = regexp.MustCompile(`\{\{#(\d+)-([^}]*)\}\}`)

// TagKeyPattern matches template-tag keys that encode a card id:
// "<n>-slug" or "#<n>-slug".
var TagKeyPattern = regexp.MustCompile(`^(#?)(\d+)-(.*)$`)

// ParseCardRef extracts the id from a "card__<n>" source-table value.
func ParseCardRef(v interface{}) (int, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, cardRefPrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(s, cardRefPrefix))
	if err != nil {
		return 0, false
	}
	return id, true
}

// FormatCardRef renders a card id as a source-table reference.
func FormatCardRef(id int) string {
	return cardRefPrefix + strconv.Itoa(id)
}

// AsInt normalizes a decoded JSON number to int. encoding/json decodes
// numbers in interface trees as float64.
func AsInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// IsFieldRef reports whether node is a ["field", id, ...] or
// ["field-id", id] reference with an integer id.
func IsFieldRef(node []interface{}) (int, bool) {
	if len(node) < 2 {
		return 0, false
	}
	tag, ok := node[0].(string)
	if !ok || (tag != "field" && tag != "field-id") {
		return 0, false
	}
	return AsInt(node[1])
}

// ExtractCardDependencies returns the sorted set of card ids that cardData
// references directly, across both dialects and both query kinds.
func ExtractCardDependencies(cardData map[string]interface{}) []int {
	deps := map[int]bool{}

	dq, _ := cardData["dataset_query"].(map[string]interface{})
	if dq == nil {
		return nil
	}

	switch DetectDialect(dq) {
	case DialectStages:
		stages, _ := dq["stages"].([]interface{})
		for _, raw := range stages {
			stage, _ := raw.(map[string]interface{})
			if stage == nil {
				continue
			}
			switch stage["lib/type"] {
			case StageKindMBQL:
				collectInnerQueryRefs(stage, deps)
			case StageKindNative:
				sql, _ := stage["native"].(string)
				collectNativeRefs(sql, stage["template-tags"], deps)
			}
		}
	default:
		if inner, _ := dq["query"].(map[string]interface{}); inner != nil {
			collectInnerQueryRefs(inner, deps)
		}
		if native, _ := dq["native"].(map[string]interface{}); native != nil {
			sql, _ := native["query"].(string)
			collectNativeRefs(sql, native["template-tags"], deps)
		}
	}

	if len(deps) == 0 {
		return nil
	}
	out := make([]int, 0, len(deps))
	for id := range deps {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// collectInnerQueryRefs gathers card refs from source-table and joins of one
// inner MBQL query (legacy inner query or one mbql stage).
func collectInnerQueryRefs(inner map[string]interface{}, deps map[int]bool) {
	if id, ok := ParseCardRef(inner["source-table"]); ok {
		deps[id] = true
	}
	joins, _ := inner["joins"].([]interface{})
	for _, raw := range joins {
		join, _ := raw.(map[string]interface{})
		if join == nil {
			continue
		}
		if id, ok := ParseCardRef(join["source-table"]); ok {
			deps[id] = true
		}
	}
}

// collectNativeRefs gathers card refs from SQL text and from template tags
// of type "card".
func collectNativeRefs(sql string, tags interface{}, deps map[int]bool) {
	for _, m := range SQLCardRefPattern.FindAllStringSubmatch(sql, -1) {
		if id, err := strconv.Atoi(m[1]); err == nil {
			deps[id] = true
		}
	}
	tagMap, _ := tags.(map[string]interface{})
	for _, raw := range tagMap {
		tag, _ := raw.(map[string]interface{})
		if tag == nil || tag["type"] != "card" {
			continue
		}
		if id, ok := AsInt(tag["card-id"]); ok {
			deps[id] = true
		}
	}
}

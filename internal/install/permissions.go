package install

import (
	"context"
	"fmt"
	"strconv"
)

// installPermissions rewrites both captured permission graphs onto target ids
// and submits them. The server requires the current revision number on put,
// so each target graph is fetched first. Group membership is not reconciled.
func (in *Installer) installPermissions(ctx context.Context) error {
	if in.manifest.PermissionsGraph != nil {
		current, err := in.client.GetPermissionsGraph(ctx)
		if err != nil {
			return fmt.Errorf("fetch target permissions graph: %w", err)
		}
		graph := in.rewriteGraph(in.manifest.PermissionsGraph, current, in.databaseKey)
		if err := in.client.PutPermissionsGraph(ctx, graph); err != nil {
			in.report.Add("permissions", StatusFailed, 0, nil, "data permissions graph", err.Error())
		} else {
			in.report.Add("permissions", StatusUpdated, 0, nil, "data permissions graph", "")
		}
	}

	if in.manifest.CollectionPermissionsGraph != nil {
		current, err := in.client.GetCollectionPermissionsGraph(ctx)
		if err != nil {
			return fmt.Errorf("fetch target collection permissions graph: %w", err)
		}
		graph := in.rewriteGraph(in.manifest.CollectionPermissionsGraph, current, in.collectionKey)
		if err := in.client.PutCollectionPermissionsGraph(ctx, graph); err != nil {
			in.report.Add("permissions", StatusFailed, 0, nil, "collection permissions graph", err.Error())
		} else {
			in.report.Add("permissions", StatusUpdated, 0, nil, "collection permissions graph", "")
		}
	}
	return nil
}

// rewriteGraph rebuilds the groups map of a captured graph with each entry
// key passed through rewriteKey, keeping the target's revision number.
func (in *Installer) rewriteGraph(captured, current map[string]interface{},
	rewriteKey func(string) (string, bool)) map[string]interface{} {

	out := map[string]interface{}{}
	if rev, ok := current["revision"]; ok {
		out["revision"] = rev
	}

	groups, _ := captured["groups"].(map[string]interface{})
	newGroups := map[string]interface{}{}
	for groupID, rawEntries := range groups {
		entries, _ := rawEntries.(map[string]interface{})
		if entries == nil {
			newGroups[groupID] = rawEntries
			continue
		}
		newEntries := map[string]interface{}{}
		for key, value := range entries {
			newKey, ok := rewriteKey(key)
			if !ok {
				in.log.Warnf("permissions graph: no target mapping for key %q in group %s; dropping entry", key, groupID)
				continue
			}
			newEntries[newKey] = value
		}
		newGroups[groupID] = newEntries
	}
	out["groups"] = newGroups
	return out
}

// databaseKey rewrites a numeric data-graph key through the database map.
// Non-numeric keys pass through verbatim.
func (in *Installer) databaseKey(key string) (string, bool) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return key, true
	}
	tgt, ok := in.resolver.Database(id)
	if !ok {
		return "", false
	}
	return strconv.Itoa(tgt), true
}

// collectionKey rewrites a numeric collection-graph key through the
// collection table; the "root" key is kept verbatim.
func (in *Installer) collectionKey(key string) (string, bool) {
	if key == "root" {
		return key, true
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		return key, true
	}
	tgt, ok := in.resolver.Collection(id)
	if !ok {
		return "", false
	}
	return strconv.Itoa(tgt), true
}

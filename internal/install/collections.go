package install

import (
	"context"
	"fmt"
	"sort"

	"github.com/mbmove/mbmove/internal/api"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// collectionIndex answers (name, parent) collision queries against the target
// collection tree, including collections created during this run.
type collectionIndex struct {
	byParent map[string]map[string]int
}

func (ci *collectionIndex) lookup(parentID *int, name string) (int, bool) {
	id, ok := ci.byParent[api.CollectionIDString(parentID)][name]
	return id, ok
}

func (ci *collectionIndex) record(parentID *int, name string, id int) {
	key := api.CollectionIDString(parentID)
	if ci.byParent[key] == nil {
		ci.byParent[key] = map[string]int{}
	}
	ci.byParent[key][name] = id
}

func (ci *collectionIndex) uniqueName(parentID *int, base string) string {
	siblings := ci.byParent[api.CollectionIDString(parentID)]
	if _, taken := siblings[base]; !taken {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if _, taken := siblings[candidate]; !taken {
			return candidate
		}
	}
}

// buildCollectionIndex flattens the target's collection tree. Parent identity
// comes from tree nesting.
func (in *Installer) buildCollectionIndex(ctx context.Context) (*collectionIndex, error) {
	tree, err := in.client.GetCollectionsTree(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("fetch target collection tree: %w", err)
	}
	ci := &collectionIndex{byParent: map[string]map[string]int{}}

	var walk func(node map[string]interface{}, parentID *int)
	walk = func(node map[string]interface{}, parentID *int) {
		id, ok := mbql.AsInt(node["id"])
		if !ok {
			return
		}
		if name, ok := node["name"].(string); ok {
			ci.record(parentID, name, id)
		}
		children, _ := node["children"].([]interface{})
		for _, raw := range children {
			child, _ := raw.(map[string]interface{})
			if child != nil {
				walk(child, &id)
			}
		}
	}
	// Top-level tree nodes are children of the instance root, never of the
	// target collection; the target's own children are reached by the walk.
	for _, node := range tree {
		walk(node, nil)
	}
	return ci, nil
}

// installCollections creates or reuses the collection tree in ascending path
// order, which is parent-first. Each resolution is registered before its
// children install.
func (in *Installer) installCollections(ctx context.Context) error {
	index, err := in.buildCollectionIndex(ctx)
	if err != nil {
		return err
	}

	collections := append([]types.Collection(nil), in.manifest.Collections...)
	sort.Slice(collections, func(i, j int) bool { return collections[i].Path < collections[j].Path })

	for _, col := range collections {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		in.installCollection(ctx, col, index)
	}
	return nil
}

func (in *Installer) installCollection(ctx context.Context, col types.Collection, index *collectionIndex) {
	parentID := in.opts.TargetCollection
	if col.ParentID != nil {
		if tgt, ok := in.resolver.Collection(*col.ParentID); ok {
			parentID = &tgt
		} else {
			in.log.Warnf("parent of collection %q (source %d) did not install; placing it at the top level", col.Name, col.ID)
		}
	}

	name := col.Name
	existing, collided := index.lookup(parentID, name)

	switch {
	case collided && in.opts.Strategy == StrategySkip:
		in.resolver.RegisterCollection(col.ID, existing)
		in.report.Add("collection", StatusSkipped, col.ID, &existing, name, "already exists")
		return
	case collided && in.opts.Strategy == StrategyOverwrite:
		payload := collectionPayload(col, name, parentID)
		if _, err := in.client.UpdateCollection(ctx, existing, payload); err != nil {
			in.report.Add("collection", StatusFailed, col.ID, nil, name, err.Error())
			return
		}
		in.resolver.RegisterCollection(col.ID, existing)
		in.report.Add("collection", StatusUpdated, col.ID, &existing, name, "")
		return
	case collided:
		name = index.uniqueName(parentID, name)
	}

	payload := collectionPayload(col, name, parentID)
	created, err := in.client.CreateCollection(ctx, payload)
	if err != nil {
		in.report.Add("collection", StatusFailed, col.ID, nil, name, err.Error())
		return
	}
	newID, ok := mbql.AsInt(created["id"])
	if !ok {
		in.report.Add("collection", StatusFailed, col.ID, nil, name, "server response carries no collection id")
		return
	}
	index.record(parentID, name, newID)
	in.resolver.RegisterCollection(col.ID, newID)
	in.report.Add("collection", StatusCreated, col.ID, &newID, name, "")
	in.log.Infof("collection %q: source %d -> target %d", name, col.ID, newID)
}

func collectionPayload(col types.Collection, name string, parentID *int) map[string]interface{} {
	payload := map[string]interface{}{"name": name}
	if col.Description != nil {
		payload["description"] = *col.Description
	}
	if parentID != nil {
		payload["parent_id"] = *parentID
	}
	return payload
}

package export

import (
	"context"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// rootPath is the package path holding content that lives at the top level of
// the instance, outside any collection.
const rootPath = "collections"

// walkCollections traverses the collection forest, records every in-scope
// collection in the manifest and the path map, and writes each collection's
// _collection.json. The returned list drives content export and includes a
// synthetic record for the root pseudo-collection when it is in scope.
func (s *Session) walkCollections(ctx context.Context) ([]types.Collection, error) {
	tree, err := s.client.GetCollectionsTree(ctx, s.opts.IncludeArchived)
	if err != nil {
		return nil, err
	}

	restricted := map[int]bool{}
	for _, id := range s.opts.RootCollections {
		restricted[id] = true
	}

	var out []types.Collection
	if len(restricted) == 0 {
		// Root-level content is in scope only on a full export.
		out = append(out, types.Collection{ID: 0, Name: "Root", Path: rootPath})
	}

	var walk func(node map[string]interface{}, parentPath string, parentID *int, inScope bool) error
	walk = func(node map[string]interface{}, parentPath string, parentID *int, inScope bool) error {
		id, ok := mbql.AsInt(node["id"])
		if !ok {
			// The tree may carry pseudo entries like "root"; descend only.
			return walkChildren(node, parentPath, nil, inScope, walk)
		}
		name, _ := node["name"].(string)

		if !inScope {
			inScope = len(restricted) == 0 || restricted[id]
			if inScope {
				parentPath = ""
				parentID = nil
			}
		}
		personal := personalOwner(node)
		if personal != nil && !restricted[id] {
			s.log.Debugf("skipping personal collection %d (%s)", id, name)
			return nil
		}
		if !inScope {
			return walkChildren(node, parentPath, &id, false, walk)
		}

		col := types.Collection{
			ID:              id,
			Name:            name,
			PersonalOwnerID: personal,
			Path:            path.Join(parentPath, fileutil.SanitizeFilename(name)),
		}
		if slug, ok := node["slug"].(string); ok {
			col.Slug = slug
		}
		if desc, ok := node["description"].(string); ok && desc != "" {
			col.Description = &desc
		}
		switch {
		case parentID != nil:
			col.ParentID = parentID
		default:
			col.ParentID = parseLocationParent(node["location"])
		}

		s.manifest.Collections = append(s.manifest.Collections, col)
		s.collectionPaths[id] = col.Path
		out = append(out, col)
		s.log.Infof("collection %d (%s) -> %s", id, name, col.Path)

		record := map[string]interface{}{
			"id":   col.ID,
			"name": col.Name,
			"slug": col.Slug,
		}
		if col.Description != nil {
			record["description"] = *col.Description
		}
		if col.ParentID != nil {
			record["parent_id"] = *col.ParentID
		}
		metaPath := filepath.Join(s.opts.ExportDir, filepath.FromSlash(col.Path), "_collection.json")
		if err := fileutil.WriteJSONFile(metaPath, record); err != nil {
			return err
		}
		return walkChildren(node, col.Path, &id, true, walk)
	}

	for _, node := range tree {
		if err := walk(node, "", nil, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walkChildren(node map[string]interface{}, parentPath string, parentID *int, inScope bool,
	walk func(map[string]interface{}, string, *int, bool) error) error {
	children, _ := node["children"].([]interface{})
	for _, raw := range children {
		child, _ := raw.(map[string]interface{})
		if child == nil {
			continue
		}
		if err := walk(child, parentPath, parentID, inScope); err != nil {
			return err
		}
	}
	return nil
}

// personalOwner extracts personal_owner_id, the marker of a personal
// collection.
func personalOwner(node map[string]interface{}) *int {
	if id, ok := mbql.AsInt(node["personal_owner_id"]); ok {
		return &id
	}
	return nil
}

// parseLocationParent derives the parent id from a location field of the form
// "/24/25/", where the last segment is the immediate parent.
func parseLocationParent(v interface{}) *int {
	loc, ok := v.(string)
	if !ok {
		return nil
	}
	segments := strings.Split(strings.Trim(loc, "/"), "/")
	if len(segments) == 0 {
		return nil
	}
	id, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil {
		return nil
	}
	return &id
}

// rootInScope reports whether top-level content is part of this export.
func (s *Session) rootInScope() bool {
	return len(s.opts.RootCollections) == 0
}

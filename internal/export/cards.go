package export

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// exportCardWithDependencies writes a card and, transitively, every card it
// references. chain holds the ids on the current traversal path; a reference
// back into the chain is a cycle, cut with a warning. Dependencies homed in
// an in-scope collection are written under that collection's path, everything
// else under the dependencies bucket.
func (s *Session) exportCardWithDependencies(ctx context.Context, cardID int, basePath string, chain []int) error {
	if s.exported[cardID] {
		return nil
	}
	for _, id := range chain {
		if id == cardID {
			s.log.Warnf("circular card reference detected: %v -> %d; cutting the cycle", chain, cardID)
			return nil
		}
	}

	card, err := s.client.GetCard(ctx, cardID)
	if err != nil {
		return fmt.Errorf("fetch card %d: %w", cardID, err)
	}

	chain = append(chain, cardID)
	for _, depID := range mbql.ExtractCardDependencies(card) {
		if s.exported[depID] {
			continue
		}
		depPath, err := s.dependencyPath(ctx, depID)
		if err != nil {
			return err
		}
		if err := s.exportCardWithDependencies(ctx, depID, depPath, chain); err != nil {
			return err
		}
	}
	return s.writeCard(card, basePath)
}

// dependencyPath decides where a referenced card belongs: its own collection's
// path when that collection is in scope, the dependencies bucket otherwise.
func (s *Session) dependencyPath(ctx context.Context, cardID int) (string, error) {
	dep, err := s.client.GetCard(ctx, cardID)
	if err != nil {
		return "", fmt.Errorf("fetch dependency card %d: %w", cardID, err)
	}
	if colID, ok := mbql.AsInt(dep["collection_id"]); ok {
		if p, ok := s.collectionPaths[colID]; ok {
			return p, nil
		}
	} else if s.rootInScope() {
		return rootPath, nil
	}
	return dependenciesPath, nil
}

// writeCard serializes one card payload, records its checksum, and appends
// the manifest index record.
func (s *Session) writeCard(card map[string]interface{}, basePath string) error {
	id, ok := mbql.AsInt(card["id"])
	if !ok {
		return fmt.Errorf("card payload without id")
	}
	name, _ := card["name"].(string)

	if _, hasQuery := card["dataset_query"].(map[string]interface{}); !hasQuery {
		s.log.Warnf("card %d (%s) has no query; skipping", id, name)
		s.exported[id] = true
		return nil
	}

	relPath := path.Join(basePath, "cards", fmt.Sprintf("card_%d_%s.json", id, fileutil.SanitizeFilename(name)))
	fullPath := filepath.Join(s.opts.ExportDir, filepath.FromSlash(relPath))
	if err := fileutil.WriteJSONFile(fullPath, card); err != nil {
		return err
	}
	checksum, err := fileutil.ChecksumFile(fullPath)
	if err != nil {
		return err
	}

	record := types.Card{
		ID:       id,
		Name:     name,
		FilePath: relPath,
		Checksum: checksum,
	}
	if colID, ok := mbql.AsInt(card["collection_id"]); ok {
		record.CollectionID = &colID
	}
	if dbID, ok := mbql.AsInt(card["database_id"]); ok {
		record.DatabaseID = dbID
	} else if dq, _ := card["dataset_query"].(map[string]interface{}); dq != nil {
		if dbID, ok := mbql.AsInt(dq["database"]); ok {
			record.DatabaseID = dbID
		}
	}
	if archived, ok := card["archived"].(bool); ok {
		record.Archived = archived
	}
	if dataset, ok := card["dataset"].(bool); ok && dataset {
		record.Dataset = true
	} else if t, ok := card["type"].(string); ok && t == "model" {
		record.Dataset = true
	}

	s.manifest.Cards = append(s.manifest.Cards, record)
	s.exported[id] = true
	s.log.Infof("card %d (%s) -> %s", id, name, relPath)
	return nil
}

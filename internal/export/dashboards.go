package export

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// exportDashboard writes one dashboard and exports every card it references
// through panels, series, and parameter value sources.
func (s *Session) exportDashboard(ctx context.Context, dashID int, basePath string) error {
	dash, err := s.client.GetDashboard(ctx, dashID)
	if err != nil {
		return fmt.Errorf("fetch dashboard %d: %w", dashID, err)
	}
	name, _ := dash["name"].(string)

	cardIDs := dashboardCardRefs(dash)
	for _, cardID := range cardIDs {
		depPath, err := s.dependencyPath(ctx, cardID)
		if err != nil {
			return err
		}
		if err := s.exportCardWithDependencies(ctx, cardID, depPath, nil); err != nil {
			return err
		}
	}

	relPath := path.Join(basePath, "dashboards", fmt.Sprintf("dash_%d_%s.json", dashID, fileutil.SanitizeFilename(name)))
	fullPath := filepath.Join(s.opts.ExportDir, filepath.FromSlash(relPath))
	if err := fileutil.WriteJSONFile(fullPath, dash); err != nil {
		return err
	}
	checksum, err := fileutil.ChecksumFile(fullPath)
	if err != nil {
		return err
	}

	record := types.Dashboard{
		ID:           dashID,
		Name:         name,
		OrderedCards: cardIDs,
		FilePath:     relPath,
		Checksum:     checksum,
	}
	if colID, ok := mbql.AsInt(dash["collection_id"]); ok {
		record.CollectionID = &colID
	}
	if archived, ok := dash["archived"].(bool); ok {
		record.Archived = archived
	}
	s.manifest.Dashboards = append(s.manifest.Dashboards, record)
	s.log.Infof("dashboard %d (%s) -> %s (%d cards)", dashID, name, relPath, len(cardIDs))
	return nil
}

// dashboardCardRefs collects the sorted set of card ids a dashboard payload
// references: panel card_id, combo series, and parameter value sources.
func dashboardCardRefs(dash map[string]interface{}) []int {
	refs := map[int]bool{}

	for _, raw := range dashboardPanels(dash) {
		panel, _ := raw.(map[string]interface{})
		if panel == nil {
			continue
		}
		if id, ok := mbql.AsInt(panel["card_id"]); ok {
			refs[id] = true
		}
		series, _ := panel["series"].([]interface{})
		for _, rawSeries := range series {
			entry, _ := rawSeries.(map[string]interface{})
			if entry == nil {
				continue
			}
			if id, ok := mbql.AsInt(entry["id"]); ok {
				refs[id] = true
			}
		}
	}

	params, _ := dash["parameters"].([]interface{})
	for _, raw := range params {
		param, _ := raw.(map[string]interface{})
		if param == nil {
			continue
		}
		cfg, _ := param["values_source_config"].(map[string]interface{})
		if cfg == nil {
			continue
		}
		if id, ok := mbql.AsInt(cfg["card_id"]); ok {
			refs[id] = true
		}
	}

	if len(refs) == 0 {
		return nil
	}
	out := make([]int, 0, len(refs))
	for id := range refs {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// dashboardPanels returns the panel list under either of its historical keys.
func dashboardPanels(dash map[string]interface{}) []interface{} {
	if panels, ok := dash["dashcards"].([]interface{}); ok {
		return panels
	}
	panels, _ := dash["ordered_cards"].([]interface{})
	return panels
}

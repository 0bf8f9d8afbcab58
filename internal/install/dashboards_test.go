package install

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/types"
)

func writeDashboardFile(t *testing.T, dir string, id int, name string, colID *int, payload map[string]interface{}) types.Dashboard {
	t.Helper()
	rel := fmt.Sprintf("Analytics/dashboards/dash_%d_%s.json", id, fileutil.SanitizeFilename(name))
	require.NoError(t, fileutil.WriteJSONFile(filepath.Join(dir, filepath.FromSlash(rel)), payload))
	sum, err := fileutil.ChecksumFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return types.Dashboard{ID: id, Name: name, CollectionID: colID, FilePath: rel, Checksum: sum}
}

func TestDashboardInstallRewritesPanels(t *testing.T) {
	dir := t.TempDir()
	m := baseManifest()
	m.Cards = append(m.Cards, writeCardFile(t, dir, 100, "Panel Card", nil, map[string]interface{}{
		"database_id": 1,
		"dataset_query": map[string]interface{}{
			"database": 1,
			"query":    map[string]interface{}{"source-table": 7, "filter": []interface{}{"=", []interface{}{"field", 201, nil}, "X"}},
		},
	}))
	m.Dashboards = append(m.Dashboards, writeDashboardFile(t, dir, 5, "Ops Board", nil, map[string]interface{}{
		"id":          5,
		"name":        "Ops Board",
		"description": "panel exercise",
		"dashcards": []interface{}{
			map[string]interface{}{
				"id": 900, "card_id": 100, "col": 0, "row": 0, "size_x": 6, "size_y": 4,
				"dashboard_id": 5, "entity_id": "xyz", "created_at": "2026-01-01",
				"card": map[string]interface{}{"id": 100, "name": "Panel Card"},
				"parameter_mappings": []interface{}{
					map[string]interface{}{
						"card_id":      100,
						"parameter_id": "p1",
						"target":       []interface{}{"dimension", []interface{}{"field", float64(201), nil}},
					},
				},
				"series": []interface{}{
					map[string]interface{}{"id": 100},
					map[string]interface{}{"id": 888},
				},
			},
			map[string]interface{}{
				"id": 901, "card_id": 888, "col": 6, "row": 0, "size_x": 6, "size_y": 4,
			},
		},
		"parameters": []interface{}{
			map[string]interface{}{
				"id": "p1",
				"values_source_config": map[string]interface{}{
					"card_id":     100,
					"value_field": []interface{}{"field", float64(201), nil},
				},
			},
		},
		"enable_embedding": true,
	}))

	client := newFakeClient()
	in := newInstaller(client, m, salesMap(), Options{ExportDir: dir, Strategy: StrategySkip})
	require.NoError(t, in.Run(context.Background()))

	require.Len(t, client.createdCards, 1)
	cardID := int(client.createdCards[0]["id"].(float64))

	require.Len(t, client.createdDashboards, 1)
	dashID := int(client.createdDashboards[0]["id"].(float64))
	update, ok := client.updatedDashboards[dashID]
	require.True(t, ok, "panels attach through a single dashboard update")

	panels := update["dashcards"].([]interface{})
	// The panel whose card (888) never installed is dropped.
	require.Len(t, panels, 1)
	panel := panels[0].(map[string]interface{})

	assert.Equal(t, -1, panel["id"])
	assert.Equal(t, cardID, panel["card_id"])
	assert.Equal(t, map[string]interface{}{"id": cardID}, panel["card"])
	assert.NotContains(t, panel, "dashboard_id")
	assert.NotContains(t, panel, "entity_id")
	assert.NotContains(t, panel, "created_at")
	assert.EqualValues(t, 6, panel["size_x"])

	mappings := panel["parameter_mappings"].([]interface{})
	require.Len(t, mappings, 1)
	mapping := mappings[0].(map[string]interface{})
	assert.Equal(t, cardID, mapping["card_id"])
	target := mapping["target"].([]interface{})
	fieldRef := target[1].([]interface{})
	assert.Equal(t, 2010, fieldRef[1])

	series := panel["series"].([]interface{})
	require.Len(t, series, 1)
	assert.Equal(t, cardID, series[0].(map[string]interface{})["id"])

	params := update["parameters"].([]interface{})
	cfg := params[0].(map[string]interface{})["values_source_config"].(map[string]interface{})
	assert.Equal(t, cardID, cfg["card_id"])
	assert.Equal(t, 2010, cfg["value_field"].([]interface{})[1])

	assert.Equal(t, true, update["enable_embedding"])

	report := in.Report()
	assert.Zero(t, report.Failed())
	assert.Equal(t, 2, report.Counts[StatusCreated])
}

func TestDashboardSkipStrategy(t *testing.T) {
	dir := t.TempDir()
	m := baseManifest()
	m.Dashboards = append(m.Dashboards, writeDashboardFile(t, dir, 5, "Ops Board", nil, map[string]interface{}{
		"name": "Ops Board", "dashcards": []interface{}{},
	}))

	client := newFakeClient()
	client.items[itemsKey("root", []string{"dashboard"})] = []map[string]interface{}{
		{"id": float64(44), "name": "Ops Board"},
	}
	in := newInstaller(client, m, salesMap(), Options{ExportDir: dir, Strategy: StrategySkip})
	require.NoError(t, in.Run(context.Background()))

	assert.Empty(t, client.createdDashboards)
	assert.Empty(t, client.updatedDashboards)
	assert.Equal(t, 1, in.Report().Counts[StatusSkipped])
}

func TestArchivedEntitiesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	m := baseManifest()
	card := writeCardFile(t, dir, 1, "Old", nil, map[string]interface{}{
		"database_id":   1,
		"dataset_query": map[string]interface{}{"database": 1},
	})
	card.Archived = true
	m.Cards = append(m.Cards, card)

	dash := writeDashboardFile(t, dir, 5, "Old Board", nil, map[string]interface{}{"name": "Old Board"})
	dash.Archived = true
	m.Dashboards = append(m.Dashboards, dash)

	client := newFakeClient()
	in := newInstaller(client, m, salesMap(), Options{ExportDir: dir, Strategy: StrategySkip})
	require.NoError(t, in.Run(context.Background()))

	assert.Empty(t, client.createdCards)
	assert.Empty(t, client.createdDashboards)
	assert.Equal(t, 2, in.Report().Counts[StatusSkipped])
}

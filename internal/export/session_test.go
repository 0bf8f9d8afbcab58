package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/types"
)

// fakeSource is an in-memory source instance.
type fakeSource struct {
	tree       []map[string]interface{}
	items      map[string]map[string][]map[string]interface{} // collection -> model -> items
	cards      map[int]map[string]interface{}
	dashboards map[int]map[string]interface{}
	databases  []map[string]interface{}
	metadata   map[int]map[string]interface{}
	groups     []map[string]interface{}
}

func (f *fakeSource) BaseURL() string { return "https://source.example" }

func (f *fakeSource) GetCollectionsTree(ctx context.Context, archived bool) ([]map[string]interface{}, error) {
	return f.tree, nil
}

func (f *fakeSource) GetCollectionItems(ctx context.Context, collectionID string, models []string, archived bool) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, m := range models {
		out = append(out, f.items[collectionID][m]...)
	}
	return out, nil
}

func (f *fakeSource) GetCard(ctx context.Context, id int) (map[string]interface{}, error) {
	card, ok := f.cards[id]
	if !ok {
		return nil, fmt.Errorf("no card %d", id)
	}
	return card, nil
}

func (f *fakeSource) GetDashboard(ctx context.Context, id int) (map[string]interface{}, error) {
	dash, ok := f.dashboards[id]
	if !ok {
		return nil, fmt.Errorf("no dashboard %d", id)
	}
	return dash, nil
}

func (f *fakeSource) GetDatabases(ctx context.Context) ([]map[string]interface{}, error) {
	return f.databases, nil
}

func (f *fakeSource) GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error) {
	return f.metadata[id], nil
}

func (f *fakeSource) GetPermissionGroups(ctx context.Context) ([]map[string]interface{}, error) {
	return f.groups, nil
}

func (f *fakeSource) GetPermissionsGraph(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"revision": float64(1), "groups": map[string]interface{}{}}, nil
}

func (f *fakeSource) GetCollectionPermissionsGraph(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"revision": float64(1), "groups": map[string]interface{}{}}, nil
}

func legacyCard(id int, name string, colID interface{}, query map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":            float64(id),
		"name":          name,
		"collection_id": colID,
		"database_id":   float64(1),
		"dataset_query": map[string]interface{}{
			"database": float64(1),
			"query":    query,
		},
	}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		databases: []map[string]interface{}{
			{"id": float64(1), "name": "Sales DB"},
		},
		metadata: map[int]map[string]interface{}{
			1: {"tables": []interface{}{
				map[string]interface{}{
					"id": float64(7), "name": "orders",
					"fields": []interface{}{map[string]interface{}{"id": float64(201), "name": "category"}},
				},
			}},
		},
		tree: []map[string]interface{}{
			{"id": float64(10), "name": "Analytics", "children": []interface{}{
				map[string]interface{}{"id": float64(11), "name": "Deep Dives", "children": []interface{}{}},
			}},
			{"id": float64(20), "name": "Personal stash", "personal_owner_id": float64(4)},
		},
		items:      map[string]map[string][]map[string]interface{}{},
		cards:      map[int]map[string]interface{}{},
		dashboards: map[int]map[string]interface{}{},
	}
}

func TestExportRunBasic(t *testing.T) {
	src := newFakeSource()
	src.cards[100] = legacyCard(100, "Revenue", float64(10), map[string]interface{}{"source-table": float64(7)})
	src.items["10"] = map[string][]map[string]interface{}{
		"card": {{"id": float64(100), "name": "Revenue"}},
	}

	dir := t.TempDir()
	s := NewSession(src, Options{ExportDir: dir}, nil)
	require.NoError(t, s.Run(context.Background()))

	m := s.Manifest()
	assert.Equal(t, "Sales DB", m.Databases[1])
	require.Len(t, m.DatabaseMetadata[1].Tables, 1)

	// Personal collection skipped; Analytics and its child plus no others.
	paths := map[int]string{}
	for _, col := range m.Collections {
		paths[col.ID] = col.Path
	}
	assert.Equal(t, "Analytics", paths[10])
	assert.Equal(t, "Analytics/Deep_Dives", paths[11])
	assert.NotContains(t, paths, 20)

	require.Len(t, m.Cards, 1)
	card := m.Cards[0]
	assert.Equal(t, "Analytics/cards/card_100_Revenue.json", card.FilePath)
	assert.Equal(t, 1, card.DatabaseID)

	// Checksum round trip.
	sum, err := fileutil.ChecksumFile(filepath.Join(dir, filepath.FromSlash(card.FilePath)))
	require.NoError(t, err)
	assert.Equal(t, card.Checksum, sum)

	// Manifest exists and parses.
	var loaded types.Manifest
	require.NoError(t, fileutil.ReadJSONFile(filepath.Join(dir, "manifest.json"), &loaded))
	assert.Equal(t, "https://source.example", loaded.Meta.SourceURL)
	assert.NotEmpty(t, loaded.Meta.ExportID)

	// _collection.json written per collection.
	_, err = os.Stat(filepath.Join(dir, "Analytics", "_collection.json"))
	assert.NoError(t, err)
}

func TestExportTransitiveClosureAndDependenciesBucket(t *testing.T) {
	src := newFakeSource()
	// Card 100 (in scope) references model 50, homed outside the scope, which
	// itself references card 60.
	src.cards[100] = legacyCard(100, "A", float64(10), map[string]interface{}{"source-table": "card__50"})
	src.cards[50] = legacyCard(50, "B", float64(99), map[string]interface{}{"source-table": "card__60"})
	src.cards[60] = legacyCard(60, "C", float64(99), map[string]interface{}{"source-table": float64(7)})
	src.items["10"] = map[string][]map[string]interface{}{
		"card": {{"id": float64(100), "name": "A"}},
	}

	dir := t.TempDir()
	s := NewSession(src, Options{ExportDir: dir, RootCollections: []int{10}}, nil)
	require.NoError(t, s.Run(context.Background()))

	m := s.Manifest()
	require.Len(t, m.Cards, 3)
	byID := map[int]types.Card{}
	for _, c := range m.Cards {
		byID[c.ID] = c
	}
	assert.Equal(t, "Analytics/cards/card_100_A.json", byID[100].FilePath)
	assert.Equal(t, "dependencies/cards/card_50_B.json", byID[50].FilePath)
	assert.Equal(t, "dependencies/cards/card_60_C.json", byID[60].FilePath)

	// Closure closedness: every reference resolves to a manifest entry.
	for _, c := range m.Cards {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(c.FilePath)))
		assert.NoError(t, err)
	}
}

func TestExportCutsCycles(t *testing.T) {
	src := newFakeSource()
	src.cards[1] = legacyCard(1, "A", float64(10), map[string]interface{}{"source-table": "card__2"})
	src.cards[2] = legacyCard(2, "B", float64(10), map[string]interface{}{"source-table": "card__1"})
	src.items["10"] = map[string][]map[string]interface{}{
		"card": {{"id": float64(1), "name": "A"}},
	}

	dir := t.TempDir()
	s := NewSession(src, Options{ExportDir: dir, RootCollections: []int{10}}, nil)
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, s.Manifest().Cards, 2)
}

func TestExportDashboardCollectsCardRefs(t *testing.T) {
	src := newFakeSource()
	src.cards[100] = legacyCard(100, "Panel Card", float64(10), map[string]interface{}{"source-table": float64(7)})
	src.cards[101] = legacyCard(101, "Series Card", float64(10), map[string]interface{}{"source-table": float64(7)})
	src.cards[102] = legacyCard(102, "Values Card", float64(10), map[string]interface{}{"source-table": float64(7)})
	src.dashboards[5] = map[string]interface{}{
		"id":            float64(5),
		"name":          "Ops Board",
		"collection_id": float64(10),
		"dashcards": []interface{}{
			map[string]interface{}{
				"id":      float64(900),
				"card_id": float64(100),
				"series":  []interface{}{map[string]interface{}{"id": float64(101)}},
			},
		},
		"parameters": []interface{}{
			map[string]interface{}{
				"id":                   "p1",
				"values_source_config": map[string]interface{}{"card_id": float64(102)},
			},
		},
	}
	src.items["10"] = map[string][]map[string]interface{}{
		"dashboard": {{"id": float64(5), "name": "Ops Board"}},
	}

	dir := t.TempDir()
	s := NewSession(src, Options{ExportDir: dir, IncludeDashboards: true, RootCollections: []int{10}}, nil)
	require.NoError(t, s.Run(context.Background()))

	m := s.Manifest()
	require.Len(t, m.Dashboards, 1)
	assert.Equal(t, []int{100, 101, 102}, m.Dashboards[0].OrderedCards)
	assert.Len(t, m.Cards, 3)
}

func TestRedactArgs(t *testing.T) {
	got := RedactArgs(map[string]string{
		"source-url":      "https://src",
		"source-password": "hunter2",
		"source-api-key":  "abc",
		"empty-token":     "",
	})
	assert.Equal(t, "https://src", got["source-url"])
	assert.Equal(t, "***", got["source-password"])
	assert.Equal(t, "***", got["source-api-key"])
	assert.Equal(t, "", got["empty-token"])
}

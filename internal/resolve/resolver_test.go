package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbmove/mbmove/internal/types"
)

func testManifest() *types.Manifest {
	m := types.NewManifest(types.ManifestMeta{})
	m.Databases = types.IntKeyMap[string]{1: "Sales DB", 2: "Warehouse"}
	m.DatabaseMetadata = types.IntKeyMap[types.DatabaseMeta]{
		1: {Tables: []types.TableMeta{
			{ID: 7, Name: "orders", Fields: []types.FieldMeta{
				{ID: 201, Name: "category"},
				{ID: 202, Name: "total"},
			}},
			{ID: 8, Name: "ghost_table"},
		}},
	}
	return m
}

func TestDatabaseResolution(t *testing.T) {
	dbMap := types.DatabaseMap{
		ByID:   map[string]int{"1": 100},
		ByName: map[string]int{"Sales DB": 999, "Warehouse": 200},
	}
	r := New(testManifest(), dbMap, nil)

	// by_id wins over a by_name entry for the same database.
	tgt, ok := r.Database(1)
	require.True(t, ok)
	assert.Equal(t, 100, tgt)

	tgt, ok = r.Database(2)
	require.True(t, ok)
	assert.Equal(t, 200, tgt)

	_, ok = r.Database(3)
	assert.False(t, ok)
}

func TestKnownTargetDatabase(t *testing.T) {
	r := New(testManifest(), types.DatabaseMap{
		ByID:   map[string]int{"1": 100},
		ByName: map[string]int{"Warehouse": 200},
	}, nil)

	assert.True(t, r.KnownTargetDatabase(100))
	assert.True(t, r.KnownTargetDatabase(200))
	assert.False(t, r.KnownTargetDatabase(1))
}

func TestRegistrationIsMonotonic(t *testing.T) {
	r := New(testManifest(), types.DatabaseMap{}, nil)

	r.RegisterCard(50, 500)
	r.RegisterCard(50, 501)
	tgt, ok := r.Card(50)
	require.True(t, ok)
	assert.Equal(t, 500, tgt)

	r.RegisterCollection(10, 20)
	r.RegisterCollection(10, 21)
	tgt, ok = r.Collection(10)
	require.True(t, ok)
	assert.Equal(t, 20, tgt)
}

type fakeFetcher struct {
	meta  map[int]map[string]interface{}
	calls int
}

func (f *fakeFetcher) GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error) {
	f.calls++
	return f.meta[id], nil
}

func TestBuildSchemaMaps(t *testing.T) {
	fetcher := &fakeFetcher{meta: map[int]map[string]interface{}{
		100: {
			"tables": []interface{}{
				map[string]interface{}{
					"id":   float64(70),
					"name": "orders",
					"fields": []interface{}{
						map[string]interface{}{"id": float64(2010), "name": "category"},
					},
				},
			},
		},
	}}
	r := New(testManifest(), types.DatabaseMap{ByID: map[string]int{"1": 100}}, nil)
	require.NoError(t, r.BuildSchemaMaps(context.Background(), fetcher))
	assert.Equal(t, 1, fetcher.calls)

	tgt, ok := r.Table(1, 7)
	require.True(t, ok)
	assert.Equal(t, 70, tgt)

	tgt, ok = r.Field(1, 201)
	require.True(t, ok)
	assert.Equal(t, 2010, tgt)

	// ghost_table and the total field have no target match.
	_, ok = r.Table(1, 8)
	assert.False(t, ok)
	_, ok = r.Field(1, 202)
	assert.False(t, ok)
}

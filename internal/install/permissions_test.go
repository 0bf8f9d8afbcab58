package install

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type permRecordingClient struct {
	*fakeClient
	putData       map[string]interface{}
	putCollection map[string]interface{}
}

func (c *permRecordingClient) PutPermissionsGraph(ctx context.Context, graph map[string]interface{}) error {
	c.putData = graph
	return nil
}

func (c *permRecordingClient) PutCollectionPermissionsGraph(ctx context.Context, graph map[string]interface{}) error {
	c.putCollection = graph
	return nil
}

func TestPermissionsGraphKeyRewrite(t *testing.T) {
	dir := t.TempDir()
	m := baseManifest()
	m.PermissionsGraph = map[string]interface{}{
		"revision": float64(9),
		"groups": map[string]interface{}{
			"2": map[string]interface{}{
				"1":  map[string]interface{}{"data": "all"},
				"77": map[string]interface{}{"data": "none"},
			},
		},
	}
	m.CollectionPermissionsGraph = map[string]interface{}{
		"revision": float64(2),
		"groups": map[string]interface{}{
			"2": map[string]interface{}{
				"root": "read",
				"10":   "write",
				"55":   "write",
			},
		},
	}

	client := &permRecordingClient{fakeClient: newFakeClient()}
	in := newInstaller(client, m, salesMap(), Options{ExportDir: dir, Strategy: StrategySkip, ApplyPermissions: true})
	in.resolver.RegisterCollection(10, 500)
	require.NoError(t, in.Run(context.Background()))

	// Data graph: db 1 -> 100, unmapped db 77 dropped; the target's own
	// revision is submitted, not the captured one.
	require.NotNil(t, client.putData)
	assert.Equal(t, float64(3), client.putData["revision"])
	groups := client.putData["groups"].(map[string]interface{})
	entries := groups["2"].(map[string]interface{})
	assert.Contains(t, entries, "100")
	assert.NotContains(t, entries, "1")
	assert.NotContains(t, entries, "77")

	// Collection graph: "root" kept, collection 10 -> 500, unmapped dropped.
	require.NotNil(t, client.putCollection)
	assert.Equal(t, float64(5), client.putCollection["revision"])
	colEntries := client.putCollection["groups"].(map[string]interface{})["2"].(map[string]interface{})
	assert.Equal(t, "read", colEntries["root"])
	assert.Equal(t, "write", colEntries["500"])
	assert.NotContains(t, colEntries, "10")
	assert.NotContains(t, colEntries, "55")
}

package install

import (
	"context"
	"fmt"

	"github.com/mbmove/mbmove/internal/api"
	"github.com/mbmove/mbmove/internal/mbql"
)

// Strategy is the package-level conflict policy.
type Strategy string

const (
	StrategySkip      Strategy = "skip"
	StrategyOverwrite Strategy = "overwrite"
	StrategyRename    Strategy = "rename"
)

// ParseStrategy validates a --conflict-strategy value.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySkip, StrategyOverwrite, StrategyRename:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("invalid conflict strategy %q: must be skip, overwrite, or rename", s)
}

// finderKey identifies one cached listing: a target collection and an entity
// kind.
type finderKey struct {
	collection string
	kind       string
}

// finder answers name-collision queries against the target, caching each
// collection listing for the duration of the run. Entities created during the
// run are recorded so rename probing sees them.
type finder struct {
	client Client
	names  map[finderKey]map[string]int
}

func newFinder(client Client) *finder {
	return &finder{client: client, names: map[finderKey]map[string]int{}}
}

// kind values match the server's item model names; cards and models share a
// name namespace, dashboards have their own.
var kindModels = map[string][]string{
	"card":      {"card", "dataset"},
	"dashboard": {"dashboard"},
}

func (f *finder) load(ctx context.Context, collectionID *int, kind string) (map[string]int, error) {
	key := finderKey{api.CollectionIDString(collectionID), kind}
	if cached, ok := f.names[key]; ok {
		return cached, nil
	}
	items, err := f.client.GetCollectionItems(ctx, key.collection, kindModels[kind], false)
	if err != nil {
		return nil, fmt.Errorf("list %ss in collection %s: %w", kind, key.collection, err)
	}
	names := map[string]int{}
	for _, item := range items {
		name, _ := item["name"].(string)
		if id, ok := mbql.AsInt(item["id"]); ok && name != "" {
			names[name] = id
		}
	}
	f.names[key] = names
	return names, nil
}

// Find returns the target id of an existing entity with the given name in the
// given collection, if any.
func (f *finder) Find(ctx context.Context, kind, name string, collectionID *int) (int, bool, error) {
	names, err := f.load(ctx, collectionID, kind)
	if err != nil {
		return 0, false, err
	}
	id, ok := names[name]
	return id, ok, nil
}

// UniqueName returns base unchanged if free, else "<base> (n)" with the
// smallest n >= 1 unique in the collection.
func (f *finder) UniqueName(ctx context.Context, kind, base string, collectionID *int) (string, error) {
	names, err := f.load(ctx, collectionID, kind)
	if err != nil {
		return "", err
	}
	if _, taken := names[base]; !taken {
		return base, nil
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if _, taken := names[candidate]; !taken {
			return candidate, nil
		}
	}
}

// Record registers an entity created during this run so later collision and
// rename queries account for it.
func (f *finder) Record(kind, name string, collectionID *int, id int) {
	key := finderKey{api.CollectionIDString(collectionID), kind}
	if f.names[key] == nil {
		f.names[key] = map[string]int{}
	}
	f.names[key][name] = id
}

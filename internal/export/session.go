// Package export implements the export pipeline: snapshot databases, walk the
// collection forest, pull every in-scope card and dashboard plus the
// transitive closure of referenced cards, optionally capture permissions, and
// write the package manifest last.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/logx"
	"github.com/mbmove/mbmove/internal/types"
	"github.com/mbmove/mbmove/internal/version"
)

// Client is the server surface the export pipeline consumes.
type Client interface {
	BaseURL() string
	GetCollectionsTree(ctx context.Context, archived bool) ([]map[string]interface{}, error)
	GetCollectionItems(ctx context.Context, collectionID string, models []string, archived bool) ([]map[string]interface{}, error)
	GetCard(ctx context.Context, id int) (map[string]interface{}, error)
	GetDashboard(ctx context.Context, id int) (map[string]interface{}, error)
	GetDatabases(ctx context.Context) ([]map[string]interface{}, error)
	GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error)
	GetPermissionGroups(ctx context.Context) ([]map[string]interface{}, error)
	GetPermissionsGraph(ctx context.Context) (map[string]interface{}, error)
	GetCollectionPermissionsGraph(ctx context.Context) (map[string]interface{}, error)
}

// Options selects what an export run covers.
type Options struct {
	ExportDir          string
	IncludeArchived    bool
	IncludeDashboards  bool
	IncludePermissions bool
	// RootCollections restricts the walk to the given collection subtrees.
	// Empty means every non-personal collection plus root-level content.
	// Personal collections are exported only when listed here explicitly.
	RootCollections []int
	// CLIArgs is recorded in the manifest meta; redact secrets first.
	CLIArgs map[string]string
}

// dependenciesPath is the synthetic bucket for cards referenced from in-scope
// content but homed outside the export scope.
const dependenciesPath = "dependencies"

// Session owns the bookkeeping of one export run: the manifest under
// construction, the collection path map, and the set of already exported
// cards.
type Session struct {
	client Client
	log    *logx.Logger
	opts   Options

	manifest *types.Manifest
	// collectionPaths maps in-scope source collection ids to their package
	// paths. Membership defines the export scope for dependency placement.
	collectionPaths map[int]string
	exported        map[int]bool
}

// NewSession prepares an export session; nothing is fetched until Run.
func NewSession(client Client, opts Options, log *logx.Logger) *Session {
	if log == nil {
		log = logx.Discard()
	}
	meta := types.ManifestMeta{
		SourceURL:       client.BaseURL(),
		ExportTimestamp: time.Now().UTC().Format(time.RFC3339),
		ToolVersion:     version.Version,
		ExportID:        uuid.NewString(),
		CLIArgs:         opts.CLIArgs,
	}
	return &Session{
		client:          client,
		log:             log,
		opts:            opts,
		manifest:        types.NewManifest(meta),
		collectionPaths: map[int]string{},
		exported:        map[int]bool{},
	}
}

// Run executes the full pipeline. The manifest file is written only after
// every other output succeeded.
func (s *Session) Run(ctx context.Context) error {
	s.log.Infof("exporting from %s into %s", s.client.BaseURL(), s.opts.ExportDir)

	if err := s.exportDatabases(ctx); err != nil {
		return fmt.Errorf("export databases: %w", err)
	}
	collections, err := s.walkCollections(ctx)
	if err != nil {
		return fmt.Errorf("walk collections: %w", err)
	}
	for _, col := range collections {
		if err := s.exportCollectionContent(ctx, col); err != nil {
			return fmt.Errorf("export collection %q: %w", col.Name, err)
		}
	}
	if s.opts.IncludePermissions {
		if err := s.exportPermissions(ctx); err != nil {
			return fmt.Errorf("export permissions: %w", err)
		}
	}

	manifestPath := filepath.Join(s.opts.ExportDir, "manifest.json")
	if err := fileutil.WriteJSONFile(manifestPath, s.manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	s.log.Infof("export complete: %d databases, %d collections, %d cards, %d dashboards, %d permission groups",
		len(s.manifest.Databases), len(s.manifest.Collections), len(s.manifest.Cards),
		len(s.manifest.Dashboards), len(s.manifest.PermissionGroups))
	return nil
}

// Manifest exposes the manifest built so far. Used by tests and summaries.
func (s *Session) Manifest() *types.Manifest { return s.manifest }

// exportCollectionContent pulls the cards, models, and dashboards of one
// in-scope collection.
func (s *Session) exportCollectionContent(ctx context.Context, col types.Collection) error {
	id := collectionItemsID(col)
	items, err := s.client.GetCollectionItems(ctx, id, []string{"card", "dataset"}, s.opts.IncludeArchived)
	if err != nil {
		return err
	}
	for _, item := range items {
		cardID, ok := itemID(item)
		if !ok {
			continue
		}
		if err := s.exportCardWithDependencies(ctx, cardID, col.Path, nil); err != nil {
			return err
		}
	}

	if !s.opts.IncludeDashboards {
		return nil
	}
	dashboards, err := s.client.GetCollectionItems(ctx, id, []string{"dashboard"}, s.opts.IncludeArchived)
	if err != nil {
		return err
	}
	for _, item := range dashboards {
		dashID, ok := itemID(item)
		if !ok {
			continue
		}
		if err := s.exportDashboard(ctx, dashID, col.Path); err != nil {
			return err
		}
	}
	return nil
}

// collectionItemsID renders the item-listing id of a collection record, where
// the root pseudo-collection has id 0.
func collectionItemsID(col types.Collection) string {
	if col.ID == 0 {
		return "root"
	}
	return fmt.Sprintf("%d", col.ID)
}

func itemID(item map[string]interface{}) (int, bool) {
	switch v := item["id"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// RedactArgs copies args with credential-bearing values masked, for manifest
// provenance.
func RedactArgs(args map[string]string) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		lk := strings.ToLower(k)
		if v != "" && (strings.Contains(lk, "password") || strings.Contains(lk, "token") ||
			strings.Contains(lk, "secret") || strings.Contains(lk, "key")) {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

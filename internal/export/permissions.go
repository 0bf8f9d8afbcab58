package export

import (
	"context"
	"fmt"

	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// exportPermissions captures the group list and both permission graphs
// verbatim. Graph rewriting happens at import; export stores them opaque.
func (s *Session) exportPermissions(ctx context.Context) error {
	groups, err := s.client.GetPermissionGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetch permission groups: %w", err)
	}
	for _, g := range groups {
		id, ok := mbql.AsInt(g["id"])
		if !ok {
			continue
		}
		name, _ := g["name"].(string)
		record := types.PermissionGroup{ID: id, Name: name}
		if n, ok := mbql.AsInt(g["member_count"]); ok {
			record.MemberCount = n
		}
		s.manifest.PermissionGroups = append(s.manifest.PermissionGroups, record)
	}

	graph, err := s.client.GetPermissionsGraph(ctx)
	if err != nil {
		return fmt.Errorf("fetch permissions graph: %w", err)
	}
	s.manifest.PermissionsGraph = graph

	colGraph, err := s.client.GetCollectionPermissionsGraph(ctx)
	if err != nil {
		return fmt.Errorf("fetch collection permissions graph: %w", err)
	}
	s.manifest.CollectionPermissionsGraph = colGraph

	s.log.Infof("captured %d permission groups and both permission graphs", len(s.manifest.PermissionGroups))
	return nil
}

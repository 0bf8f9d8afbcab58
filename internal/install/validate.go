package install

import (
	"context"
	"fmt"
	"sort"

	"github.com/mbmove/mbmove/internal/mbql"
)

// Validate refuses to start an import unless every database referenced by a
// non-archived card resolves and every mapped target database exists on the
// target instance. Runs before any write.
func (in *Installer) Validate(ctx context.Context) error {
	unmappedCards := map[int][]int{}
	for _, card := range in.manifest.Cards {
		if card.Archived || card.DatabaseID == 0 {
			continue
		}
		if _, ok := in.resolver.Database(card.DatabaseID); !ok {
			unmappedCards[card.DatabaseID] = append(unmappedCards[card.DatabaseID], card.ID)
		}
	}

	mapErr := &MappingError{}
	for dbID, cardIDs := range unmappedCards {
		sort.Ints(cardIDs)
		mapErr.Unmapped = append(mapErr.Unmapped, UnmappedDatabase{
			SourceID: dbID,
			Name:     in.manifest.Databases[dbID],
			CardIDs:  cardIDs,
		})
	}
	sort.Slice(mapErr.Unmapped, func(i, j int) bool {
		return mapErr.Unmapped[i].SourceID < mapErr.Unmapped[j].SourceID
	})

	targets := in.resolver.MappedTargetDatabases()
	if len(targets) > 0 {
		dbs, err := in.client.GetDatabases(ctx)
		if err != nil {
			return fmt.Errorf("list target databases: %w", err)
		}
		present := map[int]bool{}
		for _, db := range dbs {
			if id, ok := mbql.AsInt(db["id"]); ok {
				present[id] = true
			}
		}
		for _, id := range targets {
			if !present[id] {
				mapErr.MissingTargets = append(mapErr.MissingTargets, id)
			}
		}
		sort.Ints(mapErr.MissingTargets)
	}

	if len(mapErr.Unmapped) > 0 || len(mapErr.MissingTargets) > 0 {
		return mapErr
	}
	in.log.Infof("validation passed: %d databases mapped", len(targets))
	return nil
}

package install

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mbmove/mbmove/internal/api"
	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// cardStripKeys are server-owned fields removed from a payload before it is
// submitted. The server regenerates them; submitting stale values is either
// rejected or silently misleading.
var cardStripKeys = []string{
	"id", "entity_id", "created_at", "updated_at", "creator", "creator_id",
	"last-edit-info", "last_query_start", "average_query_time", "view_count",
	"public_uuid", "made_public_by_id", "can_write", "can_delete",
	"can_run_adhoc_query", "collection", "dashboard_count",
	"parameter_usage_count", "moderation_reviews", "archived_directly",
	"initially_published_at", "metabase_version", "cache_invalidated_at",
	"collection_position", "source_card_id", "dashboard_id", "dashboard",
}

// cardOrder computes the install order over non-archived cards: Kahn's
// topological order with in-scope dependencies, deferred members at the tail.
func (in *Installer) cardOrder() ([]int, map[int]bool) {
	var ids []int
	deps := map[int][]int{}
	inScope := map[int]bool{}
	for _, card := range in.manifest.Cards {
		if card.Archived {
			continue
		}
		inScope[card.ID] = true
	}
	for _, card := range in.manifest.Cards {
		if !inScope[card.ID] {
			continue
		}
		ids = append(ids, card.ID)
		payload, err := in.readCardFile(card)
		if err != nil {
			// Load verified checksums; a read failure here is unexpected but
			// surfaces per item during install.
			continue
		}
		for _, dep := range mbql.ExtractCardDependencies(payload) {
			if inScope[dep] {
				deps[card.ID] = append(deps[card.ID], dep)
			}
		}
	}
	return topoSort(ids, deps)
}

func (in *Installer) readCardFile(card types.Card) (map[string]interface{}, error) {
	full := filepath.Join(in.opts.ExportDir, filepath.FromSlash(card.FilePath))
	return fileutil.ReadJSONMap(full)
}

// installCards installs every non-archived card in dependency order,
// registering each new id with the resolver before its dependents rewrite.
func (in *Installer) installCards(ctx context.Context) error {
	order, deferred := in.cardOrder()
	in.log.Infof("installing %d cards (%d deferred as cyclic)", len(order), len(deferred))

	for _, card := range in.manifest.Cards {
		if card.Archived {
			in.report.Add("card", StatusSkipped, card.ID, nil, card.Name, "archived")
		}
	}

	for _, id := range order {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		card, ok := in.manifest.CardByID(id)
		if !ok {
			continue
		}
		in.installCard(ctx, card, deferred[id])
	}
	return nil
}

func (in *Installer) installCard(ctx context.Context, card types.Card, wasDeferred bool) {
	payload, err := in.readCardFile(card)
	if err != nil {
		in.report.Add("card", StatusFailed, card.ID, nil, card.Name, fmt.Sprintf("read card file: %v", err))
		return
	}

	// Deferred (cyclic) cards are attempted anyway with unresolved references
	// left intact; the server's verdict decides which cycle member survives.
	if !wasDeferred {
		if reason := in.missingDependencyReason(payload); reason != "" {
			in.report.Add("card", StatusFailed, card.ID, nil, card.Name, reason)
			return
		}
	}

	rewritten, ok, err := in.rewriter.Card(payload)
	if err != nil {
		in.report.Add("card", StatusFailed, card.ID, nil, card.Name, fmt.Sprintf("rewrite: %v", err))
		return
	}
	if !ok {
		in.report.Add("card", StatusSkipped, card.ID, nil, card.Name, "no database reference")
		return
	}

	var targetCol *int
	if card.CollectionID != nil {
		if tgt, ok := in.resolver.Collection(*card.CollectionID); ok {
			targetCol = &tgt
		}
	}
	if targetCol == nil {
		targetCol = in.opts.TargetCollection
	}

	name := card.Name
	existing, collided, err := in.finder.Find(ctx, "card", name, targetCol)
	if err != nil {
		in.report.Add("card", StatusFailed, card.ID, nil, name, err.Error())
		return
	}

	switch {
	case collided && in.opts.Strategy == StrategySkip:
		in.resolver.RegisterCard(card.ID, existing)
		in.report.Add("card", StatusSkipped, card.ID, &existing, name, "already exists")
		return
	case collided && in.opts.Strategy == StrategyOverwrite:
		cleaned := cleanCardPayload(rewritten, name, targetCol)
		if _, err := in.client.UpdateCard(ctx, existing, cleaned); err != nil {
			in.report.Add("card", StatusFailed, card.ID, nil, name, failureReason(err, wasDeferred))
			return
		}
		in.resolver.RegisterCard(card.ID, existing)
		in.report.Add("card", StatusUpdated, card.ID, &existing, name, "")
		return
	case collided:
		name, err = in.finder.UniqueName(ctx, "card", name, targetCol)
		if err != nil {
			in.report.Add("card", StatusFailed, card.ID, nil, card.Name, err.Error())
			return
		}
	}

	cleaned := cleanCardPayload(rewritten, name, targetCol)
	created, err := in.client.CreateCard(ctx, cleaned)
	if err != nil {
		in.report.Add("card", StatusFailed, card.ID, nil, name, failureReason(err, wasDeferred))
		return
	}
	newID, ok := mbql.AsInt(created["id"])
	if !ok {
		in.report.Add("card", StatusFailed, card.ID, nil, name, "server response carries no card id")
		return
	}
	in.finder.Record("card", name, targetCol, newID)
	in.resolver.RegisterCard(card.ID, newID)
	in.report.Add("card", StatusCreated, card.ID, &newID, name, "")
	in.log.Infof("card %q: source %d -> target %d", name, card.ID, newID)
}

// missingDependencyReason reports why a card cannot install yet: an in-scope
// dependency that has no registered target id.
func (in *Installer) missingDependencyReason(payload map[string]interface{}) string {
	var missing []string
	for _, dep := range mbql.ExtractCardDependencies(payload) {
		if _, inManifest := in.manifest.CardByID(dep); !inManifest {
			continue
		}
		if _, resolved := in.resolver.Card(dep); !resolved {
			missing = append(missing, fmt.Sprintf("%d", dep))
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("missing dependency: referenced cards %s failed to install", strings.Join(missing, ", "))
}

// cleanCardPayload strips server-owned fields and pins name and collection.
func cleanCardPayload(payload map[string]interface{}, name string, collectionID *int) map[string]interface{} {
	cleaned := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cleaned[k] = v
	}
	for _, k := range cardStripKeys {
		delete(cleaned, k)
	}
	cleaned["name"] = name
	if collectionID != nil {
		cleaned["collection_id"] = *collectionID
	} else {
		cleaned["collection_id"] = nil
	}
	return cleaned
}

var (
	missingCardPattern = regexp.MustCompile(`Card [0-9,]+ does not exist`)
	tableFKPattern     = regexp.MustCompile(`fk_report_card_ref_table_id|table_id.*not present`)
)

// failureReason classifies a server rejection, attributing it to the cycle
// when the card was deferred.
func failureReason(err error, wasDeferred bool) string {
	reason := classifyCardError(err)
	if wasDeferred {
		return "cyclic dependency: " + reason
	}
	return reason
}

// classifyCardError maps known server rejection messages onto structured
// reasons with remediation hints. The raw response body is inspected when
// available; APIError.Error() truncates long bodies.
func classifyCardError(err error) string {
	detail := err.Error()
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		detail = apiErr.Body
	}
	if missingCardPattern.MatchString(detail) {
		return fmt.Sprintf("missing dependency: a referenced card does not exist on the target (%s)", firstLine(detail))
	}
	if tableFKPattern.MatchString(detail) {
		return fmt.Sprintf("schema drift: the card references a table id not present on the target; "+
			"sync the target database schema and re-run (%s)", firstLine(detail))
	}
	return err.Error()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

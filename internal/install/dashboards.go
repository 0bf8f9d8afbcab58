package install

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// dashboardOptionalKeys are display settings forwarded on the final update
// when the source payload carries them.
var dashboardOptionalKeys = []string{
	"enable_embedding", "embedding_params", "cache_ttl", "auto_apply_filters",
}

// installDashboards runs after every card: panel references resolve against
// the card table the card installer filled in.
func (in *Installer) installDashboards(ctx context.Context) error {
	for _, dash := range in.manifest.Dashboards {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		if dash.Archived {
			in.report.Add("dashboard", StatusSkipped, dash.ID, nil, dash.Name, "archived")
			continue
		}
		in.installDashboard(ctx, dash)
	}
	return nil
}

func (in *Installer) installDashboard(ctx context.Context, dash types.Dashboard) {
	full := filepath.Join(in.opts.ExportDir, filepath.FromSlash(dash.FilePath))
	payload, err := fileutil.ReadJSONMap(full)
	if err != nil {
		in.report.Add("dashboard", StatusFailed, dash.ID, nil, dash.Name, fmt.Sprintf("read dashboard file: %v", err))
		return
	}

	var targetCol *int
	if dash.CollectionID != nil {
		if tgt, ok := in.resolver.Collection(*dash.CollectionID); ok {
			targetCol = &tgt
		}
	}
	if targetCol == nil {
		targetCol = in.opts.TargetCollection
	}

	name := dash.Name
	existing, collided, err := in.finder.Find(ctx, "dashboard", name, targetCol)
	if err != nil {
		in.report.Add("dashboard", StatusFailed, dash.ID, nil, name, err.Error())
		return
	}

	targetID := 0
	status := StatusCreated
	switch {
	case collided && in.opts.Strategy == StrategySkip:
		in.report.Add("dashboard", StatusSkipped, dash.ID, &existing, name, "already exists")
		return
	case collided && in.opts.Strategy == StrategyOverwrite:
		targetID = existing
		status = StatusUpdated
	case collided:
		name, err = in.finder.UniqueName(ctx, "dashboard", name, targetCol)
		if err != nil {
			in.report.Add("dashboard", StatusFailed, dash.ID, nil, dash.Name, err.Error())
			return
		}
	}

	if targetID == 0 {
		shell := map[string]interface{}{"name": name}
		if desc, ok := payload["description"].(string); ok && desc != "" {
			shell["description"] = desc
		}
		if targetCol != nil {
			shell["collection_id"] = *targetCol
		}
		created, err := in.client.CreateDashboard(ctx, shell)
		if err != nil {
			in.report.Add("dashboard", StatusFailed, dash.ID, nil, name, err.Error())
			return
		}
		id, ok := mbql.AsInt(created["id"])
		if !ok {
			in.report.Add("dashboard", StatusFailed, dash.ID, nil, name, "server response carries no dashboard id")
			return
		}
		targetID = id
		in.finder.Record("dashboard", name, targetCol, targetID)
	}

	update := map[string]interface{}{
		"name":      name,
		"dashcards": in.preparePanels(payload, dash),
	}
	if desc, ok := payload["description"]; ok {
		update["description"] = desc
	}
	if params, ok := payload["parameters"].([]interface{}); ok {
		update["parameters"] = in.rewriteDashboardParameters(params, dash)
	}
	for _, k := range dashboardOptionalKeys {
		if v, ok := payload[k]; ok {
			update[k] = v
		}
	}

	// A single update attaches every panel; there are no per-panel calls.
	if _, err := in.client.UpdateDashboard(ctx, targetID, update); err != nil {
		in.report.Add("dashboard", StatusFailed, dash.ID, nil, name, err.Error())
		return
	}
	in.report.Add("dashboard", status, dash.ID, &targetID, name, "")
	in.log.Infof("dashboard %q: source %d -> target %d", name, dash.ID, targetID)
}

// preparePanels rewrites each panel for the target: fresh negative temporary
// ids, position and size only, card references remapped. Panels whose card
// did not install are dropped with a warning.
func (in *Installer) preparePanels(payload map[string]interface{}, dash types.Dashboard) []interface{} {
	panels := payload["dashcards"]
	if panels == nil {
		panels = payload["ordered_cards"]
	}
	rawPanels, _ := panels.([]interface{})

	out := []interface{}{}
	tempID := -1
	for _, raw := range rawPanels {
		panel, _ := raw.(map[string]interface{})
		if panel == nil {
			continue
		}
		prepared, ok := in.preparePanel(panel, dash, tempID)
		if !ok {
			continue
		}
		out = append(out, prepared)
		tempID--
	}
	return out
}

func (in *Installer) preparePanel(panel map[string]interface{}, dash types.Dashboard, tempID int) (map[string]interface{}, bool) {
	out := map[string]interface{}{"id": tempID}
	for _, k := range []string{"col", "row", "size_x", "size_y"} {
		if v, ok := panel[k]; ok {
			out[k] = v
		}
	}
	if viz, ok := panel["visualization_settings"]; ok {
		out["visualization_settings"] = viz
	}

	srcCardID, hasCard := mbql.AsInt(panel["card_id"])
	if hasCard {
		tgtCardID, ok := in.resolver.Card(srcCardID)
		if !ok {
			in.log.Warnf("dashboard %d: dropping panel for card %d, which did not install", dash.ID, srcCardID)
			return nil, false
		}
		out["card_id"] = tgtCardID
		// The embedded card object overrides visualization; only its id
		// matters and it must agree with card_id.
		if _, hasEmbedded := panel["card"].(map[string]interface{}); hasEmbedded {
			out["card"] = map[string]interface{}{"id": tgtCardID}
		}
	}

	if mappings, ok := panel["parameter_mappings"].([]interface{}); ok {
		out["parameter_mappings"] = in.rewriteParameterMappings(mappings, dash)
	}
	if series, ok := panel["series"].([]interface{}); ok {
		out["series"] = in.rewriteSeries(series, dash)
	}
	return out, true
}

// rewriteParameterMappings remaps each mapping's card_id and the field refs
// inside its target, using the referenced card's source database for field
// resolution.
func (in *Installer) rewriteParameterMappings(mappings []interface{}, dash types.Dashboard) []interface{} {
	out := []interface{}{}
	for _, raw := range mappings {
		mapping, _ := raw.(map[string]interface{})
		if mapping == nil {
			continue
		}
		srcCardID, ok := mbql.AsInt(mapping["card_id"])
		if !ok {
			out = append(out, mapping)
			continue
		}
		tgtCardID, resolved := in.resolver.Card(srcCardID)
		if !resolved {
			in.log.Warnf("dashboard %d: dropping parameter mapping for card %d, which did not install", dash.ID, srcCardID)
			continue
		}
		mapping["card_id"] = tgtCardID
		if target, ok := mapping["target"]; ok {
			in.rewriter.FieldRefs(target, in.cardSourceDatabase(srcCardID))
		}
		out = append(out, mapping)
	}
	return out
}

// rewriteSeries translates combo-panel series entries, dropping any whose
// card did not install.
func (in *Installer) rewriteSeries(series []interface{}, dash types.Dashboard) []interface{} {
	out := []interface{}{}
	for _, raw := range series {
		entry, _ := raw.(map[string]interface{})
		if entry == nil {
			continue
		}
		srcCardID, ok := mbql.AsInt(entry["id"])
		if !ok {
			continue
		}
		tgtCardID, resolved := in.resolver.Card(srcCardID)
		if !resolved {
			in.log.Warnf("dashboard %d: dropping series entry for card %d, which did not install", dash.ID, srcCardID)
			continue
		}
		out = append(out, map[string]interface{}{"id": tgtCardID})
	}
	return out
}

// rewriteDashboardParameters remaps values_source_config card references and
// their value_field refs.
func (in *Installer) rewriteDashboardParameters(params []interface{}, dash types.Dashboard) []interface{} {
	for _, raw := range params {
		param, _ := raw.(map[string]interface{})
		if param == nil {
			continue
		}
		cfg, _ := param["values_source_config"].(map[string]interface{})
		if cfg == nil {
			continue
		}
		srcCardID, ok := mbql.AsInt(cfg["card_id"])
		if !ok {
			continue
		}
		tgtCardID, resolved := in.resolver.Card(srcCardID)
		if !resolved {
			in.log.Warnf("dashboard %d: parameter value source references card %d, which did not install", dash.ID, srcCardID)
			continue
		}
		cfg["card_id"] = tgtCardID
		if vf, ok := cfg["value_field"]; ok {
			in.rewriter.FieldRefs(vf, in.cardSourceDatabase(srcCardID))
		}
	}
	return params
}

// cardSourceDatabase returns the source database id of a manifest card, the
// context needed to resolve field refs tied to that card.
func (in *Installer) cardSourceDatabase(srcCardID int) int {
	if card, ok := in.manifest.CardByID(srcCardID); ok {
		return card.DatabaseID
	}
	return 0
}

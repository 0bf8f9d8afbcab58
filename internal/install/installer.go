package install

import (
	"context"
	"fmt"
	"sort"

	"github.com/mbmove/mbmove/internal/logx"
	"github.com/mbmove/mbmove/internal/resolve"
	"github.com/mbmove/mbmove/internal/rewrite"
	"github.com/mbmove/mbmove/internal/types"
)

// Client is the target-server surface the import pipeline consumes.
type Client interface {
	GetDatabases(ctx context.Context) ([]map[string]interface{}, error)
	GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error)
	GetCollectionsTree(ctx context.Context, archived bool) ([]map[string]interface{}, error)
	GetCollectionItems(ctx context.Context, collectionID string, models []string, archived bool) ([]map[string]interface{}, error)
	CreateCard(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
	UpdateCard(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error)
	CreateDashboard(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
	UpdateDashboard(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error)
	CreateCollection(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
	UpdateCollection(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error)
	GetPermissionsGraph(ctx context.Context) (map[string]interface{}, error)
	PutPermissionsGraph(ctx context.Context, graph map[string]interface{}) error
	GetCollectionPermissionsGraph(ctx context.Context) (map[string]interface{}, error)
	PutCollectionPermissionsGraph(ctx context.Context, graph map[string]interface{}) error
}

// Options selects how an import run behaves.
type Options struct {
	ExportDir        string
	Strategy         Strategy
	DryRun           bool
	ApplyPermissions bool
	// TargetCollection installs the package under an existing target
	// collection instead of at the root.
	TargetCollection *int
}

// Installer drives one import run.
type Installer struct {
	client   Client
	manifest *types.Manifest
	resolver *resolve.Resolver
	rewriter *rewrite.Rewriter
	finder   *finder
	report   *Report
	log      *logx.Logger
	opts     Options
}

// New wires an installer over a loaded package and a resolver.
func New(client Client, manifest *types.Manifest, resolver *resolve.Resolver, opts Options, log *logx.Logger) *Installer {
	if log == nil {
		log = logx.Discard()
	}
	return &Installer{
		client:   client,
		manifest: manifest,
		resolver: resolver,
		rewriter: rewrite.New(resolver, log),
		finder:   newFinder(client),
		report:   NewReport(),
		log:      log,
		opts:     opts,
	}
}

// Report exposes the run's report, which is valid even after a failed run.
func (in *Installer) Report() *Report { return in.report }

// Run executes the import: validate, build schema maps, then install
// collections, cards, dashboards, and permissions in that order. Item-level
// failures are recorded and do not abort the run.
func (in *Installer) Run(ctx context.Context) error {
	if err := in.Validate(ctx); err != nil {
		return err
	}
	if err := in.resolver.BuildSchemaMaps(ctx, in.client); err != nil {
		return err
	}
	if in.opts.DryRun {
		in.printPlan()
		return nil
	}

	if err := in.installCollections(ctx); err != nil {
		return err
	}
	if err := in.installCards(ctx); err != nil {
		return err
	}
	if err := in.installDashboards(ctx); err != nil {
		return err
	}
	if in.opts.ApplyPermissions {
		if err := in.installPermissions(ctx); err != nil {
			return err
		}
	}

	in.log.Infof("import finished: %d created, %d updated, %d skipped, %d failed",
		in.report.Counts[StatusCreated], in.report.Counts[StatusUpdated],
		in.report.Counts[StatusSkipped], in.report.Counts[StatusFailed])
	return nil
}

// printPlan logs the actions a real run would take, in install order.
func (in *Installer) printPlan() {
	in.log.Infof("dry run: no content will be written")

	collections := append([]types.Collection(nil), in.manifest.Collections...)
	sort.Slice(collections, func(i, j int) bool { return collections[i].Path < collections[j].Path })
	for _, col := range collections {
		in.log.Infof("would install collection %q (path %s)", col.Name, col.Path)
	}

	order, deferred := in.cardOrder()
	for _, id := range order {
		card, ok := in.manifest.CardByID(id)
		if !ok {
			continue
		}
		note := ""
		if deferred[id] {
			note = " (deferred: cyclic or missing dependency)"
		}
		in.log.Infof("would install card %d (%s)%s", card.ID, card.Name, note)
	}
	for _, dash := range in.manifest.Dashboards {
		in.log.Infof("would install dashboard %d (%s) with %d card refs", dash.ID, dash.Name, len(dash.OrderedCards))
	}
	if in.opts.ApplyPermissions {
		in.log.Infof("would apply both permission graphs")
	}
}

// checkCancelled lets long loops observe cooperative cancellation between
// suspension points.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("import cancelled: %w", ctx.Err())
	default:
		return nil
	}
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbmove/mbmove/internal/config"
	"github.com/mbmove/mbmove/internal/install"
	"github.com/mbmove/mbmove/internal/resolve"
)

var (
	importTargetURL    string
	importUsername     string
	importPassword     string
	importSessionToken string
	importAPIKey       string
	importDir          string
	importDBMap        string
	importStrategy     string
	importDryRun       bool
	importPermissions  bool
	importTargetCol    int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a package directory into a target instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("target-url") && importTargetURL == "" {
			importTargetURL = config.GetString("target-url")
		}
		if !cmd.Flags().Changed("target-username") && importUsername == "" {
			importUsername = config.GetString("target-username")
		}
		if importPassword == "" {
			importPassword = config.GetString("target-password")
		}
		if !cmd.Flags().Changed("export-dir") {
			importDir = config.GetString("export-dir")
		}
		if !cmd.Flags().Changed("db-map") {
			importDBMap = config.GetString("db-map")
		}
		if !cmd.Flags().Changed("conflict-strategy") {
			importStrategy = config.GetString("conflict-strategy")
		}

		strategy, err := install.ParseStrategy(importStrategy)
		if err != nil {
			return err
		}

		manifest, err := install.LoadManifest(importDir, logger)
		if err != nil {
			return err
		}
		dbMap, err := install.LoadDatabaseMap(importDBMap)
		if err != nil {
			return err
		}

		client, err := newClient("target", importTargetURL, importUsername, importPassword, importSessionToken, importAPIKey)
		if err != nil {
			return err
		}

		opts := install.Options{
			ExportDir:        importDir,
			Strategy:         strategy,
			DryRun:           importDryRun,
			ApplyPermissions: importPermissions,
		}
		if cmd.Flags().Changed("target-collection-id") {
			opts.TargetCollection = &importTargetCol
		}

		resolver := resolve.New(manifest, dbMap, logger)
		installer := install.New(client, manifest, resolver, opts, logger)

		runErr := installer.Run(cmd.Context())
		report := installer.Report()

		if !importDryRun {
			if path, werr := report.Write(importDir); werr != nil {
				logger.Errorf("failed to write import report: %v", werr)
			} else {
				logger.Infof("report written to %s", path)
			}
		}
		if runErr != nil {
			return runErr
		}
		if importDryRun {
			color.Green("Dry run complete; nothing was written")
			return nil
		}

		fmt.Printf("  created: %d\n", report.Counts[install.StatusCreated])
		fmt.Printf("  updated: %d\n", report.Counts[install.StatusUpdated])
		fmt.Printf("  skipped: %d\n", report.Counts[install.StatusSkipped])
		fmt.Printf("  failed:  %d\n", report.Counts[install.StatusFailed])
		if report.Failed() > 0 {
			color.Red("Import completed with %d failure(s); see the report for reasons", report.Failed())
			return errCompletedWithFailures
		}
		color.Green("Import complete")
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importTargetURL, "target-url", "", "Target instance URL")
	importCmd.Flags().StringVar(&importUsername, "target-username", "", "Target username")
	importCmd.Flags().StringVar(&importPassword, "target-password", "", "Target password (prompted if omitted)")
	importCmd.Flags().StringVar(&importSessionToken, "target-session-token", "", "Pre-issued target session token")
	importCmd.Flags().StringVar(&importAPIKey, "target-api-key", "", "Target personal API key")
	importCmd.Flags().StringVar(&importDir, "export-dir", "./metabase_export", "Package directory to import")
	importCmd.Flags().StringVar(&importDBMap, "db-map", "db_map.json", "Path to the database mapping file")
	importCmd.Flags().StringVar(&importStrategy, "conflict-strategy", "skip", "Conflict strategy (skip, overwrite, rename)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and print the plan without writing")
	importCmd.Flags().BoolVar(&importPermissions, "apply-permissions", false, "Apply captured permission graphs to the target")
	importCmd.Flags().IntVar(&importTargetCol, "target-collection-id", 0, "Install the package under this existing target collection")

	rootCmd.AddCommand(importCmd)
}

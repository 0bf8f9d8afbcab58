package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbmove/mbmove/internal/config"
	"github.com/mbmove/mbmove/internal/export"
)

var (
	exportSourceURL    string
	exportUsername     string
	exportPassword     string
	exportSessionToken string
	exportAPIKey       string
	exportDir          string
	exportArchived     bool
	exportDashboards   bool
	exportPermissions  bool
	exportRootCols     []int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export collections, cards, and dashboards into a package directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("source-url") && exportSourceURL == "" {
			exportSourceURL = config.GetString("source-url")
		}
		if !cmd.Flags().Changed("source-username") && exportUsername == "" {
			exportUsername = config.GetString("source-username")
		}
		if exportPassword == "" {
			exportPassword = config.GetString("source-password")
		}
		if !cmd.Flags().Changed("export-dir") {
			exportDir = config.GetString("export-dir")
		}
		if !cmd.Flags().Changed("include-archived") {
			exportArchived = config.GetBool("include-archived")
		}
		if !cmd.Flags().Changed("root-collection-ids") && len(exportRootCols) == 0 {
			exportRootCols = config.GetIntSlice("root-collection-ids")
		}

		client, err := newClient("source", exportSourceURL, exportUsername, exportPassword, exportSessionToken, exportAPIKey)
		if err != nil {
			return err
		}

		session := export.NewSession(client, export.Options{
			ExportDir:          exportDir,
			IncludeArchived:    exportArchived,
			IncludeDashboards:  exportDashboards,
			IncludePermissions: exportPermissions,
			RootCollections:    exportRootCols,
			CLIArgs: export.RedactArgs(map[string]string{
				"source-url":          exportSourceURL,
				"source-username":     exportUsername,
				"source-password":     exportPassword,
				"export-dir":          exportDir,
				"include-archived":    fmt.Sprintf("%t", exportArchived),
				"include-dashboards":  fmt.Sprintf("%t", exportDashboards),
				"include-permissions": fmt.Sprintf("%t", exportPermissions),
			}),
		}, logger)

		if err := session.Run(cmd.Context()); err != nil {
			return err
		}

		m := session.Manifest()
		color.Green("Export complete: %s", exportDir)
		fmt.Printf("  databases:          %d\n", len(m.Databases))
		fmt.Printf("  collections:        %d\n", len(m.Collections))
		fmt.Printf("  cards:              %d\n", len(m.Cards))
		fmt.Printf("  dashboards:         %d\n", len(m.Dashboards))
		if exportPermissions {
			fmt.Printf("  permission groups:  %d\n", len(m.PermissionGroups))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSourceURL, "source-url", "", "Source instance URL")
	exportCmd.Flags().StringVar(&exportUsername, "source-username", "", "Source username")
	exportCmd.Flags().StringVar(&exportPassword, "source-password", "", "Source password (prompted if omitted)")
	exportCmd.Flags().StringVar(&exportSessionToken, "source-session-token", "", "Pre-issued source session token")
	exportCmd.Flags().StringVar(&exportAPIKey, "source-api-key", "", "Source personal API key")
	exportCmd.Flags().StringVar(&exportDir, "export-dir", "./metabase_export", "Directory to write the package into")
	exportCmd.Flags().BoolVar(&exportArchived, "include-archived", false, "Include archived collections and cards")
	exportCmd.Flags().BoolVar(&exportDashboards, "include-dashboards", true, "Include dashboards")
	exportCmd.Flags().BoolVar(&exportPermissions, "include-permissions", false, "Capture permission groups and graphs")
	exportCmd.Flags().IntSliceVar(&exportRootCols, "root-collection-ids", nil, "Restrict the export to these collection subtrees")

	rootCmd.AddCommand(exportCmd)
}

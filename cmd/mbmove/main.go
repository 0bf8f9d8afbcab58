// mbmove migrates analytics content (collections, cards, dashboards,
// permissions) between two instances through their administration APIs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbmove/mbmove/internal/api"
	"github.com/mbmove/mbmove/internal/config"
	"github.com/mbmove/mbmove/internal/install"
	"github.com/mbmove/mbmove/internal/logx"
)

// Exit codes.
const (
	exitOK          = 0
	exitAPIError    = 1
	exitBadPackage  = 2
	exitUnexpected  = 3
	exitHadFailures = 4
)

// errCompletedWithFailures marks an import that finished but recorded at
// least one failed item.
var errCompletedWithFailures = errors.New("import completed with failures")

var (
	logLevel string
	logFile  string

	logger *logx.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mbmove",
	Short:         "mbmove - migrate analytics content between instances",
	Long:          "Export collections, cards, and dashboards from one analytics instance and import them into another, remapping every embedded identifier.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Priority: flags > viper (config file + env vars) > defaults.
		if !cmd.Flags().Changed("log-level") {
			logLevel = config.GetString("log-level")
		}
		if !cmd.Flags().Changed("log-file") {
			logFile = config.GetString("log-file")
		}
		logger = logx.New(logx.ParseLevel(logLevel), logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append logs to this rotating file")
}

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errCompletedWithFailures) {
			color.Red("Error: %v", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the documented exit codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errCompletedWithFailures) {
		return exitHadFailures
	}
	var pkgErr *install.PackageError
	if errors.As(err, &pkgErr) {
		return exitBadPackage
	}
	var mapErr *install.MappingError
	if errors.As(err, &mapErr) {
		return exitAPIError
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return exitAPIError
	}
	return exitUnexpected
}

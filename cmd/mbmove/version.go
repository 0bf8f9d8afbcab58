package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbmove/mbmove/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mbmove version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mbmove %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/redlinehq/redline/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "redline",
	Short: "Solicitation compliance review pipeline",
	Long: `Redline reviews contract solicitation documents against a clause
database and produces compliance artifacts.

A run loads every document in the workspace solicitations directory,
recognizes agency clause numbers (FAR, DFARS, NASA and any configured
family), classifies them against the merged clause database, and writes
a color-coded compliance matrix, a highlighted copy of each document
and a run report into the output directory. Pages without a usable
text layer fall back to OCR.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: {workspace}/redline.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}

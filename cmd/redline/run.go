package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/pipeline"
	"github.com/redlinehq/redline/internal/workspace"
)

var (
	runWorkers  int
	runCombined bool
	runOut      string
)

var runCmd = &cobra.Command{
	Use:   "run [workspace]",
	Short: "Review every solicitation in the workspace",
	Long: `Run the full review over a workspace.

Clause database sources are read from {workspace}/database, documents
from {workspace}/solicitations, and artifacts land in
{workspace}/output. Without an argument the current directory is the
workspace.

Examples:
  redline run                         # review the current directory
  redline run ~/reviews/rfp-088       # review a specific workspace
  redline run --combined              # one matrix across all documents
  redline run --workers 2 --out /tmp  # throttle and redirect artifacts`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		ws, err := workspace.New(path)
		if err != nil {
			return err
		}
		if !ws.Exists() {
			return fmt.Errorf("workspace %s does not exist, run \"redline init\" first", ws.Path())
		}
		if runOut != "" {
			ws.SetOutput(runOut)
		}
		if err := ws.EnsureExists(); err != nil {
			return err
		}

		file := cfgFile
		if file == "" && ws.ConfigExists() {
			file = ws.ConfigPath()
		}
		cm, err := config.NewManager(file)
		if err != nil {
			return err
		}
		cfg := cm.Get()
		if cmd.Flags().Changed("workers") {
			cfg.Pipeline.Workers = runWorkers
		}
		if runCombined {
			cfg.Matrix.Aggregation = "combined"
		}

		p := &pipeline.Pipeline{
			Config:    cfg,
			Workspace: ws,
			Logger:    logger,
		}
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}

		logger.Info("artifacts written",
			"output", ws.OutputPath(),
			"report", res.ReportPath)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent documents (default: all CPUs)")
	runCmd.Flags().BoolVar(&runCombined, "combined", false, "one combined matrix instead of per-document")
	runCmd.Flags().StringVar(&runOut, "out", "", "artifact directory (default: {workspace}/output)")

	rootCmd.AddCommand(runCmd)
}

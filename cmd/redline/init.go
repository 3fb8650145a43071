package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [workspace]",
	Short: "Scaffold a review workspace",
	Long: `Create the workspace directory layout and a commented default
config file:

  {workspace}/database/        clause database sources (csv or xlsx)
  {workspace}/solicitations/   documents to review (pdf or docx)
  {workspace}/output/          matrices, highlighted copies, run reports
  {workspace}/redline.yaml     configuration

An existing config file is kept unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		ws, err := workspace.New(path)
		if err != nil {
			return err
		}
		if err := ws.EnsureExists(); err != nil {
			return err
		}

		if ws.ConfigExists() && !initForce {
			fmt.Printf("workspace ready at %s (existing config kept)\n", ws.Path())
			return nil
		}
		if err := config.WriteDefault(ws.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("workspace ready at %s\n", ws.Path())
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(initCmd)
}

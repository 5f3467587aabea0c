package cmd

import (
	"fmt"

	"github.com/mcpkit/mcpkit/internal/executor"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available resources",
	Long:  `List provides subcommands for listing registered tools and cached bundles.`,
}

var listToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tool manifests discovered in a directory",
	Long: `Tools loads every *.yaml tool manifest in the given directory and reports
the tools the executor would register, regardless of current policy.`,
	RunE: runListTools,
}

func init() {
	listToolsCmd.Flags().String("dir", "./manifests", "directory of tool manifests")
	listCmd.AddCommand(listToolsCmd)
	rootCmd.AddCommand(listCmd)
}

func runListTools(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	registry, err := executor.NewRegistryFromDir(dir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	tools := registry.ListTools()
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tool manifests found.")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Registered tools:")
	fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", "NAME", "DESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", t.Name, t.Description)
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <project_id>",
	Short: "Stop a project",
	Long:  `Stop a running project. The project is signaled to terminate and force-killed past the stop ceiling.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart <project_id>",
	Short: "Restart a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	var result map[string]string
	if err := clientFromFlags().Post("/projects/"+args[0]+"/stop", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Printf("project %s is %s\n", args[0], result["state"])
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	var result map[string]string
	if err := clientFromFlags().Post("/projects/"+args[0]+"/restart", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Printf("project %s is %s\n", args[0], result["state"])
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <project_id>",
	Short: "Start a project",
	Long:  `Start a project and wait until it is running. A project that is already running is left alone.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	var result map[string]string
	if err := clientFromFlags().Post("/projects/"+args[0]+"/start", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Printf("project %s is %s\n", args[0], result["state"])
	return nil
}

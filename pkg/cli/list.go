package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known projects",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var records []*types.ProjectRecord
	if err := clientFromFlags().Get("/projects", &records); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(records)
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%-40s %s\n", rec.Id, rec.State)
	}
	return nil
}

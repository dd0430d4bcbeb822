package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

var stateCmd = &cobra.Command{
	Use:   "state <project_id>",
	Short: "Show a project's lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

var statusCmd = &cobra.Command{
	Use:   "status <project_id>",
	Short: "Show a project's full runtime status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var addressCmd = &cobra.Command{
	Use:   "address <project_id>",
	Short: "Show a project's connection coordinates, starting it if needed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddress,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addressCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	var result map[string]string
	if err := clientFromFlags().Get("/projects/"+args[0]+"/state", &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Println(result["state"])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status types.ProjectStatus
	if err := clientFromFlags().Get("/projects/"+args[0]+"/status", &status); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(status)
		return nil
	}

	fmt.Println()
	PrintKeyValue("State", string(status.State))
	if status.PID != 0 {
		PrintKeyValue("PID", fmt.Sprintf("%d", status.PID))
	}
	if status.Port != 0 {
		PrintKeyValue("Port", fmt.Sprintf("%d", status.Port))
	}
	if status.MemoryRSS != 0 {
		PrintKeyValue("Memory", fmt.Sprintf("%.1f MiB", float64(status.MemoryRSS)/(1<<20)))
	}
	if status.CPUPercent != 0 {
		PrintKeyValue("CPU", fmt.Sprintf("%.1f%%", status.CPUPercent))
	}
	if status.UptimeSecs != 0 {
		PrintKeyValue("Uptime", fmt.Sprintf("%ds", status.UptimeSecs))
	}
	fmt.Println()
	return nil
}

func runAddress(cmd *cobra.Command, args []string) error {
	var address types.ProjectAddress
	if err := clientFromFlags().Get("/projects/"+args[0]+"/address", &address); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(address)
		return nil
	}

	fmt.Printf("%s:%d\n", address.Host, address.Port)
	return nil
}

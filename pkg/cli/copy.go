package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

var (
	copyTargetProject string
	copyTargetPath    string
	copyOverwrite     bool
	copyDeleteMissing bool
	copyBackup        bool
)

var copyCmd = &cobra.Command{
	Use:   "copy <project_id> <path>",
	Short: "Copy a path within a project or into another project",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopy,
}

var quotasCmd = &cobra.Command{
	Use:   "quotas <project_id>",
	Short: "Recompute a project's quotas from its stored settings",
	Long:  `Recompute quotas and, if the result changed for a running project, trigger a background restart.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotas,
}

func init() {
	copyCmd.Flags().StringVar(&copyTargetProject, "target-project", "", "destination project id (defaults to the source project)")
	copyCmd.Flags().StringVar(&copyTargetPath, "target-path", "", "destination path (defaults to the source path)")
	copyCmd.Flags().BoolVar(&copyOverwrite, "overwrite", false, "overwrite newer files at the destination")
	copyCmd.Flags().BoolVar(&copyDeleteMissing, "delete", false, "delete destination files missing from the source")
	copyCmd.Flags().BoolVar(&copyBackup, "backup", false, "back up overwritten files")

	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(quotasCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	opts := types.CopyOptions{
		Path:            args[1],
		TargetProjectId: copyTargetProject,
		TargetPath:      copyTargetPath,
		Overwrite:       copyOverwrite,
		Delete:          copyDeleteMissing,
		Backup:          copyBackup,
	}

	var result map[string]string
	if err := clientFromFlags().Post("/projects/"+args[0]+"/copy", opts, &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Println("copied", args[1])
	return nil
}

func runQuotas(cmd *cobra.Command, args []string) error {
	var result map[string]string
	if err := clientFromFlags().Post("/projects/"+args[0]+"/quotas", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		PrintJSON(result)
		return nil
	}

	fmt.Println("quotas reconciled for project", args[0])
	return nil
}

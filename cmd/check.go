package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/services"
)

var checkDry bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Find catalog entries whose file is missing and remove them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(realtime.Discard)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		report, err := a.integrity.Check(commandContext(cmd), checkDry, func(p services.Progress) {
			fmt.Fprintf(out, "checked %d frames, %d missing\n", p.Checked, p.Missing)
		})
		if err != nil {
			return err
		}

		for _, f := range report.Files {
			fmt.Fprintf(out, "missing: %s\n", f)
		}
		if checkDry {
			fmt.Fprintf(out, "%d of %d frames missing, nothing deleted (dry run)\n", report.Missing, report.Checked)
		} else {
			fmt.Fprintf(out, "%d of %d frames missing, %d deleted\n", report.Missing, report.Checked, report.Deleted)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkDry, "dry", false, "only report missing files")
	rootCmd.AddCommand(checkCmd)
}

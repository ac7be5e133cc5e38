package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/camden-git/framearchive/realtime"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete BASENAME...",
	Short: "Delete frames and their files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), len(args)) {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}

		a, err := newApp(realtime.Discard)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, missing, err := a.archive.DeleteByBasenames(commandContext(cmd), args, "cli")
		for _, name := range deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
		}
		if err != nil {
			return err
		}
		for _, name := range missing {
			fmt.Fprintf(cmd.ErrOrStderr(), "not found: %s\n", name)
		}
		return nil
	},
}

func confirm(in io.Reader, out io.Writer, n int) bool {
	fmt.Fprintf(out, "Delete %d frame(s) and their files? [y/N] ", n)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(deleteCmd)
}

package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/CreditWorthy/realmforge"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}
			fmt.Fprintf(out, "realmforge %s\n", Version)
			fmt.Fprintf(out, "  Commit:      %s\n", Commit)
			fmt.Fprintf(out, "  File format: %d\n", realmforge.FormatVersion)
			fmt.Fprintf(out, "  Go version:  %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "show only the version number")
	return cmd
}

package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/nmdm/nmdm/internal/appid"
)

var extended bool

func printVersion(w io.Writer, extended bool) {
	_, _ = fmt.Fprintf(w, "%s %s\n", appid.Get().BinaryName, versionInfo.Version)
	if !extended {
		return
	}
	_, _ = fmt.Fprintf(w, "Commit: %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(w, "Built: %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(w, "Go: %s\n", runtime.Version())
	_, _ = fmt.Fprintln(w)

	version := crucible.GetVersion()
	_, _ = fmt.Fprintf(w, "Gofulmen: %s\n", version.Gofulmen)
	_, _ = fmt.Fprintf(w, "Crucible: %s\n", version.Crucible)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printVersion(cmd.OutOrStdout(), extended)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}

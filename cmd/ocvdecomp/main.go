package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
)

var logLevel = "info"

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func handleCmdError(err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindEmptyCandidateSet:
		fmt.Fprintln(os.Stderr, "\nError: no candidate pairs to search")
		fmt.Fprintln(os.Stderr, "  - Check that both candidate directories contain *.txt curve files")
	case apperrors.KindDegenerateCurve:
		fmt.Fprintln(os.Stderr, "\nError: a curve cannot be interpolated")
		fmt.Fprintln(os.Stderr, "  - Curves need at least 4 rows with a strictly monotonic first column")
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocvdecomp",
		Short: "ocvdecomp splits a full-cell OCV curve into cathode and anode half-cell curves",
		Long: `ocvdecomp splits a full-cell open-circuit-voltage curve into the
cathode and anode half-cell curves that best reproduce it.

Every cathode candidate is paired with every anode candidate; each pair is
fitted by differential evolution over the trimmed windows (and optionally
stretch factors) of both electrodes. The pair with the lowest RMSD wins.

Defaults are read from the environment (OPT_*, WEIGHT_*, DATA_*, LOG_*).`,
		SilenceUsage: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(
		NewRunCommand(),
		NewVersionCommand(),
	)

	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version, gitCommit)
		},
	}
}

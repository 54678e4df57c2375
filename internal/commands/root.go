package commands

import (
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var repoDir string

	rootCmd := &cobra.Command{
		Use:     "envelopes",
		Short:   "Envelope budgeting with bank reconciliation",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "data directory")

	rootCmd.AddCommand(
		newInitCommand(&repoDir),
		newAccountCommand(&repoDir),
		newEnvelopeCommand(&repoDir),
		newTransferCommand(&repoDir),
		newTxCommand(&repoDir),
		newImportCommand(&repoDir),
		newSyncCommand(&repoDir),
		newResolveCommand(&repoDir),
		newSummaryCommand(&repoDir),
		newVerifyCommand(&repoDir),
		newLogCommand(&repoDir),
		newServeCommand(&repoDir),
	)

	return rootCmd
}

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/importer"
)

func newImportCommand(repoDir *string) *cobra.Command {
	var accountID int
	cmd := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Import a bank CSV export",
		Long: "Import a bank CSV export into an account. Without a file argument, every CSV\n" +
			"in the import/ inbox is imported and moved to import/processed/.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				if len(args) == 1 {
					raw, err := os.ReadFile(args[0])
					if err != nil {
						return fmt.Errorf("reading %s: %w", args[0], err)
					}
					return importOne(cmd, p, filepath.Base(args[0]), raw, accountID)
				}

				files, err := importer.Scan(p.dir)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No CSV files in %s\n", importer.Dir(p.dir))
					return nil
				}
				for _, f := range files {
					raw, err := os.ReadFile(f.Path)
					if err != nil {
						return fmt.Errorf("reading %s: %w", f.Name, err)
					}
					if err := importOne(cmd, p, f.Name, raw, accountID); err != nil {
						return err
					}
					if err := importer.MarkProcessed(p.dir, f.Name); err != nil {
						return err
					}
				}
				return p.save(cmd.Context(), fmt.Sprintf("import: %d file(s) processed", len(files)))
			})
		},
	}
	cmd.Flags().IntVar(&accountID, "account", 1, "account id to import into")
	return cmd
}

func importOne(cmd *cobra.Command, p *project, name string, raw []byte, accountID int) error {
	res, err := p.eng.ImportCSV(cmd.Context(), raw, accountID)
	if err != nil {
		return fmt.Errorf("importing %s: %w", name, err)
	}
	if err := p.save(cmd.Context(), fmt.Sprintf("import: %s (%d imported)", name, res.Imported)); err != nil {
		return err
	}
	printImport(cmd.OutOrStdout(), name, res)
	return nil
}

func printImport(w io.Writer, name string, res engine.ImportResult) {
	fmt.Fprintf(w, "%s: %d imported (%d created, %d merged, %d flagged), %d skipped\n",
		name, res.Imported, res.Created, res.Merged, res.Flagged, res.Skipped)
	if n := len(res.SyntheticRefs); n > 0 {
		fmt.Fprintf(w, "  %d row(s) had no bank id, referenced by content\n", n)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}

func newSyncCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [connection-id]",
		Short: "Sync bank feeds",
		Long:  "Sync one bank connection, or every configured connection when none is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				var (
					results []engine.SyncResult
					syncErr error
				)
				if len(args) == 1 {
					res, err := p.eng.SyncBankAccount(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					results = append(results, res)
				} else {
					results, syncErr = p.eng.SyncAll(cmd.Context())
				}

				for _, res := range results {
					printSync(cmd.OutOrStdout(), res)
				}
				if len(results) > 0 {
					if err := p.save(cmd.Context(), fmt.Sprintf("sync: %d connection(s)", len(results))); err != nil {
						return errors.Join(syncErr, err)
					}
				}
				return syncErr
			})
		},
	}
}

func printSync(w io.Writer, res engine.SyncResult) {
	fmt.Fprintf(w, "%s: %d created, %d merged, %d flagged, %d skipped\n",
		res.ConnectionID, res.Created, res.Merged, res.Flagged, res.Skipped)
	for _, d := range res.Details {
		if d.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", d.ExternalID, d.Error)
		}
	}
}

func newResolveCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <bank-transaction-id> <manual-transaction-id> <merge|keep_both|delete_bank>",
		Short: "Resolve a flagged duplicate pair",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bankID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			manualID, err := parseTxID(args[1])
			if err != nil {
				return err
			}
			action, err := engine.ParseResolution(args[2])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				res, err := p.eng.ResolveDuplicate(cmd.Context(), bankID, manualID, action)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("resolve: %s %d/%d", action, bankID, manualID)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d/%d: %s (transaction %d now %s)\n",
					bankID, manualID, res.Action, res.Manual.ID, engine.StatusOf(res.Manual))
				return nil
			})
		},
	}
}

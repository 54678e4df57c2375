package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/activitylog"
	"github.com/envelopes-dev/envelopes/internal/engine"
)

var statusOrder = []engine.Status{
	engine.StatusUnmatched,
	engine.StatusPending,
	engine.StatusApproved,
	engine.StatusEdited,
	engine.StatusPotentialDuplicate,
}

func newSummaryCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Compare bank balances with envelope balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				s := p.eng.GetSummary(p.cfg.UserID)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Bank total:     %s\n", s.BankTotal.StringFixed(2))
				fmt.Fprintf(out, "Envelope total: %s\n", s.EnvelopeTotal.StringFixed(2))
				fmt.Fprintf(out, "Difference:     %s\n", s.Difference.StringFixed(2))
				if s.Reconciled {
					fmt.Fprintln(out, "Reconciled")
				} else {
					fmt.Fprintln(out, "NOT reconciled")
				}
				for _, st := range statusOrder {
					if n := s.Counts[st]; n > 0 {
						fmt.Fprintf(out, "  %s: %d\n", st, n)
					}
				}
				return nil
			})
		},
	}
}

func newVerifyCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the ledger and check every balance invariant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				violations := p.eng.Verify()
				out := cmd.OutOrStdout()
				for _, v := range violations {
					fmt.Fprintf(out, "FAIL %s\n", v.Error())
				}
				if len(violations) > 0 {
					return fmt.Errorf("%d invariant violation(s)", len(violations))
				}
				fmt.Fprintln(out, "OK: all balances match the ledger")
				return nil
			})
		},
	}
}

func newLogCommand(repoDir *string) *cobra.Command {
	var (
		filter activitylog.Filter
		since  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the activity log",
		Long:  "Show audited operations, oldest first, optionally narrowed to one transaction, import batch or action.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = t
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				entries, err := activitylog.Query(p.dir, filter)
				if err != nil {
					return err
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[len(entries)-limit:]
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTX\tDETAILS")
				for _, e := range entries {
					tx := "-"
					if e.TransactionID != 0 {
						tx = strconv.Itoa(e.TransactionID)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						e.At.Local().Format("2006-01-02 15:04:05"), e.Actor, e.Action, tx, e.Details)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&filter.TransactionID, "tx", 0, "only entries for this transaction")
	cmd.Flags().StringVar(&filter.Batch, "batch", "", "only entries for this import or sync batch")
	cmd.Flags().StringVar(&filter.Action, "action", "", "only entries with this action, e.g. approve_transaction")
	cmd.Flags().StringVar(&since, "since", "", "only entries on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many of the latest entries")
	return cmd
}

package commands

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/model"
)

func newTxCommand(repoDir *string) *cobra.Command {
	txCmd := &cobra.Command{
		Use:   "tx",
		Short: "Manage transactions",
	}
	txCmd.AddCommand(
		newTxAddCommand(repoDir),
		newTxListCommand(repoDir),
		newTxAllocCommand(repoDir),
		newTxApproveCommand(repoDir),
		newTxDeleteCommand(repoDir),
	)
	return txCmd
}

// parseAllocations parses "envelope:amount" pairs.
func parseAllocations(specs []string) ([]model.Allocation, error) {
	var out []model.Allocation
	for _, spec := range specs {
		envStr, amtStr, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("allocation %q: want envelope:amount", spec)
		}
		envID, err := strconv.Atoi(strings.TrimSpace(envStr))
		if err != nil {
			return nil, fmt.Errorf("allocation %q: envelope id: %w", spec, err)
		}
		amt, err := decimal.NewFromString(strings.TrimSpace(amtStr))
		if err != nil {
			return nil, fmt.Errorf("allocation %q: amount: %w", spec, err)
		}
		out = append(out, model.Allocation{EnvelopeID: envID, Amount: amt})
	}
	return out, nil
}

func parseTxID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing transaction id %q: %w", s, err)
	}
	return id, nil
}

func newTxAddCommand(repoDir *string) *cobra.Command {
	var (
		accountID   int
		amount      string
		date        string
		description string
	)
	cmd := &cobra.Command{
		Use:   "add <merchant>",
		Short: "Record a manual transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("parsing amount %q: %w", amount, err)
			}
			n := engine.NewTransaction{AccountID: accountID, Amount: amt, Merchant: args[0], Description: description}
			if date != "" {
				if n.Date, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("parsing date %q: %w", date, err)
				}
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				tx, err := p.eng.CreateTransaction(cmd.Context(), n)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("tx: add %d %s", tx.ID, tx.Merchant)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added transaction %d %s %s\n", tx.ID, tx.Merchant, tx.Amount.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&accountID, "account", 1, "account id")
	cmd.Flags().StringVar(&amount, "amount", "", "signed amount, negative for expenses (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func newTxListCommand(repoDir *string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDATE\tMERCHANT\tAMOUNT\tSTATUS\tALLOCATIONS")
				for _, v := range p.eng.GetTransactions(p.cfg.UserID) {
					if status != "" && string(v.Status) != status {
						continue
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Date.Format("2006-01-02"), v.Merchant,
						v.Amount.StringFixed(2), describeStatus(v), formatAllocations(v.Allocations))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show this status (unmatched, pending, approved, edited, potential_duplicate)")
	return cmd
}

func describeStatus(v engine.TransactionView) string {
	if v.Status == engine.StatusPotentialDuplicate {
		return fmt.Sprintf("%s of %d", v.Status, v.DuplicateOfID)
	}
	return string(v.Status)
}

func formatAllocations(allocs []model.Allocation) string {
	parts := make([]string, len(allocs))
	for i, a := range allocs {
		parts[i] = fmt.Sprintf("%d:%s", a.EnvelopeID, a.Amount.StringFixed(2))
	}
	return strings.Join(parts, " ")
}

func newTxAllocCommand(repoDir *string) *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "alloc <transaction-id>",
		Short: "Stage allocations without approving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			allocs, err := parseAllocations(specs)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				tx, err := p.eng.SetAllocations(cmd.Context(), id, allocs)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("tx: alloc %d", id)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transaction %d %s\n", tx.ID, engine.StatusOf(tx))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "alloc", nil, "envelope:amount, repeatable")
	return cmd
}

func newTxApproveCommand(repoDir *string) *cobra.Command {
	var (
		specs       []string
		description string
	)
	cmd := &cobra.Command{
		Use:   "approve <transaction-id>",
		Short: "Approve a transaction and apply it to envelope balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			allocs, err := parseAllocations(specs)
			if err != nil {
				return err
			}
			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				if len(allocs) == 0 {
					cur, err := p.eng.GetTransaction(id)
					if err != nil {
						return err
					}
					allocs = cur.Allocations
				}
				tx, err := p.eng.ApproveTransaction(cmd.Context(), id, allocs, desc, nil)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("approve: transaction %d", id)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved transaction %d %s %s\n", tx.ID, tx.Merchant, formatAllocations(tx.Allocations))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "alloc", nil, "envelope:amount, repeatable (default: staged allocations)")
	cmd.Flags().StringVar(&description, "description", "", "replace the description")
	return cmd
}

func newTxDeleteCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction, reversing its envelope changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				if err := p.eng.DeleteTransaction(cmd.Context(), id); err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("tx: delete %d", id)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted transaction %d\n", id)
				return nil
			})
		},
	}
}

package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/engine"
)

func newEnvelopeCommand(repoDir *string) *cobra.Command {
	envelopeCmd := &cobra.Command{
		Use:   "envelope",
		Short: "Manage budget envelopes",
	}
	envelopeCmd.AddCommand(
		newEnvelopeAddCommand(repoDir),
		newEnvelopeListCommand(repoDir),
		newEnvelopeAdjustCommand(repoDir),
	)
	return envelopeCmd
}

func newEnvelopeAddCommand(repoDir *string) *cobra.Command {
	var (
		budgeted string
		opening  string
		icon     string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			budget, err := decimal.NewFromString(budgeted)
			if err != nil {
				return fmt.Errorf("parsing budget %q: %w", budgeted, err)
			}
			open, err := decimal.NewFromString(opening)
			if err != nil {
				return fmt.Errorf("parsing opening balance %q: %w", opening, err)
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				env, err := p.eng.CreateEnvelope(cmd.Context(), engine.NewEnvelope{
					UserID:         p.cfg.UserID,
					Name:           args[0],
					Icon:           icon,
					Budgeted:       budget,
					OpeningBalance: open,
				})
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("envelope: add %s", env.Name)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added envelope %d %s (balance %s)\n", env.ID, env.Name, env.Balance.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&budgeted, "budget", "0", "budgeted amount")
	cmd.Flags().StringVar(&opening, "opening", "0", "opening balance")
	cmd.Flags().StringVar(&icon, "icon", "", "display icon")
	return cmd
}

func newEnvelopeListCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List envelopes and balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tBUDGETED\tBALANCE")
				for _, e := range p.eng.GetEnvelopes(p.cfg.UserID) {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Name, e.Budgeted.StringFixed(2), e.Balance.StringFixed(2))
				}
				return w.Flush()
			})
		},
	}
}

func newEnvelopeAdjustCommand(repoDir *string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "adjust <envelope-id> <amount>",
		Short: "Add to or take from an envelope balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parsing envelope id %q: %w", args[0], err)
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("parsing amount %q: %w", args[1], err)
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				bal, err := p.eng.AdjustEnvelope(cmd.Context(), id, amount, note)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("envelope: adjust %d by %s", id, amount.StringFixed(2))); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Envelope %d balance %s\n", id, bal.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason for the adjustment")
	return cmd
}

func newTransferCommand(repoDir *string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "transfer <from-envelope> <to-envelope> <amount>",
		Short: "Move money between envelopes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parsing envelope id %q: %w", args[0], err)
			}
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parsing envelope id %q: %w", args[1], err)
			}
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("parsing amount %q: %w", args[2], err)
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				res, err := p.eng.TransferBetweenEnvelopes(cmd.Context(), from, to, amount, note)
				if err != nil {
					return err
				}
				msg := fmt.Sprintf("transfer: %s from envelope %d to %d", amount.StringFixed(2), from, to)
				if err := p.save(cmd.Context(), msg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Envelope %d: %s\nEnvelope %d: %s\n",
					from, res.FromBalance.StringFixed(2), to, res.ToBalance.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "description")
	return cmd
}

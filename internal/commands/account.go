package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/model"
)

func newAccountCommand(repoDir *string) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage bank accounts",
	}
	accountCmd.AddCommand(
		newAccountAddCommand(repoDir),
		newAccountListCommand(repoDir),
		newAccountBalanceCommand(repoDir),
	)
	return accountCmd
}

func newAccountAddCommand(repoDir *string) *cobra.Command {
	var (
		acctType string
		balance  string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bal, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("parsing balance %q: %w", balance, err)
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				a, err := p.eng.CreateAccount(cmd.Context(), model.Account{
					UserID:  p.cfg.UserID,
					Name:    args[0],
					Type:    model.AccountType(acctType),
					Balance: bal,
				})
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("account: add %s", a.Name)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added account %d %s (%s)\n", a.ID, a.Name, a.Type)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&acctType, "type", string(model.AccountTypeChecking), "checking, savings, credit or cash")
	cmd.Flags().StringVar(&balance, "balance", "0", "current bank balance")
	return cmd
}

func newAccountListCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bank accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tBALANCE")
				for _, a := range p.eng.GetAccounts(p.cfg.UserID) {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.ID, a.Name, a.Type, a.Balance.StringFixed(2))
				}
				return w.Flush()
			})
		},
	}
}

func newAccountBalanceCommand(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id> <amount>",
		Short: "Record the balance reported by the bank",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parsing account id %q: %w", args[0], err)
			}
			bal, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("parsing balance %q: %w", args[1], err)
			}
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				a, err := p.eng.SetAccountBalance(cmd.Context(), id, bal)
				if err != nil {
					return err
				}
				if err := p.save(cmd.Context(), fmt.Sprintf("account: balance %d", id)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s\n", a.Name, a.Balance.StringFixed(2))
				return nil
			})
		},
	}
}

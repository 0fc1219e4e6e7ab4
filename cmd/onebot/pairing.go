package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/onebot/internal/channel/adapters/onebot"
	"github.com/memohai/onebot/internal/store"
)

func pairingCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Inspect and approve pending pairing requests",
	}
	cmd.AddCommand(pairingListCmd(configPath), pairingApproveCmd(configPath))
	return cmd
}

func pairingListCmd(configPath *string) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.ListPairingRequests(cmd.Context(), onebot.Type.String(), accountID)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending requests")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tACCOUNT\tSENDER\tNAME\tEXPIRES")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					item.Code, item.AccountID, item.SenderID, item.DisplayName,
					item.ExpiresAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "only show requests for this account")
	return cmd
}

func pairingApproveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "approve CODE",
		Short: "Approve a pairing code and allow its sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			req, err := st.ApprovePairingCode(cmd.Context(), onebot.Type.String(), args[0])
			if errors.Is(err, store.ErrPairingNotFound) {
				return fmt.Errorf("no pending request with code %q (it may have expired)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approved %s for account %s\n", req.SenderID, req.AccountID)
			return nil
		},
	}
}

func openStore(configPath string) (*store.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

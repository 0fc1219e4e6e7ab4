package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/memohai/onebot/internal/channel/adapters/onebot"
	"github.com/memohai/onebot/internal/config"
)

func accountsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Show the effective settings of every configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			accounts := onebot.NewAccountStore(config.NewStaticProvider(cfg)).Accounts()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tACTIVE\tPOLICY\tWS\tHTTP\tCHUNK")
			for _, account := range accounts {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%d/%s\n",
					account.AccountID, account.Active(), account.DMPolicy,
					orDash(account.WSURL), orDash(account.HTTPURL),
					account.TextChunkLimit, account.ChunkMode)
			}
			return w.Flush()
		},
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

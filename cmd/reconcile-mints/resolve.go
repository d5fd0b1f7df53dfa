package main

import (
	"fmt"

	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/reconcile"
	"github.com/spf13/cobra"
)

var resolveFlags struct {
	transfers string
	out       string
	source    string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve every minting address to fids and save identities JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		log, err := reconcile.LoadTransferLog(resolveFlags.transfers)
		if err != nil {
			return err
		}
		addrs := reconcile.MintAddresses(log, reconcile.Options{SongId: songFilter()})

		var dir reconcile.IdentityDirectory
		switch resolveFlags.source {
		case "neynar":
			client, err := farcaster.NewClientFromEnv()
			if err != nil {
				return err
			}
			dir = client
		case "local":
			db, err := connectDB(ctx)
			if err != nil {
				return err
			}
			dir = reconcile.AccountDirectory{Index: accounts.NewStore(db)}
		default:
			return fmt.Errorf("unknown --source %q (want neynar or local)", resolveFlags.source)
		}

		opts := reconcile.DefaultResolveOptions()
		opts.Logger = config.GetLogger()
		ids, err := reconcile.ResolveIdentities(ctx, dir, addrs, opts)
		if err != nil {
			return err
		}
		if err := reconcile.SaveIdentities(resolveFlags.out, ids); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %d addresses -> %s\n", len(ids), resolveFlags.out)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFlags.transfers, "transfers", "", "transfer log CSV")
	resolveCmd.Flags().StringVar(&resolveFlags.out, "out", "identities.json", "where to write identities JSON")
	resolveCmd.Flags().StringVar(&resolveFlags.source, "source", "neynar", "identity directory: neynar or local")
	_ = resolveCmd.MarkFlagRequired("transfers")
}

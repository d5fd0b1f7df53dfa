package main

import (
	"fmt"

	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/reconcile"
	"github.com/spf13/cobra"
)

var exportLedgerOut string

var exportLedgerCmd = &cobra.Command{
	Use:   "export-ledger",
	Short: "Dump (fid, song_id, amount) collection rows to JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := connectDB(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := ledger.New(db).Snapshot(cmd.Context(), songFilter())
		if err != nil {
			return fmt.Errorf("snapshot ledger: %w", err)
		}
		if err := reconcile.SaveLedger(exportLedgerOut, entries); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d ledger rows -> %s\n", len(entries), exportLedgerOut)
		return nil
	},
}

func init() {
	exportLedgerCmd.Flags().StringVar(&exportLedgerOut, "out", "ledger.json", "where to write ledger JSON")
}

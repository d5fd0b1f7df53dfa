// reconcile-mints compares on-chain mint transfers with the collection ledger.
//
// Typical run (from backend directory):
//
//	go run ./cmd/reconcile-mints resolve --transfers mints.csv --out identities.json
//	go run ./cmd/reconcile-mints export-ledger --out ledger.json
//	go run ./cmd/reconcile-mints run --transfers mints.csv --identities identities.json --ledger ledger.json --song 7
//
// resolve needs NEYNAR_API_KEY (or DB_* with --source local), export-ledger needs DB_*.
// run is offline unless --persist or a gs:// --snapshot is given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/songcast/songcast_backend/config"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	songID int64

	rootCmd = &cobra.Command{
		Use:           "reconcile-mints",
		Short:         "Reconcile on-chain mints against the collection ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().Int64Var(&songID, "song", -1, "restrict to one song / token id (-1 = all)")
	rootCmd.AddCommand(resolveCmd, exportLedgerCmd, runCmd)
}

// songFilter returns nil when every song is in scope.
func songFilter() *int64 {
	if songID < 0 {
		return nil
	}
	id := songID
	return &id
}

func connectDB(ctx context.Context) (*gorm.DB, error) {
	if err := config.ConnectDatabaseWithRetry(ctx, config.DefaultRetryPolicy()); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return config.GetDB(), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

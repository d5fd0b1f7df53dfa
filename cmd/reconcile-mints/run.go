package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/reconcile"
	"github.com/songcast/songcast_backend/utils"
	"github.com/spf13/cobra"
)

var errDiscrepancies = errors.New("discrepancies found")

var runFlags struct {
	transfers  string
	identities string
	ledger     string
	snapshot   string
	xlsx       string
	shareFor   time.Duration
	persist    bool
	strict     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile transfers, identities and ledger; print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := utils.SetCorrelationIdInContext(cmd.Context(), uuid.NewString())
		logger := config.GetLogger()

		log, err := reconcile.LoadTransferLog(runFlags.transfers)
		if err != nil {
			return err
		}
		ids, err := reconcile.LoadIdentities(runFlags.identities)
		if err != nil {
			return err
		}
		entries, err := reconcile.LoadLedger(runFlags.ledger)
		if err != nil {
			return err
		}
		if log.Skipped > 0 {
			logger.WithFields(logrus.Fields{
				"field":   "reconcile-mints",
				"skipped": log.Skipped,
				"lines":   log.SkippedLines,
			}).Warn("transfer log rows skipped")
		}

		report := reconcile.Reconcile(ctx, log, ids, entries, reconcile.Options{SongId: songFilter()})
		data, err := reconcile.MarshalReport(report)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		if runFlags.snapshot != "" {
			if err := reconcile.WriteSnapshot(ctx, report, runFlags.snapshot); err != nil {
				return err
			}
			if bucket, object, ok := utils.ParseGCSURI(runFlags.snapshot); ok && runFlags.shareFor > 0 {
				url, err := utils.SignDownloadURL(ctx, bucket, object, runFlags.shareFor)
				if err != nil {
					return fmt.Errorf("sign snapshot url: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "snapshot: %s\n", url)
			}
		}
		if runFlags.xlsx != "" {
			if err := reconcile.ExportXLSX(report, runFlags.xlsx); err != nil {
				return err
			}
		}
		if runFlags.persist {
			db, err := connectDB(ctx)
			if err != nil {
				return err
			}
			row, err := reconcile.Persist(ctx, db, report)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"field":     "reconcile-mints",
				"report_id": row.ID,
			}).Info("reconciliation report stored")
		}

		if runFlags.strict && report.HasDiscrepancies() {
			return errDiscrepancies
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.transfers, "transfers", "", "transfer log CSV")
	f.StringVar(&runFlags.identities, "identities", "identities.json", "identities JSON from resolve")
	f.StringVar(&runFlags.ledger, "ledger", "ledger.json", "ledger JSON from export-ledger")
	f.StringVar(&runFlags.snapshot, "snapshot", "", "also write the report to a local path or gs://bucket/object")
	f.DurationVar(&runFlags.shareFor, "share-for", 0, "print a signed download URL for a gs:// snapshot, valid this long")
	f.StringVar(&runFlags.xlsx, "xlsx", "", "also export discrepancy sheets to this .xlsx path")
	f.BoolVar(&runFlags.persist, "persist", false, "store the report in the database")
	f.BoolVar(&runFlags.strict, "strict", false, "exit non-zero when any discrepancy is found")
	_ = runCmd.MarkFlagRequired("transfers")
}

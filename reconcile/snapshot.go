package reconcile

import (
	"context"
	"fmt"
	"os"

	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// MarshalReport renders the report as stable indented JSON.
func MarshalReport(r Report) ([]byte, error) {
	return utils.MarshalIndented(r)
}

// WriteSnapshot stores the report JSON at dest, a local path or gs://bucket/object.
func WriteSnapshot(ctx context.Context, r Report, dest string) error {
	data, err := MarshalReport(r)
	if err != nil {
		return err
	}
	if bucket, object, ok := utils.ParseGCSURI(dest); ok {
		return utils.UploadBytesToGCS(ctx, bucket, object, data, "application/json")
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", dest, err)
	}
	return nil
}

// ExportXLSX writes a workbook with a summary sheet and one sheet per discrepancy list.
func ExportXLSX(r Report, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Check", "Onchain", "Ledger", "Difference", "Match"},
		{"mintedTokens", r.Totals.MintedTokens.Onchain, r.Totals.MintedTokens.Ledger, r.Totals.MintedTokens.Difference, r.Totals.MintedTokens.Match},
		{"attributedTokens", r.Totals.AttributedTokens.Onchain, r.Totals.AttributedTokens.Ledger, r.Totals.AttributedTokens.Difference, r.Totals.AttributedTokens.Match},
		{},
		{"mintTransfers", r.MintTransfers},
		{"mintAddresses", r.MintAddresses},
		{"ledgerRecords", r.LedgerRecords},
		{"skippedRows", r.SkippedRows},
	}
	if err := writeRows(f, summary, rows); err != nil {
		return err
	}

	sheets := []struct {
		name string
		rows [][]interface{}
	}{
		{"LedgerNotResolved", fidRows(r.FidsInLedgerNotResolved)},
		{"ResolvedNotInLedger", fidRows(r.FidsResolvedNotInLedger)},
		{"MultipleFids", multipleFidRows(r.AddressesWithMultipleFids)},
		{"MissingFids", missingRows(r.MissingFids)},
		{"AmountMismatches", mismatchRows(r.AmountMismatches)},
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		if err := writeRows(f, s.name, s.rows); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func fidRows(fids []int64) [][]interface{} {
	rows := [][]interface{}{{"Fid"}}
	for _, fid := range fids {
		rows = append(rows, []interface{}{fid})
	}
	return rows
}

func multipleFidRows(list []AddressFids) [][]interface{} {
	rows := [][]interface{}{{"Address", "Amount", "Fids"}}
	for _, a := range list {
		rows = append(rows, []interface{}{a.Address, a.Amount, fmt.Sprint(a.Fids)})
	}
	return rows
}

func missingRows(list []AddressAmount) [][]interface{} {
	rows := [][]interface{}{{"Address", "Amount"}}
	for _, a := range list {
		rows = append(rows, []interface{}{a.Address, a.Amount})
	}
	return rows
}

func mismatchRows(list []FidAmount) [][]interface{} {
	rows := [][]interface{}{{"Fid", "Onchain", "Ledger"}}
	for _, m := range list {
		rows = append(rows, []interface{}{m.Fid, m.Onchain, m.Ledger})
	}
	return rows
}

// Persist records the run for audit history.
func Persist(ctx context.Context, db *gorm.DB, r Report) (models.ReconciliationReport, error) {
	details, err := utils.MarshalToJSON(r)
	if err != nil {
		return models.ReconciliationReport{}, err
	}
	correlationID, _ := utils.GetCorrelationIdFromContext(ctx)
	row := models.ReconciliationReport{
		CheckType:       models.CheckTypeMintReconciliation,
		SongId:          r.SongId,
		OnchainTotal:    r.Totals.Onchain,
		AttributedTotal: r.Totals.Attributed,
		LedgerTotal:     r.Totals.Ledger,
		MintedMatch:     r.Totals.MintedTokens.Match,
		AttributedMatch: r.Totals.AttributedTokens.Match,
		Details:         details,
		CorrelationId:   correlationID,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.ReconciliationReport{}, err
	}
	return row, nil
}

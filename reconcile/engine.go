package reconcile

import (
	"context"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("songcast/reconcile")

// Options narrows a run to one song. Transfers match on token id, ledger rows on song id.
type Options struct {
	SongId *int64
}

type TotalCheck struct {
	Onchain    string `json:"onchain"`
	Ledger     string `json:"ledger"`
	Difference string `json:"difference"`
	Match      bool   `json:"match"`
}

type Totals struct {
	Onchain    string `json:"onchain"`
	Attributed string `json:"attributed"`
	Ledger     string `json:"ledger"`
	// MintedTokens compares every minted token with the ledger.
	MintedTokens TotalCheck `json:"mintedTokens"`
	// AttributedTokens compares only tokens minted to addresses with exactly one fid.
	AttributedTokens TotalCheck `json:"attributedTokens"`
}

type AddressFids struct {
	Address string  `json:"address"`
	Amount  string  `json:"amount"`
	Fids    []int64 `json:"fids"`
}

type AddressAmount struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type FidAmount struct {
	Fid     int64  `json:"fid"`
	Onchain string `json:"onchain"`
	Ledger  string `json:"ledger"`
}

// Report is the discrepancy report. Every list is sorted, so equal inputs
// always serialize to identical bytes.
type Report struct {
	SongId                    *int64          `json:"songId,omitempty"`
	MintTransfers             int             `json:"mintTransfers"`
	MintAddresses             int             `json:"mintAddresses"`
	LedgerRecords             int             `json:"ledgerRecords"`
	SkippedRows               int             `json:"skippedRows"`
	Totals                    Totals          `json:"totals"`
	FidsInLedgerNotResolved   []int64         `json:"fidsInLedgerNotResolved"`
	FidsResolvedNotInLedger   []int64         `json:"fidsResolvedNotInLedger"`
	AddressesWithMultipleFids []AddressFids   `json:"addressesWithMultipleFids"`
	MissingFids               []AddressAmount `json:"missingFids"`
	AmountMismatches          []FidAmount     `json:"amountMismatches"`
}

// HasDiscrepancies is false only when every check is clean.
func (r Report) HasDiscrepancies() bool {
	return !r.Totals.MintedTokens.Match || !r.Totals.AttributedTokens.Match ||
		len(r.FidsInLedgerNotResolved) > 0 || len(r.FidsResolvedNotInLedger) > 0 ||
		len(r.AddressesWithMultipleFids) > 0 || len(r.MissingFids) > 0 || len(r.AmountMismatches) > 0
}

// MintAddresses lists the distinct recipients of mints in log, for identity resolution.
func MintAddresses(log TransferLog, opts Options) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range log.Transfers {
		if !includeTransfer(t, opts) {
			continue
		}
		if _, ok := seen[t.To]; !ok {
			seen[t.To] = struct{}{}
			out = append(out, t.To)
		}
	}
	sort.Strings(out)
	return out
}

func includeTransfer(t Transfer, opts Options) bool {
	if !t.IsMint() {
		return false
	}
	return opts.SongId == nil || t.TokenId == strconv.FormatInt(*opts.SongId, 10)
}

// Reconcile compares the three sources. It does no I/O.
func Reconcile(ctx context.Context, log TransferLog, ids Identities, entries []ledger.Entry, opts Options) Report {
	_, span := tracer.Start(ctx, "reconcile.Reconcile")
	defer span.End()

	perAddress := map[string]decimal.Decimal{}
	onchain := decimal.Zero
	mints := 0
	for _, t := range log.Transfers {
		if !includeTransfer(t, opts) {
			continue
		}
		mints++
		perAddress[t.To] = perAddress[t.To].Add(t.Amount)
		onchain = onchain.Add(t.Amount)
	}
	addresses := make([]string, 0, len(perAddress))
	for a := range perAddress {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	report := Report{
		SongId:                    opts.SongId,
		MintTransfers:             mints,
		MintAddresses:             len(addresses),
		SkippedRows:               log.Skipped,
		FidsInLedgerNotResolved:   []int64{},
		FidsResolvedNotInLedger:   []int64{},
		AddressesWithMultipleFids: []AddressFids{},
		MissingFids:               []AddressAmount{},
		AmountMismatches:          []FidAmount{},
	}

	resolved := map[int64]struct{}{}
	attributedByFid := map[int64]decimal.Decimal{}
	attributed := decimal.Zero
	for _, addr := range addresses {
		amount := perAddress[addr]
		fids := distinctFids(ids[addr])
		for _, fid := range fids {
			resolved[fid] = struct{}{}
		}
		switch {
		case len(fids) == 0:
			report.MissingFids = append(report.MissingFids, AddressAmount{Address: ChecksumAddress(addr), Amount: amount.String()})
		case len(fids) > 1:
			report.AddressesWithMultipleFids = append(report.AddressesWithMultipleFids, AddressFids{
				Address: ChecksumAddress(addr), Amount: amount.String(), Fids: fids,
			})
		default:
			attributedByFid[fids[0]] = attributedByFid[fids[0]].Add(amount)
			attributed = attributed.Add(amount)
		}
	}

	ledgerByFid := map[int64]decimal.Decimal{}
	ledgerTotal := decimal.Zero
	for _, e := range entries {
		if opts.SongId != nil && e.SongId != *opts.SongId {
			continue
		}
		report.LedgerRecords++
		amt := decimal.NewFromInt(e.Amount)
		ledgerByFid[e.Fid] = ledgerByFid[e.Fid].Add(amt)
		ledgerTotal = ledgerTotal.Add(amt)
	}

	for fid := range ledgerByFid {
		if _, ok := resolved[fid]; !ok {
			report.FidsInLedgerNotResolved = append(report.FidsInLedgerNotResolved, fid)
		}
	}
	for fid := range resolved {
		if _, ok := ledgerByFid[fid]; !ok {
			report.FidsResolvedNotInLedger = append(report.FidsResolvedNotInLedger, fid)
		}
	}
	for fid, onchainAmt := range attributedByFid {
		ledgerAmt, ok := ledgerByFid[fid]
		if ok && !ledgerAmt.Equal(onchainAmt) {
			report.AmountMismatches = append(report.AmountMismatches, FidAmount{
				Fid: fid, Onchain: onchainAmt.String(), Ledger: ledgerAmt.String(),
			})
		}
	}
	sortInt64s(report.FidsInLedgerNotResolved)
	sortInt64s(report.FidsResolvedNotInLedger)
	sort.Slice(report.AmountMismatches, func(i, j int) bool {
		return report.AmountMismatches[i].Fid < report.AmountMismatches[j].Fid
	})

	report.Totals = Totals{
		Onchain:          onchain.String(),
		Attributed:       attributed.String(),
		Ledger:           ledgerTotal.String(),
		MintedTokens:     compare(onchain, ledgerTotal),
		AttributedTokens: compare(attributed, ledgerTotal),
	}

	span.SetAttributes(
		attribute.Int("mint_transfers", mints),
		attribute.Bool("minted_match", report.Totals.MintedTokens.Match),
	)
	return report
}

func compare(onchain, ledgerTotal decimal.Decimal) TotalCheck {
	return TotalCheck{
		Onchain:    onchain.String(),
		Ledger:     ledgerTotal.String(),
		Difference: onchain.Sub(ledgerTotal).String(),
		Match:      onchain.Equal(ledgerTotal),
	}
}

// distinctFids returns fids without repeats, ascending. The input is not modified.
func distinctFids(fids []int64) []int64 {
	out := utils.UniqueSlice(fids)
	sortInt64s(out)
	return out
}

func sortInt64s(s []int64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/utils"
)

// Identities maps a lowercase address to every fid that verified it.
// An address present with no fids was looked up and not found.
type Identities map[string][]int64

// IdentityDirectory resolves wallet addresses to Farcaster users.
type IdentityDirectory interface {
	UsersByAddresses(ctx context.Context, addresses []string) (map[string][]farcaster.User, error)
}

type ResolveOptions struct {
	BatchSize int
	Pause     time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
	Logger    *logrus.Logger
}

func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{
		BatchSize: farcaster.MaxAddressesPerCall,
		Pause:     time.Second,
		Sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ResolveIdentities looks addresses up in batches with a pause between calls.
// Any batch failure aborts the whole resolution.
func ResolveIdentities(ctx context.Context, dir IdentityDirectory, addresses []string, opts ResolveOptions) (Identities, error) {
	if opts.BatchSize <= 0 || opts.BatchSize > farcaster.MaxAddressesPerCall {
		opts.BatchSize = farcaster.MaxAddressesPerCall
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	var normalized []string
	for _, a := range addresses {
		if n, ok := NormalizeAddress(a); ok {
			normalized = append(normalized, n)
		}
	}
	normalized = utils.UniqueSlice(normalized)
	sort.Strings(normalized)

	out := Identities{}
	for i, batch := range utils.Chunk(normalized, opts.BatchSize) {
		if i > 0 && opts.Pause > 0 {
			if err := opts.Sleep(ctx, opts.Pause); err != nil {
				return nil, err
			}
		}
		users, err := dir.UsersByAddresses(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("resolve batch %d (%d addresses): %w", i+1, len(batch), err)
		}
		for _, addr := range batch {
			var fids []int64
			for _, u := range users[addr] {
				fids = append(fids, u.Fid)
			}
			fids = utils.UniqueSlice(fids)
			sort.Slice(fids, func(a, b int) bool { return fids[a] < fids[b] })
			if fids == nil {
				fids = []int64{}
			}
			out[addr] = fids
		}
		if opts.Logger != nil {
			opts.Logger.WithFields(logrus.Fields{
				"field":     "ResolveIdentities",
				"batch":     i + 1,
				"addresses": len(batch),
			}).Info("resolved identity batch")
		}
	}
	return out, nil
}

func LoadIdentities(path string) (Identities, error) {
	var ids Identities
	if err := utils.ReadJSONFile(path, &ids); err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	normalized := make(Identities, len(ids))
	for addr, fids := range ids {
		n, ok := NormalizeAddress(addr)
		if !ok {
			return nil, fmt.Errorf("load identities %s: bad address %q", path, addr)
		}
		normalized[n] = append(normalized[n], fids...)
	}
	// keys differing only in case collapse onto one address
	for addr, fids := range normalized {
		fids = utils.UniqueSlice(fids)
		sort.Slice(fids, func(a, b int) bool { return fids[a] < fids[b] })
		if fids == nil {
			fids = []int64{}
		}
		normalized[addr] = fids
	}
	return normalized, nil
}

func SaveIdentities(path string, ids Identities) error {
	return utils.WriteJSONFile(path, ids)
}

func LoadLedger(path string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	if err := utils.ReadJSONFile(path, &entries); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return entries, nil
}

func SaveLedger(path string, entries []ledger.Entry) error {
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return utils.WriteJSONFile(path, entries)
}

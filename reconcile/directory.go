package reconcile

import (
	"context"

	"github.com/songcast/songcast_backend/farcaster"
)

// AddressIndex is satisfied by accounts.Store.
type AddressIndex interface {
	FidsByAddresses(ctx context.Context, addresses []string) (map[string][]int64, error)
}

// AccountDirectory answers identity lookups from addresses our own users
// have verified, for runs where the remote directory is unavailable.
type AccountDirectory struct {
	Index AddressIndex
}

func (d AccountDirectory) UsersByAddresses(ctx context.Context, addresses []string) (map[string][]farcaster.User, error) {
	byAddr, err := d.Index.FidsByAddresses(ctx, addresses)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]farcaster.User, len(byAddr))
	for addr, fids := range byAddr {
		for _, fid := range fids {
			out[addr] = append(out[addr], farcaster.User{Fid: fid})
		}
	}
	return out, nil
}

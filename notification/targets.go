package notification

import (
	"context"
	"fmt"

	"github.com/songcast/songcast_backend/utils"
)

type AudienceStore interface {
	NotifiableFids(ctx context.Context) ([]int64, error)
}

type HolderStore interface {
	HolderFids(ctx context.Context, songID int64) ([]int64, error)
}

// TargetResolver turns a Job into the fids it addresses, at fire time.
type TargetResolver struct {
	Audience AudienceStore
	Holders  HolderStore
}

func (r TargetResolver) Resolve(ctx context.Context, job Job) ([]int64, error) {
	switch job.Scope {
	case ScopeAll:
		return r.Audience.NotifiableFids(ctx)
	case ScopeExplicit:
		return utils.UniqueSlice(job.Fids), nil
	case ScopeOwnership:
		if job.SongId == nil || job.DidCollect == nil {
			return nil, fmt.Errorf("%w: ownership job needs song_id and did_collect", utils.ErrorInvalidInput)
		}
		holders, err := r.Holders.HolderFids(ctx, *job.SongId)
		if err != nil {
			return nil, err
		}
		if *job.DidCollect {
			return holders, nil
		}
		audience, err := r.Audience.NotifiableFids(ctx)
		if err != nil {
			return nil, err
		}
		held := make(map[int64]struct{}, len(holders))
		for _, fid := range holders {
			held[fid] = struct{}{}
		}
		out := make([]int64, 0, len(audience))
		for _, fid := range audience {
			if _, ok := held[fid]; !ok {
				out = append(out, fid)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown scope %q", utils.ErrorInvalidInput, job.Scope)
}

package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
)

type CollectInput struct {
	Fid         int64    `json:"fid" validate:"required,gt=0"`
	SongId      int64    `json:"song_id" validate:"gte=0"`
	Amount      int64    `json:"amount" validate:"required,gt=0"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	PfpUrl      string   `json:"pfp_url"`
	Addresses   []string `json:"addresses"`
}

type CollectResult struct {
	Collection models.Collection `json:"collection"`
	Created    bool              `json:"created"`
	Position   int               `json:"position"`
}

// MintWorkflow records a collection and congratulates the collector.
type MintWorkflow struct {
	Accounts *accounts.Store
	Ledger   *ledger.Ledger
	Sender   notification.Sender
	Logger   *logrus.Logger
}

func (w *MintWorkflow) Collect(ctx context.Context, in CollectInput) (CollectResult, error) {
	if err := utils.Validate(in); err != nil {
		return CollectResult{}, err
	}
	if err := w.Accounts.Ensure(ctx, accounts.Profile{
		Fid:         in.Fid,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		PfpUrl:      in.PfpUrl,
		Addresses:   in.Addresses,
	}); err != nil {
		return CollectResult{}, fmt.Errorf("ensure account %d: %w", in.Fid, err)
	}

	rec, created, err := w.Ledger.RecordCollection(ctx, in.Fid, in.SongId, in.Amount)
	if err != nil {
		return CollectResult{}, err
	}
	pos, _, err := w.Ledger.PositionOf(ctx, in.SongId, in.Fid)
	if err != nil {
		return CollectResult{}, err
	}
	result := CollectResult{Collection: rec, Created: created, Position: pos}

	if created && w.Sender != nil {
		w.congratulate(ctx, in.Fid, pos)
	}
	return result, nil
}

// congratulate is best effort; delivery failures never fail the collection.
func (w *MintWorkflow) congratulate(ctx context.Context, fid int64, pos int) {
	title := "Collected!"
	body := fmt.Sprintf("You're the %s collector. Thanks for supporting the artist.", utils.Ordinal(pos))
	outcome := w.Sender.Dispatch(ctx, []int64{fid}, title, body)
	if outcome.State == notification.Error {
		config.LogError(w.Logger, "workflow", "MintWorkflow", "congratulate", fid, fmt.Errorf("%s", outcome.Detail))
	}
}

package notification

import (
	"encoding/json"
	"fmt"

	"github.com/songcast/songcast_backend/utils"
)

type Scope string

const (
	ScopeAll       Scope = "all"
	ScopeOwnership Scope = "ownership"
	ScopeExplicit  Scope = "explicit"
)

// CallbackPath is where the delayed queue delivers due jobs.
const CallbackPath = "/pubsub/notifications"

// Job is the queued description of a notification. Targets are resolved when it fires.
type Job struct {
	Scope      Scope   `json:"scope" validate:"required,oneof=all ownership explicit"`
	Title      string  `json:"title" validate:"required,max=32"`
	Body       string  `json:"body" validate:"required,max=128"`
	Fids       []int64 `json:"fids,omitempty" validate:"omitempty,dive,gt=0"`
	SongId     *int64  `json:"song_id,omitempty"`
	DidCollect *bool   `json:"did_collect,omitempty"`
}

func (j Job) Validate() error {
	if err := utils.Validate(j); err != nil {
		return err
	}
	switch j.Scope {
	case ScopeOwnership:
		if j.SongId == nil || j.DidCollect == nil {
			return fmt.Errorf("%w: ownership job needs song_id and did_collect", utils.ErrorInvalidInput)
		}
	case ScopeExplicit:
		if len(j.Fids) == 0 {
			return fmt.Errorf("%w: explicit job needs fids", utils.ErrorInvalidInput)
		}
	}
	return nil
}

func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err)
	}
	return j, j.Validate()
}

package notification

import (
	"encoding/json"
	"fmt"
)

// State is the aggregate result of a delivery attempt. Values are ordered by
// severity so that Merge can keep the more severe of two outcomes.
type State int

const (
	NoToken State = iota
	Success
	RateLimited
	Error
)

func (s State) String() string {
	switch s {
	case NoToken:
		return "no_token"
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func ParseState(s string) (State, error) {
	switch s {
	case "no_token":
		return NoToken, nil
	case "success":
		return Success, nil
	case "rate_limited":
		return RateLimited, nil
	case "error":
		return Error, nil
	}
	return NoToken, fmt.Errorf("unknown notification state %q", s)
}

// Outcome is one of: success, no_token, rate_limited, error(detail).
type Outcome struct {
	State  State
	Detail string
}

func OutcomeSuccess() Outcome            { return Outcome{State: Success} }
func OutcomeNoToken() Outcome            { return Outcome{State: NoToken} }
func OutcomeRateLimited() Outcome        { return Outcome{State: RateLimited} }
func OutcomeError(detail string) Outcome { return Outcome{State: Error, Detail: detail} }
func OutcomeErrorf(f string, a ...any) Outcome {
	return OutcomeError(fmt.Sprintf(f, a...))
}

// Merge keeps the more severe outcome: error > rate_limited > success > no_token.
// On a tie the receiver wins, so the first error detail is the one reported.
func (o Outcome) Merge(other Outcome) Outcome {
	if other.State > o.State {
		return other
	}
	return o
}

// Combine folds outcomes with Merge. No outcomes at all means nobody was reachable.
func Combine(outcomes ...Outcome) Outcome {
	acc := OutcomeNoToken()
	for _, o := range outcomes {
		acc = acc.Merge(o)
	}
	return acc
}

func (o Outcome) String() string {
	if o.State == Error && o.Detail != "" {
		return "error: " + o.Detail
	}
	return o.State.String()
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State  string `json:"state"`
		Detail string `json:"detail,omitempty"`
	}{o.State.String(), o.Detail})
}

package notification

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeStore struct {
	endpoints map[int64]models.NotificationEndpoint
	err       error
}

func (f *fakeStore) Endpoints(_ context.Context, fids []int64) ([]models.NotificationEndpoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.NotificationEndpoint
	for _, fid := range fids {
		if ep, ok := f.endpoints[fid]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

type sentRequest struct {
	url string
	req farcaster.NotificationRequest
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sentRequest
	responses map[string]farcaster.NotificationResponse
	errs      map[string]error
}

func (f *fakeTransport) Send(_ context.Context, url string, req farcaster.NotificationRequest) (farcaster.NotificationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentRequest{url: url, req: req})
	if err := f.errs[url]; err != nil {
		return farcaster.NotificationResponse{}, err
	}
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return farcaster.NotificationResponse{StatusCode: http.StatusOK}, nil
}

func endpointsFor(fids []int64, url string) map[int64]models.NotificationEndpoint {
	out := map[int64]models.NotificationEndpoint{}
	for _, fid := range fids {
		out[fid] = models.NotificationEndpoint{Fid: fid, Url: url, Token: tokenOf(fid)}
	}
	return out
}

func tokenOf(fid int64) string { return "tok-" + strconv.FormatInt(fid, 10) }

func seq(from, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(from + i)
	}
	return out
}

func newTestDispatcher(store EndpointStore, tr Transport) (*Dispatcher, *[]time.Duration) {
	var sleeps []time.Duration
	d := NewDispatcher(store, tr, "https://app.example", nil)
	d.Sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return ctx.Err()
	}
	return d, &sleeps
}

func TestDispatch_NoEndpointsIsNoToken(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(&fakeStore{}, tr)

	assert.Equal(t, OutcomeNoToken(), d.Dispatch(context.Background(), []int64{1, 2, 3}, "hi", "there"))
	assert.Equal(t, OutcomeNoToken(), d.Dispatch(context.Background(), nil, "hi", "there"))
	assert.Empty(t, tr.sent)
}

func TestDispatch_ChunksAndPaces(t *testing.T) {
	fids := seq(1, 250)
	tr := &fakeTransport{}
	d, sleeps := newTestDispatcher(&fakeStore{endpoints: endpointsFor(fids, "https://push.a")}, tr)

	out := d.Dispatch(context.Background(), fids, "New drop", "Listen now")
	assert.Equal(t, Success, out.State)

	require.Len(t, tr.sent, 3)
	assert.Len(t, tr.sent[0].req.Tokens, 100)
	assert.Len(t, tr.sent[1].req.Tokens, 100)
	assert.Len(t, tr.sent[2].req.Tokens, 50)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)

	for _, s := range tr.sent {
		assert.Equal(t, NotificationID("New drop", "Listen now"), s.req.NotificationId)
		assert.Equal(t, "https://app.example", s.req.TargetUrl)
	}
}

func TestDispatch_GroupsByURL(t *testing.T) {
	eps := endpointsFor([]int64{1, 2}, "https://push.b")
	for k, v := range endpointsFor([]int64{3}, "https://push.a") {
		eps[k] = v
	}
	tr := &fakeTransport{}
	d, sleeps := newTestDispatcher(&fakeStore{endpoints: eps}, tr)

	out := d.Dispatch(context.Background(), []int64{1, 2, 3, 4}, "t", "b")
	assert.Equal(t, Success, out.State)
	assert.Empty(t, *sleeps)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, "https://push.a", tr.sent[0].url)
	assert.Equal(t, []string{tokenOf(3)}, tr.sent[0].req.Tokens)
	assert.Equal(t, "https://push.b", tr.sent[1].url)
	assert.Equal(t, []string{tokenOf(1), tokenOf(2)}, tr.sent[1].req.Tokens)
}

func TestDispatch_ErrorOutranksRateLimit(t *testing.T) {
	eps := endpointsFor([]int64{1}, "https://push.a")
	for k, v := range endpointsFor([]int64{2}, "https://push.b") {
		eps[k] = v
	}
	tr := &fakeTransport{responses: map[string]farcaster.NotificationResponse{
		"https://push.a": {StatusCode: http.StatusOK, Result: farcaster.NotificationResult{RateLimitedTokens: []string{tokenOf(1)}}},
		"https://push.b": {StatusCode: http.StatusInternalServerError, Body: "boom"},
	}}
	d, _ := newTestDispatcher(&fakeStore{endpoints: eps}, tr)

	out := d.Dispatch(context.Background(), []int64{1, 2}, "t", "b")
	assert.Equal(t, Error, out.State)
	assert.Contains(t, out.Detail, "500")
}

func TestDispatch_RateLimited(t *testing.T) {
	tr := &fakeTransport{responses: map[string]farcaster.NotificationResponse{
		"https://push.a": {StatusCode: http.StatusOK, Result: farcaster.NotificationResult{
			SuccessfulTokens:  []string{tokenOf(1)},
			RateLimitedTokens: []string{tokenOf(2)},
		}},
	}}
	d, _ := newTestDispatcher(&fakeStore{endpoints: endpointsFor([]int64{1, 2}, "https://push.a")}, tr)

	assert.Equal(t, OutcomeRateLimited(), d.Dispatch(context.Background(), []int64{1, 2}, "t", "b"))
}

func TestDispatch_InvalidTokensStillSucceed(t *testing.T) {
	tr := &fakeTransport{responses: map[string]farcaster.NotificationResponse{
		"https://push.a": {StatusCode: http.StatusOK, Result: farcaster.NotificationResult{InvalidTokens: []string{tokenOf(1)}}},
	}}
	d, _ := newTestDispatcher(&fakeStore{endpoints: endpointsFor([]int64{1}, "https://push.a")}, tr)

	assert.Equal(t, OutcomeSuccess(), d.Dispatch(context.Background(), []int64{1}, "t", "b"))
}

func TestDispatch_FailuresBecomeErrorOutcome(t *testing.T) {
	d, _ := newTestDispatcher(&fakeStore{err: errors.New("db down")}, &fakeTransport{})
	out := d.Dispatch(context.Background(), []int64{1}, "t", "b")
	assert.Equal(t, Error, out.State)
	assert.Contains(t, out.Detail, "db down")

	tr := &fakeTransport{errs: map[string]error{"https://push.a": errors.New("connection refused")}}
	d, _ = newTestDispatcher(&fakeStore{endpoints: endpointsFor([]int64{1}, "https://push.a")}, tr)
	out = d.Dispatch(context.Background(), []int64{1}, "t", "b")
	assert.Equal(t, Error, out.State)
	assert.Contains(t, out.Detail, "connection refused")
}

func TestDispatch_CancelledBetweenChunks(t *testing.T) {
	fids := seq(1, 150)
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(&fakeStore{endpoints: endpointsFor(fids, "https://push.a")}, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := d.Dispatch(ctx, fids, "t", "b")
	assert.Equal(t, Error, out.State)
	assert.Len(t, tr.sent, 1)
}

func TestNotificationID(t *testing.T) {
	assert.Equal(t, NotificationID("ab", "c"), NotificationID("a", "bc"))
	assert.NotEqual(t, NotificationID("a", "b"), NotificationID("a", "c"))
	assert.Len(t, NotificationID("", ""), 64)
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", NotificationID("", ""))
}

func TestDispatch_ChunkCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 450).Draw(t, "fids")
		size := rapid.IntRange(1, 120).Draw(t, "chunk")
		fids := seq(1, n)
		tr := &fakeTransport{}
		d, sleeps := newTestDispatcher(&fakeStore{endpoints: endpointsFor(fids, "https://push.a")}, tr)
		d.ChunkSize = size

		d.Dispatch(context.Background(), fids, "t", "b")

		want := (n + size - 1) / size
		if len(tr.sent) != want {
			t.Fatalf("sent %d requests, want %d", len(tr.sent), want)
		}
		wantSleeps := want - 1
		if wantSleeps < 0 {
			wantSleeps = 0
		}
		if len(*sleeps) != wantSleeps {
			t.Fatalf("slept %d times, want %d", len(*sleeps), wantSleeps)
		}
		total := 0
		for _, s := range tr.sent {
			if len(s.req.Tokens) > size {
				t.Fatalf("request carried %d tokens, chunk is %d", len(s.req.Tokens), size)
			}
			total += len(s.req.Tokens)
		}
		if total != n {
			t.Fatalf("delivered %d tokens, want %d", total, n)
		}
	})
}

func TestOutcome_MergeKeepsMostSevere(t *testing.T) {
	gen := rapid.Custom(func(t *rapid.T) Outcome {
		return Outcome{
			State:  State(rapid.IntRange(int(NoToken), int(Error)).Draw(t, "state")),
			Detail: rapid.StringMatching(`[a-z]{0,4}`).Draw(t, "detail"),
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		outcomes := rapid.SliceOf(gen).Draw(t, "outcomes")
		got := Combine(outcomes...)

		want := NoToken
		for _, o := range outcomes {
			if o.State > want {
				want = o.State
			}
		}
		if got.State != want {
			t.Fatalf("combined state %v, want %v", got.State, want)
		}

		reversed := make([]Outcome, len(outcomes))
		for i, o := range outcomes {
			reversed[len(outcomes)-1-i] = o
		}
		if Combine(reversed...).State != got.State {
			t.Fatalf("severity depends on order")
		}
	})
}

func TestOutcome_TieKeepsFirstDetail(t *testing.T) {
	out := OutcomeError("first").Merge(OutcomeError("second"))
	assert.Equal(t, "first", out.Detail)
	assert.Equal(t, "error: first", out.String())
	assert.Equal(t, OutcomeNoToken(), Combine())

	b, err := OutcomeRateLimited().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"rate_limited"}`, string(b))

	for _, s := range []State{NoToken, Success, RateLimited, Error} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err = ParseState("nope")
	assert.Error(t, err)
}

type fakeAudience struct{ fids []int64 }

func (f fakeAudience) NotifiableFids(context.Context) ([]int64, error) { return f.fids, nil }

type fakeHolders map[int64][]int64

func (f fakeHolders) HolderFids(_ context.Context, songID int64) ([]int64, error) {
	return f[songID], nil
}

func TestTargetResolver(t *testing.T) {
	r := TargetResolver{
		Audience: fakeAudience{fids: []int64{1, 2, 3, 4}},
		Holders:  fakeHolders{7: {2, 4, 9}},
	}
	ctx := context.Background()
	song := int64(7)
	yes, no := true, false

	all, err := r.Resolve(ctx, Job{Scope: ScopeAll})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, all)

	holders, err := r.Resolve(ctx, Job{Scope: ScopeOwnership, SongId: &song, DidCollect: &yes})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 9}, holders)

	others, err := r.Resolve(ctx, Job{Scope: ScopeOwnership, SongId: &song, DidCollect: &no})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, others)

	explicit, err := r.Resolve(ctx, Job{Scope: ScopeExplicit, Fids: []int64{5, 5, 6}})
	require.NoError(t, err)
	sort.Slice(explicit, func(i, j int) bool { return explicit[i] < explicit[j] })
	assert.Equal(t, []int64{5, 6}, explicit)

	_, err = r.Resolve(ctx, Job{Scope: "nobody"})
	assert.Error(t, err)
}

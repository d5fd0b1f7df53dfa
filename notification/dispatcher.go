package notification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultChunkSize  = 100
	DefaultBatchDelay = time.Second
)

var tracer = otel.Tracer("songcast/notification")

// EndpointStore resolves the push endpoints of a set of fids.
type EndpointStore interface {
	Endpoints(ctx context.Context, fids []int64) ([]models.NotificationEndpoint, error)
}

// Transport delivers one request to one endpoint URL.
type Transport interface {
	Send(ctx context.Context, url string, req farcaster.NotificationRequest) (farcaster.NotificationResponse, error)
}

// Sender is anything that can fan a notification out to fids.
type Sender interface {
	Dispatch(ctx context.Context, fids []int64, title, body string) Outcome
}

// Dispatcher fans a notification out in paced chunks, one POST per endpoint URL per chunk.
type Dispatcher struct {
	store     EndpointStore
	transport Transport
	targetURL string
	logger    *logrus.Logger

	ChunkSize  int
	BatchDelay time.Duration
	// Sleep waits between chunks; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(store EndpointStore, transport Transport, targetURL string, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		transport:  transport,
		targetURL:  targetURL,
		logger:     logger,
		ChunkSize:  DefaultChunkSize,
		BatchDelay: DefaultBatchDelay,
		Sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NotificationID is stable for identical content: hex(sha256(title + body)).
func NotificationID(title, body string) string {
	sum := sha256.Sum256([]byte(title + body))
	return hex.EncodeToString(sum[:])
}

// Dispatch never returns an error; failures are folded into the Outcome.
// Nothing is retried and no local state is changed.
func (d *Dispatcher) Dispatch(ctx context.Context, fids []int64, title, body string) Outcome {
	ctx, span := tracer.Start(ctx, "notification.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("fids", len(fids)))

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	notificationID := NotificationID(title, body)
	result := OutcomeNoToken()
	for i, chunk := range utils.Chunk(fids, chunkSize) {
		if i > 0 {
			if err := sleep(ctx, d.BatchDelay); err != nil {
				result = result.Merge(OutcomeErrorf("paused dispatch aborted: %v", err))
				break
			}
		}
		result = result.Merge(d.dispatchChunk(ctx, chunk, notificationID, title, body))
	}

	span.SetAttributes(attribute.String("outcome", result.State.String()))
	return result
}

func (d *Dispatcher) dispatchChunk(ctx context.Context, fids []int64, notificationID, title, body string) Outcome {
	endpoints, err := d.store.Endpoints(ctx, fids)
	if err != nil {
		config.LogError(d.logger, "notification", "Dispatch", "Endpoints", fids, err)
		return OutcomeErrorf("endpoint lookup failed: %v", err)
	}
	if len(endpoints) == 0 {
		return OutcomeNoToken()
	}

	tokensByURL := map[string][]string{}
	for _, ep := range endpoints {
		tokensByURL[ep.Url] = append(tokensByURL[ep.Url], ep.Token)
	}
	urls := make([]string, 0, len(tokensByURL))
	for u := range tokensByURL {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	chunkOutcome := OutcomeNoToken()
	for _, u := range urls {
		req := farcaster.NotificationRequest{
			NotificationId: notificationID,
			Title:          title,
			Body:           body,
			TargetUrl:      d.targetURL,
			Tokens:         tokensByURL[u],
		}
		chunkOutcome = chunkOutcome.Merge(d.send(ctx, u, req))
	}
	return chunkOutcome
}

func (d *Dispatcher) send(ctx context.Context, url string, req farcaster.NotificationRequest) Outcome {
	resp, err := d.transport.Send(ctx, url, req)
	if err != nil {
		config.LogError(d.logger, "notification", "Dispatch", "Send", url, err)
		return OutcomeError(err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return OutcomeErrorf("endpoint %s answered %d: %s", url, resp.StatusCode, resp.Body)
	}
	if n := len(resp.Result.InvalidTokens); n > 0 && d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"field":          "NotificationDispatcher",
			"url":            url,
			"invalid_tokens": n,
		}).Warn("endpoint reported invalid tokens")
	}
	if len(resp.Result.RateLimitedTokens) > 0 {
		return OutcomeRateLimited()
	}
	return OutcomeSuccess()
}

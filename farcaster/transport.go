package farcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NotificationRequest is the body POSTed to a client's notification URL.
type NotificationRequest struct {
	NotificationId string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetUrl      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

type NotificationResult struct {
	SuccessfulTokens  []string `json:"successfulTokens"`
	InvalidTokens     []string `json:"invalidTokens"`
	RateLimitedTokens []string `json:"rateLimitedTokens"`
}

// NotificationResponse is what came back from one POST. Result is only
// populated for a 200 whose body decoded.
type NotificationResponse struct {
	StatusCode int
	Result     NotificationResult
	Body       string
}

// HTTPTransport delivers notification requests over HTTP with a bounded timeout.
type HTTPTransport struct {
	http *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{http: &http.Client{Timeout: timeout}}
}

// Send returns an error only when no HTTP answer was obtained.
func (t *HTTPTransport) Send(ctx context.Context, url string, reqBody NotificationRequest) (NotificationResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return NotificationResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return NotificationResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return NotificationResponse{}, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	out := NotificationResponse{StatusCode: resp.StatusCode, Body: string(raw)}
	if resp.StatusCode == http.StatusOK {
		var envelope struct {
			Result NotificationResult `json:"result"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			out.Result = envelope.Result
		}
	}
	return out, nil
}

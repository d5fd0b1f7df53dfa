package farcaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/songcast/songcast_backend/config"
)

const (
	// MaxAddressesPerCall is the directory's limit for bulk-by-address lookups.
	MaxAddressesPerCall = 350
	// MaxFidsPerCall is the directory's limit for bulk-by-fid lookups.
	MaxFidsPerCall = 100
)

// User is the directory's view of a Farcaster account.
type User struct {
	Fid               int64  `json:"fid"`
	Username          string `json:"username"`
	DisplayName       string `json:"display_name"`
	PfpUrl            string `json:"pfp_url"`
	CustodyAddress    string `json:"custody_address"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
	} `json:"verified_addresses"`
}

// APIError is a non-2xx answer from the directory.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neynar api error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Neynar v2 identity directory.
type Client struct {
	baseURL     string
	fallbackURL string
	apiKey      string
	http        *http.Client
	limiter     <-chan time.Time
	retry       config.RetryPolicy
}

type ClientOptions struct {
	BaseURL         string
	FallbackURL     string
	APIKey          string
	Timeout         time.Duration
	RateLimitPerMin int
	Retry           config.RetryPolicy
}

func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("neynar api key is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.neynar.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = config.RetryPolicy{MaxAttempts: 3, Backoff: config.ExponentialBackoff(10 * time.Second)}
	}
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		fallbackURL: strings.TrimRight(opts.FallbackURL, "/"),
		apiKey:      opts.APIKey,
		http:        &http.Client{Timeout: opts.Timeout},
		retry:       opts.Retry,
	}
	if opts.RateLimitPerMin > 0 {
		c.limiter = time.Tick(time.Minute / time.Duration(opts.RateLimitPerMin))
	}
	return c, nil
}

// NewClientFromEnv reads NEYNAR_API_KEY, NEYNAR_API_BASE_URL, NEYNAR_FALLBACK_BASE_URL
// and NEYNAR_RATE_LIMIT_PER_MIN (default 300).
func NewClientFromEnv() (*Client, error) {
	rateLimitPerMin := 300
	if v := strings.TrimSpace(os.Getenv("NEYNAR_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	return NewClient(ClientOptions{
		BaseURL:         strings.TrimSpace(os.Getenv("NEYNAR_API_BASE_URL")),
		FallbackURL:     strings.TrimSpace(os.Getenv("NEYNAR_FALLBACK_BASE_URL")),
		APIKey:          strings.TrimSpace(os.Getenv("NEYNAR_API_KEY")),
		RateLimitPerMin: rateLimitPerMin,
		Retry:           config.DefaultRetryPolicy(),
	})
}

// UsersByAddresses resolves up to MaxAddressesPerCall addresses. Keys of the
// result are lowercase; addresses without an account are absent.
func (c *Client) UsersByAddresses(ctx context.Context, addresses []string) (map[string][]User, error) {
	if len(addresses) == 0 {
		return map[string][]User{}, nil
	}
	if len(addresses) > MaxAddressesPerCall {
		return nil, fmt.Errorf("at most %d addresses per call, got %d", MaxAddressesPerCall, len(addresses))
	}
	params := url.Values{}
	params.Set("addresses", strings.Join(addresses, ","))

	raw := map[string][]User{}
	err := c.get(ctx, "/v2/farcaster/user/bulk-by-address", params, &raw)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		// none of the addresses has an account
		return map[string][]User{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string][]User, len(raw))
	for addr, users := range raw {
		out[strings.ToLower(addr)] = users
	}
	return out, nil
}

// UsersByFids fetches profiles for up to MaxFidsPerCall fids.
func (c *Client) UsersByFids(ctx context.Context, fids []int64) ([]User, error) {
	if len(fids) == 0 {
		return nil, nil
	}
	if len(fids) > MaxFidsPerCall {
		return nil, fmt.Errorf("at most %d fids per call, got %d", MaxFidsPerCall, len(fids))
	}
	ids := make([]string, len(fids))
	for i, f := range fids {
		ids[i] = strconv.FormatInt(f, 10)
	}
	params := url.Values{}
	params.Set("fids", strings.Join(ids, ","))

	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.get(ctx, "/v2/farcaster/user/bulk", params, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.retry.Do(ctx, "neynar", func(int) error {
		err := c.getOnce(ctx, c.baseURL, path, params, out)
		if err != nil && c.fallbackURL != "" && shouldFallback(err) {
			err = c.getOnce(ctx, c.fallbackURL, path, params, out)
		}
		if err != nil && (ctx.Err() != nil || !isRetryable(err)) {
			return config.Permanent(err)
		}
		return err
	})
}

func (c *Client) getOnce(ctx context.Context, base, path string, params url.Values, out any) error {
	if c.limiter != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.limiter:
		}
	}
	endpoint := base + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// shouldFallback is true for network failures and 5xx answers.
func shouldFallback(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// PublicBaseURL is the externally reachable origin of this service, e.g. https://songcast.xyz.
//
// Set via env:
// - PUBLIC_BASE_URL
func PublicBaseURL() string {
	return strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
}

// IsLocalMode is true when the delayed queue cannot call us back:
// no PUBLIC_BASE_URL, or one pointing at a loopback host.
func IsLocalMode(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

// AppURL is the mini-app URL used as notification targetUrl.
//
// Set via env:
// - APP_URL (defaults to PUBLIC_BASE_URL)
func AppURL() string {
	if v := strings.TrimSpace(os.Getenv("APP_URL")); v != "" {
		return v
	}
	return PublicBaseURL()
}

// AdminFids lists fids allowed to call admin endpoints.
//
// Set via env:
// - ADMIN_FIDS="3,194"
func AdminFids() map[int64]bool {
	out := map[int64]bool{}
	for _, part := range strings.Split(os.Getenv("ADMIN_FIDS"), ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil && n > 0 {
			out[n] = true
		}
	}
	return out
}

// CallbackSecret signs queue callbacks.
//
// Set via env:
// - QUEUE_SIGNING_SECRET
func CallbackSecret() []byte {
	return []byte(os.Getenv("QUEUE_SIGNING_SECRET"))
}

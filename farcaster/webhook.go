package farcaster

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventAppAdded              EventType = "frame_added"
	EventAppRemoved            EventType = "frame_removed"
	EventNotificationsEnabled  EventType = "notifications_enabled"
	EventNotificationsDisabled EventType = "notifications_disabled"
)

var ErrInvalidWebhook = errors.New("invalid webhook event")

type NotificationDetails struct {
	Url   string `json:"url"`
	Token string `json:"token"`
}

// WebhookEvent is a verified mini-app lifecycle event for one fid.
type WebhookEvent struct {
	Fid                 int64
	AppKey              string
	Event               EventType
	NotificationDetails *NotificationDetails
}

// KeyVerifier confirms that key is an active app key of fid.
type KeyVerifier interface {
	VerifyAppKey(ctx context.Context, fid int64, key string) (bool, error)
}

type signedEnvelope struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type signedHeader struct {
	Fid  int64  `json:"fid"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

type eventPayload struct {
	Event               string               `json:"event"`
	NotificationDetails *NotificationDetails `json:"notificationDetails"`
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ParseWebhook decodes a JSON Farcaster Signature envelope, checks the ed25519
// signature over "header.payload" and asks verifier whether the signing key is live.
// Without a verifier nothing ties the key to the claimed fid, so every event is refused.
func ParseWebhook(ctx context.Context, body []byte, verifier KeyVerifier) (WebhookEvent, error) {
	var env signedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	headerRaw, err := decodeSegment(env.Header)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: header: %v", ErrInvalidWebhook, err)
	}
	payloadRaw, err := decodeSegment(env.Payload)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: payload: %v", ErrInvalidWebhook, err)
	}
	sig, err := decodeSegment(env.Signature)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: signature: %v", ErrInvalidWebhook, err)
	}

	var header signedHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: header: %v", ErrInvalidWebhook, err)
	}
	if header.Fid <= 0 || header.Type != "app_key" {
		return WebhookEvent{}, fmt.Errorf("%w: unsupported header fid=%d type=%q", ErrInvalidWebhook, header.Fid, header.Type)
	}
	pub, err := hex.DecodeString(strings.TrimPrefix(header.Key, "0x"))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return WebhookEvent{}, fmt.Errorf("%w: malformed app key", ErrInvalidWebhook)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(env.Header+"."+env.Payload), sig) {
		return WebhookEvent{}, fmt.Errorf("%w: bad signature", ErrInvalidWebhook)
	}

	if verifier == nil {
		return WebhookEvent{}, fmt.Errorf("%w: no app key verifier configured", ErrInvalidWebhook)
	}
	ok, err := verifier.VerifyAppKey(ctx, header.Fid, header.Key)
	if err != nil {
		return WebhookEvent{}, err
	}
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: app key is not active for fid %d", ErrInvalidWebhook, header.Fid)
	}

	var payload eventPayload
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: payload: %v", ErrInvalidWebhook, err)
	}
	event := WebhookEvent{
		Fid:                 header.Fid,
		AppKey:              header.Key,
		NotificationDetails: payload.NotificationDetails,
	}
	switch payload.Event {
	case "frame_added", "miniapp_added":
		event.Event = EventAppAdded
	case "frame_removed", "miniapp_removed":
		event.Event = EventAppRemoved
	case "notifications_enabled":
		event.Event = EventNotificationsEnabled
	case "notifications_disabled":
		event.Event = EventNotificationsDisabled
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unknown event %q", ErrInvalidWebhook, payload.Event)
	}
	return event, nil
}

// HubVerifier checks app keys against a Farcaster hub's on-chain signer index.
type HubVerifier struct {
	baseURL string
	http    *http.Client
}

func NewHubVerifier(baseURL string) *HubVerifier {
	return &HubVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HubVerifier) VerifyAppKey(ctx context.Context, fid int64, key string) (bool, error) {
	params := url.Values{}
	params.Set("fid", strconv.FormatInt(fid, 10))
	params.Set("signer", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/onChainSignersByFid?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return false, nil
	default:
		return false, fmt.Errorf("hub api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

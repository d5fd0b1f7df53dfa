package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/middlewares"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
	"github.com/songcast/songcast_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	baseURL = "https://songcast.example"
	adminID = int64(3)
)

var (
	secret = []byte("push-secret")
	epoch  = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
)

type fakeSender struct {
	mu      sync.Mutex
	calls   [][]int64
	outcome notification.Outcome
}

func (f *fakeSender) Dispatch(_ context.Context, fids []int64, _, _ string) notification.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fids)
	return f.outcome
}

type fakeQueue struct{ reqs []notification.PublishRequest }

func (q *fakeQueue) PublishJSON(_ context.Context, req notification.PublishRequest) (string, error) {
	q.reqs = append(q.reqs, req)
	return "q-" + strconv.Itoa(len(q.reqs)), nil
}

// keyRegistry stands in for the hub: only registered (fid, key) pairs are active.
type keyRegistry struct {
	mu   sync.Mutex
	keys map[int64]string
}

func (k *keyRegistry) register(fid int64, priv ed25519.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[fid] = "0x" + hex.EncodeToString(priv.Public().(ed25519.PublicKey))
}

func (k *keyRegistry) VerifyAppKey(_ context.Context, fid int64, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys[fid] == key, nil
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	server *Server
	sender *fakeSender
	queue  *fakeQueue
	keys   *keyRegistry
}

func sessions(_ context.Context, token string) (int64, bool, error) {
	switch token {
	case "user-1":
		return 1, true, nil
	case "user-2":
		return 2, true, nil
	case "admin":
		return adminID, true, nil
	}
	return 0, false, nil
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateTable(db))

	store := accounts.NewStore(db)
	clock := epoch
	l := ledger.New(db).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	sender := &fakeSender{outcome: notification.OutcomeSuccess()}
	queue := &fakeQueue{}
	keys := &keyRegistry{keys: map[int64]string{}}

	s := &Server{
		DB:         db,
		Accounts:   store,
		Ledger:     l,
		Dispatcher: sender,
		Scheduler:  notification.NewScheduler(queue, baseURL, nil),
		Mint:       &workflow.MintWorkflow{Accounts: store, Ledger: l, Sender: sender},
		Jobs: &workflow.NotificationJobHandler{
			DB:          db,
			Resolver:    notification.TargetResolver{Audience: store, Holders: l},
			Sender:      sender,
			Secret:      secret,
			ExpectedURL: baseURL + notification.CallbackPath,
		},
		Verifier: keys,
		Now:      func() time.Time { return epoch },
	}
	r := gin.New()
	r.Use(middlewares.SessionMiddleware(sessions, map[int64]bool{adminID: true}))
	s.Register(r)
	return &testEnv{db: db, router: r, server: s, sender: sender, queue: queue, keys: keys}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestCollectionsFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/collections", "", gin.H{"song_id": 7, "amount": 2})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/api/collections", "user-1", gin.H{"song_id": 7, "amount": 2, "username": "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res workflow.CollectResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, int64(1), res.Collection.Fid)

	w = e.do(http.MethodPost, "/api/collections", "user-2", gin.H{"song_id": 7, "amount": 5, "username": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(http.MethodPost, "/api/collections", "user-1", gin.H{"song_id": 7, "amount": 9})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Created)
	assert.Equal(t, int64(2), res.Collection.Amount)
	assert.Equal(t, 2, res.Position)

	w = e.do(http.MethodPost, "/api/collections", "user-1", gin.H{"song_id": 7, "amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/songs/7/collectors", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Collectors []collectorView `json:"collectors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Collectors, 2)
	assert.Equal(t, "bob", list.Collectors[0].Username)
	assert.Equal(t, 2, list.Collectors[1].Position)

	w = e.do(http.MethodGet, "/api/songs/7/position/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"song_id":7,"fid":1,"position":2,"ordinal":"2nd"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/songs/7/position/99", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/songs/x/position/1", "", nil).Code)

	w = e.do(http.MethodGet, "/api/songs/7/held/2", "", nil)
	assert.JSONEq(t, `{"song_id":7,"fid":2,"held":true}`, w.Body.String())
	w = e.do(http.MethodGet, "/api/songs/8/held/2", "", nil)
	assert.JSONEq(t, `{"song_id":8,"fid":2,"held":false}`, w.Body.String())
}

func TestAdminNotifications(t *testing.T) {
	e := newEnv(t)
	body := gin.H{"title": "Hello", "body": "World", "fids": []int64{1, 2, 2}}

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/admin/notifications/send", "", body).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/admin/notifications/send", "user-1", body).Code)

	e.sender.outcome = notification.OutcomeRateLimited()
	w := e.do(http.MethodPost, "/api/admin/notifications/send", "admin", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outcome":{"state":"rate_limited"}}`, w.Body.String())
	require.Len(t, e.sender.calls, 1)
	assert.Equal(t, []int64{1, 2}, e.sender.calls[0])

	w = e.do(http.MethodPost, "/api/admin/notifications/send", "admin", gin.H{"title": "", "body": "x", "fids": []int64{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/admin/notifications/schedule", "admin",
		gin.H{"scope": "ownership", "title": "Last call", "body": "Soon", "song_id": 7, "did_collect": false, "delay_seconds": -10})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var receipt notification.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, 0, receipt.DelaySeconds)
	require.Len(t, e.queue.reqs, 1)
	assert.Equal(t, baseURL+notification.CallbackPath, e.queue.reqs[0].URL)

	w = e.do(http.MethodPost, "/api/admin/notifications/schedule", "admin", gin.H{"scope": "explicit", "title": "t", "body": "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminSongReminders(t *testing.T) {
	e := newEnv(t)
	song := gin.H{
		"title":          "Midnight Signals",
		"sale_starts_at": epoch.Add(48 * time.Hour).Unix(),
		"sale_ends_at":   epoch.Add(72 * time.Hour).Unix(),
	}
	w := e.do(http.MethodPut, "/api/admin/songs/7", "admin", song)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPut, "/api/admin/songs/8", "admin", gin.H{"title": "bad", "sale_starts_at": 10, "sale_ends_at": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/admin/songs/7/reminders", "admin", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Len(t, e.queue.reqs, 4)
	assert.Equal(t, 24*3600, e.queue.reqs[0].DelaySeconds)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/admin/songs/99/reminders", "admin", nil).Code)
}

func signedEvent(t *testing.T, priv ed25519.PrivateKey, fid int64, payload string) []byte {
	t.Helper()
	pub := priv.Public().(ed25519.PublicKey)
	header, _ := json.Marshal(map[string]any{"fid": fid, "type": "app_key", "key": "0x" + hex.EncodeToString(pub)})
	h := base64.RawURLEncoding.EncodeToString(header)
	p := base64.RawURLEncoding.EncodeToString([]byte(payload))
	sig := ed25519.Sign(priv, []byte(h+"."+p))
	body, _ := json.Marshal(map[string]string{"header": h, "payload": p, "signature": base64.RawURLEncoding.EncodeToString(sig)})
	return body
}

func TestFarcasterWebhook(t *testing.T) {
	e := newEnv(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	e.keys.register(42, priv)
	store := accounts.NewStore(e.db)
	ctx := context.Background()

	w := e.do(http.MethodPost, "/webhooks/farcaster", "",
		signedEvent(t, priv, 42, `{"event":"frame_added","notificationDetails":{"url":"https://push.example/v1","token":"abc"}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	eps, err := store.Endpoints(ctx, []int64{42})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "abc", eps[0].Token)

	w = e.do(http.MethodPost, "/webhooks/farcaster", "",
		signedEvent(t, priv, 42, `{"event":"notifications_enabled","notificationDetails":{"url":"https://push.example/v2","token":"def"}}`))
	require.Equal(t, http.StatusOK, w.Code)
	eps, err = store.Endpoints(ctx, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/v2", eps[0].Url)

	w = e.do(http.MethodPost, "/webhooks/farcaster", "", signedEvent(t, priv, 42, `{"event":"notifications_disabled"}`))
	require.Equal(t, http.StatusOK, w.Code)
	eps, err = store.Endpoints(ctx, []int64{42})
	require.NoError(t, err)
	assert.Empty(t, eps)

	w = e.do(http.MethodPost, "/webhooks/farcaster", "", []byte(`{"header":"x","payload":"y","signature":"z"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFarcasterWebhook_RefusesKeysNotOwnedByFid(t *testing.T) {
	e := newEnv(t)
	_, owner, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	e.keys.register(42, owner)
	store := accounts.NewStore(e.db)
	ctx := context.Background()

	w := e.do(http.MethodPost, "/webhooks/farcaster", "",
		signedEvent(t, owner, 42, `{"event":"frame_added","notificationDetails":{"url":"https://push.example/v1","token":"abc"}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// self-signed with a key that is not 42's
	w = e.do(http.MethodPost, "/webhooks/farcaster", "",
		signedEvent(t, other, 42, `{"event":"notifications_enabled","notificationDetails":{"url":"https://evil.example","token":"stolen"}}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/webhooks/farcaster", "", signedEvent(t, other, 42, `{"event":"notifications_disabled"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	eps, err := store.Endpoints(ctx, []int64{42})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "https://push.example/v1", eps[0].Url)
	assert.Equal(t, "abc", eps[0].Token)

	// with no verifier configured even the owner's key is refused
	e.server.Verifier = nil
	w = e.do(http.MethodPost, "/webhooks/farcaster", "", signedEvent(t, owner, 42, `{"event":"notifications_disabled"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	eps, err = store.Endpoints(ctx, []int64{42})
	require.NoError(t, err)
	assert.Len(t, eps, 1)
}

func pushBody(t *testing.T, messageID string, job string, sign bool) []byte {
	t.Helper()
	attrs := map[string]string{
		workflow.AttrMessageID:   messageID,
		workflow.AttrCallbackURL: baseURL + notification.CallbackPath,
	}
	if sign {
		sig, err := utils.SignCallback(secret, baseURL+notification.CallbackPath, []byte(job), time.Hour)
		require.NoError(t, err)
		attrs[workflow.AttrSignature] = sig
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":       []byte(job),
			"messageId":  "ps-" + messageID,
			"attributes": attrs,
		},
		"subscription": "projects/p/subscriptions/notifications",
	})
	require.NoError(t, err)
	return body
}

func TestNotificationPush(t *testing.T) {
	e := newEnv(t)
	job := `{"scope":"explicit","title":"Hi","body":"There","fids":[4,5]}`

	w := e.do(http.MethodPost, notification.CallbackPath, "", pushBody(t, "m-1", job, true))
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, e.sender.calls, 1)
	assert.Equal(t, []int64{4, 5}, e.sender.calls[0])

	// redelivery of a completed message is acked without sending again
	w = e.do(http.MethodPost, notification.CallbackPath, "", pushBody(t, "m-1", job, true))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, e.sender.calls, 1)

	// unsigned jobs are dropped
	w = e.do(http.MethodPost, notification.CallbackPath, "", pushBody(t, "m-2", job, false))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, e.sender.calls, 1)

	e.sender.outcome = notification.OutcomeError("upstream 500")
	w = e.do(http.MethodPost, notification.CallbackPath, "", pushBody(t, "m-3", job, true))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = e.do(http.MethodPost, notification.CallbackPath, "", []byte(`not json`))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNotificationPush_UnsetSecretDropsForgedJobs(t *testing.T) {
	e := newEnv(t)
	e.server.Jobs.Secret = nil
	job := `{"scope":"all","title":"Hi","body":"There"}`
	url := baseURL + notification.CallbackPath

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &utils.CallbackClaim{
		BodyHash: bodyDigest(job),
		StandardClaims: jwt.StandardClaims{
			Subject:   url,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	}).SignedString([]byte{})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      []byte(job),
			"messageId": "ps-forged",
			"attributes": map[string]string{
				workflow.AttrMessageID:   "forged",
				workflow.AttrCallbackURL: url,
				workflow.AttrSignature:   forged,
			},
		},
	})
	require.NoError(t, err)

	w := e.do(http.MethodPost, notification.CallbackPath, "", body)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, e.sender.calls)
}

func bodyDigest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

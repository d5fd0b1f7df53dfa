package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateTable(db))
	return db
}

var (
	epoch    = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	secret   = []byte("test-secret")
	callback = "https://songcast.example" + notification.CallbackPath
)

type recordingSender struct {
	mu      sync.Mutex
	calls   [][]int64
	bodies  []string
	outcome notification.Outcome
}

func (s *recordingSender) Dispatch(_ context.Context, fids []int64, _ string, body string) notification.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]int64(nil), fids...))
	s.bodies = append(s.bodies, body)
	return s.outcome
}

func TestBeginIdempotency(t *testing.T) {
	db := newTestDB(t)

	skip, err := BeginIdempotency(db, "h", "m1")
	require.NoError(t, err)
	assert.False(t, skip)

	_, err = BeginIdempotency(db, "h", "m1")
	assert.ErrorIs(t, err, ErrIdempotencyInProgress)

	// same message id under another handler is independent
	skip, err = BeginIdempotency(db, "other", "m1")
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, MarkIdempotencyFailed(db, "h", "m1", "error", errors.New("boom")))
	skip, err = BeginIdempotency(db, "h", "m1")
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, MarkIdempotencySucceeded(db, "h", "m1", "success"))
	skip, err = BeginIdempotency(db, "h", "m1")
	require.NoError(t, err)
	assert.True(t, skip)

	var key models.IdempotencyKey
	require.NoError(t, db.Where("handler_name = ? AND message_id = ?", "h", "m1").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)
	assert.Equal(t, "success", key.Outcome)
}

type publishCall struct {
	data  []byte
	attrs map[string]string
}

func TestOutboxDispatcher_PublishesOnlyDueRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := notification.NewOutboxQueue(db).WithClock(func() time.Time { return epoch })

	dueID, err := q.PublishJSON(ctx, notification.PublishRequest{URL: callback, Body: []byte(`{"n":1}`), DelaySeconds: 0})
	require.NoError(t, err)
	laterID, err := q.PublishJSON(ctx, notification.PublishRequest{URL: callback, Body: []byte(`{"n":2}`), DelaySeconds: 3600})
	require.NoError(t, err)

	var calls []publishCall
	d := NewOutboxDispatcher(db, nil)
	d.Secret = secret
	d.Now = func() time.Time { return epoch.Add(time.Minute) }
	d.Publish = func(_ context.Context, data []byte, attrs map[string]string) (string, error) {
		calls = append(calls, publishCall{data: data, attrs: attrs})
		return "ps-1", nil
	}

	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, calls, 1)
	assert.Equal(t, dueID, calls[0].attrs[AttrMessageID])
	assert.Equal(t, callback, calls[0].attrs[AttrCallbackURL])
	assert.NoError(t, utils.VerifyCallback(secret, calls[0].attrs[AttrSignature], callback, calls[0].data))

	var due, later models.ScheduledNotification
	require.NoError(t, db.Where("message_id = ?", dueID).First(&due).Error)
	require.NoError(t, db.Where("message_id = ?", laterID).First(&later).Error)
	assert.Equal(t, models.OutboxPublishStatusSent, due.PublishStatus)
	require.NotNil(t, due.PubSubMessageId)
	assert.Equal(t, "ps-1", *due.PubSubMessageId)
	assert.Equal(t, models.OutboxPublishStatusPending, later.PublishStatus)

	// nothing left that is due
	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, calls, 1)
}

func TestOutboxDispatcher_DeadAfterMaxAttempts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id, err := notification.NewOutboxQueue(db).WithClock(func() time.Time { return epoch }).
		PublishJSON(ctx, notification.PublishRequest{URL: callback, Body: []byte(`{}`)})
	require.NoError(t, err)

	d := NewOutboxDispatcher(db, nil)
	d.Secret = secret
	d.Now = func() time.Time { return epoch }
	d.MaxAttempts = 2
	d.InitialBackoff = 0
	d.Publish = func(context.Context, []byte, map[string]string) (string, error) {
		return "", errors.New("pubsub unavailable")
	}

	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	var row models.ScheduledNotification
	require.NoError(t, db.Where("message_id = ?", id).First(&row).Error)
	assert.Equal(t, models.OutboxPublishStatusFailed, row.PublishStatus)
	assert.Equal(t, 1, row.PublishAttempts)

	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Where("message_id = ?", id).First(&row).Error)
	assert.Equal(t, models.OutboxPublishStatusDead, row.PublishStatus)
	assert.Equal(t, 2, row.PublishAttempts)
	require.NotNil(t, row.LastPublishError)
	assert.Contains(t, *row.LastPublishError, "pubsub unavailable")
}

func TestOutboxDispatcher_MissingSecretFailsPublish(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := notification.NewOutboxQueue(db).WithClock(func() time.Time { return epoch }).
		PublishJSON(ctx, notification.PublishRequest{URL: callback, Body: []byte(`{}`)})
	require.NoError(t, err)

	d := NewOutboxDispatcher(db, nil)
	d.Secret = nil
	d.Now = func() time.Time { return epoch }
	d.Publish = func(context.Context, []byte, map[string]string) (string, error) {
		t.Fatal("unsigned job published")
		return "", nil
	}
	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func signedMessage(t *testing.T, id string, body string) PushMessage {
	t.Helper()
	sig, err := utils.SignCallback(secret, callback, []byte(body), time.Hour)
	require.NoError(t, err)
	return PushMessage{MessageID: id, CallbackURL: callback, Signature: sig, Data: []byte(body)}
}

func newJobHandler(t *testing.T, db *gorm.DB, sender notification.Sender) *NotificationJobHandler {
	t.Helper()
	store := accounts.NewStore(db)
	return &NotificationJobHandler{
		DB:          db,
		Resolver:    notification.TargetResolver{Audience: store, Holders: ledger.New(db)},
		Sender:      sender,
		Secret:      secret,
		ExpectedURL: callback,
	}
}

func TestNotificationJobHandler_DeliversOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := accounts.NewStore(db)
	for _, fid := range []int64{3, 1, 2} {
		require.NoError(t, store.Ensure(ctx, accounts.Profile{Fid: fid}))
		require.NoError(t, store.SetNotificationDetails(ctx, fid, "https://push.example", "tok"))
	}
	sender := &recordingSender{outcome: notification.OutcomeSuccess()}
	h := newJobHandler(t, db, sender)

	msg := signedMessage(t, "m-1", `{"scope":"all","title":"Hi","body":"There"}`)
	res, err := h.Handle(ctx, msg)
	require.NoError(t, err)
	assert.False(t, res.Retry)
	assert.Equal(t, notification.Success, res.Outcome.State)
	require.Len(t, sender.calls, 1)
	assert.ElementsMatch(t, []int64{1, 2, 3}, sender.calls[0])

	res, err = h.Handle(ctx, msg)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, sender.calls, 1)
}

func TestNotificationJobHandler_RejectsBadMessages(t *testing.T) {
	db := newTestDB(t)
	h := newJobHandler(t, db, &recordingSender{})
	ctx := context.Background()

	msg := signedMessage(t, "m-1", `{"scope":"all","title":"Hi","body":"There"}`)
	msg.Data = []byte(`{"scope":"all","title":"Hi","body":"Tampered"}`)
	_, err := h.Handle(ctx, msg)
	assert.ErrorIs(t, err, ErrRejectedJob)

	msg = signedMessage(t, "m-2", `{"scope":"all","title":"Hi","body":"There"}`)
	msg.Signature = ""
	_, err = h.Handle(ctx, msg)
	assert.ErrorIs(t, err, ErrRejectedJob)

	_, err = h.Handle(ctx, signedMessage(t, "m-3", `{"scope":"explicit","title":"Hi","body":"There"}`))
	assert.ErrorIs(t, err, ErrRejectedJob)
}

func TestNotificationJobHandler_RetriesRateLimited(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sender := &recordingSender{outcome: notification.OutcomeRateLimited()}
	h := newJobHandler(t, db, sender)
	msg := signedMessage(t, "m-9", `{"scope":"explicit","title":"Hi","body":"There","fids":[5,5,6]}`)

	res, err := h.Handle(ctx, msg)
	require.NoError(t, err)
	assert.True(t, res.Retry)

	sender.outcome = notification.OutcomeSuccess()
	res, err = h.Handle(ctx, msg)
	require.NoError(t, err)
	assert.False(t, res.Retry)
	assert.False(t, res.Duplicate)
	require.Len(t, sender.calls, 2)
	assert.Equal(t, []int64{5, 6}, sender.calls[1])
}

func TestMintWorkflow_Collect(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sender := &recordingSender{outcome: notification.OutcomeError("endpoint down")}
	clock := epoch
	w := &MintWorkflow{
		Accounts: accounts.NewStore(db),
		Ledger: ledger.New(db).WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		Sender: sender,
	}

	first, err := w.Collect(ctx, CollectInput{Fid: 1, SongId: 7, Amount: 5, Username: "alice", Addresses: []string{"0xAbC"}})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 1, first.Position)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, []int64{1}, sender.calls[0])
	assert.Contains(t, sender.bodies[0], "1st")

	second, err := w.Collect(ctx, CollectInput{Fid: 2, SongId: 7, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)

	again, err := w.Collect(ctx, CollectInput{Fid: 1, SongId: 7, Amount: 50})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, int64(5), again.Collection.Amount)
	assert.Equal(t, 2, again.Position)
	assert.Len(t, sender.calls, 2)

	acct, err := accounts.NewStore(db).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Username)

	_, err = w.Collect(ctx, CollectInput{Fid: 0, SongId: 7, Amount: 1})
	assert.ErrorIs(t, err, utils.ErrorInvalidInput)
}

package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/push"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
)

type fakePushStore struct {
	mu      sync.Mutex
	subs    map[string]models.PushSubscription
	deleted []string
}

func newFakePushStore(tokens ...string) *fakePushStore {
	s := &fakePushStore{subs: map[string]models.PushSubscription{}}
	for _, tok := range tokens {
		s.subs[tok] = models.PushSubscription{UserID: "user-1", Token: tok}
	}
	return s
}

func (s *fakePushStore) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Token] = *sub
	return nil
}

func (s *fakePushStore) DeleteByToken(ctx context.Context, userID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[token]
	if !ok || sub.UserID != userID {
		return false, nil
	}
	delete(s.subs, token)
	return true, nil
}

func (s *fakePushStore) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PushSubscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakePushStore) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PushSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *fakePushStore) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tok := range tokens {
		if _, ok := s.subs[tok]; ok {
			delete(s.subs, tok)
			n++
		}
	}
	s.deleted = append(s.deleted, tokens...)
	return n, nil
}

type recordingSender struct {
	mu           sync.Mutex
	messages     []push.Message
	unregistered map[string]bool
	failures     int
	sent         chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{unregistered: map[string]bool{}, sent: make(chan struct{}, 16)}
}

func (r *recordingSender) Send(ctx context.Context, msg push.Message) (push.Result, error) {
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		r.sent <- struct{}{}
	}()
	if r.failures > 0 {
		r.failures--
		return push.Result{}, appErrors.Clone(appErrors.ErrTransient, "provider down")
	}
	r.messages = append(r.messages, msg)
	res := push.Result{}
	for _, tok := range msg.Tokens {
		if r.unregistered[tok] {
			res.Failed++
			res.Unregistered = append(res.Unregistered, tok)
			continue
		}
		res.Delivered++
	}
	return res, nil
}

func (r *recordingSender) waitSends(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d", i+1)
		}
	}
}

func newTestPushService(store pushSubscriptionStore, sender push.Sender, enabled bool) *PushService {
	return NewPushService(store, sender, nil, nil, nil, PushConfig{
		Enabled:     enabled,
		DefaultURL:  "/notification",
		LinkBaseURL: "https://portal.example.com",
		Icon:        "/icon.png",
		Workers:     1,
		MaxRetries:  2,
		RetryDelay:  10 * time.Millisecond,
	})
}

var pushStudent = models.Principal{ID: "user-1", Email: "a1@school.test", Role: models.RoleStudent}

func TestPushServiceRegisterDisabledDoesNotStore(t *testing.T) {
	store := newFakePushStore()
	svc := newTestPushService(store, newRecordingSender(), false)

	resp, err := svc.Register(context.Background(), pushStudent, models.RegisterPushRequest{Token: "tok-1"})
	require.NoError(t, err)
	assert.False(t, resp.Enabled)
	assert.Empty(t, store.subs)
}

func TestPushServiceRegisterStoresToken(t *testing.T) {
	store := newFakePushStore()
	svc := newTestPushService(store, newRecordingSender(), true)

	resp, err := svc.Register(context.Background(), pushStudent, models.RegisterPushRequest{Token: " tok-1 "})
	require.NoError(t, err)
	assert.True(t, resp.Enabled)
	require.Contains(t, store.subs, "tok-1")
	assert.Equal(t, "web", store.subs["tok-1"].Platform)
}

func TestPushServiceRegisterValidation(t *testing.T) {
	svc := newTestPushService(newFakePushStore(), newRecordingSender(), true)

	_, err := svc.Register(context.Background(), pushStudent, models.RegisterPushRequest{Platform: "fax"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPushServiceUnregisterUnknownToken(t *testing.T) {
	svc := newTestPushService(newFakePushStore("tok-1"), newRecordingSender(), true)

	require.NoError(t, svc.Unregister(context.Background(), pushStudent, "tok-1"))
	err := svc.Unregister(context.Background(), pushStudent, "tok-1")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestPushServiceAnnouncementPayload(t *testing.T) {
	svc := newTestPushService(newFakePushStore(), newRecordingSender(), true)

	payload := svc.AnnouncementPayload(models.Announcement{ID: "ann-9", Heading: "Holiday", Content: "School closed"})
	assert.Equal(t, "Holiday", payload.Title)
	assert.Equal(t, "School closed", payload.Body)
	assert.Equal(t, "/icon.png", payload.Icon)
	assert.Equal(t, "ann-9", payload.Tag)
	assert.Equal(t, models.PushData{ID: "ann-9", URL: "/notification"}, payload.Data)
}

func TestPushServiceSendTestPrunesUnregistered(t *testing.T) {
	store := newFakePushStore("tok-1", "tok-2")
	sender := newRecordingSender()
	sender.unregistered["tok-2"] = true
	svc := newTestPushService(store, sender, true)

	report, err := svc.SendTest(context.Background(), pushStudent)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Pruned)
	assert.NotContains(t, store.subs, "tok-2")
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "https://portal.example.com/notification", sender.messages[0].Link)
}

func TestPushServiceSendTestUnsupportedDegrades(t *testing.T) {
	store := newFakePushStore("tok-1")
	svc := NewPushService(store, push.NoopSender{}, nil, nil, nil, PushConfig{Enabled: true})

	report, err := svc.SendTest(context.Background(), pushStudent)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestPushServiceFanOutBatchesAndRetries(t *testing.T) {
	tokens := make([]string, 0, push.MaxBatch+3)
	for i := 0; i < push.MaxBatch+3; i++ {
		tokens = append(tokens, fmt.Sprintf("tok-%d", i))
	}
	store := newFakePushStore(tokens...)
	sender := newRecordingSender()
	sender.failures = 1
	svc := newTestPushService(store, sender, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Close()

	require.NoError(t, svc.FanOut(svc.AnnouncementPayload(models.Announcement{ID: "ann-1", Heading: "H", Content: "C"})))

	// two batches plus one retried failure
	sender.waitSends(t, 3)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.messages, 2)
	sizes := []int{len(sender.messages[0].Tokens), len(sender.messages[1].Tokens)}
	assert.ElementsMatch(t, []int{push.MaxBatch, 3}, sizes)
	assert.Equal(t, "https://portal.example.com/notification?open=ann-1", sender.messages[0].Link)
}

func TestPushServiceFanOutDisabledIsNoop(t *testing.T) {
	svc := newTestPushService(newFakePushStore("tok-1"), newRecordingSender(), false)
	assert.NoError(t, svc.FanOut(models.PushPayload{Title: "x"}))
}

func TestPushServiceFanOutNow(t *testing.T) {
	store := newFakePushStore("tok-1", "tok-2")
	sender := newRecordingSender()
	svc := newTestPushService(store, sender, true)

	report, err := svc.FanOutNow(context.Background(), models.PushPayload{Title: "Exam", Body: "Tomorrow"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Zero(t, report.Failed)
}

func TestPushServiceHandleJobRejectsUnknownType(t *testing.T) {
	svc := newTestPushService(newFakePushStore(), newRecordingSender(), true)
	err := svc.handleJob(context.Background(), jobs.Job{ID: "j1", Type: "nope"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

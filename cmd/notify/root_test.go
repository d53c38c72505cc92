package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-portal-api/internal/models"
)

type fakePublisher struct {
	req models.PublishAnnouncementRequest
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, author *models.Principal, req models.PublishAnnouncementRequest) (*models.Announcement, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.Announcement{ID: "ann-9", Heading: req.Heading, Content: req.Content}, nil
}

type fakeFanOut struct {
	payload models.PushPayload
	calls   int
}

func (f *fakeFanOut) AnnouncementPayload(ann models.Announcement) models.PushPayload {
	return models.PushPayload{Title: ann.Heading, Body: ann.Content, Data: models.PushData{ID: ann.ID}}
}

func (f *fakeFanOut) FanOutNow(ctx context.Context, payload models.PushPayload) (*models.PushReport, error) {
	f.calls++
	f.payload = payload
	return &models.PushReport{Attempted: 3, Delivered: 2, Pruned: 1}, nil
}

func runCmd(t *testing.T, pub *fakePublisher, fan *fakeFanOut, args ...string) (string, error) {
	t.Helper()
	closed := false
	factory := func(ctx context.Context) (*app, error) {
		return &app{announcements: pub, push: fan, close: func() { closed = true }}, nil
	}
	cmd := newRootCmdWith(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		assert.True(t, closed)
	}
	return out.String(), err
}

func TestSendPublishesAndPushes(t *testing.T) {
	pub := &fakePublisher{}
	fan := &fakeFanOut{}

	out, err := runCmd(t, pub, fan, "send", "Exam week", "Starts Monday", "--kind", "exam")
	require.NoError(t, err)

	assert.Equal(t, "Exam week", pub.req.Heading)
	assert.Equal(t, "exam", pub.req.Kind)
	require.NotNil(t, pub.req.Push)
	assert.False(t, *pub.req.Push)
	assert.Equal(t, 1, fan.calls)
	assert.Equal(t, "ann-9", fan.payload.Data.ID)
	assert.Contains(t, out, "published announcement ann-9")
	assert.Contains(t, out, "delivered=2")
	assert.Contains(t, out, "pruned=1")
}

func TestSendNoPush(t *testing.T) {
	fan := &fakeFanOut{}
	_, err := runCmd(t, &fakePublisher{}, fan, "send", "Heading", "Content", "--no-push")
	require.NoError(t, err)
	assert.Zero(t, fan.calls)
}

func TestSendRequiresHeadingAndContent(t *testing.T) {
	_, err := runCmd(t, &fakePublisher{}, &fakeFanOut{}, "send", "only heading")
	assert.Error(t, err)
}

func TestSendPublishFailure(t *testing.T) {
	fan := &fakeFanOut{}
	_, err := runCmd(t, &fakePublisher{err: errors.New("db down")}, fan, "send", "Heading", "Content")
	assert.EqualError(t, err, "db down")
	assert.Zero(t, fan.calls)
}

func TestRootListsCommands(t *testing.T) {
	cmd := newRootCmdWith(func(ctx context.Context) (*app, error) {
		return nil, errors.New("not used")
	})
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"send", "migrate"}, names)
}

package testutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/relaygo/internal/testutil"
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMockServer_CapturesRequests(t *testing.T) {
	server := testutil.NewMockServer(t)

	post(t, server.BaseURL()+"/test", `{"content":"hi"}`)

	assert.Equal(t, 1, server.CaptureCount())

	cap := server.LastCapture()
	require.NotNil(t, cap)
	cap.AssertMethod(t, "POST")
	cap.AssertPath(t, "/test")
	cap.AssertJSONField(t, "content", "hi")
}

func TestMockServer_DefaultReplyIsMessage(t *testing.T) {
	server := testutil.NewMockServer(t)

	resp := post(t, server.BaseURL()+testutil.MessagesPath(testutil.TestChannelID), `{"content":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var msg map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, testutil.TestChannelID, msg["channel_id"])
}

func TestMockServer_OnMessages(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnMessages(testutil.TestChannelID, testutil.ReplyEcho("42"))

	resp := post(t, server.BaseURL()+testutil.MessagesPath(testutil.TestChannelID), `{"content":"echo me"}`)

	var msg map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "42", msg["id"])
	assert.Equal(t, "echo me", msg["content"])
}

func TestSequence_RepeatsLastHandler(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnMessages(testutil.TestChannelID, testutil.Sequence(
		func(w http.ResponseWriter, r *http.Request) { testutil.ReplyServerError(w, 503) },
		func(w http.ResponseWriter, r *http.Request) { testutil.ReplyNoContent(w) },
	))

	url := server.BaseURL() + testutil.MessagesPath(testutil.TestChannelID)
	assert.Equal(t, 503, post(t, url, `{}`).StatusCode)
	assert.Equal(t, 204, post(t, url, `{}`).StatusCode)
	assert.Equal(t, 204, post(t, url, `{}`).StatusCode)
}

func TestMockServer_ResetCaptures(t *testing.T) {
	server := testutil.NewMockServer(t)

	post(t, server.BaseURL()+"/a", `{}`)
	post(t, server.BaseURL()+"/b", `{}`)
	require.Equal(t, 2, server.CaptureCount())
	assert.Equal(t, "/a", server.CaptureAt(0).Path)
	assert.Nil(t, server.CaptureAt(5))

	server.ResetCaptures()
	assert.Equal(t, 0, server.CaptureCount())
	assert.Nil(t, server.LastCapture())
}

func TestMockServer_TimeBetweenCaptures(t *testing.T) {
	server := testutil.NewMockServer(t)

	post(t, server.BaseURL()+"/a", `{}`)
	time.Sleep(20 * time.Millisecond)
	post(t, server.BaseURL()+"/b", `{}`)

	assert.GreaterOrEqual(t, server.TimeBetweenCaptures(0, 1), 20*time.Millisecond)
	assert.Zero(t, server.TimeBetweenCaptures(0, 9))
}

func TestReplyRateLimit(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnMessages(testutil.TestChannelID, func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyRateLimit(w, 1.5)
	})

	resp := post(t, server.BaseURL()+testutil.MessagesPath(testutil.TestChannelID), `{}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1.5", resp.Header.Get("Retry-After"))

	var body testutil.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.InDelta(t, 1.5, body.RetryAfter, 0.0001)
}

func TestReplyServerError(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnMessages(testutil.TestChannelID, func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyServerError(w, http.StatusBadGateway)
	})

	resp := post(t, server.BaseURL()+testutil.MessagesPath(testutil.TestChannelID), `{}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestFakeSleeper_RecordsCalls(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	ctx := context.Background()

	require.NoError(t, sleeper.Sleep(ctx, time.Second))
	require.NoError(t, sleeper.Sleep(ctx, 2*time.Second))

	assert.Equal(t, 2, sleeper.CallCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Calls())
	assert.Equal(t, 3*time.Second, sleeper.TotalDuration())
	assert.Equal(t, 2*time.Second, sleeper.LastCall())
}

func TestFakeSleeper_RespectsContextCancel(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleeper.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sleeper.CallCount())
}

func TestFakeSleeper_Reset(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	_ = sleeper.Sleep(context.Background(), time.Second)

	sleeper.Reset()
	assert.Equal(t, 0, sleeper.CallCount())
	assert.Zero(t, sleeper.LastCall())
}

func TestFixtures(t *testing.T) {
	a := testutil.TestCredential()
	b := testutil.TestCredential2()

	assert.Equal(t, "primary", a.Label)
	assert.Equal(t, "secondary", b.Label)
	assert.False(t, a.Same(b))
	assert.Len(t, testutil.TestChannelID, 18)
}

package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

func TestIsValidToken(t *testing.T) {
	assert.True(t, IsValidToken("ExponentPushToken[abc]"))
	assert.True(t, IsValidToken("ExpoPushToken[abc]"))
	assert.False(t, IsValidToken("fcm:abc"))
	assert.False(t, IsValidToken(""))
}

func TestDigestMessage(t *testing.T) {
	long := strings.Repeat("é", 150)
	m := DigestMessage("ExpoPushToken[x]", "d1", "Daily Digest: technology", long)

	assert.Equal(t, "📰 Daily Digest: technology", m.Title)
	assert.Equal(t, 100, utf8.RuneCountInString(m.Body))
	assert.True(t, strings.HasSuffix(m.Body, "..."))
	assert.Equal(t, map[string]any{"type": "digest", "digestId": "d1", "screen": "DigestDetail"}, m.Data)
	assert.Equal(t, "default", m.Sound)
	assert.Equal(t, "high", m.Priority)
	assert.Equal(t, "digest", m.ChannelID)

	short := DigestMessage("ExpoPushToken[x]", "d1", "t", strings.Repeat("a", 100))
	assert.Equal(t, strings.Repeat("a", 100), short.Body, "exactly 100 characters is not clipped")
}

func TestSendDigest_InvalidTokenSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL})
	tk := c.SendDigest(context.Background(), "not-a-token", "d1", "t", "p")
	assert.Equal(t, domain.TicketError, tk.Status)
	assert.Equal(t, "Invalid push token format", tk.Message)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSendDigest_OK(t *testing.T) {
	var got []Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"tkt-1"}]}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, AccessToken: "secret"})
	tk := c.SendDigest(context.Background(), "ExponentPushToken[a]", "d1", "Title", "Preview")

	assert.True(t, tk.OK())
	assert.Equal(t, "tkt-1", tk.ID)
	assert.Equal(t, "Bearer secret", auth)
	require.Len(t, got, 1)
	assert.Equal(t, "ExponentPushToken[a]", got[0].To)
	assert.Equal(t, "📰 Title", got[0].Title)
	assert.Equal(t, "d1", got[0].Data["digestId"])
}

func TestSend_FailuresBecomeErrorTickets(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"no tickets", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"data":[]}`)) }, "No ticket returned"},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) }, "decode push response"},
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadGateway) }, "expo returned 502"},
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"status":"error","message":"DeviceNotRegistered"}]}`))
		}, "DeviceNotRegistered"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			tk := New(Config{URL: srv.URL}).Send(context.Background(), Message{To: "ExpoPushToken[x]"})
			assert.Equal(t, domain.TicketError, tk.Status)
			assert.Contains(t, tk.Message, tc.want)
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	tk := New(Config{URL: srv.URL}).Send(context.Background(), Message{To: "ExpoPushToken[x]"})
	assert.Equal(t, domain.TicketError, tk.Status)
	assert.NotEmpty(t, tk.Message)
}

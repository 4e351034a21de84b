package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
	name string
}

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

func (m *mockSender) Name() string { return m.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_FiltersEvents(t *testing.T) {
	s := &mockSender{name: "a"}
	s.On("Send", mock.Anything, "title", "msg").Return(nil).Once()
	n := NewNotifier([]Sender{s}, []string{EventPipelineFailed, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventArbDetected, "title", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventPipelineFailed, "title", "msg"))
	s.AssertExpectations(t)
	assert.True(t, n.Enabled())
}

func TestNotify_OneFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &mockSender{name: "bad"}
	bad.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
	good := &mockSender{name: "good"}
	good.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())
	err := n.Notify(context.Background(), EventArbDetected, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	good.AssertExpectations(t)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, time.Second)
	require.NoError(t, d.Send(context.Background(), "Arbitrage", strings.Repeat("x", 3000)))
	assert.True(t, strings.HasPrefix(got["content"], "**Arbitrage**\n"))
	assert.Len(t, got["content"], discordContentLimit)
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramSender(srv.URL+"/", "TOKEN", "42", time.Second)
	require.NoError(t, tg.Send(context.Background(), "Failed", "details"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Failed*\ndetails", got["text"])
}

func TestSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, time.Second).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

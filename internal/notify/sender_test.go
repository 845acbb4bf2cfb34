package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTelegramSendPostsFormAndChecksOKFlag(t *testing.T) {
	var gotPath, gotText, gotChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotText = r.PostForm.Get("text")
		gotChat = r.PostForm.Get("chat_id")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("bot-token", "chat-42")
	s.apiBase = srv.URL

	require.NoError(t, s.Send(context.Background(), "Option taken", "id 7"))
	require.Equal(t, "/botbot-token/sendMessage", gotPath)
	require.Equal(t, "*Option taken*\nid 7", gotText)
	require.Equal(t, "chat-42", gotChat)
}

func TestTelegramSendSurfacesAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Telegram reports logical failures with ok=false on HTTP 200 too.
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("bot-token", "chat-42")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "chat not found")
}

func TestDiscordSendPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Option exercised", "payout 475"))

	require.Len(t, got.Embeds, 1)
	require.Equal(t, "Option exercised", got.Embeds[0].Title)
	require.Equal(t, "payout 475", got.Embeds[0].Description)
	require.Equal(t, discordEmbedColor, got.Embeds[0].Color)
}

func TestDiscordSendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "429")
}

func TestSendersHonorContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tg := NewTelegramSender("tok", "chat")
	tg.apiBase = srv.URL
	require.Error(t, tg.Send(ctx, "t", "m"))
	require.Error(t, NewDiscordSender(srv.URL).Send(ctx, "t", "m"))
}

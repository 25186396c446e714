package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdwerff/deskchat/internal/models"
)

func TestFetchOwnThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/thread", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m-1", Sender: models.SenderAdmin, Body: "hi", OwnerUserID: "u-1"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-1")
	msgs, err := c.FetchOwnThread(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, models.SenderAdmin, msgs[0].Sender)
}

func TestFetchThreadEscapesUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/thread/u%2F1", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode([]models.Message{})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchThread(context.Background(), "u/1")
	require.NoError(t, err)
}

func TestFetchThreads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/threads", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]models.Thread{
			{OwnerUserID: "u-2", LastMessage: "thanks", LastSender: models.SenderUser, UnreadForAdmin: 2},
			{OwnerUserID: "u-1", LastMessage: "ok", LastSender: models.SenderAdmin},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-1")
	threads, err := c.FetchThreads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, 2, threads[0].UnreadForAdmin)
}

func TestAskAssistant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Message string     `json:"message"`
			History []ChatTurn `json:"history"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "where is my order?", req.Message)
		require.Len(t, req.History, 1)
		assert.Equal(t, "user", req.History[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "reply": "let me check"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	reply, err := c.AskAssistant(context.Background(), "where is my order?", []ChatTurn{
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "let me check", reply)
}

func TestAskAssistantFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "model unavailable"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.AskAssistant(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchThreads(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchOwnThread(ctx)
	require.Error(t, err)
}

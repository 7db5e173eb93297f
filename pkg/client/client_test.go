package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeClient_AudioReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/voice-agent", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("audio")
		require.NoError(t, err)
		assert.NotZero(t, header.Size)

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-payload"))
	}))
	defer server.Close()

	c := NewExchangeClient(server.URL)
	reply, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")
	require.NoError(t, err)
	require.True(t, reply.HasAudio())
	assert.Equal(t, []byte("mp3-payload"), reply.Audio)
	assert.Equal(t, "audio/mpeg", reply.MimeType)
}

func TestExchangeClient_TextReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"text_response":"the kitchen is closed"}`))
	}))
	defer server.Close()

	c := NewExchangeClient(server.URL)
	reply, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")
	require.NoError(t, err)
	assert.False(t, reply.HasAudio())
	assert.Equal(t, "the kitchen is closed", reply.Text)
}

func TestExchangeClient_JSONEmbeddedAudioReply(t *testing.T) {
	mp3 := []byte("mp3-from-json")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload, _ := json.Marshal(map[string]any{
			"success":        true,
			"audio_response": base64.StdEncoding.EncodeToString(mp3),
		})
		w.Write(payload)
	}))
	defer server.Close()

	c := NewExchangeClient(server.URL)
	reply, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")
	require.NoError(t, err)
	require.True(t, reply.HasAudio(), "JSON base64 audio_response must decode to a playable reply")
	assert.Equal(t, mp3, reply.Audio)
	assert.Equal(t, "audio/mpeg", reply.MimeType)
}

func TestDecodeReply_DataURLAudio(t *testing.T) {
	mp3 := []byte("data-url-mp3")
	encoded := "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(mp3)
	payload, _ := json.Marshal(map[string]any{"success": true, "audio_response": encoded})

	reply, err := DecodeReply(http.StatusOK, "application/json", payload)
	require.NoError(t, err)
	require.True(t, reply.HasAudio())
	assert.Equal(t, mp3, reply.Audio)
	assert.Equal(t, "audio/mp3", reply.MimeType)
}

func TestDecodeReply_WebhookFailure(t *testing.T) {
	cases := []string{
		`{"success":false}`,
		`{"success":true,"error":"agent offline"}`,
		`{"success":true,"audio_response":"%%%not-base64%%%"}`,
	}
	for _, payload := range cases {
		_, err := DecodeReply(http.StatusOK, "application/json", []byte(payload))
		var upErr *UpstreamError
		require.Error(t, err, "payload %s", payload)
		assert.True(t, errors.As(err, &upErr), "payload %s: expected *UpstreamError, got %T", payload, err)
	}
}

func TestDecodeReply_PlainTextReply(t *testing.T) {
	reply, err := DecodeReply(http.StatusOK, "text/plain", []byte("  we are closed  "))
	require.NoError(t, err)
	assert.False(t, reply.HasAudio())
	assert.Equal(t, "we are closed", reply.Text)
}

func TestExchangeClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := NewExchangeClient(server.URL, WithExchangeTimeout(50*time.Millisecond))
	_, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")

	var timeoutErr *TimeoutError
	require.Error(t, err)
	assert.True(t, errors.As(err, &timeoutErr), "expected *TimeoutError, got %T: %v", err, err)
}

func TestExchangeClient_UpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "webhook unreachable", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewExchangeClient(server.URL)
	_, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")

	var upErr *UpstreamError
	require.Error(t, err)
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadGateway, upErr.StatusCode)
}

func TestExchangeClient_TransportError(t *testing.T) {
	c := NewExchangeClient("http://127.0.0.1:1")
	_, err := c.Exchange(context.Background(), []byte("wav-bytes"), "audio/wav")

	var transportErr *TransportError
	require.Error(t, err)
	assert.True(t, errors.As(err, &transportErr), "expected *TransportError, got %T: %v", err, err)
}

func TestPersistClient_SaveAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/save-audio", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistant", r.FormValue("type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"filename": "assistant-1700000000-abc.mp3",
			"url": "/audio/assistant-1700000000-abc.mp3",
			"type": "assistant",
			"size": 11,
			"mimeType": "audio/mpeg"
		}`))
	}))
	defer server.Close()

	c := NewPersistClient(server.URL)
	saved, err := c.SaveAudio(context.Background(), KindAssistant, []byte("mp3-payload"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "assistant-1700000000-abc.mp3", saved.Filename)
	assert.Equal(t, "/audio/assistant-1700000000-abc.mp3", saved.URL)
	assert.Equal(t, int64(11), saved.Size)
}

func TestPersistClient_SaveAudioRejectsUnknownKind(t *testing.T) {
	c := NewPersistClient("http://localhost")
	_, err := c.SaveAudio(context.Background(), "narrator", []byte("x"), "audio/wav")
	assert.Error(t, err)
}

func TestPersistClient_ClearAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/audio-clear", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "deletedCount": 7}`))
	}))
	defer server.Close()

	c := NewPersistClient(server.URL)
	deleted, err := c.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
}

func TestPersistClient_ClearAllServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk error", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewPersistClient(server.URL)
	_, err := c.ClearAll(context.Background())

	var upErr *UpstreamError
	require.Error(t, err)
	assert.True(t, errors.As(err, &upErr))
}

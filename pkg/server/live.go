package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dunijet/pizzavoice/pkg/agent"
	"github.com/dunijet/pizzavoice/pkg/client"
)

const liveIdleTimeout = 5 * time.Minute

// handleVoiceLive hosts a full voice session over a WebSocket: binary
// frames in (PCM), JSON events out. The browser plays reply audio itself
// and reports playback.finished.
func (s *Server) handleVoiceLive(w http.ResponseWriter, r *http.Request) {
	if s.config.WebhookURL == "" {
		writeJSONErrorWithStatus(w, http.StatusServiceUnavailable, newAPIError(ErrInternal, "Voice agent is temporarily unavailable"), requestIDFromContext(r.Context()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.liveSessions.Add(1)
	s.metrics.RecordLiveSessionStart()
	status := "closed"
	defer func() {
		s.liveSessions.Add(-1)
		s.metrics.RecordLiveSessionEnd(status)
	}()

	capture := agent.NewChanCapture(64)
	player := newRemotePlayer()
	session := agent.NewSession(
		agent.DefaultSessionConfig(),
		capture,
		&webhookExchanger{server: s},
		&localPersister{server: s},
		player,
		agent.WithSessionLogger(s.logger.With("component", "live-session")),
	)

	if err := session.Start(r.Context()); err != nil {
		writeWSError(conn, newAPIError(ErrInternal, "failed to start session"))
		status = "error"
		return
	}
	defer session.End("disconnect")

	// Forward session events to the client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event := <-session.Events():
				payload, err := encodeSessionEvent(event)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-session.Done():
				return
			case <-s.done:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(liveIdleTimeout))
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(liveIdleTimeout))

		if msgType == websocket.BinaryMessage {
			capture.Push(message)
			continue
		}

		var clientMsg liveClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			writeWSError(conn, newAPIError(ErrInvalidRequest, "Invalid JSON: "+err.Error()))
			continue
		}

		switch clientMsg.Type {
		case "playback.finished":
			player.Finished()
		case "session.end":
			session.End("client request")
		default:
			writeWSError(conn, newAPIError(ErrInvalidRequest, "Unknown message type: "+clientMsg.Type))
		}
	}

	session.End("disconnect")
	<-done
}

type liveClientMessage struct {
	Type string `json:"type"`
}

func encodeSessionEvent(event agent.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	obj["type"] = event.EventType()
	return json.Marshal(obj)
}

func writeWSError(conn *websocket.Conn, err *APIError) {
	payload, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": err,
	})
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

// remotePlayer satisfies agent.Player for browser-side playback: Play
// blocks until the client reports playback.finished or the playback
// context is cancelled.
type remotePlayer struct {
	finished chan struct{}
}

func newRemotePlayer() *remotePlayer {
	return &remotePlayer{finished: make(chan struct{}, 1)}
}

func (p *remotePlayer) Play(ctx context.Context, src string) error {
	select {
	case <-p.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished signals that the client finished playing the current clip.
func (p *remotePlayer) Finished() {
	select {
	case p.finished <- struct{}{}:
	default:
	}
}

// webhookExchanger adapts the server's webhook forwarding to the
// agent.Exchanger port, skipping the HTTP hop a browser client takes.
type webhookExchanger struct {
	server *Server
}

func (e *webhookExchanger) Exchange(ctx context.Context, audio []byte, mimeType string) (*client.Reply, error) {
	resp, err := e.server.forwardToWebhook(ctx, audio, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &client.TimeoutError{Op: "exchange", Err: err}
		}
		return nil, &client.TransportError{Op: "exchange", URL: e.server.config.WebhookURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &client.UpstreamError{Op: "exchange", StatusCode: resp.StatusCode, Message: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &client.TransportError{Op: "exchange", URL: e.server.config.WebhookURL, Err: err}
	}

	return client.DecodeReply(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

// localPersister stores session audio straight into the server's audio
// store instead of calling the save-audio endpoint over HTTP.
type localPersister struct {
	server *Server
}

func (p *localPersister) SaveAudio(ctx context.Context, kind string, audio []byte, mimeType string) (*client.SavedAudio, error) {
	if kind != client.KindUser && kind != client.KindAssistant {
		return nil, fmt.Errorf("unknown audio kind %q", kind)
	}
	clip, err := p.server.audio.Save(kind, audio, mimeType)
	if err != nil {
		return nil, err
	}
	p.server.metrics.RecordAudioStored(kind, clip.Size)
	return &client.SavedAudio{
		Filename: clip.Filename,
		URL:      clip.URL,
		Type:     clip.Type,
		Size:     int64(clip.Size),
		MimeType: clip.MimeType,
	}, nil
}

package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultAgentBaseURL = "wss://api.elevenlabs.io"

// Conn is the subset of *websocket.Conn the relay uses. Writes on a Conn
// must come from a single goroutine; the session actor guarantees that.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// AgentDialer opens the voice-AI leg of a session.
type AgentDialer interface {
	Dial(ctx context.Context, apiKey, agentID string) (Conn, error)
}

// ElevenLabsDialer dials the conversational agent websocket.
type ElevenLabsDialer struct {
	// BaseURL overrides the API host, used by tests.
	BaseURL string

	HandshakeTimeout time.Duration
}

func (d ElevenLabsDialer) Dial(ctx context.Context, apiKey, agentID string) (Conn, error) {
	base := d.BaseURL
	if base == "" {
		base = defaultAgentBaseURL
	}

	u := fmt.Sprintf("%s/v1/convai/conversation?agent_id=%s",
		strings.TrimRight(base, "/"), url.QueryEscape(agentID))

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	header.Set("xi-api-key", apiKey)

	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			// A refused handshake carries a response whose body must be
			// drained and closed before the underlying conn can be reused.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("relay: voice-ai dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay: voice-ai dial failed: %w", err)
	}
	return conn, nil
}

package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"voice-relay/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StreamHandlers owns the two streaming upgrade endpoints: the carrier-facing
// media stream and the observer-facing bridge.
type StreamHandlers struct {
	Gate auth.UpgradeGate
	Deps SessionDeps

	upgrader websocket.Upgrader
}

func NewStreamHandlers(gate auth.UpgradeGate, deps SessionDeps) *StreamHandlers {
	return &StreamHandlers{
		Gate: gate,
		Deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are checked by the gate before upgrading; carrier
			// dials carry no Origin at all.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandlers) log() *slog.Logger {
	if h.Deps.Log != nil {
		return h.Deps.Log
	}
	return slog.Default()
}

// HandleCarrierStream serves /outbound-media-stream. One relay session per
// connection; the handler goroutine runs the session to completion.
func (h *StreamHandlers) HandleCarrierStream(c *gin.Context) {
	if _, status, ok := h.Gate.Check(c.Request); !ok {
		c.AbortWithStatus(status)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log().Warn("carrier upgrade failed", "err", err)
		return
	}

	sess := NewSession(conn, h.Deps)
	sess.Run(c.Request.Context())
}

type observerCommand struct {
	Event string `json:"event"`
}

// HandleObserverStream serves /frontend-stream. The observer identifies a
// call by callSid + user_id, sends a connect command, and then receives the
// session's normalized event stream until either side closes.
func (h *StreamHandlers) HandleObserverStream(c *gin.Context) {
	claims, status, ok := h.Gate.Check(c.Request)
	if !ok {
		c.AbortWithStatus(status)
		return
	}

	callSID := c.Query("callSid")
	tenantID := c.Query("user_id")
	if callSID == "" || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "callSid and user_id are required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log().Warn("observer upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log := h.log().With("call_sid", callSID, "tenant_id", tenantID, "source", string(claims.Source))

	// The observer must explicitly ask to attach before any events flow.
	if !awaitConnectCommand(conn) {
		log.Info("observer closed before connecting")
		return
	}

	if !h.callAttachable(c, callSID, tenantID, log) {
		_ = conn.WriteJSON(ObserverFrame{Event: "error", Payload: "call is not active"})
		return
	}

	frames, cancel := h.Deps.Hub.Subscribe(callSID)
	defer cancel()
	log.Info("observer attached")

	// Reads only detect the observer hanging up; any read error detaches.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				log.Info("session ended, detaching observer")
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-closed:
			log.Info("observer detached")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *StreamHandlers) callAttachable(c *gin.Context, callSID, tenantID string, log *slog.Logger) bool {
	if h.Deps.Registry == nil {
		return true
	}
	owner, err := h.Deps.Registry.ActiveTenant(c.Request.Context(), callSID)
	if err != nil {
		log.Warn("active-call lookup failed", "err", err)
		return false
	}
	if owner == "" || owner != tenantID {
		return false
	}
	return true
}

// awaitConnectCommand blocks until the observer sends its connect command.
// Anything unreadable or a closed socket reports false.
func awaitConnectCommand(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var cmd observerCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		if cmd.Event == "connect-twilio" {
			return true
		}
	}
}

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"voice-relay/internal/calls"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"

	"github.com/gorilla/websocket"
)

// State is the relay session lifecycle.
//
//	Initiating → AwaitingStart → Active → Closing → Closed
//
// Transitions are driven only by the session's own goroutine.
type State int

const (
	StateInitiating State = iota
	StateAwaitingStart
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitiating:
		return "initiating"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// preStartQueueCap bounds audio buffered between the carrier's first media
// frame and the voice-AI socket opening. 200 frames is roughly four seconds
// of 20ms telephony audio; past that the oldest frames are shed.
const preStartQueueCap = 200

// SessionDeps are the process-wide collaborators a session uses. All are
// dependency-injected; the session holds no ambient state.
type SessionDeps struct {
	Resolver *tenants.Resolver
	Dialer   AgentDialer
	Provider telephony.Provider
	Registry calls.Registry
	Limiter  calls.SlotLimiter
	Hub      *ObserverHub
	Log      *slog.Logger
}

type handshakeResult struct {
	conn  Conn
	creds tenants.CredentialSet
	err   error
}

type readResult struct {
	data []byte
	err  error
}

// Session owns one carrier-side socket and, once started, one voice-AI
// socket, forwarding audio and control messages between them. All state is
// owned by the goroutine running Run; peer reads arrive via channels.
type Session struct {
	deps    SessionDeps
	carrier Conn

	state        State
	callSID      string
	streamSID    string
	tenantID     string
	prompt       string
	firstMessage string

	agent   Conn
	pending []string // base64 payloads awaiting the voice-AI socket

	handshakeCh chan handshakeResult
	done        chan struct{}

	log *slog.Logger
}

func NewSession(carrier Conn, deps SessionDeps) *Session {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		deps:        deps,
		carrier:     carrier,
		state:       StateInitiating,
		handshakeCh: make(chan handshakeResult, 1),
		done:        make(chan struct{}),
		log:         log,
	}
}

func (s *Session) State() State { return s.state }

// Run drives the session until both legs are closed. It must be called
// exactly once and is the only goroutine that touches session state.
func (s *Session) Run(ctx context.Context) {
	s.state = StateAwaitingStart

	carrierCh := make(chan readResult, 8)
	go s.readPump(s.carrier, carrierCh)

	var agentCh chan readResult

	for s.state != StateClosed {
		select {
		case r := <-carrierCh:
			if r.err != nil {
				s.close(ctx, "carrier socket closed", r.err)
				continue
			}
			s.handleCarrierFrame(ctx, r.data)

		case res := <-s.handshakeCh:
			agentCh = s.finishHandshake(ctx, res)

		case r := <-agentCh: // nil until the handshake completes
			if r.err != nil {
				s.close(ctx, "voice-ai socket closed", r.err)
				continue
			}
			s.handleAgentFrame(ctx, r.data)

		case <-ctx.Done():
			s.close(ctx, "server shutdown", ctx.Err())
		}
	}
}

func (s *Session) readPump(c Conn, ch chan readResult) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			select {
			case ch <- readResult{err: err}:
			case <-s.done:
			}
			return
		}
		select {
		case ch <- readResult{data: data}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleCarrierFrame(ctx context.Context, data []byte) {
	var ev carrierEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Warn("carrier frame not json", "err", err)
		return
	}

	switch ev.Event {
	case "connected":
		// Handshake preamble; nothing to do.

	case "start":
		if s.state != StateAwaitingStart || ev.Start == nil {
			return
		}
		s.callSID = ev.Start.CallSID
		s.streamSID = ev.Start.StreamSID
		s.tenantID = ev.Start.CustomParameters["user_id"]
		s.prompt = ev.Start.CustomParameters["prompt"]
		s.firstMessage = ev.Start.CustomParameters["first_message"]
		s.state = StateActive
		s.log = s.log.With("call_sid", s.callSID, "stream_sid", s.streamSID, "tenant_id", s.tenantID)
		s.log.Info("stream started")

		if s.deps.Registry != nil && s.tenantID != "" {
			if err := s.deps.Registry.RegisterActive(ctx, s.callSID, s.tenantID); err != nil {
				s.log.Warn("active-call register failed", "err", err)
			}
		}

		go s.handshake(ctx)

	case "media":
		if ev.Media == nil {
			return
		}
		if s.state != StateActive && s.state != StateAwaitingStart {
			return
		}
		if s.agent != nil {
			s.writeAgent(ctx, agentAudioChunkFrame(ev.Media.Payload))
			return
		}
		// The voice-AI leg is not open yet; hold a bounded window of
		// audio so call setup loses nothing.
		if len(s.pending) >= preStartQueueCap {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, ev.Media.Payload)

	case "stop":
		s.log.Info("stream stopped by carrier")
		s.close(ctx, "carrier stop event", nil)

	case "mark":
		// Playback marker; observable only.

	default:
		s.log.Debug("unhandled carrier event", "event", ev.Event)
	}
}

// handshake resolves tenant credentials and opens the voice-AI socket. It
// runs off the session goroutine; the result is delivered back through
// handshakeCh.
func (s *Session) handshake(ctx context.Context) {
	creds, err := s.deps.Resolver.Resolve(ctx, s.tenantID)
	if err != nil {
		s.sendHandshake(handshakeResult{err: err})
		return
	}

	conn, err := s.deps.Dialer.Dial(ctx, creds.ElevenLabsAPIKey, creds.ElevenLabsAgentID)
	if err != nil {
		s.sendHandshake(handshakeResult{creds: creds, err: err})
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, agentInitFrame(s.prompt, s.firstMessage)); err != nil {
		_ = conn.Close()
		s.sendHandshake(handshakeResult{creds: creds, err: err})
		return
	}

	s.sendHandshake(handshakeResult{conn: conn, creds: creds})
}

func (s *Session) sendHandshake(res handshakeResult) {
	select {
	case s.handshakeCh <- res:
	case <-s.done:
		if res.conn != nil {
			_ = res.conn.Close()
		}
	}
}

// finishHandshake installs the voice-AI socket (replaying held audio) or,
// on failure, tears the call down rather than leaving the caller in
// silence.
func (s *Session) finishHandshake(ctx context.Context, res handshakeResult) chan readResult {
	if s.state != StateActive {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return nil
	}

	if res.err != nil {
		s.log.Error("voice-ai handshake failed, ending call", "err", res.err)
		s.endCarrierCall(ctx, res.creds)
		s.close(ctx, "voice-ai handshake failed", res.err)
		return nil
	}

	s.agent = res.conn
	s.log.Info("voice-ai socket open", "replayed_frames", len(s.pending))
	for _, payload := range s.pending {
		s.writeAgent(ctx, agentAudioChunkFrame(payload))
	}
	s.pending = nil

	agentCh := make(chan readResult, 8)
	go s.readPump(s.agent, agentCh)
	return agentCh
}

// endCarrierCall asks the provider to complete the call. Without resolved
// credentials there is nothing to authenticate with; closing the stream
// socket then tears down the carrier's connect verb instead.
func (s *Session) endCarrierCall(ctx context.Context, creds tenants.CredentialSet) {
	if s.deps.Provider == nil || !creds.Complete() || s.callSID == "" {
		return
	}
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Provider.CompleteCall(endCtx, telephony.Account{
		SID:       creds.TwilioAccountSID,
		AuthToken: creds.TwilioAuthToken,
	}, s.callSID); err != nil {
		s.log.Warn("provider call termination failed", "err", err)
	}
}

func (s *Session) handleAgentFrame(ctx context.Context, data []byte) {
	var msg agentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("voice-ai frame not json", "err", err)
		return
	}

	switch msg.Type {
	case "audio":
		chunk, ok := msg.AudioChunk()
		if !ok {
			return
		}
		s.writeCarrier(ctx, carrierMediaFrame(s.streamSID, chunk))
		s.publish(ObserverFrame{Event: "media", Payload: chunk})

	case "interruption":
		// Barge-in: flush the carrier's buffered agent speech.
		s.log.Debug("interruption, clearing carrier buffer")
		s.writeCarrier(ctx, carrierClearFrame(s.streamSID))

	case "ping":
		var eventID json.RawMessage
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
		}
		s.writeAgent(ctx, agentPongFrame(eventID))

	case "agent_response":
		if msg.AgentResponseEvent != nil {
			s.log.Info("agent response", "text", msg.AgentResponseEvent.AgentResponse)
			s.publish(ObserverFrame{Event: "agent_response", Payload: msg.AgentResponseEvent.AgentResponse})
		}

	case "user_transcript":
		if msg.UserTranscriptionEvent != nil {
			s.log.Info("user transcript", "text", msg.UserTranscriptionEvent.UserTranscript)
			s.publish(ObserverFrame{Event: "transcription", Payload: msg.UserTranscriptionEvent.UserTranscript})
		}

	case "conversation_initiation_metadata":
		s.log.Info("conversation initiated")
		s.publish(ObserverFrame{Event: "metadata", Payload: msg.ConversationInitiationMetadataEvent})

	default:
		s.log.Debug("unhandled voice-ai message", "type", msg.Type)
	}
}

func (s *Session) publish(frame ObserverFrame) {
	if s.deps.Hub != nil && s.callSID != "" {
		s.deps.Hub.Publish(s.callSID, frame)
	}
}

func (s *Session) writeCarrier(ctx context.Context, frame []byte) {
	if err := s.carrier.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.close(ctx, "carrier write failed", err)
	}
}

func (s *Session) writeAgent(ctx context.Context, frame []byte) {
	if s.agent == nil {
		s.log.Debug("voice-ai socket not open, dropping frame")
		return
	}
	if err := s.agent.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.close(ctx, "voice-ai write failed", err)
	}
}

// close tears down both legs and releases per-call state. Safe to call from
// any state; repeated calls are no-ops.
func (s *Session) close(ctx context.Context, reason string, cause error) {
	if s.state == StateClosed || s.state == StateClosing {
		return
	}
	s.state = StateClosing
	close(s.done)

	if s.agent != nil {
		_ = s.agent.Close()
		s.agent = nil
	}
	_ = s.carrier.Close()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if s.deps.Hub != nil && s.callSID != "" {
		s.deps.Hub.CloseCall(s.callSID)
	}
	// The registry entry guards the call slot: whichever teardown path
	// removes it, this one or /end-call, releases the slot, never both.
	removed := s.deps.Registry == nil
	if s.deps.Registry != nil && s.callSID != "" {
		var err error
		removed, err = s.deps.Registry.UnregisterActive(cleanupCtx, s.callSID)
		if err != nil {
			s.log.Warn("active-call unregister failed", "err", err)
		}
	}
	if removed && s.deps.Limiter != nil && s.tenantID != "" {
		if err := s.deps.Limiter.Release(cleanupCtx, s.tenantID); err != nil {
			s.log.Warn("call slot release failed", "err", err)
		}
	}

	if cause != nil {
		s.log.Info("session closed", "reason", reason, "cause", cause)
	} else {
		s.log.Info("session closed", "reason", reason)
	}
	s.state = StateClosed
}

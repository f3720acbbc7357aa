package relay

import "encoding/json"

// Carrier media-stream wire shapes. The carrier sends JSON text frames;
// audio payloads are base64 blobs that this system never decodes.

type carrierEvent struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`

	Start *carrierStart `json:"start,omitempty"`
	Media *carrierMedia `json:"media,omitempty"`
}

type carrierStart struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type carrierMedia struct {
	Payload string `json:"payload"`
}

func carrierMediaFrame(streamSID, payload string) []byte {
	b, _ := json.Marshal(carrierEvent{
		Event:     "media",
		StreamSID: streamSID,
		Media:     &carrierMedia{Payload: payload},
	})
	return b
}

// carrierClearFrame flushes the carrier's buffered outbound audio; sent on
// voice-AI interruption so barge-in takes effect immediately.
func carrierClearFrame(streamSID string) []byte {
	b, _ := json.Marshal(carrierEvent{Event: "clear", StreamSID: streamSID})
	return b
}

// Voice-AI conversational socket wire shapes.

// agentMessage is the envelope for every message the voice-AI backend sends.
// Audio arrives in one of two wire forms; AudioChunk is the single accessor
// over both, so callers never inspect the optionals themselves.
type agentMessage struct {
	Type string `json:"type"`

	Audio      *agentAudio      `json:"audio,omitempty"`
	AudioEvent *agentAudioEvent `json:"audio_event,omitempty"`

	PingEvent              *agentPingEvent          `json:"ping_event,omitempty"`
	AgentResponseEvent     *agentResponseEvent      `json:"agent_response_event,omitempty"`
	UserTranscriptionEvent *agentTranscriptionEvent `json:"user_transcription_event,omitempty"`

	// Raw initiation metadata, passed to observers untouched.
	ConversationInitiationMetadataEvent json.RawMessage `json:"conversation_initiation_metadata_event,omitempty"`
}

type agentAudio struct {
	Chunk string `json:"chunk"`
}

type agentAudioEvent struct {
	AudioBase64 string          `json:"audio_base_64"`
	EventID     json.RawMessage `json:"event_id,omitempty"`
}

type agentPingEvent struct {
	// EventID is echoed verbatim in the pong; its wire type is the
	// backend's business.
	EventID json.RawMessage `json:"event_id"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type agentTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

// AudioChunk returns the base64 audio payload regardless of which of the
// two wire forms carried it.
func (m agentMessage) AudioChunk() (string, bool) {
	if m.Audio != nil && m.Audio.Chunk != "" {
		return m.Audio.Chunk, true
	}
	if m.AudioEvent != nil && m.AudioEvent.AudioBase64 != "" {
		return m.AudioEvent.AudioBase64, true
	}
	return "", false
}

// agentPongFrame answers a ping, echoing the event id unchanged. The
// backend drops connections whose pings go unanswered.
func agentPongFrame(eventID json.RawMessage) []byte {
	type pong struct {
		Type    string          `json:"type"`
		EventID json.RawMessage `json:"event_id,omitempty"`
	}
	b, _ := json.Marshal(pong{Type: "pong", EventID: eventID})
	return b
}

// agentAudioChunkFrame wraps a carrier audio payload for the voice-AI leg.
func agentAudioChunkFrame(payload string) []byte {
	type chunk struct {
		UserAudioChunk string `json:"user_audio_chunk"`
	}
	b, _ := json.Marshal(chunk{UserAudioChunk: payload})
	return b
}

// agentInitFrame opens the conversation with per-call prompt and greeting
// overrides.
func agentInitFrame(prompt, firstMessage string) []byte {
	type promptOverride struct {
		Prompt string `json:"prompt,omitempty"`
	}
	type agentOverride struct {
		Prompt       *promptOverride `json:"prompt,omitempty"`
		FirstMessage string          `json:"first_message,omitempty"`
	}
	type configOverride struct {
		Agent agentOverride `json:"agent"`
	}
	type init struct {
		Type                       string         `json:"type"`
		ConversationConfigOverride configOverride `json:"conversation_config_override"`
	}

	msg := init{Type: "conversation_initiation_client_data"}
	if prompt != "" {
		msg.ConversationConfigOverride.Agent.Prompt = &promptOverride{Prompt: prompt}
	}
	msg.ConversationConfigOverride.Agent.FirstMessage = firstMessage

	b, _ := json.Marshal(msg)
	return b
}

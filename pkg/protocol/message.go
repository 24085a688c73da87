// Package protocol defines the WebSocket message types for client-guide
// communication. This package is shared between the backend and the Go
// client simulator; embedded firmware clients implement the same JSON shapes.
//
// Control messages are JSON text frames. Audio payloads travel inbound as
// base64 inside audio_chunk messages and outbound as raw binary frames
// bracketed by audio_start/audio_complete control messages.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeRegister      MessageType = "register"       // Open a session
	TypeAudioChunk    MessageType = "audio_chunk"    // One piece of an utterance
	TypeAudioComplete MessageType = "audio_complete" // Utterance finished (in), phrase finished (out)
	TypeTextQuery     MessageType = "text_query"     // Bypass audio, submit text directly
	TypeSettings      MessageType = "settings"       // Update negotiated audio params
	TypePing          MessageType = "ping"           // Liveness check

	// Server → Client messages
	TypeRegisterAck      MessageType = "register_ack"      // Session established
	TypeSettingsAck      MessageType = "settings_ack"      // Settings stored
	TypeAudioReceiving   MessageType = "audio_receiving"   // First chunk of an utterance seen
	TypeSTTProcessing    MessageType = "stt_processing"    // Transcription started
	TypeSTTResult        MessageType = "stt_result"        // Transcription outcome (text may be empty)
	TypeOpenAIProcessing MessageType = "openai_processing" // LLM call started
	TypeAudioStart       MessageType = "audio_start"       // Begin one phrase's audio stream
	TypeError            MessageType = "error"             // Recoverable failure, turn aborted
	TypePong             MessageType = "pong"              // Liveness response
)

// AudioSettings describes a client's negotiated capture format.
type AudioSettings struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	Bits       int `json:"bits"`
}

// DefaultAudioSettings returns the format assumed when a client registers
// without negotiating.
func DefaultAudioSettings() AudioSettings {
	return AudioSettings{SampleRate: 16000, Channels: 1, Bits: 16}
}

// Normalize fills zero fields with defaults.
func (s AudioSettings) Normalize() AudioSettings {
	d := DefaultAudioSettings()
	if s.SampleRate <= 0 {
		s.SampleRate = d.SampleRate
	}
	if s.Channels <= 0 {
		s.Channels = d.Channels
	}
	if s.Bits <= 0 {
		s.Bits = d.Bits
	}
	return s
}

// ClientMessage is the union of all fields a client may send. Fields not
// relevant to the message type are left at their zero value.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// register
	AudioSettings *AudioSettings `json:"audio_settings,omitempty"`

	// audio_chunk
	Audio   string `json:"audio,omitempty"` // base64 payload
	ChunkID int    `json:"chunk_id"`

	// audio_complete
	TotalChunks int `json:"total_chunks,omitempty"`

	// text_query
	Text string `json:"text,omitempty"`

	// settings (flat fields, matching the firmware protocol)
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
	Bits       int `json:"bits,omitempty"`
}

// ParseClientMessage parses a JSON control message from a client.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// DecodeAudio decodes the base64 audio payload of an audio_chunk message.
func (m *ClientMessage) DecodeAudio() ([]byte, error) {
	if m.Audio == "" {
		return nil, fmt.Errorf("audio_chunk message has no audio field")
	}
	payload, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return payload, nil
}

// Settings extracts the audio settings carried by a settings message,
// normalized with defaults.
func (m *ClientMessage) Settings() AudioSettings {
	return AudioSettings{
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
		Bits:       m.Bits,
	}.Normalize()
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// RegisterAck confirms a session was established.
type RegisterAck struct {
	Type     MessageType `json:"type"`
	Message  string      `json:"message,omitempty"`
	ClientID string      `json:"client_id"`
}

// SettingsAck confirms updated audio settings were stored.
type SettingsAck struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
}

// Status is a free-form progress notification (audio_receiving,
// stt_processing, openai_processing).
type Status struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
}

// STTResult carries the transcription outcome. An empty Text with a
// non-empty Error means no speech was detected; the turn ends there.
type STTResult struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	ClientID string      `json:"client_id,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// AudioStart announces one phrase's audio stream. The binary frames that
// follow carry exactly TotalBytes bytes split into Chunks frames.
type AudioStart struct {
	Type          MessageType `json:"type"`
	Format        string      `json:"format"`
	TotalBytes    int         `json:"total_bytes"`
	SampleRate    int         `json:"sample_rate"`
	Channels      int         `json:"channels"`
	BitsPerSample int         `json:"bits_per_sample"`
	Chunks        int         `json:"chunks"`
	Phrase        int         `json:"phrase"`
	TotalPhrases  int         `json:"total_phrases"`
}

// AudioDone closes one phrase's audio stream so the receiver can verify
// completeness.
type AudioDone struct {
	Type       MessageType `json:"type"`
	Phrase     int         `json:"phrase"`
	TotalBytes int         `json:"total_bytes"`
	ChunksSent int         `json:"chunks_sent"`
}

// ErrorMessage reports a recoverable failure. The connection stays open.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Pong answers a ping.
type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

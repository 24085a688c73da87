package protocol

import (
	"encoding/base64"
	"time"
)

// =============================================================================
// Helper functions for creating server messages
// =============================================================================

// NewRegisterAck creates a registration confirmation.
func NewRegisterAck(clientID string) RegisterAck {
	return RegisterAck{
		Type:     TypeRegisterAck,
		Message:  "Registration successful",
		ClientID: clientID,
	}
}

// NewSettingsAck creates a settings confirmation.
func NewSettingsAck() SettingsAck {
	return SettingsAck{Type: TypeSettingsAck, Message: "Settings received"}
}

// NewStatus creates a progress notification of the given type.
func NewStatus(msgType MessageType, message string) Status {
	return Status{Type: msgType, Message: message}
}

// NewSTTResult creates a successful transcription result.
func NewSTTResult(text, clientID string) STTResult {
	return STTResult{Type: TypeSTTResult, Text: text, ClientID: clientID}
}

// NewEmptySTTResult creates a "no speech detected" transcription result.
func NewEmptySTTResult(reason string) STTResult {
	return STTResult{Type: TypeSTTResult, Text: "", Error: reason}
}

// NewAudioStart creates the control message that opens one phrase's stream.
// chunks is computed from totalBytes and chunkSize, rounding up.
func NewAudioStart(totalBytes, sampleRate, channels, bits, chunkSize, phrase, totalPhrases int) AudioStart {
	return AudioStart{
		Type:          TypeAudioStart,
		Format:        "wav",
		TotalBytes:    totalBytes,
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bits,
		Chunks:        (totalBytes + chunkSize - 1) / chunkSize,
		Phrase:        phrase,
		TotalPhrases:  totalPhrases,
	}
}

// NewAudioDone creates the control message that closes one phrase's stream.
func NewAudioDone(phrase, totalBytes, chunksSent int) AudioDone {
	return AudioDone{
		Type:       TypeAudioComplete,
		Phrase:     phrase,
		TotalBytes: totalBytes,
		ChunksSent: chunksSent,
	}
}

// NewError creates an error notification.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewPong creates a liveness response stamped with the current time.
func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: time.Now().UnixMilli()}
}

// =============================================================================
// Helper functions for creating client messages (used by the simulator)
// =============================================================================

// NewRegister creates a session-opening message.
func NewRegister(settings AudioSettings) ClientMessage {
	s := settings.Normalize()
	return ClientMessage{Type: TypeRegister, AudioSettings: &s}
}

// NewAudioChunk creates one utterance chunk. chunkID 0 starts a new buffer.
func NewAudioChunk(payload []byte, chunkID int) ClientMessage {
	return ClientMessage{
		Type:    TypeAudioChunk,
		Audio:   base64.StdEncoding.EncodeToString(payload),
		ChunkID: chunkID,
	}
}

// NewAudioComplete signals the end of an utterance.
func NewAudioComplete(totalChunks int) ClientMessage {
	return ClientMessage{Type: TypeAudioComplete, TotalChunks: totalChunks}
}

// NewTextQuery creates a direct text query, bypassing audio input.
func NewTextQuery(text string) ClientMessage {
	return ClientMessage{Type: TypeTextQuery, Text: text}
}

// NewSettings creates an audio settings update.
func NewSettings(settings AudioSettings) ClientMessage {
	s := settings.Normalize()
	return ClientMessage{
		Type:       TypeSettings,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		Bits:       s.Bits,
	}
}

package audio

import (
	"log/slog"
)

// Assembler accumulates the ordered chunks of one utterance and produces a
// single decodable buffer on completion. Each connected client owns one
// Assembler; chunks are trusted to arrive in order and are never reordered
// by index.
type Assembler struct {
	chunks [][]byte
	logger *slog.Logger
}

// NewAssembler creates an empty utterance assembler.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		logger: logger.With("component", "audio.assembler"),
	}
}

// AddChunk appends one chunk payload. Index 0 starts a fresh utterance and
// discards any previous incomplete buffer, so a client that abandons a turn
// mid-stream cannot leak stale audio into the next one.
func (a *Assembler) AddChunk(index int, payload []byte) {
	if index == 0 && len(a.chunks) > 0 {
		a.logger.Debug("discarding incomplete utterance",
			"dropped_chunks", len(a.chunks),
		)
		a.chunks = a.chunks[:0]
	}
	a.chunks = append(a.chunks, payload)
}

// Pending returns the number of buffered chunks.
func (a *Assembler) Pending() int {
	return len(a.chunks)
}

// Reset drops any buffered chunks.
func (a *Assembler) Reset() {
	a.chunks = nil
}

// Complete consumes the buffered chunks and returns one contiguous audio
// buffer, or nil if nothing was buffered. A single chunk is returned
// unmodified since it is already a complete container. Multiple chunks have
// any per-chunk WAV headers stripped, are concatenated, and are wrapped once
// in a WAV container using the session's negotiated format. The buffer is
// cleared regardless of outcome.
func (a *Assembler) Complete(sampleRate, channels int) []byte {
	defer func() { a.chunks = nil }()

	switch len(a.chunks) {
	case 0:
		a.logger.Debug("utterance complete with empty buffer")
		return nil
	case 1:
		return a.chunks[0]
	}

	total := 0
	payloads := make([][]byte, 0, len(a.chunks))
	for _, chunk := range a.chunks {
		payload := ExtractPCM(chunk)
		payloads = append(payloads, payload)
		total += len(payload)
	}

	combined := make([]byte, 0, total)
	for _, payload := range payloads {
		combined = append(combined, payload...)
	}

	wav, err := EncodeWAV(combined, sampleRate, channels)
	if err != nil {
		a.logger.Error("failed to wrap combined utterance",
			"chunks", len(payloads),
			"bytes", total,
			"error", err,
		)
		return nil
	}

	a.logger.Debug("combined utterance",
		"chunks", len(payloads),
		"pcm_bytes", total,
		"wav_bytes", len(wav),
	)

	return wav
}

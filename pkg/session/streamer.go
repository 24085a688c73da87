package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/protocol"
)

// frameWriter is what the streamer needs from a session: serialized
// control and binary writes plus the wire format description.
type frameWriter interface {
	writeJSON(v interface{}) error
	writeBinary(data []byte) error
	wireFormat() (sampleRate, channels, bits int)
}

// ChunkStreamer delivers one phrase's WAV audio as a paced sequence of
// bounded binary frames bracketed by start/complete control messages.
type ChunkStreamer struct {
	w         frameWriter
	chunkSize int
	pacing    time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewChunkStreamer creates a streamer over the given writer.
func NewChunkStreamer(w frameWriter, chunkSize int, pacing time.Duration, m *metrics.Metrics, logger *slog.Logger) *ChunkStreamer {
	return &ChunkStreamer{
		w:         w,
		chunkSize: chunkSize,
		pacing:    pacing,
		metrics:   m,
		logger:    logger,
	}
}

// Send streams one phrase. The pacing delay between frames is deliberate
// flow control for constrained receivers. A failed write aborts this
// phrase and returns the error; the caller decides whether the turn
// continues.
func (cs *ChunkStreamer) Send(ctx context.Context, wav []byte, seq, totalPhrases int) error {
	sampleRate, channels, bits := cs.w.wireFormat()

	start := protocol.NewAudioStart(len(wav), sampleRate, channels, bits, cs.chunkSize, seq, totalPhrases)
	if err := cs.w.writeJSON(start); err != nil {
		cs.metrics.StreamFailures.Inc()
		return err
	}

	var sent int
	for off := 0; off < len(wav); off += cs.chunkSize {
		if err := ctx.Err(); err != nil {
			cs.metrics.StreamFailures.Inc()
			return err
		}

		end := off + cs.chunkSize
		if end > len(wav) {
			end = len(wav)
		}

		if err := cs.w.writeBinary(wav[off:end]); err != nil {
			cs.metrics.StreamFailures.Inc()
			return err
		}
		sent++
		cs.metrics.FramesSent.Inc()
		cs.metrics.BytesStreamed.Add(float64(end - off))

		if cs.pacing > 0 {
			select {
			case <-ctx.Done():
				cs.metrics.StreamFailures.Inc()
				return ctx.Err()
			case <-time.After(cs.pacing):
			}
		}
	}

	cs.logger.Debug("phrase streamed",
		"phrase", seq,
		"bytes", len(wav),
		"frames", sent,
	)

	return cs.w.writeJSON(protocol.NewAudioDone(seq, len(wav), sent))
}

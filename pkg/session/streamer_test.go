package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/protocol"
)

// scriptedWriter fails binary writes after failAfter frames (-1 = never).
type scriptedWriter struct {
	mu        sync.Mutex
	jsons     []interface{}
	frames    [][]byte
	failAfter int
}

func (w *scriptedWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jsons = append(w.jsons, v)
	return nil
}

func (w *scriptedWriter) writeBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter >= 0 && len(w.frames) >= w.failAfter {
		return errors.New("write on closed connection")
	}
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *scriptedWriter) wireFormat() (int, int, int) {
	return 16000, 1, 16
}

func newTestStreamer(w frameWriter, chunkSize int) *ChunkStreamer {
	m := metrics.NewWith(prometheus.NewRegistry())
	return NewChunkStreamer(w, chunkSize, 0, m, slog.Default())
}

func TestStreamerFraming(t *testing.T) {
	w := &scriptedWriter{failAfter: -1}
	cs := newTestStreamer(w, 4096)

	payload := make([]byte, 12000)
	if err := cs.Send(context.Background(), payload, 2, 5); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(w.frames) != 3 {
		t.Fatalf("expected 3 frames for 12000 bytes, got %d", len(w.frames))
	}
	if len(w.frames[0]) != 4096 || len(w.frames[2]) != 12000-2*4096 {
		t.Errorf("unexpected frame sizes %d, %d, %d",
			len(w.frames[0]), len(w.frames[1]), len(w.frames[2]))
	}

	start, ok := w.jsons[0].(protocol.AudioStart)
	if !ok {
		t.Fatalf("first control message is %T, want AudioStart", w.jsons[0])
	}
	if start.Chunks != 3 || start.TotalBytes != 12000 || start.Phrase != 2 || start.TotalPhrases != 5 {
		t.Errorf("unexpected audio_start %+v", start)
	}

	done, ok := w.jsons[len(w.jsons)-1].(protocol.AudioDone)
	if !ok {
		t.Fatalf("last control message is %T, want AudioDone", w.jsons[len(w.jsons)-1])
	}
	if done.ChunksSent != 3 || done.TotalBytes != 12000 {
		t.Errorf("unexpected audio_complete %+v", done)
	}
}

func TestStreamerAbortsOnWriteFailure(t *testing.T) {
	w := &scriptedWriter{failAfter: 1}
	cs := newTestStreamer(w, 4096)

	err := cs.Send(context.Background(), make([]byte, 12000), 1, 1)
	if err == nil {
		t.Fatal("expected error on write failure")
	}
	if len(w.frames) != 1 {
		t.Errorf("expected streaming to stop after failure, sent %d frames", len(w.frames))
	}
	// No audio_complete after an aborted stream.
	for _, v := range w.jsons {
		if _, ok := v.(protocol.AudioDone); ok {
			t.Error("audio_complete sent despite aborted stream")
		}
	}
}

func TestStreamerHonorsCancellation(t *testing.T) {
	w := &scriptedWriter{failAfter: -1}
	cs := newTestStreamer(w, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cs.Send(ctx, make([]byte, 8192), 1, 1); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(w.frames) != 0 {
		t.Errorf("frames sent despite cancelled context: %d", len(w.frames))
	}
}

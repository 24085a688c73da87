package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Synthesizer for testing.
// Behavior can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns a silent clip sized to the text.
	SynthesizeFunc func(ctx context.Context, text string) (*Clip, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls []string
}

// NewMock creates a mock provider that returns fake audio for any phrase.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*Clip, error) {
			// ~160 bytes per character keeps fake clips above the
			// pipeline's minimum audio threshold for normal phrases.
			audio := make([]byte, len(text)*160)
			return &Clip{
				Audio:     audio,
				MIME:      "audio/mpeg",
				Duration:  time.Duration(len(text)) * 60 * time.Millisecond,
				CharCount: len(text),
				LatencyMs: 5,
			}, nil
		},
	}
}

// Synthesize calls SynthesizeFunc and records the phrase.
func (m *Mock) Synthesize(ctx context.Context, text string) (*Clip, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, ErrEmptyText
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Calls returns the phrases passed to Synthesize, in call order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// WithError returns a mock whose Synthesize always fails.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*Clip, error) {
			return nil, err
		},
	}
}

// Verify Mock implements Synthesizer at compile time.
var _ Synthesizer = (*Mock)(nil)

// Package stt wraps an external speech-to-text capability behind a uniform
// async call with size and timeout guards.
//
// The Adapter is what the pipeline consumes: it never returns an error for
// operational failures. Silence, provider errors, and timeouts all come back
// as an empty string, which callers must treat as "no speech detected".
package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Common errors returned by transcription providers.
var (
	ErrMissingEndpoint = errors.New("stt: endpoint required")
	ErrMissingAPIKey   = errors.New("stt: API key required")
)

// Default guard values.
const (
	// DefaultMinBytes is the threshold below which audio is treated as
	// silence or noise, not worth a network round-trip.
	DefaultMinBytes = 10000

	// DefaultTimeout is the hard ceiling on one transcription call.
	DefaultTimeout = 30 * time.Second
)

// Transcriber is the raw provider interface.
type Transcriber interface {
	// Transcribe converts audio to text. mimeHint describes the container
	// (e.g. "audio/wav").
	Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error)
}

// Adapter applies the pipeline's guard policy around a Transcriber.
type Adapter struct {
	provider Transcriber
	minBytes int
	timeout  time.Duration
	logger   *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithMinBytes overrides the silence threshold.
func WithMinBytes(n int) AdapterOption {
	return func(a *Adapter) { a.minBytes = n }
}

// WithTimeout overrides the per-call ceiling.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l.With("component", "stt.adapter") }
}

// NewAdapter wraps a provider with the guard policy.
func NewAdapter(provider Transcriber, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		provider: provider,
		minBytes: DefaultMinBytes,
		timeout:  DefaultTimeout,
		logger:   slog.Default().With("component", "stt.adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MinBytes reports the silence threshold: inputs shorter than this are
// never sent to the provider.
func (a *Adapter) MinBytes() int {
	return a.minBytes
}

// Transcribe runs one guarded transcription. It never returns an error:
// short input, provider failure, and timeout all yield "".
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, mimeHint string) string {
	if len(audio) < a.minBytes {
		a.logger.Warn("audio too short for transcription",
			"bytes", len(audio),
			"min_bytes", a.minBytes,
		)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	text, err := a.provider.Transcribe(ctx, audio, mimeHint)
	if err != nil {
		a.logger.Error("transcription failed",
			"bytes", len(audio),
			"elapsed", time.Since(start),
			"error", err,
		)
		return ""
	}

	text = strings.TrimSpace(text)
	a.logger.Debug("transcription complete",
		"bytes", len(audio),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return text
}

// Package tts converts response phrases to speech through an external
// text-to-speech API.
//
// Providers return compressed audio (MP3 by default); the streaming
// pipeline transcodes clips to the wire format before sending them to
// handheld guide devices.
package tts

import (
	"context"
	"time"
)

// Synthesizer defines the text-to-speech provider interface.
type Synthesizer interface {
	// Synthesize converts one phrase to audio, returning the complete clip.
	Synthesize(ctx context.Context, text string) (*Clip, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Clip is a complete synthesis result for one phrase.
type Clip struct {
	// Audio contains the raw audio data in the provider's output encoding.
	Audio []byte

	// MIME describes the encoding (e.g. "audio/mpeg").
	MIME string

	// Duration is the estimated playback length.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int64
}

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls how closely the voice matches the sample (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for a docent voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

// estimateMP3Duration gives a rough playback length for a 128kbps clip.
func estimateMP3Duration(byteLen int) time.Duration {
	const bytesPerSecond = 128_000 / 8
	return time.Duration(float64(byteLen) / bytesPerSecond * float64(time.Second))
}

package audio

import (
	"bytes"
	"testing"
)

func TestAssemblerEmptyComplete(t *testing.T) {
	a := NewAssembler(nil)

	if got := a.Complete(16000, 1); got != nil {
		t.Errorf("Complete() on empty buffer = %d bytes, want nil", len(got))
	}
}

func TestAssemblerSingleChunkPassthrough(t *testing.T) {
	a := NewAssembler(nil)

	// A single chunk is already a complete container and must come back
	// byte-for-byte, even if it is not a WAV.
	chunk := makePCM(200)
	a.AddChunk(0, chunk)

	got := a.Complete(16000, 1)
	if !bytes.Equal(got, chunk) {
		t.Error("single-chunk Complete() modified the payload")
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() after Complete = %d, want 0", a.Pending())
	}
}

func TestAssemblerMultiChunkConcatenation(t *testing.T) {
	a := NewAssembler(nil)

	// Three raw 4000-byte chunks must reassemble into exactly 12000 bytes
	// of payload inside one WAV container.
	var want []byte
	for i := 0; i < 3; i++ {
		chunk := makePCM(4000)
		a.AddChunk(i, chunk)
		want = append(want, chunk...)
	}

	got := a.Complete(16000, 1)
	if got == nil {
		t.Fatal("Complete() = nil")
	}

	info, payload, err := DecodeWAV(got)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("container format = %d Hz %d ch, want 16000 Hz 1 ch", info.SampleRate, info.Channels)
	}
	if len(payload) != 12000 {
		t.Errorf("payload length = %d, want 12000", len(payload))
	}
	if !bytes.Equal(payload, want) {
		t.Error("payload does not equal concatenated chunks")
	}
}

func TestAssemblerStripsPerChunkHeaders(t *testing.T) {
	a := NewAssembler(nil)

	// Mixed input: wrapped chunks contribute only their PCM payload.
	raw0 := makePCM(1000)
	raw1 := makePCM(1000)
	wrapped, err := EncodeWAV(raw1, 44100, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	a.AddChunk(0, raw0)
	a.AddChunk(1, wrapped)

	got := a.Complete(16000, 1)
	_, payload, err := DecodeWAV(got)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}

	want := append(append([]byte{}, raw0...), raw1...)
	if !bytes.Equal(payload, want) {
		t.Error("per-chunk WAV header was not stripped before concatenation")
	}
}

func TestAssemblerResetOnChunkZero(t *testing.T) {
	a := NewAssembler(nil)

	// An abandoned utterance must be discarded entirely when a new one
	// starts: no mixing of two utterances.
	a.AddChunk(0, makePCM(500))
	a.AddChunk(1, makePCM(500))

	fresh := makePCM(200)
	a.AddChunk(0, fresh)

	got := a.Complete(16000, 1)
	if !bytes.Equal(got, fresh) {
		t.Errorf("Complete() after reset = %d bytes, want the %d-byte fresh chunk only", len(got), len(fresh))
	}
}

func TestAssemblerClearsAfterFailedWrap(t *testing.T) {
	a := NewAssembler(nil)

	// Two chunks whose payloads strip to nothing force EncodeWAV to fail;
	// the buffer must still be cleared.
	a.AddChunk(0, nil)
	a.AddChunk(1, nil)

	if got := a.Complete(16000, 1); got != nil {
		t.Errorf("Complete() = %d bytes, want nil", len(got))
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() after failed Complete = %d, want 0", a.Pending())
	}
}

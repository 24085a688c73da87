package audio

import (
	"context"
	"testing"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name    string
		in      []int16
		from    int
		to      int
		wantLen int
	}{
		{name: "same rate passthrough", in: []int16{1, 2, 3, 4}, from: 16000, to: 16000, wantLen: 4},
		{name: "downsample halves", in: make([]int16, 800), from: 32000, to: 16000, wantLen: 400},
		{name: "upsample doubles", in: make([]int16, 400), from: 8000, to: 16000, wantLen: 800},
		{name: "empty input", in: nil, from: 44100, to: 16000, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resample(tt.in, tt.from, tt.to)
			if len(got) != tt.wantLen {
				t.Errorf("Resample() length = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := make([]int16, 1000)
	for i := range in {
		in[i] = 1000
	}

	out := Resample(in, 48000, 16000)
	for i, s := range out[:len(out)-1] {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	stereo := []int16{100, 200, -100, -200, 30000, 30000}
	want := []int16{150, -150, 30000}

	got := downmixStereo(stereo)
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWireWAVFromWAV(t *testing.T) {
	tr := NewTranscoder(WireFormat, 2, nil)

	// 44.1kHz stereo source must come out as 16kHz mono WAV.
	src, err := EncodeWAV(makePCM(44100*2*2), 44100, 2) // one second
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	out, err := tr.WireWAV(context.Background(), src)
	if err != nil {
		t.Fatalf("WireWAV() error = %v", err)
	}

	info, payload, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("wire format = %+v, want 16000/1/16", info)
	}

	// One second in, roughly one second out.
	gotSamples := len(payload) / 2
	if gotSamples < 15900 || gotSamples > 16100 {
		t.Errorf("output samples = %d, want ~16000", gotSamples)
	}
}

func TestWireWAVRejectsGarbage(t *testing.T) {
	tr := NewTranscoder(WireFormat, 2, nil)

	if _, err := tr.WireWAV(context.Background(), nil); err == nil {
		t.Error("WireWAV(nil) expected error")
	}
	if _, err := tr.WireWAV(context.Background(), []byte("definitely not audio")); err == nil {
		t.Error("WireWAV(garbage) expected error")
	}
}

func TestWireWAVHonorsCancellation(t *testing.T) {
	tr := NewTranscoder(WireFormat, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src, _ := EncodeWAV(makePCM(3200), 16000, 1)
	if _, err := tr.WireWAV(ctx, src); err == nil {
		t.Error("WireWAV() with cancelled context expected error")
	}
}

func TestLooksLikeMP3(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "id3 tag", data: []byte("ID3\x04\x00rest"), want: true},
		{name: "frame sync", data: []byte{0xFF, 0xFB, 0x90, 0x00}, want: true},
		{name: "wav", data: []byte("RIFFxxxxWAVE"), want: false},
		{name: "short", data: []byte{0xFF}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeMP3(tt.data); got != tt.want {
				t.Errorf("looksLikeMP3() = %v, want %v", got, tt.want)
			}
		})
	}
}

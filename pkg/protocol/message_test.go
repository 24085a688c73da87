package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType MessageType
		wantErr  bool
	}{
		{
			name:     "register with settings",
			raw:      `{"type":"register","audio_settings":{"sample_rate":44100,"channels":1,"bits":16}}`,
			wantType: TypeRegister,
		},
		{
			name:     "audio chunk",
			raw:      `{"type":"audio_chunk","audio":"AAAA","chunk_id":3}`,
			wantType: TypeAudioChunk,
		},
		{
			name:     "audio complete",
			raw:      `{"type":"audio_complete","total_chunks":7}`,
			wantType: TypeAudioComplete,
		},
		{
			name:     "text query",
			raw:      `{"type":"text_query","text":"where are the pandas"}`,
			wantType: TypeTextQuery,
		},
		{
			name:     "ping",
			raw:      `{"type":"ping"}`,
			wantType: TypePing,
		},
		{
			name:    "missing type",
			raw:     `{"audio":"AAAA"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `this is not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClientMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", msg.Type, tt.wantType)
			}
		})
	}
}

func TestDecodeAudio(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0xFF}
	msg := NewAudioChunk(payload, 0)

	got, err := msg.DecodeAudio()
	if err != nil {
		t.Fatalf("DecodeAudio() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("DecodeAudio() = %v, want %v", got, payload)
	}
}

func TestDecodeAudioErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{name: "empty audio", msg: ClientMessage{Type: TypeAudioChunk}},
		{name: "bad base64", msg: ClientMessage{Type: TypeAudioChunk, Audio: "!!not-base64!!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.msg.DecodeAudio(); err == nil {
				t.Error("DecodeAudio() expected error, got nil")
			}
		})
	}
}

func TestAudioSettingsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   AudioSettings
		want AudioSettings
	}{
		{
			name: "all zero uses defaults",
			in:   AudioSettings{},
			want: AudioSettings{SampleRate: 16000, Channels: 1, Bits: 16},
		},
		{
			name: "negotiated values kept",
			in:   AudioSettings{SampleRate: 44100, Channels: 2, Bits: 16},
			want: AudioSettings{SampleRate: 44100, Channels: 2, Bits: 16},
		},
		{
			name: "partial fills the rest",
			in:   AudioSettings{SampleRate: 22050},
			want: AudioSettings{SampleRate: 22050, Channels: 1, Bits: 16},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewAudioStartChunkCount(t *testing.T) {
	tests := []struct {
		totalBytes int
		chunkSize  int
		want       int
	}{
		{totalBytes: 4096, chunkSize: 4096, want: 1},
		{totalBytes: 4097, chunkSize: 4096, want: 2},
		{totalBytes: 12000, chunkSize: 4096, want: 3},
		{totalBytes: 1, chunkSize: 4096, want: 1},
	}

	for _, tt := range tests {
		start := NewAudioStart(tt.totalBytes, 16000, 1, 16, tt.chunkSize, 1, 1)
		if start.Chunks != tt.want {
			t.Errorf("NewAudioStart(%d, chunk=%d).Chunks = %d, want %d",
				tt.totalBytes, tt.chunkSize, start.Chunks, tt.want)
		}
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	start := NewAudioStart(12000, 16000, 1, 16, 4096, 2, 5)

	data, err := json.Marshal(start)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded["type"] != string(TypeAudioStart) {
		t.Errorf("type = %v, want %v", decoded["type"], TypeAudioStart)
	}
	if decoded["total_bytes"] != float64(12000) {
		t.Errorf("total_bytes = %v, want 12000", decoded["total_bytes"])
	}
	if decoded["chunks"] != float64(3) {
		t.Errorf("chunks = %v, want 3", decoded["chunks"])
	}
	if decoded["phrase"] != float64(2) {
		t.Errorf("phrase = %v, want 2", decoded["phrase"])
	}
}

func TestClientMessageRoundTrip(t *testing.T) {
	payload := []byte("pcm samples here")
	chunk := NewAudioChunk(payload, 4)

	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	parsed, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if parsed.Type != TypeAudioChunk {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeAudioChunk)
	}
	if parsed.ChunkID != 4 {
		t.Errorf("ChunkID = %d, want 4", parsed.ChunkID)
	}
	if parsed.Audio != base64.StdEncoding.EncodeToString(payload) {
		t.Errorf("Audio field not preserved")
	}
}

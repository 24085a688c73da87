package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	mp3 "github.com/hajimehoshi/go-mp3"
	"golang.org/x/sync/semaphore"
	opus "gopkg.in/hraban/opus.v2"
)

// opusStreamRate is the fixed decode rate of ogg/opus streams.
const opusStreamRate = 48000

// Format describes a PCM audio format.
type Format struct {
	SampleRate int
	Channels   int
	Bits       int
}

// WireFormat is the default format streamed to guide clients: audio small
// hardware can play directly over I2S.
var WireFormat = Format{SampleRate: 16000, Channels: 1, Bits: 16}

// Transcoder converts synthesized audio (MP3, ogg/opus, or WAV) into the
// wire format. Decoding and resampling are CPU-bound, so concurrent
// conversions are limited by a bounded worker pool shared across all
// clients.
type Transcoder struct {
	target Format
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewTranscoder creates a transcoder targeting the given wire format with at
// most maxWorkers concurrent conversions.
func NewTranscoder(target Format, maxWorkers int64, logger *slog.Logger) *Transcoder {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		target: target,
		sem:    semaphore.NewWeighted(maxWorkers),
		logger: logger.With("component", "audio.transcoder"),
	}
}

// Target returns the wire format this transcoder produces.
func (t *Transcoder) Target() Format {
	return t.target
}

// WireWAV converts audio into a WAV container in the wire format. The input
// container is sniffed; MP3, ogg/opus, and PCM WAV are supported. Blocks
// until a worker slot is free or ctx is cancelled.
func (t *Transcoder) WireWAV(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio input")
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire transcode worker: %w", err)
	}
	defer t.sem.Release(1)

	pcm, srcRate, err := t.decode(data)
	if err != nil {
		return nil, err
	}

	if srcRate != t.target.SampleRate {
		pcm = Resample(pcm, srcRate, t.target.SampleRate)
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("decoded audio is empty")
	}

	return EncodeWAV(pcmToBytes(pcm), t.target.SampleRate, t.target.Channels)
}

// decode sniffs the container and returns mono PCM16 samples and their rate.
func (t *Transcoder) decode(data []byte) ([]int16, int, error) {
	switch {
	case IsWAV(data):
		return decodeWAVToMono(data)
	case bytes.HasPrefix(data, []byte("OggS")):
		return decodeOpusToMono(data)
	case looksLikeMP3(data):
		return decodeMP3ToMono(data)
	default:
		return nil, 0, fmt.Errorf("unrecognized audio container (%d bytes)", len(data))
	}
}

func looksLikeMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	// Frame sync: 11 set bits.
	return len(data) > 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWAVToMono(data []byte) ([]int16, int, error) {
	info, payload, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	pcm, err := bytesToPCM(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav payload: %w", err)
	}
	if info.Channels == 2 {
		pcm = downmixStereo(pcm)
	}
	return pcm, info.SampleRate, nil
}

// decodeMP3ToMono decodes an MP3 stream. go-mp3 always produces 16-bit
// stereo at the stream's native rate.
func decodeMP3ToMono(data []byte) ([]int16, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 frames: %w", err)
	}

	stereo, err := bytesToPCM(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 produced odd byte count: %w", err)
	}

	return downmixStereo(stereo), dec.SampleRate(), nil
}

// decodeOpusToMono decodes an ogg/opus stream. libopusfile always decodes
// at 48 kHz; ReadStereo gives a fixed channel layout regardless of the
// encoded one.
func decodeOpusToMono(data []byte) ([]int16, int, error) {
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode opus: %w", err)
	}
	defer stream.Close()

	var stereo []int16
	buf := make([]int16, 16384)
	for {
		n, err := stream.ReadStereo(buf)
		if n > 0 {
			stereo = append(stereo, buf[:n*2]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read opus frames: %w", err)
		}
	}

	return downmixStereo(stereo), opusStreamRate, nil
}

// Resample performs linear interpolation resampling of mono PCM16 samples.
func Resample(input []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(input) == 0 {
		return input
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx+1 < len(input) {
			sample1 := float64(input[srcIdx])
			sample2 := float64(input[srcIdx+1])
			output[i] = int16(sample1 + (sample2-sample1)*frac)
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}

	return output
}

// downmixStereo averages interleaved stereo samples into mono.
func downmixStereo(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return mono
}

func bytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

func pcmToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, val := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(val))
	}
	return data
}

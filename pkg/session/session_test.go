package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/audio"
	"github.com/parkwalk/go-docent/pkg/inference"
	"github.com/parkwalk/go-docent/pkg/protocol"
	"github.com/parkwalk/go-docent/pkg/stt"
	"github.com/parkwalk/go-docent/pkg/tts"
	"github.com/parkwalk/go-docent/pkg/vision"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu     sync.Mutex
	jsons  []interface{}
	frames [][]byte
	fail   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.jsons = append(c.jsons, v)
	return nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

// audioStarts returns the AudioStart messages written so far.
func (c *fakeConn) audioStarts() []protocol.AudioStart {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.AudioStart
	for _, v := range c.jsons {
		if m, ok := v.(protocol.AudioStart); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) audioDones() []protocol.AudioDone {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.AudioDone
	for _, v := range c.jsons {
		if m, ok := v.(protocol.AudioDone); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) sttResults() []protocol.STTResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.STTResult
	for _, v := range c.jsons {
		if m, ok := v.(protocol.STTResult); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) errorMessages() []protocol.ErrorMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.ErrorMessage
	for _, v := range c.jsons {
		if m, ok := v.(protocol.ErrorMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// wavClip builds a synthesized clip big enough to pass the minimum
// audio threshold and valid enough to transcode.
func wavClip(t *testing.T, samples int) []byte {
	t.Helper()
	pcm := make([]byte, samples*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav, err := audio.EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

// wavTTS returns a mock synthesizer producing valid WAV clips.
func wavTTS(t *testing.T) *tts.Mock {
	t.Helper()
	clip := wavClip(t, 3200)
	return &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.Clip, error) {
			return &tts.Clip{Audio: clip, MIME: "audio/wav", CharCount: len(text)}, nil
		},
	}
}

func testDeps(t *testing.T, llm inference.Provider, synth tts.Synthesizer) Deps {
	t.Helper()
	return Deps{
		STT:        stt.NewAdapter(stt.NewMock("tell me about the red pandas please"), stt.WithMinBytes(1)),
		LLM:        llm,
		TTS:        synth,
		Transcoder: audio.NewTranscoder(audio.WireFormat, 2, slog.Default()),
		Vision:     vision.NewStore(),
		Metrics:    metrics.NewWith(prometheus.NewRegistry()),
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PacingDelay = 0
	return opts
}

// threePhraseResponse segments into exactly three phrases under default
// word bounds.
const threePhraseResponse = "Red pandas live in the eastern Himalayas and spend their lives in trees. " +
	"They eat bamboo but also enjoy fruit and insects when they find them. " +
	"Come back at feeding time to watch them climb down."

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTextQueryTurnStreamsOrderedPhrases(t *testing.T) {
	conn := &fakeConn{}

	// Later phrases complete first; output order must still be ascending.
	var calls int32
	clip := wavClip(t, 3200)
	synth := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.Clip, error) {
			n := atomic.AddInt32(&calls, 1)
			time.Sleep(time.Duration(4-n) * 40 * time.Millisecond)
			return &tts.Clip{Audio: clip, MIME: "audio/wav"}, nil
		},
	}

	store := NewStore(testDeps(t, inference.NewMock(threePhraseResponse), synth), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeTextQuery, Text: "tell me about red pandas"})

	waitFor(t, func() bool { return len(conn.audioDones()) == 3 }, "3 streamed phrases")

	starts := conn.audioStarts()
	if len(starts) != 3 {
		t.Fatalf("expected 3 audio_start messages, got %d", len(starts))
	}
	for i, msg := range starts {
		if msg.Phrase != i+1 {
			t.Errorf("audio_start %d has phrase %d, want %d", i, msg.Phrase, i+1)
		}
		if msg.TotalPhrases != 3 {
			t.Errorf("audio_start %d reports %d total phrases", i, msg.TotalPhrases)
		}
		if msg.SampleRate != 16000 || msg.Channels != 1 || msg.BitsPerSample != 16 {
			t.Errorf("audio_start %d has wrong wire format: %+v", i, msg)
		}
	}

	// Every announced byte must have been framed.
	var announced int
	for _, msg := range starts {
		announced += msg.TotalBytes
	}
	var framed int
	conn.mu.Lock()
	for _, f := range conn.frames {
		framed += len(f)
	}
	conn.mu.Unlock()
	if framed != announced {
		t.Errorf("framed %d bytes, announced %d", framed, announced)
	}
}

func TestSynthesisFailureSkipsOnlyThatPhrase(t *testing.T) {
	conn := &fakeConn{}

	clip := wavClip(t, 3200)
	var calls int32
	synth := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.Clip, error) {
			if atomic.AddInt32(&calls, 1) == 2 {
				return nil, errors.New("voice service hiccup")
			}
			return &tts.Clip{Audio: clip, MIME: "audio/wav"}, nil
		},
	}

	store := NewStore(testDeps(t, inference.NewMock(threePhraseResponse), synth), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeTextQuery, Text: "hello"})

	waitFor(t, func() bool { return len(conn.audioDones()) == 2 }, "2 surviving phrases")

	starts := conn.audioStarts()
	if len(starts) != 2 {
		t.Fatalf("expected 2 audio_start messages, got %d", len(starts))
	}
	// The failed phrase is skipped; survivors keep their sequence numbers.
	if starts[0].Phrase >= starts[1].Phrase {
		t.Errorf("phrases out of order: %d then %d", starts[0].Phrase, starts[1].Phrase)
	}
}

func TestAudioTurnEmptyUtterance(t *testing.T) {
	conn := &fakeConn{}
	llm := inference.NewMock("should never be asked")

	store := NewStore(testDeps(t, llm, wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	// Complete with no buffered chunks.
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeAudioComplete})

	waitFor(t, func() bool { return len(conn.sttResults()) == 1 }, "stt result")

	res := conn.sttResults()[0]
	if res.Text != "" || res.Error == "" {
		t.Errorf("expected empty result with error, got %+v", res)
	}
	if len(llm.Requests()) != 0 {
		t.Error("LLM was invoked for an empty utterance")
	}
}

func TestAudioTurnRunsFullPipeline(t *testing.T) {
	conn := &fakeConn{}

	store := NewStore(testDeps(t, inference.NewMock(threePhraseResponse), wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())

	utterance := wavClip(t, 8000)
	sess.HandleMessage(protocolAudioChunk(utterance, 0))
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeAudioComplete, TotalChunks: 1})

	waitFor(t, func() bool { return len(conn.audioDones()) == 3 }, "full pipeline output")

	results := conn.sttResults()
	if len(results) != 1 || results[0].Text == "" {
		t.Fatalf("expected transcription result, got %+v", results)
	}
	if conn.frameCount() == 0 {
		t.Error("no audio frames streamed")
	}
}

func TestVisionContextReachesPrompt(t *testing.T) {
	conn := &fakeConn{}
	llm := inference.NewMock(threePhraseResponse)
	deps := testDeps(t, llm, wavTTS(t))
	deps.Vision.Observe(vision.Detection{ClientID: "c1", Label: "red panda"})

	store := NewStore(deps, testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeTextQuery, Text: "what is that?"})

	waitFor(t, func() bool { return len(llm.Requests()) == 1 }, "LLM request")

	req := llm.Requests()[0]
	if len(req.Messages) == 0 || req.Messages[0].Role != inference.RoleSystem {
		t.Fatal("prompt missing system message")
	}
	if !strings.Contains(req.Messages[0].Content, "red panda") {
		t.Errorf("system prompt missing detected subject: %q", req.Messages[0].Content)
	}
}

func TestPingAndSettings(t *testing.T) {
	conn := &fakeConn{}
	store := NewStore(testDeps(t, inference.NewMock("x"), wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())

	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypePing})
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeSettings, SampleRate: 22050, Channels: 2, Bits: 16})

	conn.mu.Lock()
	var gotPong, gotAck bool
	for _, v := range conn.jsons {
		switch v.(type) {
		case protocol.Pong:
			gotPong = true
		case protocol.SettingsAck:
			gotAck = true
		}
	}
	conn.mu.Unlock()

	if !gotPong {
		t.Error("ping not answered")
	}
	if !gotAck {
		t.Error("settings not acknowledged")
	}
	if got := sess.Settings(); got.SampleRate != 22050 || got.Channels != 2 {
		t.Errorf("settings not stored: %+v", got)
	}
}

func TestStoreReplacesSessionSafely(t *testing.T) {
	store := NewStore(testDeps(t, inference.NewMock("x"), wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	first := store.Create("c1", &fakeConn{}, protocol.DefaultAudioSettings())
	second := store.Create("c1", &fakeConn{}, protocol.DefaultAudioSettings())

	if first.State() != StateClosed {
		t.Error("old session not closed on reconnect")
	}
	if second.State() == StateClosed {
		t.Error("new session closed unexpectedly")
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d sessions, want 1", store.Len())
	}

	got, ok := store.Get("c1")
	if !ok || got != second {
		t.Error("store does not resolve to the new session")
	}
}

func TestRemoveForgetsVisionContext(t *testing.T) {
	deps := testDeps(t, inference.NewMock("x"), wavTTS(t))
	store := NewStore(deps, testOptions(), slog.Default())

	store.Create("c1", &fakeConn{}, protocol.DefaultAudioSettings())
	deps.Vision.Observe(vision.Detection{ClientID: "c1", Label: "otter"})

	store.Remove("c1")

	if _, ok := deps.Vision.Subject("c1"); ok {
		t.Error("vision context survived session removal")
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d sessions after removal", store.Len())
	}

	// Removing again is a no-op.
	store.Remove("c1")
}

func TestUnknownMessageIgnored(t *testing.T) {
	conn := &fakeConn{}
	store := NewStore(testDeps(t, inference.NewMock("x"), wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(&protocol.ClientMessage{Type: "telemetry"})

	if sess.State() == StateClosed {
		t.Error("unknown message closed the session")
	}
}

func TestStaleDisconnectKeepsReplacementSession(t *testing.T) {
	store := NewStore(testDeps(t, inference.NewMock("x"), wavTTS(t)), testOptions(), slog.Default())
	defer store.CloseAll()

	first := store.Create("c1", &fakeConn{}, protocol.DefaultAudioSettings())
	second := store.Create("c1", &fakeConn{}, protocol.DefaultAudioSettings())

	// The first connection's read loop exits late, after its session was
	// already replaced; its removal must not touch the replacement.
	if store.RemoveIf("c1", first) {
		t.Error("stale disconnect removed a session it no longer owned")
	}
	got, ok := store.Get("c1")
	if !ok || got != second {
		t.Fatal("replacement session lost after stale disconnect")
	}
	if second.State() == StateClosed {
		t.Error("replacement session closed by stale disconnect")
	}

	// The replacement's own disconnect still tears it down.
	if !store.RemoveIf("c1", second) {
		t.Error("owning connection could not remove its session")
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d sessions after removal", store.Len())
	}
}

func TestMissingProvidersFailTurnWithoutPanic(t *testing.T) {
	conn := &fakeConn{}
	store := NewStore(Deps{}, testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())

	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeTextQuery, Text: "hello"})
	waitFor(t, func() bool { return len(conn.errorMessages()) == 1 }, "text turn error reply")

	sess.HandleMessage(protocolAudioChunk(wavClip(t, 200), 0))
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeAudioComplete, TotalChunks: 1})
	waitFor(t, func() bool { return len(conn.errorMessages()) == 2 }, "audio turn error reply")

	if sess.State() == StateClosed {
		t.Error("session died instead of failing the turn")
	}
}

func TestRemoveMidTurnCancelsStreaming(t *testing.T) {
	conn := &fakeConn{}

	clip := wavClip(t, 3200)
	synth := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.Clip, error) {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &tts.Clip{Audio: clip, MIME: "audio/wav"}, nil
		},
	}

	opts := testOptions()
	opts.PacingDelay = 20 * time.Millisecond

	store := NewStore(testDeps(t, inference.NewMock(threePhraseResponse), synth), opts, slog.Default())

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeTextQuery, Text: "tell me everything"})

	waitFor(t, func() bool { return conn.frameCount() > 0 }, "streaming to begin")

	removed := make(chan struct{})
	go func() {
		store.Remove("c1")
		close(removed)
	}()
	select {
	case <-removed:
	case <-time.After(5 * time.Second):
		t.Fatal("Remove did not return while a turn was in flight")
	}

	if sess.State() != StateClosed {
		t.Errorf("session state %v after removal, want closed", sess.State())
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d sessions after mid-turn removal", store.Len())
	}

	// Cancellation must stop the frame flow, not just forget the session.
	n := conn.frameCount()
	time.Sleep(60 * time.Millisecond)
	if conn.frameCount() != n {
		t.Error("frames kept streaming after the session was removed")
	}
}

func TestShortUtteranceSkipsTranscription(t *testing.T) {
	conn := &fakeConn{}
	llm := inference.NewMock("should never be asked")

	deps := testDeps(t, llm, wavTTS(t))
	deps.STT = stt.NewAdapter(stt.NewMock("never"), stt.WithMinBytes(10000))

	store := NewStore(deps, testOptions(), slog.Default())
	defer store.CloseAll()

	sess := store.Create("c1", conn, protocol.DefaultAudioSettings())
	sess.HandleMessage(protocolAudioChunk(wavClip(t, 100), 0))
	sess.HandleMessage(&protocol.ClientMessage{Type: protocol.TypeAudioComplete, TotalChunks: 1})

	waitFor(t, func() bool { return len(conn.sttResults()) == 1 }, "stt result")

	res := conn.sttResults()[0]
	if res.Text != "" || res.Error == "" {
		t.Errorf("expected empty result with error, got %+v", res)
	}
	if got := testutil.ToFloat64(deps.Metrics.STTSkipped); got != 1 {
		t.Errorf("stt skipped counter = %v, want 1", got)
	}
	if len(llm.Requests()) != 0 {
		t.Error("LLM invoked for a skipped utterance")
	}
}

func TestIDLocksReleasedAfterRemoval(t *testing.T) {
	store := NewStore(testDeps(t, inference.NewMock("x"), wavTTS(t)), testOptions(), slog.Default())

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("visitor-%d", i)
		store.Create(id, &fakeConn{}, protocol.DefaultAudioSettings())
		store.Remove(id)
	}

	store.mu.Lock()
	locks := len(store.idLocks)
	store.mu.Unlock()
	if locks != 0 {
		t.Errorf("%d id locks retained after all sessions were removed", locks)
	}
}

func protocolAudioChunk(payload []byte, chunkID int) *protocol.ClientMessage {
	msg := protocol.NewAudioChunk(payload, chunkID)
	return &msg
}

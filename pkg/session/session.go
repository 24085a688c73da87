// Package session owns the per-client lifecycle of the guide pipeline:
// one inbound queue, one consumer goroutine, and one settings record per
// connected client, plus the conversational turn that runs reassembly,
// transcription, response generation, synthesis, and streaming.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/audio"
	"github.com/parkwalk/go-docent/pkg/inference"
	"github.com/parkwalk/go-docent/pkg/protocol"
	"github.com/parkwalk/go-docent/pkg/stt"
	"github.com/parkwalk/go-docent/pkg/tts"
	"github.com/parkwalk/go-docent/pkg/vision"
)

// binaryMessage matches the websocket binary frame opcode.
const binaryMessage = 2

// Conn is the subset of a websocket connection a session writes to.
// Both gofiber/contrib/websocket and gorilla/websocket connections
// satisfy it directly.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
}

// FactSource looks up background facts for a detected subject.
type FactSource interface {
	Facts(ctx context.Context, label string) ([]string, error)
}

// Deps are the external capabilities a session drives.
type Deps struct {
	STT        *stt.Adapter
	LLM        inference.Provider
	TTS        tts.Synthesizer
	Transcoder *audio.Transcoder

	// Vision and Facts are optional context sources.
	Vision *vision.Store
	Facts  FactSource

	// Notify, when set, receives operational events for monitoring.
	Notify func(kind, clientID, detail string)

	// Metrics is dereferenced throughout the pipeline; NewStore fills a
	// nil value with an unregistered set.
	Metrics *metrics.Metrics
}

// Event kinds passed to Deps.Notify.
const (
	EventTurnCompleted = "turn_completed"
)

// Options tune per-session pipeline behavior.
type Options struct {
	// QueueSize bounds the inbound item queue per client.
	QueueSize int

	// MinWords and MaxWords tune phrase segmentation.
	MinWords int
	MaxWords int

	// SynthTimeout is the per-phrase synthesis ceiling.
	SynthTimeout time.Duration

	// MinAudioBytes is the smallest synthesized clip worth streaming.
	MinAudioBytes int

	// ChunkSize is the outbound binary frame size.
	ChunkSize int

	// PacingDelay is the inter-frame flow control delay.
	PacingDelay time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		QueueSize:     100,
		MinWords:      8,
		MaxWords:      20,
		SynthTimeout:  30 * time.Second,
		MinAudioBytes: 100,
		ChunkSize:     4096,
		PacingDelay:   time.Millisecond,
	}
}

// State is the session lifecycle state.
type State int

// Session states. A session is created registered; it cycles through
// StateStreaming during turns and ends closed.
const (
	StateRegistered State = iota
	StateStreaming
	StateClosed
)

// String implements fmt.Stringer for logs.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type itemKind int

const (
	itemChunk itemKind = iota
	itemComplete
	itemText
)

// item is one inbound queue entry: an audio chunk, an utterance-complete
// marker, or a direct text query.
type item struct {
	kind    itemKind
	index   int
	payload []byte
	text    string
}

// Session is one connected guide client.
type Session struct {
	ID string

	mu       sync.Mutex
	state    State
	settings protocol.AudioSettings

	writeMu sync.Mutex
	conn    Conn

	queue     chan item
	assembler *audio.Assembler
	conv      *inference.Conversation
	streamer  *ChunkStreamer

	deps Deps
	opts Options

	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.Once
	done    chan struct{}

	logger    *slog.Logger
	createdAt time.Time
}

// newSession builds a session and starts its consumer goroutine.
func newSession(id string, conn Conn, settings protocol.AudioSettings, deps Deps, opts Options, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:        id,
		state:     StateRegistered,
		settings:  settings.Normalize(),
		conn:      conn,
		queue:     make(chan item, opts.QueueSize),
		assembler: audio.NewAssembler(logger),
		conv:      inference.NewConversation(),
		deps:      deps,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger.With("client_id", id),
		createdAt: time.Now(),
	}
	s.streamer = NewChunkStreamer(s, opts.ChunkSize, opts.PacingDelay, deps.Metrics, s.logger)

	go s.run()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the negotiated audio settings.
func (s *Session) Settings() protocol.AudioSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// HandleMessage dispatches one parsed client control message. It is called
// from the connection read loop; heavyweight work is deferred to the
// consumer goroutine through the queue.
func (s *Session) HandleMessage(msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeAudioChunk:
		payload, err := msg.DecodeAudio()
		if err != nil {
			// Drop just this chunk; best-effort reassembly continues.
			s.deps.Metrics.DecodeErrors.Inc()
			s.logger.Warn("dropping undecodable chunk",
				"chunk_id", msg.ChunkID,
				"error", err,
			)
			return
		}
		s.deps.Metrics.ChunksReceived.Inc()
		s.deps.Metrics.ChunkBytes.Observe(float64(len(payload)))
		s.enqueue(item{kind: itemChunk, index: msg.ChunkID, payload: payload})

	case protocol.TypeAudioComplete:
		s.enqueue(item{kind: itemComplete})

	case protocol.TypeTextQuery:
		if msg.Text == "" {
			s.logger.Warn("ignoring empty text query")
			return
		}
		s.enqueue(item{kind: itemText, text: msg.Text})

	case protocol.TypeSettings:
		s.updateSettings(msg.Settings())
		s.writeJSON(protocol.NewSettingsAck())

	case protocol.TypeRegister:
		// Re-registration on a live connection just refreshes settings.
		if msg.AudioSettings != nil {
			s.updateSettings(msg.AudioSettings.Normalize())
		}
		s.writeJSON(protocol.NewRegisterAck(s.ID))

	case protocol.TypePing:
		s.writeJSON(protocol.NewPong())

	default:
		// Unknown messages are logged and ignored; the connection stays open.
		s.logger.Warn("ignoring unknown message type", "type", msg.Type)
	}
}

// Close cancels the consumer goroutine and blocks until it has fully
// stopped. Safe to call more than once.
func (s *Session) Close() {
	s.stopped.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.cancel()
	})
	<-s.done
}

func (s *Session) updateSettings(settings protocol.AudioSettings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.logger.Info("audio settings updated",
		"sample_rate", settings.SampleRate,
		"channels", settings.Channels,
		"bits", settings.Bits,
	)
}

// enqueue adds an item to the inbound queue, applying backpressure to the
// read loop when the queue is full.
func (s *Session) enqueue(it item) {
	select {
	case s.queue <- it:
	case <-s.ctx.Done():
	}
}

// run is the single consumer goroutine draining the inbound queue.
// Exactly one run loop exists per session.
func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-s.queue:
			switch it.kind {
			case itemChunk:
				if it.index == 0 {
					s.writeJSON(protocol.NewStatus(protocol.TypeAudioReceiving, "Receiving audio"))
				}
				s.assembler.AddChunk(it.index, it.payload)
			case itemComplete:
				s.runAudioTurn()
			case itemText:
				s.runTurn(it.text)
			}
		}
	}
}

// writeJSON sends one control message, serializing writers on the shared
// connection. Errors are logged, not propagated; a dead connection is
// detected by the read loop.
func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("control write failed", "error", err)
		return err
	}
	return nil
}

// wireFormat reports the outbound transcode target for framing messages.
func (s *Session) wireFormat() (sampleRate, channels, bits int) {
	t := s.deps.Transcoder.Target()
	return t.SampleRate, t.Channels, t.Bits
}

// writeBinary sends one binary audio frame.
func (s *Session) writeBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(binaryMessage, data)
}

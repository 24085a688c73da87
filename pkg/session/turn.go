package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parkwalk/go-docent/pkg/inference"
	"github.com/parkwalk/go-docent/pkg/phrase"
	"github.com/parkwalk/go-docent/pkg/protocol"
)

const noSpeechDetected = "No speech detected"

// runAudioTurn finishes an utterance: reassemble, transcribe, then hand
// the text to the conversational turn.
func (s *Session) runAudioTurn() {
	settings := s.Settings()

	buf := s.assembler.Complete(settings.SampleRate, settings.Channels)
	if buf == nil {
		s.deps.Metrics.EmptyUtterances.Inc()
		s.writeJSON(protocol.NewEmptySTTResult(noSpeechDetected))
		return
	}
	s.deps.Metrics.UtteranceBytes.Observe(float64(len(buf)))

	if s.deps.STT == nil {
		s.logger.Error("turn dropped, no transcriber configured")
		s.writeJSON(protocol.NewError("transcription unavailable"))
		return
	}
	if len(buf) < s.deps.STT.MinBytes() {
		s.deps.Metrics.STTSkipped.Inc()
		s.writeJSON(protocol.NewEmptySTTResult(noSpeechDetected))
		return
	}

	s.writeJSON(protocol.NewStatus(protocol.TypeSTTProcessing, "Transcribing"))

	s.deps.Metrics.STTRequests.Inc()
	start := time.Now()
	text := s.deps.STT.Transcribe(s.ctx, buf, "audio/wav")
	s.deps.Metrics.STTDuration.Observe(time.Since(start).Seconds())

	if text == "" {
		// Silence, failure, and timeout all end the turn the same way.
		s.deps.Metrics.STTFailures.Inc()
		s.writeJSON(protocol.NewEmptySTTResult(noSpeechDetected))
		return
	}

	s.writeJSON(protocol.NewSTTResult(text, s.ID))
	s.runTurn(text)
}

// runTurn executes one conversational turn from user text: stream the LLM
// response, segment it into phrases, synthesize phrases in parallel, and
// stream the resulting audio back in sequence order.
func (s *Session) runTurn(text string) {
	// Missing providers end the turn with a control message instead of
	// crashing the consumer goroutine.
	if s.deps.LLM == nil || s.deps.TTS == nil || s.deps.Transcoder == nil {
		s.logger.Error("turn dropped, provider stack incomplete")
		s.writeJSON(protocol.NewError("assistant unavailable"))
		return
	}

	s.setState(StateStreaming)
	defer s.setState(StateRegistered)

	s.deps.Metrics.TurnsStarted.Inc()
	turnStart := time.Now()

	s.refreshContext()

	s.writeJSON(protocol.NewStatus(protocol.TypeOpenAIProcessing, "Thinking"))

	stream, err := s.deps.LLM.Stream(s.ctx, &inference.ChatRequest{
		Messages: s.conv.Messages(text),
	})
	if err != nil {
		s.logger.Error("response stream failed to start", "error", err)
		s.writeJSON(protocol.NewError("assistant unavailable"))
		return
	}
	defer stream.Close()

	seg := phrase.NewSegmenter(
		phrase.WithMinWords(s.opts.MinWords),
		phrase.WithMaxWords(s.opts.MaxWords),
	)

	// Synthesis of phrase N+1 starts while phrase N is still streaming in
	// from the LLM; order is restored after the joint wait.
	collector := newSynthCollector()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			s.logger.Error("response stream broken", "error", err)
			break
		}
		full.WriteString(chunk.Delta)
		for _, p := range seg.Push(chunk.Delta) {
			s.launchSynthesis(collector, p)
		}
		if chunk.Done {
			break
		}
	}
	for _, p := range seg.Flush() {
		s.launchSynthesis(collector, p)
	}

	results := collector.wait()
	totalPhrases := seg.Emitted()

	for _, res := range results {
		if len(res.audio) < s.opts.MinAudioBytes {
			s.deps.Metrics.PhrasesSkipped.Inc()
			s.logger.Warn("skipping phrase with no usable audio", "phrase", res.seq)
			continue
		}

		wav, err := s.deps.Transcoder.WireWAV(s.ctx, res.audio)
		if err != nil {
			s.deps.Metrics.PhrasesSkipped.Inc()
			s.logger.Error("transcode failed, skipping phrase",
				"phrase", res.seq,
				"error", err,
			)
			continue
		}

		if err := s.streamer.Send(s.ctx, wav, res.seq, totalPhrases); err != nil {
			// A failed write ends this phrase only; the next phrase
			// gets its own chance unless the session is going down.
			s.logger.Error("phrase stream aborted", "phrase", res.seq, "error", err)
			if s.ctx.Err() != nil {
				break
			}
		}
	}

	if reply := strings.TrimSpace(full.String()); reply != "" {
		s.conv.AddExchange(text, reply)
	}

	s.deps.Metrics.TurnsCompleted.Inc()
	s.deps.Metrics.TurnDuration.Observe(time.Since(turnStart).Seconds())

	if s.deps.Notify != nil {
		s.deps.Notify(EventTurnCompleted, s.ID, fmt.Sprintf("%d phrases", totalPhrases))
	}
}

// refreshContext pulls the latest fresh detection into the conversation.
// A stale or missing detection keeps the previous subject: context is
// sticky for the life of the session.
func (s *Session) refreshContext() {
	if s.deps.Vision == nil {
		return
	}

	subject, ok := s.deps.Vision.Subject(s.ID)
	if !ok {
		s.deps.Metrics.ContextMisses.Inc()
		return
	}
	s.deps.Metrics.ContextHits.Inc()

	var facts []string
	if s.deps.Facts != nil {
		var err error
		facts, err = s.deps.Facts.Facts(s.ctx, subject)
		if err != nil {
			s.logger.Warn("fact lookup failed", "subject", subject, "error", err)
		}
	}
	s.conv.SetSubject(subject, facts)
}

// launchSynthesis starts one phrase's synthesis task. Failures are
// isolated: a failed phrase records empty audio and its siblings proceed.
func (s *Session) launchSynthesis(c *synthCollector, p phrase.Phrase) {
	s.deps.Metrics.PhrasesEmitted.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.SynthTimeout)
		defer cancel()

		start := time.Now()
		clip, err := s.deps.TTS.Synthesize(ctx, p.Text)
		s.deps.Metrics.SynthesisDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			s.deps.Metrics.SynthesisFailures.Inc()
			s.logger.Error("synthesis failed", "phrase", p.Seq, "error", err)
			c.add(synthResult{seq: p.Seq})
			return
		}
		c.add(synthResult{seq: p.Seq, audio: clip.Audio})
	}()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

// synthResult pairs a phrase sequence number with its audio. Empty audio
// marks a failed synthesis.
type synthResult struct {
	seq   int
	audio []byte
}

// synthCollector gathers concurrent synthesis results for one turn.
type synthCollector struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []synthResult
}

func newSynthCollector() *synthCollector {
	return &synthCollector{}
}

func (c *synthCollector) add(r synthResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

// wait blocks for all scheduled tasks, then returns results in ascending
// sequence order regardless of completion order.
func (c *synthCollector) wait() []synthResult {
	c.wg.Wait()
	sort.Slice(c.results, func(i, j int) bool {
		return c.results[i].seq < c.results[j].seq
	})
	return c.results
}

// Package phrase cuts an incremental LLM text stream into speakable phrases.
//
// The segmenter is greedy and non-linguistic: it balances phrase length
// against latency using word counts and punctuation, and does not understand
// abbreviations or decimal numbers. Very short fragments are dropped because
// they make poor audio.
package phrase

import (
	"strings"
)

// Default segmentation bounds.
const (
	// DefaultMinWords is the minimum word count before a strong
	// terminator ends a phrase.
	DefaultMinWords = 8

	// DefaultMaxWords forces a break even without a terminator.
	DefaultMaxWords = 20

	// MinPhraseLen is the shortest trimmed text worth synthesizing.
	// Candidates at or under this length are dropped.
	MinPhraseLen = 5
)

// Phrase is one ordered unit of text to be spoken.
type Phrase struct {
	// Seq increases monotonically per turn, starting at 1.
	Seq int

	// Text is the trimmed phrase content.
	Text string
}

// Segmenter accumulates stream fragments and emits phrases.
// One Segmenter serves one conversational turn; it is not safe for
// concurrent use.
type Segmenter struct {
	minWords int
	maxWords int
	buffer   string
	seq      int
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithMinWords sets the strong-terminator word threshold.
func WithMinWords(n int) SegmenterOption {
	return func(s *Segmenter) {
		if n > 0 {
			s.minWords = n
		}
	}
}

// WithMaxWords sets the forced-break word threshold.
func WithMaxWords(n int) SegmenterOption {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxWords = n
		}
	}
}

// NewSegmenter creates a segmenter for one turn.
func NewSegmenter(opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		minWords: DefaultMinWords,
		maxWords: DefaultMaxWords,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxWords < s.minWords {
		s.maxWords = s.minWords
	}
	return s
}

// Push appends one stream fragment and returns any phrases it completed.
// A single fragment can complete several phrases.
func (s *Segmenter) Push(fragment string) []Phrase {
	if fragment == "" {
		return nil
	}
	s.buffer += fragment

	var out []Phrase
	for {
		words := len(strings.Fields(s.buffer))

		if words >= s.minWords && strings.ContainsAny(s.buffer, ".!?") {
			out = s.emit(out, s.buffer)
			s.buffer = ""
			break
		}

		if words >= s.maxWords {
			if cut := s.softBreak(); cut > 0 {
				out = s.emit(out, s.buffer[:cut])
				s.buffer = s.buffer[cut:]
				continue
			}
			// No usable break point: flush everything so the turn
			// always makes forward progress.
			out = s.emit(out, s.buffer)
			s.buffer = ""
			break
		}

		break
	}
	return out
}

// Flush emits whatever remains at stream end, if it is worth speaking.
func (s *Segmenter) Flush() []Phrase {
	out := s.emit(nil, s.buffer)
	s.buffer = ""
	return out
}

// Emitted returns how many phrases have been produced so far this turn.
func (s *Segmenter) Emitted() int {
	return s.seq
}

// softBreak finds the split index for an over-long buffer: the last comma
// or space, but only if it lies past the midpoint.
func (s *Segmenter) softBreak() int {
	idx := strings.LastIndexAny(s.buffer, ", ")
	if idx > len(s.buffer)/2 {
		return idx + 1
	}
	return 0
}

// emit appends text as the next phrase unless it trims too short.
func (s *Segmenter) emit(out []Phrase, text string) []Phrase {
	text = strings.TrimSpace(text)
	if len(text) <= MinPhraseLen {
		return out
	}
	s.seq++
	return append(out, Phrase{Seq: s.seq, Text: text})
}

package inference

import (
	"context"
	"strings"
	"sync"
)

// Mock implements Provider for testing.
type Mock struct {
	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamFunc is called when Stream is invoked.
	// If nil, Stream yields Response word by word.
	StreamFunc func(ctx context.Context, req *ChatRequest) (Stream, error)

	// Response is the canned reply used by the default behaviors.
	Response string

	mu   sync.Mutex
	reqs []*ChatRequest
}

// NewMock creates a mock that replies with the given text.
func NewMock(response string) *Mock {
	return &Mock{Response: response}
}

// Chat returns the canned response.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record(req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ChatResponse{
		Message:      Message{Role: RoleAssistant, Content: m.Response},
		FinishReason: "stop",
	}, nil
}

// Stream yields the canned response one word at a time.
func (m *Mock) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.record(req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	words := strings.Fields(m.Response)
	deltas := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			deltas[i] = w
		} else {
			deltas[i] = " " + w
		}
	}
	return &SliceStream{Deltas: deltas}, nil
}

// Health always reports healthy.
func (m *Mock) Health(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Requests returns all recorded chat requests.
func (m *Mock) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatRequest, len(m.reqs))
	copy(out, m.reqs)
	return out
}

func (m *Mock) record(req *ChatRequest) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
}

// SliceStream is a Stream backed by a fixed delta sequence. Useful in tests.
type SliceStream struct {
	Deltas []string
	pos    int
}

// Recv returns the next delta.
func (s *SliceStream) Recv() (*StreamChunk, error) {
	if s.pos >= len(s.Deltas) {
		return &StreamChunk{Done: true, FinishReason: "stop"}, nil
	}
	delta := s.Deltas[s.pos]
	s.pos++
	return &StreamChunk{Delta: delta}, nil
}

// Close is a no-op.
func (s *SliceStream) Close() error { return nil }

// Verify interfaces at compile time.
var (
	_ Provider = (*Mock)(nil)
	_ Stream   = (*SliceStream)(nil)
)

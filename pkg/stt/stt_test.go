package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAdapterSkipsShortAudio(t *testing.T) {
	mock := NewMock("should not be called")
	adapter := NewAdapter(mock, WithMinBytes(10000))

	got := adapter.Transcribe(context.Background(), make([]byte, 9999), "audio/wav")
	if got != "" {
		t.Errorf("expected empty transcript for short audio, got %q", got)
	}
	if mock.Calls() != 0 {
		t.Errorf("provider should not be called for short audio, got %d calls", mock.Calls())
	}
}

func TestAdapterPassesLongAudio(t *testing.T) {
	mock := NewMock("tell me about the red panda")
	adapter := NewAdapter(mock, WithMinBytes(10000))

	got := adapter.Transcribe(context.Background(), make([]byte, 10000), "audio/wav")
	if got != "tell me about the red panda" {
		t.Errorf("unexpected transcript: %q", got)
	}
	if mock.Calls() != 1 {
		t.Errorf("expected 1 provider call, got %d", mock.Calls())
	}
}

func TestAdapterSwallowsProviderError(t *testing.T) {
	mock := &Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, mimeHint string) (string, error) {
			return "", errors.New("upstream down")
		},
	}
	adapter := NewAdapter(mock, WithMinBytes(1))

	got := adapter.Transcribe(context.Background(), []byte{1, 2, 3}, "audio/wav")
	if got != "" {
		t.Errorf("expected empty transcript on provider error, got %q", got)
	}
}

func TestAdapterTimeout(t *testing.T) {
	mock := &Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, mimeHint string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		},
	}
	adapter := NewAdapter(mock, WithMinBytes(1), WithTimeout(20*time.Millisecond))

	start := time.Now()
	got := adapter.Transcribe(context.Background(), []byte{1}, "audio/wav")
	if got != "" {
		t.Errorf("expected empty transcript on timeout, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("adapter did not honor timeout, took %v", elapsed)
	}
}

func TestAdapterTrimsWhitespace(t *testing.T) {
	adapter := NewAdapter(NewMock("  hello there  \n"), WithMinBytes(1))

	got := adapter.Transcribe(context.Background(), []byte{1}, "audio/wav")
	if got != "hello there" {
		t.Errorf("expected trimmed transcript, got %q", got)
	}
}

func TestWhisperConfigValidation(t *testing.T) {
	if _, err := NewWhisper(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewWhisper(WithAPIKey("k"), WithBaseURL("")); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("unexpected model %q", model)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"where do the penguins sleep"}`))
	}))
	defer srv.Close()

	provider, err := NewWhisper(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}

	got, err := provider.Transcribe(context.Background(), []byte("RIFFfake"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "where do the penguins sleep" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestWhisperAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	provider, err := NewWhisper(WithAPIKey("wrong"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}

	_, err = provider.Transcribe(context.Background(), []byte("x"), "audio/wav")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected status %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "bad key") {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
	if apiErr.IsRetryable() {
		t.Error("401 should not be retryable")
	}
}

func TestWhisperRetriesServerError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	provider, err := NewWhisper(
		WithAPIKey("k"),
		WithBaseURL(srv.URL),
		WithRetry(2, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}

	got, err := provider.Transcribe(context.Background(), []byte("x"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "ok" {
		t.Errorf("unexpected transcript %q", got)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

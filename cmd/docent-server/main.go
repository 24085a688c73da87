// docent-server: interactive guide backend. Visitors connect over
// WebSocket, speak an utterance, and hear a synthesized answer grounded
// in what the exhibit camera last saw them looking at.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parkwalk/go-docent/internal/config"
	"github.com/parkwalk/go-docent/internal/log"
	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/audio"
	"github.com/parkwalk/go-docent/pkg/inference"
	"github.com/parkwalk/go-docent/pkg/knowledge"
	"github.com/parkwalk/go-docent/pkg/server"
	"github.com/parkwalk/go-docent/pkg/session"
	"github.com/parkwalk/go-docent/pkg/stt"
	"github.com/parkwalk/go-docent/pkg/tts"
	"github.com/parkwalk/go-docent/pkg/vision"
)

var configPath = flag.String("config", "", "path to config YAML (optional)")

func main() {
	flag.Parse()

	// Secrets come from the environment; .env is a development nicety.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Logging.Level)
	logger := log.L()

	deps, kb, err := buildDeps(cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, deps, kb, logger)

	go func() {
		if err := srv.Listen(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("docent server up",
		"version", server.Version,
		"port", cfg.Server.Port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if deps.TTS != nil {
		deps.TTS.Close()
	}
	if kb != nil {
		kb.Close()
	}
}

// buildDeps constructs the provider stack from configuration. The LLM and
// TTS credentials are mandatory; the knowledge base is optional.
func buildDeps(cfg *config.Config) (session.Deps, *knowledge.Store, error) {
	logger := log.L()

	whisperOpts := []stt.Option{
		stt.WithAPIKey(cfg.STT.APIKey),
		stt.WithRequestTimeout(cfg.STT.STTTimeout()),
		stt.WithProviderLogger(logger),
	}
	if cfg.STT.Endpoint != "" {
		whisperOpts = append(whisperOpts, stt.WithBaseURL(cfg.STT.Endpoint))
	}
	whisper, err := stt.NewWhisper(whisperOpts...)
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("stt: %w", err)
	}
	adapter := stt.NewAdapter(whisper,
		stt.WithMinBytes(cfg.STT.MinBytes),
		stt.WithTimeout(cfg.STT.STTTimeout()),
		stt.WithLogger(logger),
	)

	llm, err := inference.NewClient(
		inference.WithBaseURL(cfg.LLM.BaseURL),
		inference.WithAPIKey(cfg.LLM.APIKey),
		inference.WithModel(cfg.LLM.Model),
		inference.WithMaxTokens(cfg.LLM.MaxTokens),
		inference.WithTemperature(cfg.LLM.Temperature),
		inference.WithLogger(logger),
	)
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("llm: %w", err)
	}

	ttsOpts := []tts.Option{
		tts.WithAPIKey(cfg.TTS.APIKey),
		tts.WithVoice(cfg.TTS.VoiceID),
		tts.WithTimeout(cfg.TTS.TTSTimeout()),
		tts.WithLogger(logger),
	}
	if cfg.TTS.Model != "" {
		ttsOpts = append(ttsOpts, tts.WithModel(cfg.TTS.Model))
	}
	if cfg.TTS.Endpoint != "" {
		ttsOpts = append(ttsOpts, tts.WithBaseURL(cfg.TTS.Endpoint))
	}
	voice, err := tts.NewElevenLabs(ttsOpts...)
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("tts: %w", err)
	}

	transcoder := audio.NewTranscoder(audio.Format{
		SampleRate: cfg.Audio.OutSampleRate,
		Channels:   cfg.Audio.Channels,
		Bits:       cfg.Audio.BitDepth,
	}, int64(cfg.Audio.MaxTranscode), logger)

	visionStore := vision.NewStore(
		vision.WithFreshness(cfg.Vision.Freshness()),
		vision.WithLogger(logger),
	)

	var kb *knowledge.Store
	var facts session.FactSource
	if cfg.Knowledge.DatabasePath != "" {
		kb, err = knowledge.Open(cfg.Knowledge.DatabasePath)
		if err != nil {
			logger.Warn("knowledge store unavailable, answers will be ungrounded",
				"path", cfg.Knowledge.DatabasePath,
				"error", err,
			)
			kb = nil
		} else {
			facts = kb
		}
	}

	return session.Deps{
		STT:        adapter,
		LLM:        llm,
		TTS:        voice,
		Transcoder: transcoder,
		Vision:     visionStore,
		Facts:      facts,
		Metrics:    metrics.New(),
	}, kb, nil
}

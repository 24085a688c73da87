// Package config loads the go-docent service configuration from a YAML
// file with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	STT       STTConfig       `yaml:"stt"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Vision    VisionConfig    `yaml:"vision"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Metrics bool   `yaml:"metrics"`
}

// AudioConfig contains the wire audio format and streaming parameters
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`     // default inbound rate when a client does not negotiate
	Channels      int `yaml:"channels"`        //
	BitDepth      int `yaml:"bit_depth"`       //
	OutSampleRate int `yaml:"out_sample_rate"` // transcode target for outbound phrases
	ChunkSize     int `yaml:"chunk_size"`      // outbound binary frame size in bytes
	PacingDelayMs int `yaml:"pacing_delay_ms"` // delay between outbound frames
	MaxTranscode  int `yaml:"max_transcode"`   // bounded transcode worker pool size
}

// STTConfig contains the transcription service configuration
type STTConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"`   // seconds
	MinBytes int    `yaml:"min_bytes"` // below this, audio is treated as silence
}

// LLMConfig contains the streaming completion service configuration
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// TTSConfig contains the speech synthesis service configuration
type TTSConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	VoiceID  string `yaml:"voice_id"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds, per-phrase ceiling
}

// PipelineConfig contains phrase segmentation tuning
type PipelineConfig struct {
	MinWords  int `yaml:"min_words"`
	MaxWords  int `yaml:"max_words"`
	QueueSize int `yaml:"queue_size"` // per-client inbound queue capacity
}

// VisionConfig contains detection context settings
type VisionConfig struct {
	FreshnessSeconds int `yaml:"freshness_seconds"` // how long a detection stays usable
}

// KnowledgeConfig contains the exhibit knowledge base settings
type KnowledgeConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file, then applies environment
// overrides for secrets so API keys never have to live in the YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with working defaults for every field
// except the provider credentials.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Metrics: true,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			BitDepth:      16,
			OutSampleRate: 16000,
			ChunkSize:     4096,
			PacingDelayMs: 1,
			MaxTranscode:  4,
		},
		STT: STTConfig{
			Timeout:  30,
			MinBytes: 10000,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   120,
			Temperature: 0.8,
		},
		TTS: TTSConfig{
			Timeout: 30,
		},
		Pipeline: PipelineConfig{
			MinWords:  8,
			MaxWords:  20,
			QueueSize: 100,
		},
		Vision: VisionConfig{
			FreshnessSeconds: 120,
		},
		Knowledge: KnowledgeConfig{
			DatabasePath: "data/exhibits.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyEnv overrides credential fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("STT_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := os.Getenv("STT_ENDPOINT"); v != "" {
		c.STT.Endpoint = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("TTS_VOICE_ID"); v != "" {
		c.TTS.VoiceID = v
	}
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if c.Audio.BitDepth != 16 {
		return fmt.Errorf("only 16-bit audio is supported, got %d", c.Audio.BitDepth)
	}
	if c.Audio.ChunkSize <= 0 {
		return fmt.Errorf("audio chunk size must be positive, got %d", c.Audio.ChunkSize)
	}
	if c.Audio.MaxTranscode <= 0 {
		return fmt.Errorf("transcode pool size must be positive, got %d", c.Audio.MaxTranscode)
	}
	if c.Pipeline.MinWords <= 0 || c.Pipeline.MaxWords <= c.Pipeline.MinWords {
		return fmt.Errorf("pipeline word bounds invalid: min=%d max=%d",
			c.Pipeline.MinWords, c.Pipeline.MaxWords)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline queue size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Vision.FreshnessSeconds <= 0 {
		return fmt.Errorf("vision freshness must be positive, got %d", c.Vision.FreshnessSeconds)
	}
	return nil
}

// STTTimeout returns the STT timeout as a duration.
func (c *STTConfig) STTTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// TTSTimeout returns the per-phrase synthesis ceiling as a duration.
func (c *TTSConfig) TTSTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PacingDelay returns the outbound frame pacing delay as a duration.
func (c *AudioConfig) PacingDelay() time.Duration {
	return time.Duration(c.PacingDelayMs) * time.Millisecond
}

// Freshness returns the detection freshness window as a duration.
func (c *VisionConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessSeconds) * time.Second
}

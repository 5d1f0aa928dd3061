package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Mixer         MixerConfig         `yaml:"mixer"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	UDPPort               int    `yaml:"udp_port"`
	BindAddress           string `yaml:"bind_address"`
	BufferSize            int    `yaml:"buffer_size"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains windowing and silence-detection parameters
type AudioConfig struct {
	ChunkDuration    float64 `yaml:"chunk_duration"`    // seconds
	OverlapDuration  float64 `yaml:"overlap_duration"`  // seconds
	SilenceThreshold float64 `yaml:"silence_threshold"` // RMS amplitude
	SilenceDuration  float64 `yaml:"silence_duration"`  // seconds
	SessionTimeout   int     `yaml:"session_timeout"`   // seconds
	FeedQueueSize    int     `yaml:"feed_queue_size"`
}

// MixerConfig contains dual-source mixing parameters
type MixerConfig struct {
	PrimaryWeight   float64 `yaml:"primary_weight"`
	SecondaryWeight float64 `yaml:"secondary_weight"`
	MaxLag          float64 `yaml:"max_lag"` // seconds
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// RedisConfig contains transcript publishing configuration
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	Channel       string `yaml:"channel"`
	TranscriptTTL int    `yaml:"transcript_ttl"` // seconds, 0 disables expiry
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Mixer.Validate(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.OverlapDuration < 0 {
		return fmt.Errorf("overlap_duration cannot be negative, got %f", a.OverlapDuration)
	}

	if a.OverlapDuration >= a.ChunkDuration {
		return fmt.Errorf("overlap_duration (%f) must be less than chunk_duration (%f)",
			a.OverlapDuration, a.ChunkDuration)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", a.SilenceDuration)
	}

	if a.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", a.SessionTimeout)
	}

	if a.FeedQueueSize < 1 {
		return fmt.Errorf("feed_queue_size must be at least 1, got %d", a.FeedQueueSize)
	}

	return nil
}

// Validate validates mixer configuration
func (m *MixerConfig) Validate() error {
	if m.PrimaryWeight <= 0 || m.PrimaryWeight > 1 {
		return fmt.Errorf("primary_weight must be in (0, 1], got %f", m.PrimaryWeight)
	}

	if m.SecondaryWeight <= 0 || m.SecondaryWeight > 1 {
		return fmt.Errorf("secondary_weight must be in (0, 1], got %f", m.SecondaryWeight)
	}

	if m.MaxLag <= 0 {
		return fmt.Errorf("max_lag must be positive, got %f", m.MaxLag)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates redis configuration
func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Address == "" {
		return fmt.Errorf("address cannot be empty when redis is enabled")
	}

	if r.DB < 0 {
		return fmt.Errorf("db cannot be negative, got %d", r.DB)
	}

	if r.Channel == "" {
		return fmt.Errorf("channel cannot be empty when redis is enabled")
	}

	if r.TranscriptTTL < 0 {
		return fmt.Errorf("transcript_ttl cannot be negative, got %d", r.TranscriptTTL)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetOverlapDuration returns the overlap duration as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapDuration * float64(time.Second))
}

// GetSilenceDuration returns the silence duration as a time.Duration
func (a *AudioConfig) GetSilenceDuration() time.Duration {
	return time.Duration(a.SilenceDuration * float64(time.Second))
}

// GetSessionTimeoutDuration returns the session inactivity timeout as a time.Duration
func (a *AudioConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(a.SessionTimeout) * time.Second
}

// GetMaxLagDuration returns the mixer lag tolerance as a time.Duration
func (m *MixerConfig) GetMaxLagDuration() time.Duration {
	return time.Duration(m.MaxLag * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTranscriptTTLDuration returns the transcript expiry as a time.Duration
func (r *RedisConfig) GetTranscriptTTLDuration() time.Duration {
	return time.Duration(r.TranscriptTTL) * time.Second
}

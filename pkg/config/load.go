package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// LoadFile reads defaults, overlays the YAML file at path (when non-empty) and
// then the environment. Fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Config: ignoring .env: %v", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.API.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		c.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TRANSCRIBER_LANGUAGE")); v != "" {
		c.Pipeline.Language = v
	}
	if v := strings.TrimSpace(os.Getenv("TRANSCRIBER_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Dispatch.Concurrency = n
		} else {
			log.Printf("Config: ignoring TRANSCRIBER_CONCURRENCY=%q: %v", v, err)
		}
	}
}

// Validate normalizes the configuration in place and reports the first
// out-of-range value.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.API.Model) == "" {
		return fmt.Errorf("%w: api model is required", ErrInvalidConfig)
	}
	if c.JobWorkers < 1 {
		c.JobWorkers = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	return nil
}

func (p *PipelineConfig) Validate() error {
	p.Language = strings.ToLower(strings.TrimSpace(p.Language))
	if p.Language != "" && len(p.Language) != 2 {
		return fmt.Errorf("%w: language must be 2 characters (ISO-639-1), got %q", ErrInvalidConfig, p.Language)
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		return fmt.Errorf("%w: temperature %.2f out of range [0, 1]", ErrInvalidConfig, p.Temperature)
	}

	ch := p.Chunking
	if ch.MaxChunkSizeMB < 5 || ch.MaxChunkSizeMB > 50 {
		return fmt.Errorf("%w: max_chunk_size_mb must be between 5 and 50, got %d", ErrInvalidConfig, ch.MaxChunkSizeMB)
	}
	if ch.ChunkDuration <= 0 {
		return fmt.Errorf("%w: chunk_duration must be positive", ErrInvalidConfig)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.ChunkDuration {
		return fmt.Errorf("%w: overlap %v must be in [0, %v)", ErrInvalidConfig, ch.Overlap, ch.ChunkDuration)
	}
	if ch.MinChunk < 0 {
		return fmt.Errorf("%w: min_chunk must not be negative", ErrInvalidConfig)
	}

	d := p.Dispatch
	if d.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, d.Concurrency)
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidConfig, d.MaxAttempts)
	}
	if d.InitialBackoff < 0 || d.MaxBackoff < 0 {
		return fmt.Errorf("%w: backoff intervals must not be negative", ErrInvalidConfig)
	}
	return nil
}

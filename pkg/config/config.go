package config

import (
	"time"
)

type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	API         APIConfig      `yaml:"api"`
	JobWorkers  int            `yaml:"job_workers"`
	QueueSize   int            `yaml:"queue_size"`
	StoragePath string         `yaml:"storage_path"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PipelineConfig is handed to the transcription pipeline by value and never
// mutated afterwards.
type PipelineConfig struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Normalize NormalizeConfig `yaml:"normalize"`

	// Language is an ISO-639-1 hint sent with every chunk. Empty lets the
	// service detect it.
	Language    string  `yaml:"language"`
	Prompt      string  `yaml:"prompt"`
	Temperature float64 `yaml:"temperature"`

	// RequireComplete turns a partial transcript into an error.
	RequireComplete  bool `yaml:"require_complete"`
	SaveIntermediate bool `yaml:"save_intermediate"`
}

type ChunkingConfig struct {
	AutoChunk      bool          `yaml:"auto_chunk"`
	ChunkDuration  time.Duration `yaml:"chunk_duration"`
	Overlap        time.Duration `yaml:"overlap"`
	MinChunk       time.Duration `yaml:"min_chunk"`
	MaxChunkSizeMB int           `yaml:"max_chunk_size_mb"`
}

type DispatchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type NormalizeConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	FFprobePath    string `yaml:"ffprobe_path"`
	TempDir        string `yaml:"temp_dir"`
	ApplyFilters   bool   `yaml:"apply_filters"`
	KeepNormalized bool   `yaml:"keep_normalized"`
}

type APIConfig struct {
	APIKey  string        `yaml:"openai_api_key"`
	BaseURL string        `yaml:"openai_base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is the maximum number of requests per second; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Chunking: ChunkingConfig{
				AutoChunk:      true,
				ChunkDuration:  600 * time.Second,
				Overlap:        0,
				MinChunk:       time.Second,
				MaxChunkSizeMB: 20,
			},
			Dispatch: DispatchConfig{
				Concurrency:    4,
				MaxAttempts:    3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
			Normalize: NormalizeConfig{
				FFmpegPath:   "ffmpeg",
				FFprobePath:  "ffprobe",
				ApplyFilters: true,
			},
		},
		API: APIConfig{
			Model:   "whisper-1",
			Timeout: 600 * time.Second,
		},
		JobWorkers:  2,
		QueueSize:   100,
		StoragePath: "./data",
	}
}

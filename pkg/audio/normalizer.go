package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"audio-transcriber/pkg/config"
)

// CommandRunner executes an external tool and returns its captured output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// MediaInfo is the subset of ffprobe output the pipeline cares about.
type MediaInfo struct {
	Duration   float64
	Size       int64
	BitRate    int64
	Format     string
	Codec      string
	SampleRate int
	Channels   int
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

type Normalizer struct {
	cfg config.NormalizeConfig
	cmd CommandRunner
}

type Option func(*Normalizer)

// WithCommandRunner replaces the os/exec based runner.
func WithCommandRunner(r CommandRunner) Option {
	return func(n *Normalizer) {
		if r != nil {
			n.cmd = r
		}
	}
}

func NewNormalizer(cfg config.NormalizeConfig, opts ...Option) *Normalizer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	n := &Normalizer{cfg: cfg, cmd: execRunner{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Probe inspects the input with ffprobe and fails with ErrUnsupportedMedia
// when it carries no audio stream.
func (n *Normalizer) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path}
	stdout, stderr, err := n.cmd.Run(ctx, n.cfg.FFprobePath, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, toolError(n.cfg.FFprobePath, stderr, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to parse audio info: %v", ErrUnsupportedMedia, err)
	}

	info := &MediaInfo{Format: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	info.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.Codec = s.CodecName
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		info.Channels = s.Channels
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, path)
}

// Normalize converts the input into a temporary mono 16 kHz PCM WAV. The
// temporary file is removed on every failure path; on success it belongs to
// the returned Source.
func (n *Normalizer) Normalize(ctx context.Context, path string) (src *Source, err error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}
	if _, err := n.Probe(ctx, path); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(n.cfg.TempDir, "normalized_*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	out := tmp.Name()
	tmp.Close()

	defer func() {
		if err != nil {
			os.Remove(out)
		}
	}()

	log.Printf("Normalizer: converting %s to %d Hz mono", path, SampleRate)
	_, stderr, runErr := n.cmd.Run(ctx, n.cfg.FFmpegPath, n.ffmpegArgs(path, out))
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, toolError(n.cfg.FFmpegPath, stderr, runErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err = openSource(out, !n.cfg.KeepNormalized)
	if err != nil {
		return nil, err
	}
	if src.Channels != Channels || src.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: normalized output is %d Hz with %d channel(s)", ErrInvalidWAV, src.SampleRate, src.Channels)
	}
	if src.Duration <= 0 {
		return nil, ErrEmptyAudio
	}
	return src, nil
}

// NormalizeReader spools r to a temporary file and normalizes it. The spool
// file is always removed.
func (n *Normalizer) NormalizeReader(ctx context.Context, r io.Reader, name string) (*Source, error) {
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i:]
	}
	spool, err := os.CreateTemp(n.cfg.TempDir, "input_*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(spool.Name())

	if _, err := io.Copy(spool, r); err != nil {
		spool.Close()
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := spool.Close(); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return n.Normalize(ctx, spool.Name())
}

func (n *Normalizer) ffmpegArgs(in, out string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", in,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
	}
	if n.cfg.ApplyFilters {
		args = append(args, "-af", "highpass=f=80")
	}
	return append(args, "-f", "wav", out)
}

func toolError(tool string, stderr []byte, err error) error {
	te := &ExternalToolError{Tool: tool, Stderr: string(stderr), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}

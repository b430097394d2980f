package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"audio-transcriber/pkg/config"
)

type fakeRunner struct {
	probe      string
	probeErr   error
	ffmpegErr  error
	stderr     string
	writeAudio bool
	calls      [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if strings.Contains(name, "ffprobe") {
		return []byte(f.probe), []byte(f.stderr), f.probeErr
	}
	if f.ffmpegErr != nil {
		return nil, []byte(f.stderr), f.ffmpegErr
	}
	if f.writeAudio {
		out := args[len(args)-1]
		pcm := make([]byte, 2*SampleRate*2)
		if err := os.WriteFile(out, EncodeWAV(pcm, SampleRate, Channels), 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

const audioProbe = `{
	"format": {"duration": "123.45", "size": "1234567", "bit_rate": "128000", "format_name": "mp3"},
	"streams": [{"codec_type": "audio", "sample_rate": "44100", "channels": 2, "codec_name": "mp3"}]
}`

func inputFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "input.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func tempWAVs(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "normalized_*.wav"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestProbe(t *testing.T) {
	runner := &fakeRunner{probe: audioProbe}
	n := NewNormalizer(config.NormalizeConfig{}, WithCommandRunner(runner))

	info, err := n.Probe(context.Background(), "audio.mp3")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if info.Duration != 123.45 || info.Size != 1234567 || info.BitRate != 128000 {
		t.Fatalf("unexpected format info: %+v", info)
	}
	if info.SampleRate != 44100 || info.Channels != 2 || info.Codec != "mp3" || info.Format != "mp3" {
		t.Fatalf("unexpected stream info: %+v", info)
	}
}

func TestProbeWithoutAudioStream(t *testing.T) {
	runner := &fakeRunner{probe: `{"format": {"duration": "60.0"}, "streams": [{"codec_type": "video", "codec_name": "h264"}]}`}
	n := NewNormalizer(config.NormalizeConfig{}, WithCommandRunner(runner))

	if _, err := n.Probe(context.Background(), "video.mp4"); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestProbeInvalidJSON(t *testing.T) {
	runner := &fakeRunner{probe: "invalid json"}
	n := NewNormalizer(config.NormalizeConfig{}, WithCommandRunner(runner))

	if _, err := n.Probe(context.Background(), "audio.mp3"); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: audioProbe, writeAudio: true}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir, ApplyFilters: true}, WithCommandRunner(runner))

	src, err := n.Normalize(context.Background(), inputFile(t, dir))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if src.Duration != 2 {
		t.Fatalf("unexpected duration: %v", src.Duration)
	}

	ffmpeg := strings.Join(runner.calls[len(runner.calls)-1], " ")
	for _, want := range []string{"-ac 1", "-ar 16000", "-c:a pcm_s16le", "-af highpass=f=80", "-f wav"} {
		if !strings.Contains(ffmpeg, want) {
			t.Fatalf("ffmpeg args %q missing %q", ffmpeg, want)
		}
	}

	if len(tempWAVs(t, dir)) != 1 {
		t.Fatalf("expected normalized file to exist before Close")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if left := tempWAVs(t, dir); len(left) != 0 {
		t.Fatalf("expected normalized file to be removed, found %v", left)
	}
}

func TestNormalizeWithoutFilters(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: audioProbe, writeAudio: true}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir}, WithCommandRunner(runner))

	src, err := n.Normalize(context.Background(), inputFile(t, dir))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	defer src.Close()

	for _, arg := range runner.calls[len(runner.calls)-1] {
		if arg == "-af" {
			t.Fatalf("did not expect filters in ffmpeg args")
		}
	}
}

func TestNormalizeKeep(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: audioProbe, writeAudio: true}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir, KeepNormalized: true}, WithCommandRunner(runner))

	src, err := n.Normalize(context.Background(), inputFile(t, dir))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	src.Close()
	if len(tempWAVs(t, dir)) != 1 {
		t.Fatalf("expected normalized file to be retained")
	}
}

func TestNormalizeToolFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: audioProbe, ffmpegErr: errors.New("exit status 1"), stderr: "Invalid codec"}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir}, WithCommandRunner(runner))

	_, err := n.Normalize(context.Background(), inputFile(t, dir))
	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid codec") {
		t.Fatalf("expected stderr in error, got %q", err.Error())
	}
	if left := tempWAVs(t, dir); len(left) != 0 {
		t.Fatalf("expected temp file to be removed, found %v", left)
	}
}

func TestNormalizeMissingBinary(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probeErr: exec.ErrNotFound}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir}, WithCommandRunner(runner))

	_, err := n.Normalize(context.Background(), inputFile(t, dir))
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected wrapped exec.ErrNotFound, got %v", err)
	}
}

func TestNormalizeCancelledCleansUp(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{probe: audioProbe, ffmpegErr: errors.New("signal: killed")}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir}, WithCommandRunner(&cancellingRunner{fakeRunner: runner, cancel: cancel}))

	_, err := n.Normalize(ctx, inputFile(t, dir))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if left := tempWAVs(t, dir); len(left) != 0 {
		t.Fatalf("expected temp file to be removed, found %v", left)
	}
}

type cancellingRunner struct {
	*fakeRunner
	cancel context.CancelFunc
}

func (c *cancellingRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	if !strings.Contains(name, "ffprobe") {
		c.cancel()
	}
	return c.fakeRunner.Run(ctx, name, args)
}

func TestNormalizeMissingInput(t *testing.T) {
	n := NewNormalizer(config.NormalizeConfig{}, WithCommandRunner(&fakeRunner{}))
	if _, err := n.Normalize(context.Background(), filepath.Join(t.TempDir(), "nonexistent.mp3")); err == nil {
		t.Fatalf("expected error for missing input")
	}
}

func TestNormalizeReaderRemovesSpool(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: audioProbe, writeAudio: true}
	n := NewNormalizer(config.NormalizeConfig{TempDir: dir}, WithCommandRunner(runner))

	src, err := n.NormalizeReader(context.Background(), strings.NewReader("fake audio"), "upload.mp3")
	if err != nil {
		t.Fatalf("NormalizeReader returned error: %v", err)
	}
	defer src.Close()

	spools, _ := filepath.Glob(filepath.Join(dir, "input_*"))
	if len(spools) != 0 {
		t.Fatalf("expected spool file to be removed, found %v", spools)
	}
}

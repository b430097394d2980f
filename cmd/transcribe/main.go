package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"audio-transcriber/pkg/audio"
	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/format"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/pipeline"
	"audio-transcriber/pkg/stt"

	"github.com/atotto/clipboard"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"
)

func info(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[info] "+colorReset+msg+"\n", a...)
}

func warn(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[warn] "+colorReset+msg+"\n", a...)
}

func ok(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[ok] "+colorReset+msg+"\n", a...)
}

func fail(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[error] "+colorReset+msg+"\n", a...)
}

func main() {
	var (
		inPath     string
		outPath    string
		formatName string
		configPath string
		language   string
		prompt     string
		translate  bool
		copyOut    bool
		keep       bool
		strict     bool
		chunkLen   time.Duration
		overlap    time.Duration
		workers    int
	)

	flag.StringVar(&inPath, "input", "", "Input audio or video file (-i)")
	flag.StringVar(&inPath, "i", "", "Input audio or video file")
	flag.StringVar(&outPath, "output", "", "Output file, - for stdout (-o)")
	flag.StringVar(&outPath, "o", "", "Output file, - for stdout")
	flag.StringVar(&formatName, "format", "text", "Output format: "+strings.Join(formatNames(), "|"))
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&language, "language", "", "ISO-639-1 language hint (default: detect)")
	flag.StringVar(&prompt, "prompt", "", "Prompt to guide the model")
	flag.BoolVar(&translate, "translate", false, "Translate to English instead of transcribing")
	flag.BoolVar(&copyOut, "copy", false, "Copy the transcript to the clipboard")
	flag.BoolVar(&keep, "keep-normalized", false, "Keep the normalized WAV in the temp directory")
	flag.BoolVar(&strict, "require-complete", false, "Exit non-zero when any part of the audio could not be transcribed")
	flag.DurationVar(&chunkLen, "chunk", 0, "Chunk duration override, e.g. 5m")
	flag.DurationVar(&overlap, "overlap", -1, "Overlap between chunks, e.g. 2s")
	flag.IntVar(&workers, "concurrency", 0, "Concurrent transcription requests")
	flag.Parse()

	if inPath == "" && flag.NArg() > 0 {
		inPath = flag.Arg(0)
	}
	if inPath == "" {
		fail("missing --input/-i audio path")
		os.Exit(2)
	}

	f, err := format.ParseFormat(formatName)
	if err != nil {
		fail("%v", err)
		os.Exit(2)
	}
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
		outPath = base + f.Extension()
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fail("%v", err)
		os.Exit(2)
	}
	pc := &cfg.Pipeline
	if chunkLen > 0 {
		pc.Chunking.ChunkDuration = chunkLen
	}
	if overlap >= 0 {
		pc.Chunking.Overlap = overlap
	}
	if workers > 0 {
		pc.Dispatch.Concurrency = workers
	}
	if keep {
		pc.Normalize.KeepNormalized = true
	}
	if strict {
		pc.RequireComplete = true
	}
	if err := cfg.Validate(); err != nil {
		fail("%v", err)
		os.Exit(2)
	}
	if cfg.API.APIKey == "" {
		fail("OPENAI_API_KEY is not set")
		os.Exit(1)
	}

	task := models.TaskTranscribe
	if translate {
		task = models.TaskTranslate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := pipeline.NewDispatcher(stt.NewFromConfig(cfg.API), pc.Dispatch)
	transcriber := pipeline.NewTranscriber(*pc, audio.NewNormalizer(pc.Normalize), dispatcher)

	var (
		mu      sync.Mutex
		results []models.ChunkResult
	)
	started := time.Now()
	info("Transcribing %s (%s, model %s)...", inPath, task, cfg.API.Model)
	transcript, err := transcriber.Run(ctx, pipeline.Request{
		InputPath: inPath,
		Task:      task,
		Language:  language,
		Prompt:    prompt,
		OnEvent: func(ev pipeline.Event) {
			switch {
			case ev.Result != nil:
				mu.Lock()
				results = append(results, *ev.Result)
				mu.Unlock()
				if ev.Result.Status == models.ChunkFailed {
					warn("chunk %d failed after %d attempt(s): %s", ev.Result.Index, ev.Result.Attempts, ev.Result.Error)
				}
				info("%d/%d chunks done", ev.ChunksDone, ev.ChunksTotal)
			case ev.Stage == models.JobTranscribing:
				info("Split into %d chunk(s)", ev.ChunksTotal)
			case ev.Stage != "":
				info("%s...", ev.Stage)
			}
		},
	})

	var warning *pipeline.PartialTranscriptWarning
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		fail("interrupted: %v", err)
		os.Exit(130)
	case err != nil && !errors.As(err, &warning):
		fail("%v", err)
		os.Exit(1)
	}

	if pc.SaveIntermediate {
		if err := saveChunkResults(outPath, results); err != nil {
			warn("failed to save chunk results: %v", err)
		}
	}

	data, err := format.Render(transcript, f)
	if err != nil {
		fail("render %s: %v", f, err)
		os.Exit(1)
	}
	if outPath == "-" {
		os.Stdout.Write(data)
	} else {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			fail("write output: %v", err)
			os.Exit(1)
		}
		ok("Wrote %s (%s, %.1fs of audio in %s)", outPath, f, transcript.Duration, time.Since(started).Round(time.Millisecond))
	}

	if copyOut {
		if err := clipboard.WriteAll(string(data)); err != nil {
			warn("clipboard copy failed: %v", err)
		} else {
			ok("Copied transcript to clipboard")
		}
	}

	if w := pipeline.Warning(transcript); w != nil {
		warn("%v", w)
		if warning != nil {
			os.Exit(1)
		}
	}
}

func formatNames() []string {
	var names []string
	for _, f := range format.Formats() {
		names = append(names, f.String())
	}
	return names
}

// saveChunkResults writes the raw per-chunk results next to the output.
func saveChunkResults(outPath string, results []models.ChunkResult) error {
	if outPath == "-" {
		outPath = "transcript"
	}
	path := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".chunks.json"

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	info("Saved chunk results to %s", path)
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"audio-transcriber/pkg/audio"
	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/stt"
)

// Normalizer produces the canonical WAV a run is chunked from.
type Normalizer interface {
	Normalize(ctx context.Context, path string) (*audio.Source, error)
}

// Event reports run progress. Stage is set on stage changes; Result is set
// once per finished chunk.
type Event struct {
	Stage       models.JobStatus
	ChunksTotal int
	ChunksDone  int
	Result      *models.ChunkResult
}

type Request struct {
	InputPath string
	Task      models.Task
	// Language and Prompt override the configured defaults when set.
	Language string
	Prompt   string

	OnEvent func(Event)
}

// Transcriber runs normalize, chunk, dispatch and merge for one input.
type Transcriber struct {
	cfg        config.PipelineConfig
	normalizer Normalizer
	chunker    *audio.Chunker
	dispatcher *Dispatcher
}

func NewTranscriber(cfg config.PipelineConfig, normalizer Normalizer, dispatcher *Dispatcher) *Transcriber {
	return &Transcriber{
		cfg:        cfg,
		normalizer: normalizer,
		chunker:    audio.NewChunker(audio.OptionsFromConfig(cfg.Chunking)),
		dispatcher: dispatcher,
	}
}

// Run transcribes the input. A partial transcript is returned with a nil
// error unless RequireComplete is set, in which case the transcript comes
// back together with a *PartialTranscriptWarning.
func (t *Transcriber) Run(ctx context.Context, req Request) (*models.Transcript, error) {
	emit := func(ev Event) {
		if req.OnEvent != nil {
			req.OnEvent(ev)
		}
	}

	task := req.Task
	if task == "" {
		task = models.TaskTranscribe
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = t.cfg.Language
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = t.cfg.Prompt
	}

	declared := language
	if task == models.TaskTranslate {
		declared = stt.TranslationLanguage
	}

	emit(Event{Stage: models.JobNormalizing})
	src, err := t.normalizer.Normalize(ctx, req.InputPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, fmt.Errorf("failed to normalize audio: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Printf("Transcriber: %v", err)
		}
	}()

	chunks, err := t.chunker.Chunk(src)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk audio: %w", err)
	}

	emit(Event{Stage: models.JobTranscribing, ChunksTotal: len(chunks)})
	// Overlap trimming cuts on word boundaries when it has word times.
	tmpl := stt.Request{
		Task:           task,
		Language:       language,
		Prompt:         prompt,
		Temperature:    t.cfg.Temperature,
		WordTimestamps: t.cfg.Chunking.Overlap > 0,
	}
	results, err := t.dispatcher.Dispatch(ctx, chunks, tmpl, func(done, total int, result *models.ChunkResult) {
		emit(Event{ChunksTotal: total, ChunksDone: done, Result: result})
	})
	if err != nil {
		return nil, err
	}

	emit(Event{Stage: models.JobMerging, ChunksTotal: len(chunks), ChunksDone: len(chunks)})
	transcript, err := Merge(chunks, results, declared)
	if err != nil {
		return nil, err
	}

	if warning := Warning(transcript); warning != nil {
		log.Printf("Transcriber: %v", warning)
		if t.cfg.RequireComplete {
			return transcript, warning
		}
	}
	log.Printf("Transcriber: transcribed %.2fs of audio in %d chunk(s)", transcript.Duration, len(chunks))
	return transcript, nil
}

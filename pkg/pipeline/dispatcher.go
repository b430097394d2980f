package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/stt"

	"github.com/cenkalti/backoff/v4"
)

// ResultCache stores successful chunk results by content key.
type ResultCache interface {
	GetResult(key string) (*models.ChunkResult, bool, error)
	PutResult(key string, result *models.ChunkResult) error
}

// ProgressFunc is called once per finished chunk, from the worker that
// finished it.
type ProgressFunc func(done, total int, result *models.ChunkResult)

type Dispatcher struct {
	client stt.Client
	cfg    config.DispatchConfig

	cache     ResultCache
	namespace string
}

type DispatcherOption func(*Dispatcher)

// WithResultCache enables chunk result reuse. namespace separates entries
// produced by different models.
func WithResultCache(cache ResultCache, namespace string) DispatcherOption {
	return func(d *Dispatcher) {
		d.cache = cache
		d.namespace = namespace
	}
}

func NewDispatcher(client stt.Client, cfg config.DispatchConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	d := &Dispatcher{client: client, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch transcribes every chunk and returns results in chunk order. Chunk
// failures are reported in their result slot and never abort siblings.
// Cancellation returns ErrCancelled without waiting for in-flight calls.
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []models.Chunk, tmpl stt.Request, progress ProgressFunc) ([]models.ChunkResult, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	workers := d.cfg.Concurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}
	log.Printf("Dispatcher: dispatching %d chunk(s) on %d worker(s)", len(chunks), workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each slot is written once, by the worker that owns the index.
	results := make([]models.ChunkResult, len(chunks))
	var completed int32

	pool := NewWorkerPool(workers, 0, func(ctx context.Context, i int) {
		results[i] = d.processChunk(ctx, &chunks[i], tmpl)
		n := atomic.AddInt32(&completed, 1)
		if progress != nil {
			progress(int(n), len(chunks), &results[i])
		}
	})
	pool.Start(runCtx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range chunks {
			if err := pool.Submit(runCtx, i); err != nil {
				break
			}
		}
		pool.Stop()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Dispatcher: cancelled with %d/%d chunk(s) finished", atomic.LoadInt32(&completed), len(chunks))
		return nil, cancelled(ctx.Err())
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	return results, nil
}

func (d *Dispatcher) processChunk(ctx context.Context, chunk *models.Chunk, tmpl stt.Request) models.ChunkResult {
	key := d.cacheKey(chunk, &tmpl)
	if d.cache != nil {
		cached, ok, err := d.cache.GetResult(key)
		if err != nil {
			log.Printf("Dispatcher: cache lookup for chunk %d failed: %v", chunk.Index, err)
		} else if ok {
			result := *cached
			result.Index = chunk.Index
			result.Attempts = 0
			result.Cached = true
			log.Printf("Dispatcher: chunk %d served from cache", chunk.Index)
			return result
		}
	}

	req := tmpl
	req.Audio = chunk.Payload
	req.Filename = fmt.Sprintf("chunk_%03d.wav", chunk.Index)

	attempts := 0
	var resp *stt.Response
	operation := func() error {
		attempts++
		r, err := d.client.Transcribe(ctx, &req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			if !stt.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("Dispatcher: chunk %d attempt %d failed: %v (retrying in %s)", chunk.Index, attempts, err, wait.Round(time.Millisecond))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		failure := &ChunkFailedError{
			Index:    chunk.Index,
			Start:    chunk.Boundary,
			End:      chunk.End,
			Attempts: attempts,
			Err:      err,
		}
		if ctx.Err() == nil {
			log.Printf("Dispatcher: %v", failure)
		}
		return models.ChunkResult{
			Index:    chunk.Index,
			Status:   models.ChunkFailed,
			Attempts: attempts,
			Error:    failure.Error(),
			Err:      failure,
		}
	}

	result := models.ChunkResult{
		Index:    chunk.Index,
		Status:   models.ChunkSucceeded,
		Text:     resp.Text,
		Language: resp.Language,
		Segments: resp.Segments,
		Attempts: attempts,
	}
	if d.cache != nil {
		if err := d.cache.PutResult(key, &result); err != nil {
			log.Printf("Dispatcher: failed to cache chunk %d: %v", chunk.Index, err)
		}
	}
	return result
}

func (d *Dispatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (d *Dispatcher) cacheKey(chunk *models.Chunk, tmpl *stt.Request) string {
	hasher := sha256.New()
	for _, part := range []string{chunk.Checksum, string(tmpl.Task), tmpl.Language, tmpl.Prompt, d.namespace} {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

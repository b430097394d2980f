package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/storage"
)

var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrShuttingDown = errors.New("pipeline is shutting down")
	ErrJobFinished  = errors.New("job already finished")
)

// Runner executes one transcription run.
type Runner interface {
	Run(ctx context.Context, req Request) (*models.Transcript, error)
}

type jobHandle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// Manager runs submitted jobs on a bounded pool and tracks their state.
type Manager struct {
	runner    Runner
	memStore  storage.MemoryStore
	diskStore storage.DiskStore

	workers   int
	queueSize int
	pool      *WorkerPool[string]

	mu      sync.Mutex
	handles map[string]jobHandle
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires a job manager. diskStore may be nil, in which case
// finished jobs live only in memory.
func NewManager(cfg *config.Config, runner Runner, memStore storage.MemoryStore, diskStore storage.DiskStore) *Manager {
	return &Manager{
		runner:    runner,
		memStore:  memStore,
		diskStore: diskStore,
		workers:   cfg.JobWorkers,
		queueSize: cfg.QueueSize,
		handles:   make(map[string]jobHandle),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	log.Printf("Pipeline Manager: Starting %d job worker(s)...", m.workers)

	m.pool = NewWorkerPool(m.workers, m.queueSize, m.runJob)
	m.pool.Start(m.ctx)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit.
func (m *Manager) Stop() {
	log.Println("Pipeline Manager: Stopping...")
	m.mu.Lock()
	if m.stopped || m.pool == nil {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.pool.Stop()
	log.Println("Pipeline Manager: Stopped.")
}

// Submit queues a job. The manager takes ownership of job.InputPath and
// removes it once the job finishes.
func (m *Manager) Submit(job *models.Job) error {
	m.mu.Lock()
	if m.pool == nil || m.stopped {
		m.mu.Unlock()
		log.Printf("Pipeline Manager: Failed to submit job %s, pipeline is shutting down.", job.ID)
		return ErrShuttingDown
	}

	if err := m.memStore.StoreJob(job); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to store job: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.handles[job.ID] = jobHandle{ctx: ctx, cancel: cancel}
	queued := m.pool.TrySubmit(job.ID)
	m.mu.Unlock()

	if !queued {
		log.Printf("Pipeline Manager: Failed to submit job %s, job queue is full.", job.ID)
		m.finish(job.ID, nil, ErrQueueFull)
		return ErrQueueFull
	}

	log.Printf("Pipeline Manager: Job %s (%s) submitted.", job.ID, job.Filename)
	return nil
}

// Job returns a job from memory, falling back to persisted jobs.
func (m *Manager) Job(id string) (*models.Job, error) {
	job, err := m.memStore.GetJob(id)
	if errors.Is(err, storage.ErrJobNotFound) && m.diskStore != nil {
		return m.diskStore.GetJob(id)
	}
	return job, err
}

func (m *Manager) Jobs() ([]*models.Job, error) {
	return m.memStore.ListJobs()
}

// Cancel stops a pending or running job.
func (m *Manager) Cancel(id string) error {
	job, err := m.Job(id)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return ErrJobFinished
	}

	m.mu.Lock()
	handle, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	log.Printf("Pipeline Manager: Cancelling job %s.", id)
	handle.cancel()
	// Queued jobs are finished here; running ones finish when Run returns.
	if !handle.running {
		m.finish(id, nil, cancelled(context.Canceled))
	}
	return nil
}

// claim marks a queued job as picked up by a worker.
func (m *Manager) claim(id string) (jobHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.handles[id]
	if ok {
		handle.running = true
		m.handles[id] = handle
	}
	return handle, ok
}

func (m *Manager) runJob(_ context.Context, id string) {
	job, err := m.memStore.GetJob(id)
	if err != nil {
		log.Printf("Job Worker: job %s vanished: %v", id, err)
		return
	}

	handle, ok := m.claim(id)
	if !ok {
		return
	}
	ctx := handle.ctx

	if err := ctx.Err(); err != nil {
		m.finish(id, nil, cancelled(err))
		return
	}

	log.Printf("Job Worker: Running job %s.", id)
	transcript, err := m.runner.Run(ctx, Request{
		InputPath: job.InputPath,
		Task:      job.Task,
		Language:  job.Language,
		Prompt:    job.Prompt,
		OnEvent: func(ev Event) {
			m.onEvent(id, ev)
		},
	})
	m.finish(id, transcript, err)
}

func (m *Manager) onEvent(id string, ev Event) {
	err := m.memStore.UpdateJob(id, func(job *models.Job) {
		if job.Status.Finished() {
			return
		}
		if ev.Stage != "" {
			job.Status = ev.Stage
		}
		if ev.ChunksTotal > 0 {
			job.ChunksTotal = ev.ChunksTotal
		}
		if ev.ChunksDone > job.ChunksDone {
			job.ChunksDone = ev.ChunksDone
		}
	})
	if err != nil {
		log.Printf("Job Worker: failed to update job %s: %v", id, err)
	}
}

func (m *Manager) finish(id string, transcript *models.Transcript, runErr error) {
	m.mu.Lock()
	if handle, ok := m.handles[id]; ok {
		handle.cancel()
		delete(m.handles, id)
	}
	m.mu.Unlock()

	var final models.Job
	settled := false
	err := m.memStore.UpdateJob(id, func(job *models.Job) {
		// A job finishes once; a late cancel must not clobber a result.
		if job.Status.Finished() {
			settled = true
			return
		}
		job.CompletedAt = time.Now()
		job.Transcript = transcript

		var warning *PartialTranscriptWarning
		switch {
		case errors.Is(runErr, ErrCancelled), errors.Is(runErr, context.Canceled):
			job.Status = models.JobCancelled
			job.Error = runErr.Error()
		case errors.As(runErr, &warning):
			job.Status = models.JobFailed
			job.Error = warning.Error()
		case runErr != nil:
			job.Status = models.JobFailed
			job.Error = runErr.Error()
		case transcript != nil && transcript.Partial:
			job.Status = models.JobPartial
			job.Error = Warning(transcript).Error()
		default:
			job.Status = models.JobCompleted
		}
		final = *job
	})
	if err != nil {
		log.Printf("Job Worker: failed to finish job %s: %v", id, err)
		return
	}
	if settled {
		return
	}

	if final.InputPath != "" {
		if err := os.Remove(final.InputPath); err != nil && !os.IsNotExist(err) {
			log.Printf("Job Worker: failed to remove input for job %s: %v", id, err)
		}
	}

	if m.diskStore != nil {
		if err := m.diskStore.StoreJob(&final); err != nil {
			log.Printf("Job Worker: failed to persist job %s: %v", id, err)
		}
	}
	log.Printf("Job Worker: Job %s finished with status %s.", id, final.Status)
}

package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"audio-transcriber/pkg/models"
)

var (
	// ErrCancelled is returned when a run is cancelled. It is distinct from
	// partial success: no transcript is produced.
	ErrCancelled = errors.New("transcription cancelled")

	ErrInvalidTimeline = errors.New("invalid transcript timeline")
)

func cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// ChunkFailedError records why a single chunk produced no text.
type ChunkFailedError struct {
	Index    int
	Start    float64
	End      float64
	Attempts int
	Err      error
}

func (e *ChunkFailedError) Error() string {
	return fmt.Sprintf("chunk %d [%.2fs-%.2fs) failed after %d attempt(s): %v",
		e.Index, e.Start, e.End, e.Attempts, e.Err)
}

func (e *ChunkFailedError) Unwrap() error {
	return e.Err
}

// PartialTranscriptWarning lists the time ranges missing from a transcript.
type PartialTranscriptWarning struct {
	FailedRanges []models.TimeRange
}

func (w *PartialTranscriptWarning) Error() string {
	ranges := make([]string, len(w.FailedRanges))
	for i, r := range w.FailedRanges {
		ranges[i] = fmt.Sprintf("[%.2fs-%.2fs)", r.Start, r.End)
	}
	return fmt.Sprintf("partial transcript: %d range(s) missing %s", len(w.FailedRanges), strings.Join(ranges, ", "))
}

// Warning returns a PartialTranscriptWarning for a partial transcript, or nil.
func Warning(t *models.Transcript) *PartialTranscriptWarning {
	if t == nil || !t.Partial {
		return nil
	}
	return &PartialTranscriptWarning{FailedRanges: append([]models.TimeRange(nil), t.FailedRanges...)}
}

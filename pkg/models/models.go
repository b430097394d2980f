package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a bounded slice of a normalized audio source. Times are absolute
// seconds. Start may precede Boundary by the configured overlap margin;
// [Boundary, End) is the range this chunk owns in the final transcript.
type Chunk struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	Boundary float64 `json:"boundary"`
	End      float64 `json:"end"`
	Payload  []byte  `json:"-"`
	Checksum string  `json:"checksum"`
}

// Lead is the overlap carried in front of the owned range.
func (c Chunk) Lead() float64 {
	return c.Boundary - c.Start
}

func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

type ChunkStatus string

const (
	ChunkSucceeded ChunkStatus = "succeeded"
	ChunkFailed    ChunkStatus = "failed"
)

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a timed span of text. Chunk results carry chunk-local times;
// transcripts carry absolute ones.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
	Gap   bool    `json:"gap,omitempty"`
}

type ChunkResult struct {
	Index    int         `json:"index"`
	Status   ChunkStatus `json:"status"`
	Text     string      `json:"text"`
	Language string      `json:"language,omitempty"`
	Segments []Segment   `json:"segments,omitempty"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`
	Cached   bool        `json:"cached,omitempty"`

	Err error `json:"-"`
}

type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Transcript struct {
	Text         string      `json:"text"`
	Segments     []Segment   `json:"segments"`
	Language     string      `json:"language"`
	Duration     float64     `json:"duration"`
	Partial      bool        `json:"partial"`
	FailedRanges []TimeRange `json:"failed_ranges,omitempty"`
}

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobNormalizing  JobStatus = "normalizing"
	JobTranscribing JobStatus = "transcribing"
	JobMerging      JobStatus = "merging"
	JobCompleted    JobStatus = "completed"
	JobPartial      JobStatus = "partial"
	JobFailed       JobStatus = "failed"
	JobCancelled    JobStatus = "cancelled"
)

// Finished reports whether no further status change will happen.
func (s JobStatus) Finished() bool {
	switch s {
	case JobCompleted, JobPartial, JobFailed, JobCancelled:
		return true
	}
	return false
}

type Job struct {
	ID          string      `json:"id"`
	Filename    string      `json:"filename"`
	InputPath   string      `json:"-"`
	Task        Task        `json:"task"`
	Language    string      `json:"language,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	Status      JobStatus   `json:"status"`
	ChunksTotal int         `json:"chunks_total"`
	ChunksDone  int         `json:"chunks_done"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Transcript  *Transcript `json:"transcript,omitempty"`
}

func NewJob(filename, inputPath string, task Task) *Job {
	if task == "" {
		task = TaskTranscribe
	}
	return &Job{
		ID:        uuid.New().String(),
		Filename:  filename,
		InputPath: inputPath,
		Task:      task,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}
}

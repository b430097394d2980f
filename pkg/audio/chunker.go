package audio

import (
	"fmt"
	"math"

	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"
)

const boundaryEpsilon = 1e-9

// Span is a planned chunk boundary in absolute seconds. Start precedes
// Boundary by the overlap margin on every chunk but the first.
type Span struct {
	Index    int
	Start    float64
	Boundary float64
	End      float64
}

type ChunkOptions struct {
	AutoChunk bool
	Duration  float64
	Overlap   float64
	MinChunk  float64
	// MaxBytes caps the payload of a single chunk; 0 means unbounded.
	MaxBytes int64
}

func OptionsFromConfig(cfg config.ChunkingConfig) ChunkOptions {
	return ChunkOptions{
		AutoChunk: cfg.AutoChunk,
		Duration:  cfg.ChunkDuration.Seconds(),
		Overlap:   cfg.Overlap.Seconds(),
		MinChunk:  cfg.MinChunk.Seconds(),
		MaxBytes:  int64(cfg.MaxChunkSizeMB) * 1024 * 1024,
	}
}

// Plan places chunk boundaries at fixed multiples of the chunk duration over
// [0, total). bytesPerSecond is used to shrink the duration when a chunk
// would exceed MaxBytes.
func Plan(total float64, opts ChunkOptions, bytesPerSecond int64) ([]Span, error) {
	if total <= 0 {
		return nil, ErrEmptyAudio
	}

	if !opts.AutoChunk {
		if opts.MaxBytes > 0 && int64(math.Ceil(total*float64(bytesPerSecond)))+wavHeaderSize > opts.MaxBytes {
			return nil, fmt.Errorf("%w: %.1fs of audio with chunking disabled", ErrChunkTooLarge, total)
		}
		return []Span{{Index: 0, Start: 0, Boundary: 0, End: total}}, nil
	}

	d, overlap := opts.Duration, opts.Overlap
	if d <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %.3f", d)
	}
	if overlap < 0 {
		overlap = 0
	}

	if opts.MaxBytes > 0 && bytesPerSecond > 0 {
		limit := float64(opts.MaxBytes-wavHeaderSize)/float64(bytesPerSecond) - overlap
		if limit <= 0 {
			return nil, fmt.Errorf("%w: overlap %.1fs leaves no room under %d bytes", ErrChunkTooLarge, overlap, opts.MaxBytes)
		}
		if limit < d {
			d = math.Floor(limit)
			if d <= 0 {
				d = limit
			}
		}
	}
	if overlap >= d {
		overlap = 0
	}

	if total <= d+boundaryEpsilon {
		return []Span{{Index: 0, Start: 0, Boundary: 0, End: total}}, nil
	}

	var spans []Span
	for k := 0; ; k++ {
		boundary := float64(k) * d
		if boundary >= total-boundaryEpsilon {
			break
		}
		end := math.Min(float64(k+1)*d, total)
		spans = append(spans, Span{
			Index:    k,
			Start:    math.Max(0, boundary-overlap),
			Boundary: boundary,
			End:      end,
		})
	}

	// Fold a degenerate tail into its predecessor.
	if n := len(spans); n > 1 {
		last := spans[n-1]
		if last.End-last.Boundary < opts.MinChunk {
			spans[n-2].End = last.End
			spans = spans[:n-1]
		}
	}

	if len(spans) == 1 {
		spans[0].Start, spans[0].Boundary = 0, 0
	}
	return spans, nil
}

// Chunker plans boundaries for a Source and slices its payloads.
type Chunker struct {
	opts ChunkOptions
}

func NewChunker(opts ChunkOptions) *Chunker {
	return &Chunker{opts: opts}
}

func (c *Chunker) Chunk(src *Source) ([]models.Chunk, error) {
	spans, err := Plan(src.Duration, c.opts, src.BytesPerSecond())
	if err != nil {
		return nil, err
	}
	return src.Split(spans)
}

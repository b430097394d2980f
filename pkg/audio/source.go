package audio

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync"

	"audio-transcriber/pkg/models"
)

// Source is a normalized WAV file on disk. It is immutable once opened and
// owned by the pipeline run that produced it.
type Source struct {
	Path       string
	SampleRate int
	Channels   int
	Duration   float64

	format     wavFormat
	dataOffset int64
	dataLen    int64

	temporary bool
	closeOnce sync.Once
	closeErr  error
}

// OpenSource reads the header of an existing 16-bit PCM WAV. The file is
// left in place by Close.
func OpenSource(path string) (*Source, error) {
	return openSource(path, false)
}

func openSource(path string, temporary bool) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio %s: %w", path, err)
	}
	defer f.Close()

	format, offset, length, err := readWAVHeader(f)
	if err != nil {
		return nil, err
	}
	if format.audioFormat != 1 || format.bitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("%w: expected 16-bit PCM, got format %d with %d bits", ErrInvalidWAV, format.audioFormat, format.bitsPerSample)
	}
	if format.channels == 0 || format.sampleRate == 0 || format.blockAlign == 0 {
		return nil, fmt.Errorf("%w: zero channels or sample rate", ErrInvalidWAV)
	}

	if info, err := f.Stat(); err == nil && offset+length > info.Size() {
		length = info.Size() - offset
	}
	length -= length % int64(format.blockAlign)

	return &Source{
		Path:       path,
		SampleRate: int(format.sampleRate),
		Channels:   int(format.channels),
		Duration:   float64(length) / float64(format.bytesPerSecond()),
		format:     format,
		dataOffset: offset,
		dataLen:    length,
		temporary:  temporary,
	}, nil
}

// BytesPerSecond is the PCM data rate of the source.
func (s *Source) BytesPerSecond() int64 {
	return s.format.bytesPerSecond()
}

// Close removes the backing file when it was created by the normalizer.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if !s.temporary {
			return
		}
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			s.closeErr = fmt.Errorf("failed to remove normalized audio: %w", err)
		}
	})
	return s.closeErr
}

func (s *Source) byteOffset(sec float64) int64 {
	frame := int64(math.Round(sec * float64(s.format.sampleRate)))
	off := frame * int64(s.format.blockAlign)
	if off < 0 {
		return 0
	}
	if off > s.dataLen {
		return s.dataLen
	}
	return off
}

// ReadRange returns the frame-aligned PCM bytes for [start, end).
func (s *Source) ReadRange(start, end float64) ([]byte, error) {
	from, to := s.byteOffset(start), s.byteOffset(end)
	if to <= from {
		return nil, fmt.Errorf("empty range [%.3f, %.3f)", start, end)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio %s: %w", s.Path, err)
	}
	defer f.Close()

	pcm := make([]byte, to-from)
	if _, err := f.ReadAt(pcm, s.dataOffset+from); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read audio range: %w", err)
	}
	return pcm, nil
}

// Split materializes the planned spans as self-contained WAV payloads.
func (s *Source) Split(spans []Span) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0, len(spans))
	for _, span := range spans {
		pcm, err := s.ReadRange(span.Start, span.End)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", span.Index, err)
		}
		payload := EncodeWAV(pcm, s.SampleRate, s.Channels)

		hasher := sha256.New()
		hasher.Write(payload)

		chunks = append(chunks, models.Chunk{
			Index:    span.Index,
			Start:    span.Start,
			Boundary: span.Boundary,
			End:      span.End,
			Payload:  payload,
			Checksum: fmt.Sprintf("%x", hasher.Sum(nil)),
		})
	}
	log.Printf("Chunker: split %.2fs of audio into %d chunk(s)", s.Duration, len(chunks))
	return chunks, nil
}

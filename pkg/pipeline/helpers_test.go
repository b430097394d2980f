package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audio-transcriber/pkg/audio"
	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/stt"
)

const wavHeader = 44

// writeSecondsWAV writes a mono 16 kHz WAV whose samples carry the index of
// the second they belong to.
func writeSecondsWAV(t *testing.T, seconds int) string {
	t.Helper()

	pcm := make([]byte, 0, seconds*audio.SampleRate*2)
	for s := 0; s < seconds; s++ {
		for i := 0; i < audio.SampleRate; i++ {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
		}
	}
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

type wavNormalizer struct{}

func (wavNormalizer) Normalize(_ context.Context, path string) (*audio.Source, error) {
	return audio.OpenSource(path)
}

// secondsClient is a deterministic speech service: each second of audio is
// heard as the word "w<n>", where n is the sample value of that second.
type secondsClient struct {
	mu    sync.Mutex
	calls map[int]int

	inFlight    int32
	maxInFlight int32

	// fail, when set, is consulted before answering.
	fail func(index, attempt int) error
	// block, when set, holds the call for that chunk until it returns.
	block func(index int)
}

func newSecondsClient() *secondsClient {
	return &secondsClient{calls: make(map[int]int)}
}

func (c *secondsClient) Transcribe(_ context.Context, req *stt.Request) (*stt.Response, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&c.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&c.maxInFlight, peak, n) {
			break
		}
	}

	var index int
	fmt.Sscanf(req.Filename, "chunk_%03d.wav", &index)

	c.mu.Lock()
	c.calls[index]++
	attempt := c.calls[index]
	c.mu.Unlock()

	if c.block != nil {
		c.block(index)
	}
	if c.fail != nil {
		if err := c.fail(index, attempt); err != nil {
			return nil, err
		}
	}
	return heardSeconds(req.Audio), nil
}

func (c *secondsClient) callsFor(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[index]
}

func (c *secondsClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func heardSeconds(payload []byte) *stt.Response {
	samples := (len(payload) - wavHeader) / 2
	seconds := samples / audio.SampleRate

	var words []models.Word
	var texts []string
	for s := 0; s < seconds; s++ {
		mid := wavHeader + 2*(s*audio.SampleRate+audio.SampleRate/2)
		v := binary.LittleEndian.Uint16(payload[mid:])
		word := fmt.Sprintf("w%d", v)
		words = append(words, models.Word{Word: " " + word, Start: float64(s), End: float64(s) + 0.9})
		texts = append(texts, word)
	}
	text := strings.Join(texts, " ")
	return &stt.Response{
		Text:     text,
		Language: "en",
		Duration: float64(seconds),
		Segments: []models.Segment{{Start: 0, End: float64(seconds), Text: text, Words: words}},
	}
}

func expectedWords(from, to int) string {
	words := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	return strings.Join(words, " ")
}

func testPipelineConfig(chunk, overlap time.Duration) config.PipelineConfig {
	cfg := config.Load().Pipeline
	cfg.Chunking.ChunkDuration = chunk
	cfg.Chunking.Overlap = overlap
	cfg.Dispatch.InitialBackoff = time.Millisecond
	cfg.Dispatch.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func newTestTranscriber(cfg config.PipelineConfig, client stt.Client) *Transcriber {
	return NewTranscriber(cfg, wavNormalizer{}, NewDispatcher(client, cfg.Dispatch))
}

func unavailable() error {
	return &stt.Error{Kind: stt.KindTransient, StatusCode: 503, Message: "service unavailable"}
}

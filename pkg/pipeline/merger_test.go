package pipeline

import (
	"errors"
	"testing"

	"audio-transcriber/pkg/models"
)

func succeeded(index int, segs ...models.Segment) models.ChunkResult {
	return models.ChunkResult{Index: index, Status: models.ChunkSucceeded, Language: "en", Segments: segs}
}

func TestMergeOrdersByIndex(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 5},
		{Index: 1, Start: 5, Boundary: 5, End: 10},
	}
	results := []models.ChunkResult{
		succeeded(1, models.Segment{Start: 0, End: 4, Text: "second"}),
		succeeded(0, models.Segment{Start: 0, End: 4, Text: "first"}),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Text != "first second" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
	if transcript.Segments[1].Start != 5 || transcript.Segments[1].End != 9 {
		t.Fatalf("expected shifted times, got %+v", transcript.Segments[1])
	}
	if transcript.Language != "en" {
		t.Fatalf("expected detected language, got %q", transcript.Language)
	}
}

func TestMergeDeclaredLanguageWins(t *testing.T) {
	chunks := []models.Chunk{{Index: 0, End: 5}}
	transcript, err := Merge(chunks, []models.ChunkResult{succeeded(0, models.Segment{End: 5, Text: "hola"})}, "es")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Language != "es" {
		t.Fatalf("expected declared language, got %q", transcript.Language)
	}
}

func TestMergeTrimsOverlapByWords(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 10},
		{Index: 1, Start: 8, Boundary: 10, End: 20},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{Start: 0, End: 10, Text: "alpha beta gamma", Words: []models.Word{
			{Word: "alpha", Start: 1, End: 2}, {Word: "beta", Start: 5, End: 6}, {Word: "gamma", Start: 8.5, End: 9.5},
		}}),
		succeeded(1, models.Segment{Start: 0, End: 6, Text: "gamma delta epsilon", Words: []models.Word{
			{Word: "gamma", Start: 0.5, End: 1.5}, {Word: "delta", Start: 2.5, End: 3}, {Word: "epsilon", Start: 4, End: 5},
		}}),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Text != "alpha beta gamma delta epsilon" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
	second := transcript.Segments[1]
	if second.Start != 10.5 || len(second.Words) != 2 || second.Words[0].Start != 10.5 {
		t.Fatalf("unexpected trimmed segment: %+v", second)
	}
}

func TestMergeTrimsOverlapBySegmentMidpoint(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 10},
		{Index: 1, Start: 8, Boundary: 10, End: 20},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{Start: 0, End: 10, Text: "one two"}),
		succeeded(1,
			models.Segment{Start: 0, End: 1.5, Text: "two"},
			models.Segment{Start: 1.5, End: 12, Text: "three four"},
		),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Text != "one two three four" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
	if len(transcript.Segments) != 2 || transcript.Segments[1].Start != 10 || transcript.Segments[1].End != 20 {
		t.Fatalf("unexpected segments: %+v", transcript.Segments)
	}
}

func TestMergeDropsRepeatedSeamWords(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 10},
		{Index: 1, Start: 8, Boundary: 10, End: 20},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{Start: 0, End: 10, Text: "the quick brown fox"}),
		succeeded(1, models.Segment{Start: 1.5, End: 8, Text: "Brown fox, jumps over"}),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Text != "the quick brown fox jumps over" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
}

func TestMergeCharacterFallback(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 10},
		{Index: 1, Start: 8, Boundary: 10, End: 18},
	}
	results := []models.ChunkResult{
		{Index: 0, Status: models.ChunkSucceeded, Text: "aaaa bbbb"},
		// Two of ten seconds are lead: a fifth of the text, rounded up to "cccc".
		{Index: 1, Status: models.ChunkSucceeded, Text: "cccc dddd eeee ffff"},
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Text != "aaaa bbbb dddd eeee ffff" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
	if transcript.Segments[1].Start != 10 || transcript.Segments[1].End != 18 {
		t.Fatalf("unexpected untimed segment: %+v", transcript.Segments[1])
	}
}

func TestTrimCharactersKeepsWordsWhole(t *testing.T) {
	seg := trimCharacters(models.Segment{End: 10, Text: "abcdefghij klmnop"}, 2, 10)
	if seg.Text != "klmnop" {
		t.Fatalf("expected cut to advance to the next word, got %q", seg.Text)
	}
}

func TestMergeFailedChunkBecomesGap(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Start: 0, Boundary: 0, End: 10},
		{Index: 1, Start: 8, Boundary: 10, End: 20},
		{Index: 2, Start: 18, Boundary: 20, End: 30},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{Start: 0, End: 10, Text: "before"}),
		{Index: 1, Status: models.ChunkFailed, Error: "boom"},
		succeeded(2, models.Segment{Start: 2, End: 10, Text: "after"}),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if !transcript.Partial || len(transcript.FailedRanges) != 1 {
		t.Fatalf("expected one failed range, got %+v", transcript.FailedRanges)
	}
	if transcript.FailedRanges[0] != (models.TimeRange{Start: 10, End: 20}) {
		t.Fatalf("failed range must cover the owned range, got %+v", transcript.FailedRanges[0])
	}
	gap := transcript.Segments[1]
	if !gap.Gap || gap.Start != 10 || gap.End != 20 {
		t.Fatalf("unexpected gap: %+v", gap)
	}
	if transcript.Text != "before after" {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
}

func TestMergeMissingResultIsGap(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, End: 5},
		{Index: 1, Start: 5, Boundary: 5, End: 10},
	}
	transcript, err := Merge(chunks, []models.ChunkResult{succeeded(0, models.Segment{End: 5, Text: "only"})}, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if !transcript.Partial || !transcript.Segments[1].Gap {
		t.Fatalf("expected a gap for the missing result, got %+v", transcript.Segments)
	}
}

func TestMergeSilentChunkIsNotAGap(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, End: 5},
		{Index: 1, Start: 5, Boundary: 5, End: 10},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{End: 5, Text: "speech"}),
		{Index: 1, Status: models.ChunkSucceeded},
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Partial || len(transcript.Segments) != 1 {
		t.Fatalf("silence must not produce a gap: %+v", transcript)
	}
}

func TestMergeClampsOverreachingSegments(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, End: 5},
		{Index: 1, Start: 5, Boundary: 5, End: 10},
	}
	results := []models.ChunkResult{
		succeeded(0, models.Segment{Start: 0, End: 7, Text: "too long"}),
		succeeded(1, models.Segment{Start: 0, End: 3, Text: "next"}),
	}

	transcript, err := Merge(chunks, results, "")
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if transcript.Segments[0].End != 5 || transcript.Segments[1].Start != 5 {
		t.Fatalf("expected segments clamped to chunk bounds, got %+v", transcript.Segments)
	}
}

func TestValidateTimeline(t *testing.T) {
	good := []models.Segment{{Start: 0, End: 1}, {Start: 0.9995, End: 2}}
	if err := validateTimeline(good); err != nil {
		t.Fatalf("expected overlap within tolerance to pass, got %v", err)
	}

	for _, segs := range [][]models.Segment{
		{{Start: 0, End: 2}, {Start: 1, End: 3}},
		{{Start: 2, End: 3}, {Start: 1, End: 4}},
		{{Start: 2, End: 1}},
	} {
		if err := validateTimeline(segs); !errors.Is(err, ErrInvalidTimeline) {
			t.Fatalf("expected ErrInvalidTimeline for %+v, got %v", segs, err)
		}
	}
}

func TestMergeNoChunks(t *testing.T) {
	if _, err := Merge(nil, nil, ""); !errors.Is(err, ErrInvalidTimeline) {
		t.Fatalf("expected ErrInvalidTimeline, got %v", err)
	}
}

package pipeline

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"audio-transcriber/pkg/models"
)

const (
	// overlapTolerance absorbs millisecond rounding at chunk seams.
	overlapTolerance = 0.001

	maxSeamWords = 8
)

// Merge reassembles per-chunk results into one transcript with absolute
// times. results may arrive in any order; they are matched to chunks by
// index. language, when set, is reported instead of the detected one.
func Merge(chunks []models.Chunk, results []models.ChunkResult, language string) (*models.Transcript, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to merge", ErrInvalidTimeline)
	}

	ordered := append([]models.Chunk(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	byIndex := make(map[int]*models.ChunkResult, len(results))
	for i := range results {
		byIndex[results[i].Index] = &results[i]
	}

	t := &models.Transcript{
		Language: language,
		Duration: ordered[len(ordered)-1].End,
		Segments: []models.Segment{},
	}

	var (
		prevEnd  float64
		prevTail []string
		texts    []string
	)
	for i := range ordered {
		chunk := &ordered[i]
		res, ok := byIndex[chunk.Index]
		if !ok || res.Status != models.ChunkSucceeded {
			t.Segments = append(t.Segments, models.Segment{
				Start: maxFloat(chunk.Boundary, prevEnd),
				End:   chunk.End,
				Gap:   true,
			})
			t.FailedRanges = append(t.FailedRanges, models.TimeRange{Start: chunk.Boundary, End: chunk.End})
			t.Partial = true
			prevEnd = chunk.End
			prevTail = nil
			continue
		}

		if t.Language == "" && res.Language != "" {
			t.Language = res.Language
		}

		segs := localSegments(res, chunk.Duration())
		if lead := chunk.Lead(); lead > 0 {
			segs = trimLead(segs, lead, chunk.Duration(), len(res.Segments) == 0)
			segs = dropSeamRepeat(segs, prevTail)
		}

		for _, seg := range segs {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
			seg = shift(seg, chunk.Start)
			seg.Start = clamp(seg.Start, prevEnd, chunk.End)
			seg.End = clamp(seg.End, seg.Start, chunk.End)
			t.Segments = append(t.Segments, seg)
			texts = append(texts, seg.Text)
			prevEnd = seg.End
		}
		prevTail = tailWords(segs, maxSeamWords)
	}

	t.Text = strings.Join(strings.Fields(strings.Join(texts, " ")), " ")

	if err := validateTimeline(t.Segments); err != nil {
		return nil, err
	}
	log.Printf("Merger: merged %d chunk(s) into %d segment(s), partial=%v", len(ordered), len(t.Segments), t.Partial)
	return t, nil
}

// localSegments returns the result's segments in chunk-local time. A result
// with text but no timing becomes one segment spanning the chunk.
func localSegments(res *models.ChunkResult, duration float64) []models.Segment {
	if len(res.Segments) > 0 {
		segs := make([]models.Segment, 0, len(res.Segments))
		for _, s := range res.Segments {
			s.Text = strings.TrimSpace(s.Text)
			s.Words = append([]models.Word(nil), s.Words...)
			segs = append(segs, s)
		}
		sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
		return segs
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil
	}
	return []models.Segment{{Start: 0, End: duration, Text: text}}
}

// trimLead drops the content of the overlap lead [0, lead). Words are used
// when present, then segment midpoints; an untimed result falls back to a
// proportional character cut aligned to the next word boundary.
func trimLead(segs []models.Segment, lead, duration float64, untimed bool) []models.Segment {
	if untimed && len(segs) == 1 {
		return []models.Segment{trimCharacters(segs[0], lead, duration)}
	}

	out := segs[:0]
	for _, seg := range segs {
		if len(seg.Words) > 0 {
			var kept []models.Word
			for _, w := range seg.Words {
				if w.Start >= lead-overlapTolerance {
					kept = append(kept, w)
				}
			}
			if len(kept) == 0 {
				continue
			}
			if len(kept) < len(seg.Words) {
				seg.Words = kept
				seg.Text = joinWords(kept)
				seg.Start = maxFloat(seg.Start, kept[0].Start)
			}
			out = append(out, seg)
			continue
		}

		if (seg.Start+seg.End)/2 < lead {
			continue
		}
		seg.Start = maxFloat(seg.Start, lead)
		out = append(out, seg)
	}
	return out
}

func trimCharacters(seg models.Segment, lead, duration float64) models.Segment {
	runes := []rune(seg.Text)
	if duration <= 0 {
		return seg
	}
	cut := int(float64(len(runes)) * lead / duration)
	if cut > 0 && cut < len(runes) && !unicode.IsSpace(runes[cut-1]) {
		for cut < len(runes) && !unicode.IsSpace(runes[cut]) {
			cut++
		}
	}
	if cut > len(runes) {
		cut = len(runes)
	}
	seg.Text = strings.TrimSpace(string(runes[cut:]))
	seg.Start = maxFloat(seg.Start, lead)
	return seg
}

// dropSeamRepeat removes leading words that repeat the previous chunk's
// trailing words, longest run first.
func dropSeamRepeat(segs []models.Segment, prevTail []string) []models.Segment {
	if len(prevTail) == 0 || len(segs) == 0 {
		return segs
	}
	head := headWords(segs, maxSeamWords)

	n := 0
	for k := minInt(len(prevTail), len(head)); k > 0; k-- {
		if equalWords(prevTail[len(prevTail)-k:], head[:k]) {
			n = k
			break
		}
	}
	if n == 0 {
		return segs
	}
	return dropLeadingWords(segs, n)
}

func dropLeadingWords(segs []models.Segment, n int) []models.Segment {
	out := segs[:0]
	for _, seg := range segs {
		if n == 0 {
			out = append(out, seg)
			continue
		}
		fields := strings.Fields(seg.Text)
		if n >= len(fields) {
			n -= len(fields)
			continue
		}
		if len(seg.Words) == len(fields) {
			seg.Words = seg.Words[n:]
			seg.Start = maxFloat(seg.Start, seg.Words[0].Start)
		}
		seg.Text = strings.Join(fields[n:], " ")
		n = 0
		out = append(out, seg)
	}
	return out
}

func headWords(segs []models.Segment, limit int) []string {
	var words []string
	for _, seg := range segs {
		for _, f := range strings.Fields(seg.Text) {
			if len(words) == limit {
				return words
			}
			words = append(words, f)
		}
	}
	return words
}

func tailWords(segs []models.Segment, limit int) []string {
	var words []string
	for i := len(segs) - 1; i >= 0 && len(words) < limit; i-- {
		fields := strings.Fields(segs[i].Text)
		take := minInt(limit-len(words), len(fields))
		words = append(append([]string(nil), fields[len(fields)-take:]...), words...)
	}
	return words
}

func equalWords(a, b []string) bool {
	for i := range a {
		if normalizeWord(a[i]) != normalizeWord(b[i]) {
			return false
		}
	}
	return true
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func joinWords(words []models.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if s := strings.TrimSpace(w.Word); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func shift(seg models.Segment, offset float64) models.Segment {
	seg.Start += offset
	seg.End += offset
	if len(seg.Words) > 0 {
		words := make([]models.Word, len(seg.Words))
		for i, w := range seg.Words {
			words[i] = models.Word{Word: w.Word, Start: w.Start + offset, End: w.End + offset}
		}
		seg.Words = words
	}
	return seg
}

func validateTimeline(segs []models.Segment) error {
	for i, seg := range segs {
		if seg.End < seg.Start {
			return fmt.Errorf("%w: segment %d ends before it starts (%.3f < %.3f)", ErrInvalidTimeline, i, seg.End, seg.Start)
		}
		if i == 0 {
			continue
		}
		prev := segs[i-1]
		if seg.Start < prev.Start {
			return fmt.Errorf("%w: segment %d starts before segment %d", ErrInvalidTimeline, i, i-1)
		}
		if seg.Start < prev.End-overlapTolerance {
			return fmt.Errorf("%w: segment %d overlaps its predecessor by %.3fs", ErrInvalidTimeline, i, prev.End-seg.Start)
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

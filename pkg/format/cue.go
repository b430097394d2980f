package format

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"audio-transcriber/pkg/models"
)

var ErrInvalidCue = errors.New("invalid cue")

// Cue is one timed subtitle entry. Times are seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

func millis(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func roundMillis(sec float64) float64 {
	return float64(millis(sec)) / 1000
}

type msCue struct {
	start, end int64
	text       string
}

// cues drops gap and empty segments and clamps each cue to start no
// earlier than the previous one ended. Cues left with no duration are dropped.
func cues(t *models.Transcript) []msCue {
	var out []msCue
	var prevEnd int64
	for _, seg := range t.Segments {
		if seg.Gap {
			continue
		}
		text := strings.ReplaceAll(collapse(seg.Text), "-->", "->")
		if text == "" {
			continue
		}
		start, end := millis(seg.Start), millis(seg.End)
		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}
		out = append(out, msCue{start: start, end: end, text: text})
		prevEnd = end
	}
	return out
}

func timecode(ms int64, sep byte) string {
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}

func renderSRT(w io.Writer, t *models.Transcript) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues(t) {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", i+1, timecode(c.start, ','), timecode(c.end, ','), c.text)
	}
	return bw.Flush()
}

func renderVTT(w io.Writer, t *models.Transcript) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("WEBVTT\n")
	for _, c := range cues(t) {
		fmt.Fprintf(bw, "\n%s --> %s\n%s\n", timecode(c.start, '.'), timecode(c.end, '.'), c.text)
	}
	return bw.Flush()
}

// ParseCues reads SRT or WebVTT cues back. Cue numbers, the WEBVTT header
// and cue settings are ignored.
func ParseCues(data []byte) ([]Cue, error) {
	var out []Cue
	var current *Cue

	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		if text == "" {
			if current != nil {
				out = append(out, *current)
				current = nil
			}
			continue
		}

		if strings.Contains(text, "-->") {
			if current != nil {
				out = append(out, *current)
			}
			start, end, err := parseTiming(text)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			current = &Cue{Start: start, End: end}
			continue
		}

		if current != nil {
			if current.Text != "" {
				current.Text += "\n"
			}
			current.Text += text
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		out = append(out, *current)
	}
	return out, nil
}

func parseTiming(line string) (float64, float64, error) {
	left, right, _ := strings.Cut(line, "-->")
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("%w: missing end time in %q", ErrInvalidCue, line)
	}
	start, err := parseTimecode(left)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimecode(fields[0])
	if err != nil {
		return 0, 0, err
	}
	return float64(start) / 1000, float64(end) / 1000, nil
}

// parseTimecode accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm.
func parseTimecode(s string) (int64, error) {
	s = strings.TrimSpace(s)
	clock, frac, ok := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("%w: timecode %q", ErrInvalidCue, s)
	}

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: timecode %q", ErrInvalidCue, s)
	}
	var total int64
	for _, p := range append(parts, frac) {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			return 0, fmt.Errorf("%w: timecode %q", ErrInvalidCue, s)
		}
	}
	for _, p := range parts {
		n, _ := strconv.ParseInt(p, 10, 64)
		total = total*60 + n
	}
	ms, _ := strconv.ParseInt(frac, 10, 64)
	return total*1000 + ms, nil
}

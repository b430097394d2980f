package format

import (
	"encoding/json"
	"io"
	"strings"

	"audio-transcriber/pkg/models"
)

// DefaultGapPlaceholder stands in for audio that could not be transcribed.
const DefaultGapPlaceholder = "[...]"

type TextOptions struct {
	// GapPlaceholder replaces each failed range. Empty drops gaps silently.
	GapPlaceholder string
}

func TextRenderer(opts TextOptions) Renderer {
	return RendererFunc(func(w io.Writer, t *models.Transcript) error {
		_, err := io.WriteString(w, plainText(t, opts.GapPlaceholder)+"\n")
		return err
	})
}

func plainText(t *models.Transcript, placeholder string) string {
	if len(t.Segments) == 0 {
		return collapse(t.Text)
	}
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.Gap {
			if placeholder != "" {
				parts = append(parts, placeholder)
			}
			continue
		}
		if text := collapse(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type jsonSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Partial bool    `json:"partial,omitempty"`
}

type jsonTranscript struct {
	Language     string             `json:"language"`
	Duration     float64            `json:"duration"`
	Text         string             `json:"text"`
	Partial      bool               `json:"partial"`
	FailedRanges []models.TimeRange `json:"failed_ranges"`
	Segments     []jsonSegment      `json:"segments"`
}

func renderJSON(w io.Writer, t *models.Transcript) error {
	out := jsonTranscript{
		Language:     t.Language,
		Duration:     roundMillis(t.Duration),
		Text:         t.Text,
		Partial:      t.Partial,
		FailedRanges: make([]models.TimeRange, 0, len(t.FailedRanges)),
		Segments:     make([]jsonSegment, 0, len(t.Segments)),
	}
	for _, r := range t.FailedRanges {
		out.FailedRanges = append(out.FailedRanges, models.TimeRange{Start: roundMillis(r.Start), End: roundMillis(r.End)})
	}
	for _, seg := range t.Segments {
		out.Segments = append(out.Segments, jsonSegment{
			Start:   roundMillis(seg.Start),
			End:     roundMillis(seg.End),
			Text:    collapse(seg.Text),
			Partial: seg.Gap,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

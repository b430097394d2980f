package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"audio-transcriber/pkg/models"
)

type Format string

const (
	FormatText        Format = "text"
	FormatJSON        Format = "json"
	FormatVerboseJSON Format = "verbose_json"
	FormatSRT         Format = "srt"
	FormatVTT         Format = "vtt"
)

var ErrInvalidFormat = errors.New("invalid format")

// ParseFormat maps a user supplied name to a registered format.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "txt" {
		name = string(FormatText)
	}
	f := Format(name)
	if _, ok := lookup(f); !ok {
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidFormat, s, strings.Join(names(), ", "))
	}
	return f, nil
}

func (f Format) IsSubtitle() bool {
	return f == FormatSRT || f == FormatVTT
}

func (f Format) Extension() string {
	switch f {
	case FormatText:
		return ".txt"
	case FormatVerboseJSON:
		return ".json"
	}
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON, FormatVerboseJSON:
		return "application/json"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func (f Format) String() string {
	return string(f)
}

// Renderer writes a transcript in one output format. Renderers must be
// deterministic.
type Renderer interface {
	Render(w io.Writer, t *models.Transcript) error
}

type RendererFunc func(w io.Writer, t *models.Transcript) error

func (f RendererFunc) Render(w io.Writer, t *models.Transcript) error {
	return f(w, t)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Format]Renderer)
)

// Register makes a renderer available under name, replacing any previous one.
func Register(f Format, r Renderer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f] = r
}

func lookup(f Format) (Renderer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[f]
	return r, ok
}

func names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for f := range registry {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// Formats lists the registered formats in name order.
func Formats() []Format {
	var out []Format
	for _, n := range names() {
		out = append(out, Format(n))
	}
	return out
}

func Write(w io.Writer, t *models.Transcript, f Format) error {
	r, ok := lookup(f)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, f)
	}
	if t == nil {
		return errors.New("nil transcript")
	}
	return r.Render(w, t)
}

func Render(t *models.Transcript, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	Register(FormatText, TextRenderer(TextOptions{GapPlaceholder: DefaultGapPlaceholder}))
	Register(FormatJSON, RendererFunc(renderJSON))
	Register(FormatVerboseJSON, RendererFunc(renderJSON))
	Register(FormatSRT, RendererFunc(renderSRT))
	Register(FormatVTT, RendererFunc(renderVTT))
}

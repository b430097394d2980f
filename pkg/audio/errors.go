package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedMedia is returned when the input has no decodable audio track.
	ErrUnsupportedMedia = errors.New("unsupported media: no audio stream found")
	ErrEmptyAudio       = errors.New("audio source is empty")
	ErrChunkTooLarge    = errors.New("audio exceeds the maximum chunk size")
	ErrInvalidWAV       = errors.New("invalid wav data")
)

// ExternalToolError reports a failed ffmpeg/ffprobe invocation.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

package stt

import (
	"context"

	"audio-transcriber/pkg/models"
)

// Request is one audio payload submitted to the speech service.
type Request struct {
	// Audio is a complete audio file (the pipeline sends WAV).
	Audio    []byte
	Filename string

	Task models.Task
	// Language is an ISO-639-1 hint. Ignored for translation, which always
	// targets English.
	Language    string
	Prompt      string
	Temperature float64
	// WordTimestamps asks for per-word times in addition to segments.
	WordTimestamps bool
}

type Response struct {
	Text     string
	Language string
	Duration float64
	// Segments carry times relative to the submitted audio.
	Segments []models.Segment
}

// Client is the capability the pipeline needs from a speech-to-text service.
type Client interface {
	Transcribe(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Transcribe(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

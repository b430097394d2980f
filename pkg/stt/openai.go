package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/models"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
	defaultTimeout = 600 * time.Second

	// TranslationLanguage is the fixed target of the translation task.
	TranslationLanguage = "en"
)

var _ Client = (*OpenAIClient)(nil)

// OpenAIClient talks to an OpenAI-compatible /audio/transcriptions and
// /audio/translations endpoint.
type OpenAIClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

type Option func(*OpenAIClient)

func WithBaseURL(baseURL string) Option {
	return func(c *OpenAIClient) {
		if strings.TrimSpace(baseURL) != "" {
			c.BaseURL = strings.TrimSpace(baseURL)
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenAIClient) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *OpenAIClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewOpenAIClient(apiKey, model string, opts ...Option) *OpenAIClient {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	c := &OpenAIClient{
		APIKey:     strings.TrimSpace(apiKey),
		Model:      strings.TrimSpace(model),
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewFromConfig builds a client from the api section of the configuration.
func NewFromConfig(cfg config.APIConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewOpenAIClient(cfg.APIKey, cfg.Model,
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRateLimit(cfg.RateLimit),
	)
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64       `json:"start"`
		End   float64       `json:"end"`
		Text  string        `json:"text"`
		Words []models.Word `json:"words"`
	} `json:"segments"`
	Words []models.Word `json:"words"`
}

func (c *OpenAIClient) Transcribe(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, &Error{Kind: KindAuthentication, Message: "API key is required (set OPENAI_API_KEY)"}
	}

	body, contentType, err := c.buildForm(req)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &Error{Kind: KindTransient, Err: err}
		}
	}

	endpoint := "/audio/transcriptions"
	if req.Task == models.TaskTranslate {
		endpoint = "/audio/translations"
	}
	url := strings.TrimRight(c.BaseURL, "/") + endpoint

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	out := toResponse(&vr)
	if req.Task == models.TaskTranslate {
		out.Language = TranslationLanguage
	}
	return out, nil
}

func (c *OpenAIClient) buildForm(req *Request) (*bytes.Buffer, string, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, "", &Error{Kind: KindInvalidPayload, Message: "audio data is required"}
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"model", c.Model},
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(req.Temperature, 'g', -1, 64)},
	}
	if req.Task != models.TaskTranslate {
		fields = append(fields, [2]string{"timestamp_granularities[]", "segment"})
		if req.WordTimestamps {
			fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
		}
		if lang := strings.TrimSpace(req.Language); lang != "" {
			fields = append(fields, [2]string{"language", lang})
		}
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		fields = append(fields, [2]string{"prompt", prompt})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func toResponse(vr *verboseResponse) *Response {
	out := &Response{
		Text:     strings.TrimSpace(vr.Text),
		Language: normalizeLanguage(vr.Language),
		Duration: vr.Duration,
	}
	for _, s := range vr.Segments {
		out.Segments = append(out.Segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
			Words: s.Words,
		})
	}
	if len(vr.Words) > 0 && len(out.Segments) > 0 {
		attachWords(out.Segments, vr.Words)
	}
	// Some response formats return words at the top level only.
	if len(out.Segments) == 0 && len(vr.Words) > 0 {
		out.Segments = []models.Segment{{
			Start: 0,
			End:   vr.Duration,
			Text:  out.Text,
			Words: vr.Words,
		}}
	}
	return out
}

// attachWords hands top-level words to the segment their start falls in.
// Segments that already carry words are left alone.
func attachWords(segs []models.Segment, words []models.Word) {
	for i := range segs {
		if len(segs[i].Words) > 0 {
			return
		}
	}
	seg := 0
	for _, w := range words {
		for seg < len(segs)-1 && w.Start >= segs[seg+1].Start {
			seg++
		}
		segs[seg].Words = append(segs[seg].Words, w)
	}
}

// verbose_json reports languages by name ("english"); keep ISO codes as-is
// and map the common names.
var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"chinese":    "zh",
	"korean":     "ko",
	"russian":    "ru",
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lang]; ok {
		return code
	}
	return lang
}

func decodeAPIError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))

	apiErr := &Error{Kind: KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode}
	if readErr != nil {
		apiErr.Err = readErr
		return apiErr
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	apiErr.Message = text
	return apiErr
}

// AsError extracts a classified error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Package genai talks to the Gemini generateContent REST API.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNoImage is returned when an image generation produced no image part.
	ErrNoImage = errors.New("genai: model did not return an image")
	// ErrNoCandidates is returned when the model produced no output at all.
	ErrNoCandidates = errors.New("genai: no candidates in response")
)

// Conversation roles understood by the API.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is a text or inline binary piece of a turn.
type Part struct {
	Text      string
	MediaType string
	Data      []byte
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Text: text} }

// BlobPart builds an inline data part.
func BlobPart(mediaType string, data []byte) Part { return Part{MediaType: mediaType, Data: data} }

// Content is one conversation turn.
type Content struct {
	Role  string
	Parts []Part
}

// TextRequest asks for a text completion.
type TextRequest struct {
	Model           string
	System          []string
	Contents        []Content
	Temperature     *float64
	MaxOutputTokens int
}

// ImageRequest asks for an image built from the given prompt parts.
type ImageRequest struct {
	Model       string
	Parts       []Part
	Temperature *float64
}

// Image is a generated image with an optional caption.
type Image struct {
	MediaType string
	Data      []byte
	Caption   string
}

// Generator is the outbound generation service used by the AI endpoints.
type Generator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("genai: http %d", e.StatusCode)
	}
	return fmt.Sprintf("genai: http %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Config configures a GeminiClient.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	RPS          float64
	Burst        int
	MaxRetries   int
	MinRetryWait time.Duration
	MaxRetryWait time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Tracer       trace.Tracer
}

// GeminiClient implements Generator over HTTP with retries and an outbound
// request throttle shared by every handler.
type GeminiClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	http    *retryablehttp.Client
	tracer  trace.Tracer
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient builds a client from cfg.
func NewGeminiClient(cfg Config) *GeminiClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	minWait, maxWait := cfg.MinRetryWait, cfg.MaxRetryWait
	if minWait <= 0 {
		minWait = 500 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 4 * time.Second
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/trungvo-ux/windows97/internal/adapter/genai")
	}

	return &GeminiClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, burst),
		http: &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: minWait,
			RetryWaitMax: maxWait,
			RetryMax:     cfg.MaxRetries,
			Backoff:      retryablehttp.RateLimitLinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Logger:       leveledLogger{logger.Named("genai").Sugar()},
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		tracer: tracer,
	}
}

// GenerateText returns the concatenated text of the first candidate.
func (c *GeminiClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "Gemini.GenerateText", trace.WithAttributes(attribute.String("genai.model", req.Model)))
	defer span.End()

	body := generateRequest{Contents: encodeContents(req.Contents)}
	if len(req.System) > 0 {
		sys := &content{}
		for _, s := range req.System {
			sys.Parts = append(sys.Parts, part{Text: s})
		}
		body.SystemInstruction = sys
	}
	body.GenerationConfig = &generationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxOutputTokens}

	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", ErrNoCandidates
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// GenerateImage returns the first image part of the first candidate along
// with any text the model attached to it.
func (c *GeminiClient) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	ctx, span := c.tracer.Start(ctx, "Gemini.GenerateImage", trace.WithAttributes(attribute.String("genai.model", req.Model)))
	defer span.End()

	body := generateRequest{
		Contents: encodeContents([]Content{{Role: RoleUser, Parts: req.Parts}}),
		GenerationConfig: &generationConfig{
			Temperature:        req.Temperature,
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		span.RecordError(err)
		return Image{}, err
	}
	if len(resp.Candidates) == 0 {
		return Image{}, ErrNoImage
	}

	var (
		img     Image
		found   bool
		caption []string
	)
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && !found && strings.HasPrefix(p.InlineData.MimeType, "image/") {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return Image{}, fmt.Errorf("decode image part: %w", err)
			}
			img = Image{MediaType: p.InlineData.MimeType, Data: data}
			found = true
			continue
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			caption = append(caption, t)
		}
	}
	if !found {
		return Image{}, ErrNoImage
	}
	img.Caption = strings.Join(caption, " ")
	return img, nil
}

func (c *GeminiClient) generate(ctx context.Context, model string, body generateRequest) (*generateResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for generation slot: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("call generateContent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Status = envelope.Error.Status
			apiErr.Message = envelope.Error.Message
		}
		return nil, apiErr
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func encodeContents(in []Content) []content {
	out := make([]content, 0, len(in))
	for _, c := range in {
		enc := content{Role: c.Role}
		for _, p := range c.Parts {
			if p.Data != nil {
				enc.Parts = append(enc.Parts, part{InlineData: &blob{
					MimeType: p.MediaType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				}})
				continue
			}
			enc.Parts = append(enc.Parts, part{Text: p.Text})
		}
		out = append(out, enc)
	}
	return out
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

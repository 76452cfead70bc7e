// Package gemini is a minimal client for the Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
)

const serviceName = "gemini"

// Roles accepted by the API inside contents.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerateRequest struct {
	SystemInstruction *Content  `json:"system_instruction,omitempty"`
	Contents          []Content `json:"contents"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// InlinePart builds an inline_data part from a base64 payload.
func InlinePart(mimeType, base64Data string) Part {
	return Part{InlineData: &Blob{MIMEType: mimeType, Data: base64Data}}
}

type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a whole call, including the wait for the rate limiter.
	Timeout time.Duration
	// RateLimit is requests per second; 0 disables pacing.
	RateLimit  float64
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

func NewClient(opts Options, log *logger.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		limiter:    limiter,
		log:        log.With("component", "GeminiClient"),
	}
}

// Timeout is the per-call deadline applied by GenerateContent.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// GenerateContent issues exactly one generateContent call and returns the
// concatenated text of the first candidate.
func (c *Client) GenerateContent(ctx context.Context, model string, genReq *GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", c.limiterError(ctx, err)
		}
	}

	jsonData, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/models/" + model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.transportError(ctx, err)
	}

	c.log.Debug("generateContent finished",
		"model", model,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = truncate(string(body), 512)
		}
		return "", &apperr.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Message: msg}
	}

	return extractText(body)
}

func extractText(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", &apperr.UpstreamError{Service: serviceName, Message: "response is not valid JSON"}
	}
	if reason := gjson.GetBytes(body, "promptFeedback.blockReason"); reason.Exists() {
		return "", &apperr.UpstreamError{Service: serviceName, Message: "prompt blocked: " + reason.String()}
	}

	var sb strings.Builder
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts").Array() {
		text := part.Get("text")
		if text.Type == gjson.String {
			sb.WriteString(text.Str)
		}
	}
	if sb.Len() == 0 {
		msg := "response contained no text"
		if finish := gjson.GetBytes(body, "candidates.0.finishReason"); finish.Exists() {
			msg += " (finish reason " + finish.String() + ")"
		}
		return "", &apperr.UpstreamError{Service: serviceName, Message: msg}
	}
	return sb.String(), nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &apperr.UpstreamError{Service: serviceName, Message: fmt.Sprintf("inference timed out after %s", c.timeout)}
	}
	return &apperr.NetworkError{Service: serviceName, Err: err}
}

// limiterError classifies a failed rate limiter wait. Wait fails early with
// its own error when the next slot lies past the deadline, so anything other
// than a cancellation counts as a timeout.
func (c *Client) limiterError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &apperr.NetworkError{Service: serviceName, Err: err}
	}
	return &apperr.UpstreamError{Service: serviceName, Message: fmt.Sprintf("inference timed out after %s waiting for the rate limiter", c.timeout)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

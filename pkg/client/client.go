// Package client is a Go client for the PCBRecon REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/imagedata"
)

// Sender is either SenderUser or SenderBot; decoding any other value fails.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

func (s *Sender) UnmarshalText(text []byte) error {
	switch v := Sender(text); v {
	case SenderUser, SenderBot:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown sender %q", string(text))
	}
}

type Project struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	ImagePath        string    `json:"image_path"`
	ImageBase64      string    `json:"image_base64"`
	ImageStoragePath string    `json:"image_storage_path,omitempty"`
	Analysis         *string   `json:"analysis"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ProjectDetail struct {
	Project
	ChatMessages []ChatMessage `json:"chat_messages"`
}

// Assessment is a generated hardware report. The server does not keep it.
type Assessment struct {
	ProjectID        int64     `json:"project_id"`
	Components       string    `json:"components"`
	Microcontroller  string    `json:"microcontroller"`
	SecurityAnalysis string    `json:"security_analysis"`
	Report           string    `json:"report"`
	GeneratedAt      time.Time `json:"generated_at"`
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Client struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	limits        imagedata.Limits
}

type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxImageBytes changes the local upload ceiling. It should match the
// server's MAX_IMAGE_BYTES.
func WithMaxImageBytes(n int64) Option {
	return func(c *Client) { c.limits.MaxBytes = n }
}

// WithMaxImagePixels changes the local width*height ceiling. It should match
// the server's MAX_IMAGE_PIXELS.
func WithMaxImagePixels(n int64) Option {
	return func(c *Client) { c.limits.MaxPixels = n }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Chat turns wait on the model; keep this above the server's inference timeout.
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		limits:        imagedata.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListProjects(ctx context.Context, skip, limit int) ([]Project, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/projects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var projects []Project
	if err := c.do(ctx, http.MethodGet, path, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (*ProjectDetail, error) {
	var p ProjectDetail
	if err := c.do(ctx, http.MethodGet, projectPath(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject validates the image locally, then uploads it. filename only
// contributes its base name as image_path.
func (c *Client) CreateProject(ctx context.Context, name, filename string, image []byte) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "Please enter a project name"}
	}
	img, err := imagedata.Validate(image, "", c.limits)
	if err != nil {
		var verr *apperr.ValidationError
		if errors.As(err, &verr) {
			return nil, &ValidationError{Field: verr.Field, Message: verr.Message}
		}
		return nil, err
	}

	imagePath := ""
	if filename != "" {
		imagePath = filepath.Base(filename)
	}
	body := map[string]string{
		"name":         name,
		"image_path":   imagePath,
		"image_base64": img.DataURL(),
	}

	var p Project
	if err := c.do(ctx, http.MethodPost, "/projects", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, projectPath(id), nil, nil)
}

func (c *Client) AnalyzeProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	if err := c.do(ctx, http.MethodPost, projectPath(id)+"/analysis", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AssessProject generates the hardware security report for a project.
func (c *Client) AssessProject(ctx context.Context, id int64) (*Assessment, error) {
	var a Assessment
	if err := c.do(ctx, http.MethodPost, projectPath(id)+"/assessment", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SendChatMessage runs one chat turn and returns the bot reply.
func (c *Client) SendChatMessage(ctx context.Context, projectID int64, message string) (*ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &ValidationError{Field: "message", Message: "Please enter a message"}
	}
	var reply ChatMessage
	if err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/chat", map[string]string{"message": message}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) ListChatMessages(ctx context.Context, projectID int64) ([]ChatMessage, error) {
	var msgs []ChatMessage
	if err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/chat", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready returns the readiness report. When the server is not ready the
// report is returned together with an *UpstreamError.
func (c *Client) Ready(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	err := c.do(ctx, http.MethodGet, "/ready", nil, &h)
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == http.StatusServiceUnavailable {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func projectPath(id int64) string {
	return "/projects/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	op := method + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return &NotFoundError{Message: msg}
		case resp.StatusCode == http.StatusBadRequest && eb.Code == CodeValidationFailed:
			return &ValidationError{Message: msg}
		}
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Code: eb.Code, Message: msg}
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
		return upstream
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{StatusCode: resp.StatusCode, Message: "unparseable response body: " + err.Error()}
	}
	return nil
}

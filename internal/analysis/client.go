// Package analysis talks to the remote CSV analysis service and normalizes
// its responses into a Report.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultBaseURL is used when no backend address is configured.
	DefaultBaseURL = "http://localhost:5001"
	// FileField is the multipart field carrying the CSV.
	FileField = "file"

	maxResponseBytes = 32 << 20
	maxErrorBody     = 4 << 10
)

// ClientConfig configures a Client. A zero Timeout leaves the call unbounded.
type ClientConfig struct {
	BaseURL    string `validate:"required,url"`
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Upload is the file submitted for analysis.
type Upload struct {
	Name    string
	Content []byte
}

// Client submits CSV files to the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("analysis: invalid client config: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the backend address the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Analyze posts upload to {BaseURL}/analyze and decodes the response.
func (c *Client) Analyze(ctx context.Context, upload Upload) (Report, error) {
	if c == nil {
		return Report{}, errors.New("analysis: client not configured")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(FileField, upload.Name)
	if err != nil {
		return Report{}, err
	}
	if _, err := part.Write(upload.Content); err != nil {
		return Report{}, err
	}
	if err := writer.Close(); err != nil {
		return Report{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", body)
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Report{}, &UnreachableError{Host: hostOf(c.baseURL), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Report{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Report{}, &UnreachableError{Host: hostOf(c.baseURL), Err: err}
	}
	return Decode(data)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tansy/pkg/metrics"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// MaxRequestSize is the maximum request body size (5MB)
	MaxRequestSize = 5 * 1024 * 1024
)

// Client is the HTTP client for the pipeline backend's job API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  ectologger.Logger
}

// Config holds pipeline client configuration
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	DisableCompression bool
}

// DefaultConfig returns default pipeline client configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewClient creates a new pipeline client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:       cfg.MaxIdleConns,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		DisableCompression: cfg.DisableCompression,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// send executes a request against the pipeline backend and decodes the JSON
// response into out (when out is non-nil). Non-2xx responses are mapped to
// httperror with the backend's status code.
func (c *Client) send(ctx context.Context, method, path string, body any, out any) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		if len(payload) > MaxRequestSize {
			return fmt.Errorf("request body too large: %d bytes (max %d)", len(payload), MaxRequestSize)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordPipelineRequest(method, "error", time.Since(start).Seconds())
		c.logger.WithContext(ctx).WithError(err).Errorf("pipeline request failed: %s %s", method, path)
		return httperror.NewHTTPError(http.StatusBadGateway, "pipeline backend unreachable")
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	metrics.RecordPipelineRequest(method, strconv.Itoa(resp.StatusCode), duration.Seconds())

	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	respBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(respBody) > MaxResponseSize {
		return fmt.Errorf("response body too large: %d bytes (max %d)", len(respBody), MaxResponseSize)
	}

	c.logger.WithContext(ctx).Debugf("pipeline %s %s -> %d (%s)", method, path, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromStatus(resp.StatusCode, method, path, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode pipeline response: %w", err)
	}
	return nil
}

// errorFromStatus keeps the backend's own status for client errors so a
// caller-side 404 doesn't surface as our 500.
func errorFromStatus(status int, method, path string, body []byte) error {
	message := fmt.Sprintf("pipeline %s %s returned %d", method, path, status)
	if len(body) > 0 {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
			message = payload.Message
		}
	}

	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		return httperror.NewHTTPError(status, message)
	default:
		return httperror.NewHTTPError(http.StatusBadGateway, message)
	}
}

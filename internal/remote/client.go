// Package remote talks to the backend that owns the source of truth.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fieldsync/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	PathUpdateTaskStatus = "tasks/me/mutation:updateTaskStatus"
	PathTrackLocation    = "location/mutation:track"

	maxErrorBody = 4 << 10
)

// Mutator runs a named backend mutation.
type Mutator interface {
	Mutation(ctx context.Context, path string, args any) (json.RawMessage, error)
}

type mutationRequest struct {
	Path   string `json:"path"`
	Args   any    `json:"args"`
	Format string `json:"format"`
}

type mutationResponse struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
}

// Error is a failed mutation as reported by the backend.
type Error struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mutation %s: http %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mutation %s: %s", e.Path, e.Message)
}

// Client is an HTTP mutation client with an outbound rate limit.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "remote").Logger(),
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Mutation posts args to the named mutation and returns its value.
func (c *Client) Mutation(ctx context.Context, path string, args any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("mutation %s: rate limit: %w", path, err)
	}

	body, err := json.Marshal(mutationRequest{Path: path, Args: args, Format: "json"})
	if err != nil {
		return nil, fmt.Errorf("mutation %s: encode: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/mutation", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mutation %s: build request: %w", path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mutation %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Path: path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var out mutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mutation %s: decode response: %w", path, err)
	}
	if out.Status != "success" {
		return nil, &Error{Path: path, Message: out.ErrorMessage}
	}

	c.logger.Debug().Str("path", path).Str("request_id", requestID).Msg("Mutation applied")
	return out.Value, nil
}

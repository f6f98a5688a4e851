// Package llm sends assembled requests to an OpenAI-compatible multimodal
// endpoint and parses the structured response into report sections.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrsinham/radscribe/internal/prompt"
)

// Response maps section names to generated text. Sections the model
// omitted are absent from the map, never defaulted to empty strings, so
// consumers can tell "no content produced" from "empty content". Order
// lists the present sections in template order.
type Response struct {
	Sections map[string]string
	Order    []string
	Attempts int
	Raw      string
}

// Client calls the model endpoint with a bounded timeout and retry budget.
type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Exponential bool
	MaxImages   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// chatRequest is the OpenAI-compatible chat completions payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one request and returns the parsed response or a terminal
// ModelError. Transient failures are retried up to MaxAttempts with the
// configured delay; auth and invalid-request failures surface immediately.
func (c *Client) Generate(ctx context.Context, req *prompt.Request) (*Response, error) {
	if c.APIKey == "" {
		return nil, &ModelError{Kind: KindAuth, Err: errors.New("no API key configured")}
	}
	if c.MaxImages > 0 && len(req.Images) > c.MaxImages {
		return nil, &ModelError{Kind: KindInvalidRequest,
			Err: fmt.Errorf("request has %d images, maximum is %d", len(req.Images), c.MaxImages)}
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, &ModelError{Kind: KindInvalidRequest, Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	var lastKind Kind
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, kind, err := c.doOnce(ctx, body, req.Sections)
		if err == nil {
			resp.Attempts = attempt
			c.logger().Info("model call succeeded", "attempts", attempt, "sections", len(resp.Sections))
			return resp, nil
		}

		// A canceled parent context is a cancellation, not a model failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr, lastKind = err, kind
		if !Transient(kind) {
			return nil, &ModelError{Kind: kind, Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}

		delay := c.retryDelay(attempt)
		c.logger().Warn("transient model failure, retrying",
			"kind", string(kind), "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &ModelError{Kind: KindExhaustedRetries, Attempts: maxAttempts,
		Err: fmt.Errorf("last failure was %s: %w", lastKind, lastErr)}
}

// doOnce performs a single attempt with the per-attempt timeout.
func (c *Client) doOnce(ctx context.Context, body []byte, sections []string) (*Response, Kind, error) {
	attemptCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, KindInvalidRequest, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err), fmt.Errorf("calling model endpoint: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, classifyStatus(httpResp.StatusCode),
			fmt.Errorf("endpoint returned status %d: %s", httpResp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, KindMalformedResponse, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, KindMalformedResponse, errors.New("response has no choices")
	}

	raw := parsed.Choices[0].Message.Content
	resp := ParseSections(raw, sections)
	if len(resp.Sections) == 0 {
		return nil, KindMalformedResponse, errors.New("response contains none of the template sections")
	}
	return resp, "", nil
}

// buildPayload converts the assembled request into chat messages: one
// system message, then one user message with text followed by every image.
func (c *Client) buildPayload(req *prompt.Request) chatRequest {
	parts := []contentPart{{Type: "text", Text: req.UserText()}}
	for _, img := range req.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL}})
	}

	return chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: parts},
		},
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	if c.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	return delay
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

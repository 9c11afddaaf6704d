// Copyright 2024-2026 Aiku AI

package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/retryafter"
	"golang.org/x/time/rate"

	"github.com/aiku/spacebar-bridge/pkg/snowflake"
)

const apiPath = "/api/v9"

// ClientOptions tunes a REST client.
type ClientOptions struct {
	// BaseURL replaces https://{host}/api/v9.
	BaseURL    string
	HTTPClient *http.Client
	// RequestsPerSecond limits outgoing requests. Zero disables the limiter.
	RequestsPerSecond float64
	// RetryFallback is the wait before a retry when Retry-After is missing.
	RetryFallback time.Duration
}

// Client is a REST client for one platform.
type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   time.Duration
	log     zerolog.Logger
}

// NewClient creates a REST client for host, authenticating as a bot with token.
func NewClient(name, host, token string, opts ClientOptions, log zerolog.Logger) *Client {
	base := opts.BaseURL
	if base == "" {
		base = "https://" + NormalizeHost(host) + apiPath
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	retry := opts.RetryFallback
	if retry == 0 {
		retry = 2 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimSuffix(base, "/"),
		token:   token,
		http:    httpClient,
		limiter: limiter,
		retry:   retry,
		log:     log.With().Str("component", "rest").Str("link", name).Logger(),
	}
}

// NormalizeHost strips the scheme and path from a configured host.
func NormalizeHost(host string) string {
	if parsed, err := url.Parse(host); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return strings.TrimSuffix(host, "/")
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type createBody struct {
	OutgoingMessage
	TTS   bool   `json:"tts"`
	Flags int    `json:"flags"`
	Nonce string `json:"nonce"`
}

// Send posts msg to channelID and returns the new message ID.
func (c *Client) Send(ctx context.Context, channelID string, msg OutgoingMessage) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	body := createBody{OutgoingMessage: msg, Nonce: snowflake.Nonce()}
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, http.StatusOK, &resp); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to send message: response has no message ID")
	}
	return resp.ID, nil
}

// Edit replaces the content and embeds of a message.
func (c *Client) Edit(ctx context.Context, channelID, messageID string, msg OutgoingMessage) error {
	body := OutgoingMessage{Content: msg.Content, Embeds: msg.Embeds}
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodPatch, path, body, http.StatusOK, nil); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// GatewayURL returns the websocket URL advertised by the server.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway", nil, http.StatusOK, &resp); err != nil {
		return "", fmt.Errorf("failed to get gateway URL: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("failed to get gateway URL: empty response")
	}
	return resp.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		status, header, respBody, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			return err
		}
		if status == wantStatus {
			if out != nil && len(respBody) > 0 {
				if err = json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == 0 && shouldRetry(method, status) {
			wait := retryafter.Parse(header.Get("Retry-After"), c.retry)
			c.log.Warn().
				Str("method", method).
				Str("path", path).
				Int("status", status).
				Dur("retry_after", wait).
				Msg("Request rate limited or failed, retrying once")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		return &StatusError{Method: method, Path: path, Status: status, Body: truncate(string(respBody), 200)}
	}
}

// shouldRetry reports whether a failed request may be sent again. A POST
// that failed on the server side may already have created the message, so
// only rate limited creates are retried.
func shouldRetry(method string, status int) bool {
	if method == http.MethodPost {
		return status == http.StatusTooManyRequests
	}
	return retryafter.Should(status, true)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

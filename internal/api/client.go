package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	pathCompletion     = "/completion"
	pathCompletionStop = "/completion/stop"
	pathMemoryReset    = "/memory/reset"
	pathMessagesList   = "/memory/messages/list"
	pathContextSize    = "/memory/messages/context-size"
	pathOpValidate     = "/operation/validate"
	pathOpCancel       = "/operation/cancel"
	pathOpReset        = "/operation/reset"
	pathModels         = "/models"
	pathHealth         = "/health"
	pathCurrentAgent   = "/current-agent"

	// errorExcerptLimit bounds how much of a non-2xx body is kept in an Error.
	errorExcerptLimit = 4 << 10
)

var ErrEmptyOperationID = errors.New("operation id cannot be empty")

// Client talks to a crew server.
type Client struct {
	base   *url.URL
	apiKey string
	// http serves the short request/response calls; stream has no timeout
	// since a completion can run for minutes.
	http   *http.Client
	stream *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds every non-streaming call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the transport used for both kinds of calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = &http.Client{Transport: hc.Transport, Timeout: hc.Timeout, CheckRedirect: hc.CheckRedirect}
		c.stream = &http.Client{Transport: hc.Transport, CheckRedirect: hc.CheckRedirect}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{
			// No timeout: streaming responses can be long-lived
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// OpenCompletion posts message and returns the streamed response body.
// Cancelling ctx aborts the stream; the caller must close the body.
func (c *Client) OpenCompletion(ctx context.Context, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(completionRequest{Data: completionData{Message: message}})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := c.send(ctx, c.stream, http.MethodPost, pathCompletion, body, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) StopCompletion(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, http.MethodPost, pathCompletionStop, nil, &st)
	return st, err
}

func (c *Client) ResetMemory(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, http.MethodPost, pathMemoryReset, nil, &st)
	return st, err
}

func (c *Client) Messages(ctx context.Context) ([]Message, error) {
	var list messageList
	if err := c.call(ctx, http.MethodGet, pathMessagesList, nil, &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

func (c *Client) ContextSize(ctx context.Context) (ContextSize, error) {
	var cs ContextSize
	err := c.call(ctx, http.MethodGet, pathContextSize, nil, &cs)
	return cs, err
}

// ValidateOperation approves the pending tool call operationID.
func (c *Client) ValidateOperation(ctx context.Context, operationID string) (OperationResult, error) {
	return c.operation(ctx, pathOpValidate, operationID)
}

// CancelOperation denies the pending tool call operationID.
func (c *Client) CancelOperation(ctx context.Context, operationID string) (OperationResult, error) {
	return c.operation(ctx, pathOpCancel, operationID)
}

// ResetOperations drops every pending operation on the server.
func (c *Client) ResetOperations(ctx context.Context) (OperationResult, error) {
	var res OperationResult
	err := c.call(ctx, http.MethodPost, pathOpReset, nil, &res)
	return res, err
}

func (c *Client) Models(ctx context.Context) (Models, error) {
	var m Models
	err := c.call(ctx, http.MethodGet, pathModels, nil, &m)
	return m, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.call(ctx, http.MethodGet, pathHealth, nil, &h)
	return h, err
}

// Healthy reports whether the server answers its health check with "ok".
func (c *Client) Healthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.OK()
}

func (c *Client) CurrentAgent(ctx context.Context) (Agent, error) {
	var a Agent
	err := c.call(ctx, http.MethodGet, pathCurrentAgent, nil, &a)
	return a, err
}

func (c *Client) operation(ctx context.Context, path, operationID string) (OperationResult, error) {
	if strings.TrimSpace(operationID) == "" {
		return OperationResult{}, ErrEmptyOperationID
	}
	body, err := json.Marshal(operationRequest{OperationID: operationID})
	if err != nil {
		return OperationResult{}, fmt.Errorf("marshal operation request: %w", err)
	}

	var res OperationResult
	err = c.call(ctx, http.MethodPost, path, body, &res)
	return res, err
}

// call performs a request/response exchange and decodes the body into out.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.send(ctx, c.http, method, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Kind: KindTransport, Op: path, Message: "read response", Cause: err}
	}

	if err := decodeMaybeFramed(raw, out); err != nil {
		return &Error{Kind: KindDecode, Op: path, Message: "decode response", Cause: err}
	}
	return nil
}

// send issues the request and returns the response when its status is 2xx.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body []byte, streaming bool) (*http.Response, error) {
	target := buildEndpointURL(c.base, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = prepareRequestHeaders(c.apiKey, body != nil, streaming)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error().Err(err).Str("url", target).Msg("crew server request failed")
		return nil, &Error{Kind: KindTransport, Op: path, Message: "request failed", Cause: err}
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Bool("stream", streaming).
		Interface("headers", redactedHeaders(req.Header)).
		Dur("duration", time.Since(start)).
		Msg("crew server request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorExcerptLimit))
		msg := http.StatusText(resp.StatusCode)
		if text := strings.TrimSpace(string(excerpt)); text != "" {
			msg += ": " + text
		}
		return nil, &Error{Kind: KindStatus, Op: path, StatusCode: resp.StatusCode, Message: msg}
	}

	return resp, nil
}

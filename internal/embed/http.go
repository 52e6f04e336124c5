package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	coreerrors "github.com/hybridcore/core/internal/errors"
)

// Remote embedding service defaults.
const (
	DefaultRemoteHost    = "http://localhost:8081"
	DefaultRemoteModel   = "media-embed-v1"
	RemoteConnectTimeout = 5 * time.Second
	RemotePoolSize       = 8

	// DefaultMaxInputChars bounds a single embed input when the service's
	// health response doesn't declare its own limit.
	DefaultMaxInputChars = 8192
)

// RemoteConfig configures the RemoteEmbedder.
type RemoteConfig struct {
	// Host is the embedding service base URL.
	Host string

	// Model is the embedding model name requested from the service.
	Model string

	// Dimensions overrides auto-detection when the service doesn't echo
	// dimensionality in its health response. 0 means auto-detect.
	Dimensions int

	// Timeout bounds a single embed request.
	Timeout time.Duration

	// MaxRetries is the number of retries on transient failures.
	MaxRetries int

	// PoolSize bounds the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck skips the startup health probe, useful in tests.
	SkipHealthCheck bool

	// MaxInputChars overrides auto-detection (from the health response) of
	// the provider's per-input character limit. 0 means use the health
	// response's declared limit, falling back to DefaultMaxInputChars.
	MaxInputChars int
}

// DefaultRemoteConfig returns sensible defaults for RemoteConfig.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Host:       DefaultRemoteHost,
		Model:      DefaultRemoteModel,
		Dimensions: 0,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		PoolSize:   RemotePoolSize,
	}
}

// RemoteEmbedder generates embeddings via an HTTP embedding service, the
// same shape as a hosted sentence-transformer or CLIP-text endpoint.
type RemoteEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    RemoteConfig
	modelName string
	breaker   *coreerrors.CircuitBreaker

	mu            sync.RWMutex
	closed        bool
	dims          int
	maxInputChars int
}

var _ Embedder = (*RemoteEmbedder)(nil)

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type remoteHealthResponse struct {
	Status        string `json:"status"`
	Model         string `json:"model"`
	Dimensions    int    `json:"dimensions"`
	MaxInputChars int    `json:"max_input_chars"`
}

// NewRemoteEmbedder creates a RemoteEmbedder and, unless SkipHealthCheck is
// set, probes the service for availability and dimensionality.
func NewRemoteEmbedder(ctx context.Context, cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultRemoteHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRemoteModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = RemotePoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
	}

	client := &http.Client{Transport: transport}

	maxInputChars := cfg.MaxInputChars
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}

	e := &RemoteEmbedder{
		client:        client,
		transport:     transport,
		config:        cfg,
		modelName:     cfg.Model,
		dims:          cfg.Dimensions,
		maxInputChars: maxInputChars,
		breaker: coreerrors.NewCircuitBreaker(
			"remote-embedder:"+cfg.Host,
			coreerrors.WithMaxFailures(5),
			coreerrors.WithResetTimeout(30*time.Second),
		),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, RemoteConnectTimeout)
		defer cancel()

		if err := e.healthCheck(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, coreerrors.New(coreerrors.KindEmbeddingUnavailable, "remote embedding service unavailable", err)
		}
	}

	return e, nil
}

func (e *RemoteEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(e.config.Host, "/")+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health remoteHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	e.mu.Lock()
	if health.Model != "" {
		e.modelName = health.Model
	}
	if health.Dimensions > 0 {
		e.dims = health.Dimensions
	}
	if health.MaxInputChars > 0 && e.config.MaxInputChars <= 0 {
		e.maxInputChars = health.MaxInputChars
	}
	e.mu.Unlock()

	return nil
}

// Embed generates an embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, coreerrors.New(coreerrors.KindEmbeddingUnavailable, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// MaxRetries counts retries after the initial attempt, so the default
	// of 2 yields three attempts total with 100/200ms waits between them.
	retryCfg := coreerrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable:  isTransientEmbedErr,
	}

	results, err := coreerrors.CircuitExecuteWithResult(e.breaker,
		func() ([][]float32, error) {
			return coreerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
				return e.doEmbed(ctx, texts)
			})
		},
		func() ([][]float32, error) {
			return nil, coreerrors.ErrCircuitOpen
		},
	)
	if err != nil {
		// doEmbed may already have classified the failure (dimension
		// mismatch, oversized input); preserve that Kind instead of
		// flattening every failure to EmbeddingUnavailable. RetryWithResult
		// wraps the underlying error with fmt.Errorf, so dig through the
		// chain rather than type-asserting the top-level error.
		var coreErr *coreerrors.CoreError
		if errors.As(err, &coreErr) {
			return nil, coreErr
		}
		var authErr *authError
		if errors.As(err, &authErr) {
			return nil, coreerrors.New(coreerrors.KindEmbeddingUnavailable, "remote embedding service rejected credentials", err)
		}
		return nil, coreerrors.New(coreerrors.KindEmbeddingUnavailable, "remote embedding request failed", err)
	}

	for i, vec := range results {
		results[i] = normalizeVector(vec)
	}

	return results, nil
}

func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	maxChars := e.maxInputChars
	expectedDims := e.dims
	e.mu.RUnlock()

	for i, text := range texts {
		if maxChars > 0 && len(text) > maxChars {
			return nil, coreerrors.EmbeddingInputTooLarge(
				fmt.Sprintf("input %d has %d characters, exceeding the provider's limit of %d", i, len(text), maxChars), nil)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(remoteEmbedRequest{Model: e.modelName, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimSuffix(e.config.Host, "/")+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &authError{statusCode: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var embedResp remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, &schemaError{cause: fmt.Errorf("decode response: %w", err)}
	}

	if len(embedResp.Embeddings) != len(texts) {
		return nil, &schemaError{cause: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Embeddings))}
	}

	for i, vec := range embedResp.Embeddings {
		if expectedDims > 0 && len(vec) != expectedDims {
			return nil, coreerrors.EmbeddingInvalid(
				fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(vec), expectedDims), nil)
		}
		for _, v := range vec {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, coreerrors.EmbeddingInvalid(fmt.Sprintf("embedding %d contains a non-finite value", i), nil)
			}
		}
	}

	e.mu.Lock()
	if e.dims == 0 && len(embedResp.Embeddings) > 0 {
		e.dims = len(embedResp.Embeddings[0])
	}
	e.mu.Unlock()

	return embedResp.Embeddings, nil
}

// authError marks an embedding request rejected on authentication/authorization
// grounds; retrying with the same credentials cannot succeed.
type authError struct {
	statusCode int
	body       string
}

func (e *authError) Error() string {
	return fmt.Sprintf("embedding service rejected credentials with status %d: %s", e.statusCode, e.body)
}

// schemaError marks a response that doesn't match the embedding service's
// contract; retrying an unparseable response cannot succeed.
type schemaError struct {
	cause error
}

func (e *schemaError) Error() string { return e.cause.Error() }
func (e *schemaError) Unwrap() error { return e.cause }

// isTransientEmbedErr reports whether a doEmbed failure is worth retrying.
// Auth failures, schema mismatches, and already-classified invalid-input or
// invalid-output errors are permanent for a given request and fail fast;
// anything else (network errors, 5xx, timeouts) is assumed transient.
func isTransientEmbedErr(err error) bool {
	var authErr *authError
	if errors.As(err, &authErr) {
		return false
	}
	var schemaErr *schemaError
	if errors.As(err, &schemaErr) {
		return false
	}
	switch coreerrors.GetKind(err) {
	case coreerrors.KindEmbeddingInvalid, coreerrors.KindEmbeddingInputTooLarge:
		return false
	}
	return true
}

// Dimensions returns the embedding dimension, auto-detected from the first
// successful response if not configured explicitly.
func (e *RemoteEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier reported by the service.
func (e *RemoteEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Available probes the service health endpoint.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, RemoteConnectTimeout)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

// Close releases pooled connections.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

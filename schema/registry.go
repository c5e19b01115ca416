package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
)

// ErrSchemaNotFound is returned when the registry has no schema for the
// requested subject or version.
var ErrSchemaNotFound = errors.New("schema registry: subject or version not found")

// UnreachableError wraps a registry fetch that could not complete. Callers
// treat it as a transient failure.
type UnreachableError struct {
	Endpoint string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("schema registry unreachable at %s: %v", e.Endpoint, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable error convention.
func (e *UnreachableError) IsRetryable() bool { return true }

// Registry is the narrow interface to the external schema registry.
type Registry interface {
	// FetchLatest retrieves the newest descriptor registered for a subject.
	FetchLatest(ctx context.Context, subject string) (*Descriptor, error)

	// FetchVersion retrieves a specific descriptor version.
	FetchVersion(ctx context.Context, subject string, version int) (*Descriptor, error)

	// CheckCompatibility reports whether a candidate definition is accepted
	// as non-breaking under the subject's compatibility mode.
	CheckCompatibility(ctx context.Context, subject string, candidate *Definition) (bool, error)
}

// HTTPRegistry talks to a registry over its REST API.
type HTTPRegistry struct {
	baseURL     string
	client      *http.Client
	logger      *slog.Logger
	maxFetchTry int
}

// HTTPRegistryOption configures the HTTP registry client.
type HTTPRegistryOption func(*HTTPRegistry)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPRegistryOption {
	return func(r *HTTPRegistry) {
		r.client = client
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) HTTPRegistryOption {
	return func(r *HTTPRegistry) {
		r.logger = logger
	}
}

// WithFetchAttempts sets how many times a fetch is tried before the
// registry is reported unreachable.
func WithFetchAttempts(attempts int) HTTPRegistryOption {
	return func(r *HTTPRegistry) {
		r.maxFetchTry = attempts
	}
}

// NewHTTPRegistry creates a registry client for the given base URL.
func NewHTTPRegistry(baseURL string, options ...HTTPRegistryOption) *HTTPRegistry {
	r := &HTTPRegistry{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		maxFetchTry: 3,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// FetchLatest implements Registry.
func (r *HTTPRegistry) FetchLatest(ctx context.Context, subject string) (*Descriptor, error) {
	return r.fetch(ctx, subject, VersionLatest)
}

// FetchVersion implements Registry.
func (r *HTTPRegistry) FetchVersion(ctx context.Context, subject string, version int) (*Descriptor, error) {
	return r.fetch(ctx, subject, strconv.Itoa(version))
}

// CheckCompatibility implements Registry.
func (r *HTTPRegistry) CheckCompatibility(ctx context.Context, subject string, candidate *Definition) (bool, error) {
	url := fmt.Sprintf("%s/compatibility/subjects/%s/versions/latest", r.baseURL, subject)

	body, err := json.Marshal(map[string]interface{}{"definition": candidate})
	if err != nil {
		return false, fmt.Errorf("schema registry: failed to encode candidate for %s: %w", subject, err)
	}

	data, err := r.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return false, err
	}

	var result struct {
		IsCompatible bool `json:"is_compatible"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return false, fmt.Errorf("schema registry: failed to parse compatibility response for %s: %w", subject, err)
	}
	return result.IsCompatible, nil
}

// fetch retrieves and validates a descriptor, retrying transport failures
// with exponential backoff before declaring the registry unreachable.
func (r *HTTPRegistry) fetch(ctx context.Context, subject, version string) (*Descriptor, error) {
	url := fmt.Sprintf("%s/subjects/%s/versions/%s", r.baseURL, subject, version)

	data, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var descriptor Descriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("schema registry: failed to parse descriptor for %s: %w", subject, err)
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("fetched schema descriptor",
		"subject", descriptor.Subject,
		"version", descriptor.Version,
		"registryId", descriptor.RegistryID,
	)
	return &descriptor, nil
}

// do executes one request with bounded retries on transport failure.
func (r *HTTPRegistry) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 200 * time.Millisecond
	backoffCfg.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < r.maxFetchTry; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, &UnreachableError{Endpoint: url, Err: ctx.Err()}
			}
		}

		data, retryable, err := r.doOnce(ctx, method, url, body)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		r.logger.Warn("schema registry request failed",
			"url", url,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, &UnreachableError{Endpoint: url, Err: lastErr}
}

func (r *HTTPRegistry) doOnce(ctx context.Context, method, url string, body []byte) (data []byte, retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("schema registry: invalid request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrSchemaNotFound, url)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("schema registry: server error %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("schema registry: unexpected status %d", resp.StatusCode)
	}

	return payload, false, nil
}

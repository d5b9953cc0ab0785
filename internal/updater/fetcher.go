package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sigscan/internal/signature"
)

const (
	DefaultURLTemplate    = "https://virusshare.com/hashfiles/VirusShare_%05d.md5"
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "sigscan-updater"
)

// Fetcher retrieves numbered batches from a remote catalog.
type Fetcher interface {
	// Fetch returns signature.ErrEndOfCatalog when idx does not exist.
	Fetch(ctx context.Context, idx signature.BatchID) (*signature.Batch, error)
	// Probe reports whether idx exists without downloading it.
	Probe(ctx context.Context, idx signature.BatchID) (bool, error)
}

// StatusError is an unexpected HTTP status from the catalog.
type StatusError struct {
	Index signature.BatchID
	Code  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("batch %d: unexpected status %d %s", e.Index, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether the request is worth repeating.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type HTTPConfig struct {
	URLTemplate string
	Algorithm   signature.Algorithm
	Timeout     time.Duration
	UserAgent   string
	// Client overrides the default client; Timeout is ignored when set.
	Client *http.Client
}

// HTTPFetcher downloads batches whose URL is URLTemplate formatted with the batch index.
type HTTPFetcher struct {
	client      *http.Client
	urlTemplate string
	alg         signature.Algorithm
	userAgent   string
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = signature.DefaultAlgorithm
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPFetcher{
		client:      client,
		urlTemplate: cfg.URLTemplate,
		alg:         cfg.Algorithm,
		userAgent:   cfg.UserAgent,
	}
}

func (f *HTTPFetcher) URL(idx signature.BatchID) string {
	return fmt.Sprintf(f.urlTemplate, idx)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, idx signature.BatchID) (*signature.Batch, error) {
	resp, err := f.do(ctx, http.MethodGet, idx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: batch %d", signature.ErrEndOfCatalog, idx)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %w", signature.ErrNetwork, &StatusError{Index: idx, Code: resp.StatusCode})
	}

	batch, err := ParseBatch(resp.Body, idx, f.alg)
	if err != nil {
		return nil, fmt.Errorf("%w: batch %d: failed to read body: %w", signature.ErrNetwork, idx, err)
	}
	return batch, nil
}

func (f *HTTPFetcher) Probe(ctx context.Context, idx signature.BatchID) (bool, error) {
	resp, err := f.do(ctx, http.MethodHead, idx)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", signature.ErrNetwork, &StatusError{Index: idx, Code: resp.StatusCode})
	}
}

func (f *HTTPFetcher) do(ctx context.Context, method string, idx signature.BatchID) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.URL(idx), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for batch %d: %w", idx, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: batch %d: %w", signature.ErrNetwork, idx, err)
	}
	return resp, nil
}

// retryable decides whether a fetch failure is transient.
func retryable(err error) bool {
	if err == nil || errors.Is(err, signature.ErrEndOfCatalog) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return errors.Is(err, signature.ErrNetwork)
}

// Package accession resolves organism names or taxonomy ids to NCBI genome
// assemblies and fills the results into spreadsheets.
package accession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.ncbi.nlm.nih.gov/datasets/v2/genome/taxon"
	PageSize       = 20
	RequestTimeout = 15 * time.Second
)

// StatusError is returned for any non-200 answer.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

// Client talks to the NCBI Datasets genome endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
}

type ClientOption func(*Client)

// WithRetry overrides the transport retry budget used for 429 and 5xx.
func WithRetry(retries int, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = retries
		c.http.RetryWaitMin = wait
		c.http.RetryWaitMax = wait
	}
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.http.Logger = retryLogger{log: log.With().Str("component", "ncbi").Logger()}
	}
}

// NewClient builds a client. An empty apiKey selects the unauthenticated
// tier.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = RequestTimeout
	rc.Logger = retryLogger{log: zerolog.Nop()}
	// hand the last response back once retries run out so it maps to a
	// StatusError and the next strategy gets its turn
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    rc,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authenticated reports whether requests carry an api-key header.
func (c *Client) Authenticated() bool { return c.apiKey != "" }

// DatasetReport fetches the first page of assemblies for key under one
// filter strategy.
func (c *Client) DatasetReport(ctx context.Context, key string, s Strategy) ([]Report, error) {
	q := url.Values{}
	q.Set("page_size", fmt.Sprint(PageSize))
	for k, v := range s.Filters {
		q.Set(k, v)
	}
	u := fmt.Sprintf("%s/%s/dataset_report?%s", c.baseURL, url.PathEscape(strings.TrimSpace(key)), q.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	var page reportPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode dataset report: %w", err)
	}
	return page.Reports, nil
}

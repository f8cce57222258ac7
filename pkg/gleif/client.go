// Package gleif is a client for the GLEIF LEI records API.
package gleif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-resolver/internal/resilience"
)

const defaultBaseURL = "https://api.gleif.org/api/v1"

// Client performs lookups against the GLEIF registry. LookupByName returns an
// empty slice on "no match" and errors only on transport or availability
// failure.
type Client interface {
	LookupByName(ctx context.Context, name, jurisdictionHint string) ([]LEIRecord, error)
	LookupRelationships(ctx context.Context, lei string) ([]LEIRecord, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outbound request rate. GLEIF allows 60 req/min for
// anonymous access.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithPageSize sets the number of records requested per lookup.
func WithPageSize(n int) Option {
	return func(c *httpClient) { c.pageSize = n }
}

type httpClient struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

// NewClient creates a GLEIF API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(1), 5),
		pageSize: 10,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LookupByName searches lei-records by fulltext name filter, optionally
// constrained to a jurisdiction.
func (c *httpClient) LookupByName(ctx context.Context, name, jurisdictionHint string) ([]LEIRecord, error) {
	q := url.Values{}
	q.Set("filter[fulltext]", name)
	if jurisdictionHint != "" {
		q.Set("filter[entity.jurisdiction]", jurisdictionHint)
	}
	q.Set("page[size]", fmt.Sprintf("%d", c.pageSize))

	var doc recordsDocument
	if err := c.get(ctx, "/lei-records?"+q.Encode(), &doc); err != nil {
		return nil, err
	}
	return doc.records(""), nil
}

// LookupRelationships returns the direct parent and direct children of an
// entity, each tagged with its relationship type. Missing relationships are
// not an error; GLEIF reports them as 404.
func (c *httpClient) LookupRelationships(ctx context.Context, lei string) ([]LEIRecord, error) {
	var out []LEIRecord

	var parent recordDocument
	err := c.get(ctx, "/lei-records/"+url.PathEscape(lei)+"/direct-parent", &parent)
	switch {
	case err == nil:
		if rec, ok := parent.record("parent"); ok {
			out = append(out, rec)
		}
	case isNotFound(err):
		// entity has no reported parent
	default:
		return nil, err
	}

	var children recordsDocument
	err = c.get(ctx, "/lei-records/"+url.PathEscape(lei)+"/direct-children?page[size]=10", &children)
	switch {
	case err == nil:
		out = append(out, children.records("child")...)
	case isNotFound(err):
	default:
		return nil, err
	}

	return out, nil
}

// statusError marks a non-2xx API response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gleif: unexpected status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return eris.As(err, &se) && se.code == http.StatusNotFound
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "gleif: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "gleif: create request")
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "gleif: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return eris.Wrap(err, "gleif: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{code: resp.StatusCode, body: truncateBody(body)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(se, resp.StatusCode)
		}
		return se
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "gleif: unmarshal response")
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

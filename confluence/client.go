package confluence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/avast/retry-go/v4"
	"github.com/foomo/confluence-mcp/service/vo"
)

const (
	// DefaultLimit is the page-size limit used when none is configured.
	DefaultLimit = 25
	// DefaultExpand controls which page fields the API inlines.
	DefaultExpand = "body.storage,version"
	// DefaultMaxRetries is the number of attempts per batch URL.
	DefaultMaxRetries = 5
)

// Settings holds the connection configuration for a Confluence instance.
// Exactly one authentication capability is resolved at construction time:
// a personal access token takes precedence over username+token, and with
// neither set requests go out unauthenticated.
type Settings struct {
	BaseURL             string
	Username            string
	APIToken            string
	PersonalAccessToken string
	Limit               int
	Expand              string
	MaxRetries          int
}

// FetchError is returned when a batch request fails for good, carrying the
// last observed HTTP status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client fetches pages from a Confluence space via the content search REST
// endpoint.
type Client struct {
	settings   Settings
	httpClient *http.Client
	authorize  func(req *http.Request)
}

func NewClient(settings Settings, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if settings.Limit <= 0 {
		settings.Limit = DefaultLimit
	}
	if settings.Expand == "" {
		settings.Expand = DefaultExpand
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = DefaultMaxRetries
	}

	var authorize func(req *http.Request)
	switch {
	case settings.PersonalAccessToken != "":
		header := "Bearer " + settings.PersonalAccessToken
		authorize = func(req *http.Request) {
			req.Header.Set("Authorization", header)
		}
	case settings.Username != "":
		header := "Basic " + base64.StdEncoding.EncodeToString(
			[]byte(settings.Username+":"+settings.APIToken))
		authorize = func(req *http.Request) {
			req.Header.Set("Authorization", header)
		}
	default:
		authorize = func(req *http.Request) {}
	}

	return &Client{
		settings:   settings,
		httpClient: httpClient,
		authorize:  authorize,
	}
}

// BaseURL returns the configured instance URL without a trailing slash.
func (c *Client) BaseURL() string {
	return trimSlash(c.settings.BaseURL)
}

// FetchAll walks the offset pagination of the content search endpoint and
// returns every page of the given space, optionally filtered by label, in
// API-result order. A batch that fails after all retries fails the whole
// fetch; callers never get a partial result.
func (c *Client) FetchAll(ctx context.Context, spaceKey, label string) ([]vo.Page, error) {
	var pages []vo.Page
	for start := 0; ; {
		batch, err := c.fetchBatch(ctx, spaceKey, label, start)
		if err != nil {
			return nil, fmt.Errorf("fetching batch at offset %d: %w", start, err)
		}
		if batch.Size == 0 {
			return pages, nil
		}
		pages = append(pages, batch.Results...)
		start += batch.Size
	}
}

// fetchBatch requests one batch, retrying the same URL on transport errors
// and non-success statuses up to MaxRetries attempts.
func (c *Client) fetchBatch(ctx context.Context, spaceKey, label string, start int) (*vo.SearchResult, error) {
	batchURL := c.searchURL(spaceKey, label, start)

	var result vo.SearchResult
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, batchURL, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			c.authorize(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return &FetchError{URL: batchURL, Err: err}
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return &FetchError{URL: batchURL, StatusCode: resp.StatusCode}
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &FetchError{URL: batchURL, Err: err}
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decoding response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.settings.MaxRetries)),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) searchURL(spaceKey, label string, start int) string {
	cql := fmt.Sprintf("space=%s AND type=page", spaceKey)
	if label != "" {
		cql += fmt.Sprintf(" AND label=%s", label)
	}
	query := url.Values{}
	query.Set("cql", cql)
	query.Set("limit", fmt.Sprintf("%d", c.settings.Limit))
	query.Set("start", fmt.Sprintf("%d", start))
	query.Set("expand", c.settings.Expand)
	return fmt.Sprintf("%s/rest/api/content/search?%s", trimSlash(c.settings.BaseURL), query.Encode())
}

func trimSlash(baseURL string) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL
}

// Package worldbank provides a client for the World Bank Indicators API (v2).
package worldbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/fetcher"
)

// DefaultBaseURL is the public Indicators API root.
const DefaultBaseURL = "https://api.worldbank.org/v2"

const defaultPerPage = 1000

// maxPages bounds paging against a misbehaving server.
const maxPages = 1000

// Client defines the World Bank Indicators API operations.
type Client interface {
	// Indicator returns the annual observations of one indicator for one
	// country, sorted by date. Rows with null values or non-annual dates are
	// dropped.
	Indicator(ctx context.Context, country, indicator string) ([]Observation, error)
}

// Observation is one annual data point. Date is January 1 of the year, UTC.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Year returns the observation year.
func (o Observation) Year() int { return o.Date.Year() }

// APIError is a structured error returned in the response body, for example
// for an unknown indicator code.
type APIError struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("worldbank: api error %s (%s): %s", e.ID, e.Key, e.Value)
}

// Option configures the World Bank client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPerPage sets the page size requested from the API.
func WithPerPage(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithFetcher sets the transport used for requests.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(c *httpClient) {
		c.fetcher = f
	}
}

type httpClient struct {
	baseURL string
	perPage int
	fetcher fetcher.Fetcher
}

// NewClient creates a World Bank client. Without WithFetcher it uses a
// rate-limited HTTP fetcher with retries.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		perPage: defaultPerPage,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	return c
}

type pageMeta struct {
	Page    flexInt `json:"page"`
	Pages   flexInt `json:"pages"`
	PerPage flexInt `json:"per_page"`
	Total   flexInt `json:"total"`
}

type errorEnvelope struct {
	Message []APIError `json:"message"`
}

type row struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

var annualDate = regexp.MustCompile(`^\d{4}$`)

func (c *httpClient) Indicator(ctx context.Context, country, indicator string) ([]Observation, error) {
	country = strings.TrimSpace(country)
	indicator = strings.TrimSpace(indicator)
	if country == "" || indicator == "" {
		return nil, eris.New("worldbank: country and indicator are required")
	}

	var out []Observation
	var dropped int
	for page := 1; ; page++ {
		meta, rows, err := c.fetchPage(ctx, country, indicator, page)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			obs, ok := r.observation()
			if !ok {
				dropped++
				continue
			}
			out = append(out, obs)
		}
		if int(meta.Pages) <= page || page >= maxPages {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	zap.L().Debug("worldbank: fetched indicator",
		zap.String("country", country),
		zap.String("indicator", indicator),
		zap.Int("observations", len(out)),
		zap.Int("dropped", dropped),
	)
	return out, nil
}

func (c *httpClient) pageURL(country, indicator string, page int) string {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s/country/%s/indicator/%s?%s",
		c.baseURL, url.PathEscape(country), url.PathEscape(indicator), q.Encode())
}

func (c *httpClient) fetchPage(ctx context.Context, country, indicator string, page int) (pageMeta, []row, error) {
	body, err := c.fetcher.Download(ctx, c.pageURL(country, indicator, page))
	if err != nil {
		return pageMeta{}, nil, eris.Wrapf(err, "worldbank: fetch %s/%s page %d", country, indicator, page)
	}
	defer body.Close() //nolint:errcheck

	parts, err := fetcher.DecodeJSONTuple(body)
	if err != nil {
		return pageMeta{}, nil, eris.Wrapf(err, "worldbank: decode %s/%s page %d", country, indicator, page)
	}
	if len(parts) == 0 {
		return pageMeta{}, nil, eris.Errorf("worldbank: empty response for %s/%s", country, indicator)
	}

	// Errors arrive as a single-element array holding a message list.
	if env, err := fetcher.DecodeJSONObject[errorEnvelope](bytes.NewReader(parts[0])); err == nil && len(env.Message) > 0 {
		return pageMeta{}, nil, &env.Message[0]
	}

	meta, err := fetcher.DecodeJSONObject[pageMeta](bytes.NewReader(parts[0]))
	if err != nil {
		return pageMeta{}, nil, eris.Wrap(err, "worldbank: decode page metadata")
	}
	if len(parts) < 2 || isNull(parts[1]) {
		return *meta, nil, nil
	}
	rows, err := fetcher.DecodeJSONObject[[]row](bytes.NewReader(parts[1]))
	if err != nil {
		return pageMeta{}, nil, eris.Wrap(err, "worldbank: decode rows")
	}
	return *meta, *rows, nil
}

func (r row) observation() (Observation, bool) {
	if r.Value == nil || !annualDate.MatchString(r.Date) {
		return Observation{}, false
	}
	year, err := strconv.Atoi(r.Date)
	if err != nil {
		return Observation{}, false
	}
	return Observation{Date: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), Value: *r.Value}, true
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// flexInt accepts both JSON numbers and numeric strings; the API returns
// per_page as a string on some endpoints.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return eris.Wrapf(err, "parse %s as int", s)
	}
	*f = flexInt(n)
	return nil
}

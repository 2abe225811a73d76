// Package nike fetches run activities from the Nike Run Club API.
package nike

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
)

const (
	DefaultBaseURL  = "https://api.nike.com"
	DefaultPageSize = 30

	// FirstPage is the before_id that requests the most recent activities.
	FirstPage = "*"

	maxBodyBytes = 64 << 20
)

var (
	ErrMissingToken = errors.New("bearer token is required")
	ErrTokenExpired = errors.New("bearer token expired")
)

// Config configures a Client. Zero values fall back to the defaults above
// and http.DefaultClient.
type Config struct {
	BaseURL     string
	BearerToken string
	PageSize    int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client is a read-only API client. It never retries.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:  base,
		token:    strings.TrimSpace(cfg.BearerToken),
		pageSize: cfg.PageSize,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		now:      time.Now,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// ActivitySummary is one entry of an activity list page.
type ActivitySummary struct {
	ID               string              `json:"id"`
	Type             string              `json:"type,omitempty"`
	Tags             map[string]string   `json:"tags,omitempty"`
	StartEpochMs     int64               `json:"start_epoch_ms"`
	EndEpochMs       int64               `json:"end_epoch_ms"`
	ActiveDurationMs int64               `json:"active_duration_ms"`
	Summaries        []nrcexport.Summary `json:"summaries,omitempty"`
}

// Name returns the activity name or the default placeholder.
func (s ActivitySummary) Name() string {
	if name := strings.TrimSpace(s.Tags[nrcexport.TagName]); name != "" {
		return name
	}
	return nrcexport.DefaultActivityName
}

// DistanceKm returns the distance summary when present.
func (s ActivitySummary) DistanceKm() (float64, bool) {
	for _, sum := range s.Summaries {
		if sum.Metric == nrcexport.SummaryDistance {
			return sum.Value, true
		}
	}
	return 0, false
}

// ActivityPage is one page of activity summaries. Paging.BeforeID is empty
// on the last page.
type ActivityPage struct {
	Activities []ActivitySummary `json:"activities"`
	Paging     struct {
		BeforeID string `json:"before_id,omitempty"`
		AfterID  string `json:"after_id,omitempty"`
	} `json:"paging"`
}

// FetchActivity fetches one activity with all metric series.
func (c *Client) FetchActivity(ctx context.Context, id string) (*nrcexport.Activity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: activity id is required", nrcexport.ErrUpstreamFetch)
	}
	q := url.Values{"metrics": {"all"}}
	body, err := c.get(ctx, "/plus/v3/activity/v3/"+url.PathEscape(id), q)
	if err != nil {
		return nil, err
	}
	act, err := nrcexport.ParseActivity(body)
	if err != nil {
		return nil, fmt.Errorf("%w: activity %s: %w", nrcexport.ErrUpstreamFetch, id, err)
	}
	return act, nil
}

// FetchActivities fetches one page of run and jogging summaries older than
// beforeID. An empty beforeID requests the first page.
func (c *Client) FetchActivities(ctx context.Context, beforeID string) (*ActivityPage, error) {
	if beforeID == "" {
		beforeID = FirstPage
	}
	q := url.Values{
		"limit":           {strconv.Itoa(c.pageSize)},
		"types":           {"run,jogging"},
		"include_deleted": {"false"},
	}
	body, err := c.get(ctx, "/plus/v3/activities/before_id/v3/"+url.PathEscape(beforeID), q)
	if err != nil {
		return nil, err
	}
	var page ActivityPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decode activity page: %w", nrcexport.ErrUpstreamFetch, err)
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	auth, err := c.authorization()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nrcexport.ErrUpstreamFetch, err)
	}
	endpoint := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", nrcexport.ErrUpstreamFetch, err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", nrcexport.ErrUpstreamFetch, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", nrcexport.ErrUpstreamFetch, path, err)
	}
	c.logger.Debug("nike api request", "path", path, "status", resp.StatusCode, "bytes", len(body), "elapsed", c.now().Sub(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: status %d", nrcexport.ErrUpstreamFetch, path, resp.StatusCode)
	}
	return body, nil
}

// authorization returns the header value. The token is sent with a Bearer
// prefix. JWTs whose exp claim has passed are rejected without a request;
// opaque tokens are passed through.
func (c *Client) authorization() (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(c.token, "Bearer "))
	if raw == "" {
		return "", ErrMissingToken
	}
	if exp, ok := tokenExpiry(raw); ok && !c.now().Before(exp) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return "Bearer " + raw, nil
}

func tokenExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

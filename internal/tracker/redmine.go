package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kkzk/remindmine/internal/config"
)

const (
	redminePageSize       = 100
	defaultRedmineTimeout = 30 * time.Second
	defaultRedmineRate    = 10
	defaultRedmineBurst   = 5
	apiKeyHeader          = "X-Redmine-API-Key"
)

// RedmineConfig holds configuration for the Redmine REST client.
type RedmineConfig struct {
	// BaseURL is the Redmine root, e.g. http://localhost:3000.
	BaseURL string

	// APIKey is sent as X-Redmine-API-Key when set.
	APIKey config.Secret

	// ProjectID optionally scopes listing to one project.
	ProjectID string

	// DisableProxy bypasses proxies from the environment.
	DisableProxy bool

	// Timeout per request. Default: 30s.
	Timeout time.Duration

	// RequestsPerSecond caps outgoing request rate. Default: 10.
	RequestsPerSecond float64
}

// ApplyDefaults sets default values for unset fields.
func (c *RedmineConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultRedmineTimeout
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaultRedmineRate
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate validates the configuration.
func (c *RedmineConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: redmine base URL required", ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("%w: redmine base URL: %v", ErrInvalidConfig, err)
	}
	return nil
}

// RedmineClient implements Source against the Redmine REST API.
type RedmineClient struct {
	config     RedmineConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRedmineClient creates a Redmine client.
func NewRedmineClient(cfg RedmineConfig, logger *zap.Logger) (*RedmineClient, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DisableProxy {
		transport.Proxy = nil
	}

	return &RedmineClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultRedmineBurst),
		logger:  logger,
	}, nil
}

// Wire types for the Redmine JSON API.

type redmineRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type redmineJournal struct {
	ID        int        `json:"id"`
	User      redmineRef `json:"user"`
	Notes     string     `json:"notes"`
	CreatedOn string     `json:"created_on"`
}

type redmineIssue struct {
	ID          int              `json:"id"`
	Project     redmineRef       `json:"project"`
	Tracker     redmineRef       `json:"tracker"`
	Status      redmineRef       `json:"status"`
	Priority    redmineRef       `json:"priority"`
	Author      redmineRef       `json:"author"`
	Subject     string           `json:"subject"`
	Description string           `json:"description"`
	CreatedOn   string           `json:"created_on"`
	UpdatedOn   string           `json:"updated_on"`
	Journals    []redmineJournal `json:"journals"`
}

type redmineIssueList struct {
	Issues     []redmineIssue `json:"issues"`
	TotalCount int            `json:"total_count"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

type redmineIssueEnvelope struct {
	Issue redmineIssue `json:"issue"`
}

type redmineNotesUpdate struct {
	Issue struct {
		Notes string `json:"notes"`
	} `json:"issue"`
}

func (r redmineIssue) toItem() Item {
	item := Item{
		ID:          r.ID,
		Subject:     r.Subject,
		Description: r.Description,
		Status:      r.Status.Name,
		Priority:    r.Priority.Name,
		Tracker:     r.Tracker.Name,
		Project:     r.Project.Name,
		Author:      r.Author.Name,
		CreatedOn:   parseRedmineTime(r.CreatedOn),
		UpdatedOn:   parseRedmineTime(r.UpdatedOn),
	}
	for _, j := range r.Journals {
		item.Journals = append(item.Journals, Journal{
			ID:        j.ID,
			Author:    j.User.Name,
			Notes:     j.Notes,
			CreatedOn: parseRedmineTime(j.CreatedOn),
		})
	}
	return item
}

func parseRedmineTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ListAllItems pages through every issue, any status, including journals.
func (c *RedmineClient) ListAllItems(ctx context.Context) ([]Item, error) {
	params := url.Values{}
	params.Set("status_id", "*")
	return c.listPaged(ctx, params)
}

// ListItemsSince returns issues created at or after since, oldest first.
func (c *RedmineClient) ListItemsSince(ctx context.Context, since time.Time) ([]Item, error) {
	params := url.Values{}
	params.Set("status_id", "*")
	params.Set("created_on", ">="+since.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("sort", "created_on")
	items, err := c.listPaged(ctx, params)
	if err != nil {
		return nil, err
	}
	SortByCreated(items)
	return items, nil
}

func (c *RedmineClient) listPaged(ctx context.Context, params url.Values) ([]Item, error) {
	params.Set("include", "journals")
	params.Set("limit", strconv.Itoa(redminePageSize))
	if c.config.ProjectID != "" {
		params.Set("project_id", c.config.ProjectID)
	}

	var items []Item
	for offset := 0; ; offset += redminePageSize {
		params.Set("offset", strconv.Itoa(offset))

		var page redmineIssueList
		if err := c.doJSON(ctx, http.MethodGet, "/issues.json?"+params.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("listing issues at offset %d: %w", offset, err)
		}
		for _, issue := range page.Issues {
			items = append(items, issue.toItem())
		}
		if len(page.Issues) < redminePageSize {
			break
		}
	}

	items, dropped := validItems(items)
	if dropped > 0 {
		c.logger.Warn("dropped invalid issues from redmine response", zap.Int("dropped", dropped))
	}

	c.logger.Debug("fetched issues from redmine", zap.Int("count", len(items)))
	return items, nil
}

// GetItem fetches a single issue with its journals.
func (c *RedmineClient) GetItem(ctx context.Context, id int) (*Item, error) {
	var env redmineIssueEnvelope
	path := fmt.Sprintf("/issues/%d.json?include=journals", id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	item := env.Issue.toItem()
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return &item, nil
}

// PostComment adds notes to an issue.
func (c *RedmineClient) PostComment(ctx context.Context, id int, text string) error {
	var body redmineNotesUpdate
	body.Issue.Notes = text
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/issues/%d.json", id), body, nil); err != nil {
		return fmt.Errorf("posting comment to issue %d: %w", id, err)
	}
	c.logger.Info("posted comment to redmine issue", zap.Int("issue_id", id))
	return nil
}

// HasMarkerComment reports whether any journal on the issue contains marker.
func (c *RedmineClient) HasMarkerComment(ctx context.Context, id int, marker string) (bool, error) {
	item, err := c.GetItem(ctx, id)
	if err != nil {
		return false, err
	}
	return item.HasMarker(marker), nil
}

// ItemURL returns the issue page URL.
func (c *RedmineClient) ItemURL(id int) string {
	return fmt.Sprintf("%s/issues/%d", c.config.BaseURL, id)
}

func (c *RedmineClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey.IsSet() {
		req.Header.Set(apiKeyHeader, c.config.APIKey.Value())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrItemNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRequestFailed, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ Source = (*RedmineClient)(nil)

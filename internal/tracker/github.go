package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kkzk/remindmine/internal/config"
)

const (
	githubPageSize       = 100
	githubPriorityPrefix = "priority:"
	githubTrackerName    = "Issue"
)

// GitHubConfig holds configuration for the GitHub issues source.
type GitHubConfig struct {
	Owner string
	Repo  string
	Token config.Secret

	// EnterpriseURL points at a GitHub Enterprise API root when set.
	EnterpriseURL string
}

// Validate validates the configuration.
func (c GitHubConfig) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("%w: github owner and repo required", ErrInvalidConfig)
	}
	return nil
}

// GitHubSource implements Source over the issues of a single repository.
// Pull requests are skipped; issue comments map to journals.
type GitHubSource struct {
	client *github.Client
	config GitHubConfig
	logger *zap.Logger
}

// NewGitHubSource creates a GitHub-backed Source.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var client *github.Client
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}

	if cfg.EnterpriseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.EnterpriseURL, cfg.EnterpriseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: enterprise url: %v", ErrInvalidConfig, err)
		}
	}

	return &GitHubSource{client: client, config: cfg, logger: logger}, nil
}

// ListAllItems returns every issue in the repository, open and closed.
func (s *GitHubSource) ListAllItems(ctx context.Context) ([]Item, error) {
	return s.list(ctx, time.Time{})
}

// ListItemsSince returns issues created at or after since, oldest first.
func (s *GitHubSource) ListItemsSince(ctx context.Context, since time.Time) ([]Item, error) {
	// The API's since filter applies to updated_at, a superset of created_at.
	items, err := s.list(ctx, since)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if !it.CreatedOn.Before(since) {
			out = append(out, it)
		}
	}
	SortByCreated(out)
	return out, nil
}

func (s *GitHubSource) list(ctx context.Context, since time.Time) ([]Item, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		Since:       since,
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}

	var items []Item
	for {
		issues, resp, err := s.client.Issues.ListByRepo(ctx, s.config.Owner, s.config.Repo, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: listing issues: %v", ErrRequestFailed, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			item := githubIssueToItem(issue)
			if issue.GetComments() > 0 {
				journals, err := s.comments(ctx, issue.GetNumber())
				if err != nil {
					return nil, err
				}
				item.Journals = journals
			}
			items = append(items, item)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	items, dropped := validItems(items)
	if dropped > 0 {
		s.logger.Warn("dropped invalid issues from github response", zap.Int("dropped", dropped))
	}
	return items, nil
}

func (s *GitHubSource) comments(ctx context.Context, number int) ([]Journal, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: githubPageSize}}

	var journals []Journal
	for {
		comments, resp, err := s.client.Issues.ListComments(ctx, s.config.Owner, s.config.Repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: listing comments for #%d: %v", ErrRequestFailed, number, err)
		}
		for _, c := range comments {
			journals = append(journals, Journal{
				ID:        int(c.GetID()),
				Author:    c.GetUser().GetLogin(),
				Notes:     c.GetBody(),
				CreatedOn: c.GetCreatedAt().Time.UTC(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return journals, nil
}

// GetItem returns a single issue with its comments.
func (s *GitHubSource) GetItem(ctx context.Context, id int) (*Item, error) {
	issue, resp, err := s.client.Issues.Get(ctx, s.config.Owner, s.config.Repo, id)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("%w: getting issue #%d: %v", ErrRequestFailed, id, err)
	}
	item := githubIssueToItem(issue)
	if issue.GetComments() > 0 {
		if item.Journals, err = s.comments(ctx, id); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

// PostComment creates an issue comment.
func (s *GitHubSource) PostComment(ctx context.Context, id int, text string) error {
	_, _, err := s.client.Issues.CreateComment(ctx, s.config.Owner, s.config.Repo, id, &github.IssueComment{
		Body: github.String(text),
	})
	if err != nil {
		return fmt.Errorf("%w: commenting on #%d: %v", ErrRequestFailed, id, err)
	}
	s.logger.Info("posted comment to github issue", zap.Int("issue_id", id))
	return nil
}

// HasMarkerComment reports whether any comment on the issue contains marker.
func (s *GitHubSource) HasMarkerComment(ctx context.Context, id int, marker string) (bool, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return false, err
	}
	return item.HasMarker(marker), nil
}

// ItemURL returns the issue page URL.
func (s *GitHubSource) ItemURL(id int) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%d", s.config.Owner, s.config.Repo, id)
}

func githubIssueToItem(issue *github.Issue) Item {
	item := Item{
		ID:          issue.GetNumber(),
		Subject:     issue.GetTitle(),
		Description: issue.GetBody(),
		Status:      issue.GetState(),
		Tracker:     githubTrackerName,
		Project:     issue.GetRepository().GetFullName(),
		Author:      issue.GetUser().GetLogin(),
		CreatedOn:   issue.GetCreatedAt().Time.UTC(),
		UpdatedOn:   issue.GetUpdatedAt().Time.UTC(),
	}
	for _, label := range issue.Labels {
		name := label.GetName()
		if strings.HasPrefix(strings.ToLower(name), githubPriorityPrefix) {
			item.Priority = strings.TrimSpace(name[len(githubPriorityPrefix):])
		}
	}
	return item
}

var _ Source = (*GitHubSource)(nil)

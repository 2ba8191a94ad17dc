// Package github implements the tracker adapter for GitHub repositories.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/pkg/models"
)

// severityLabels are label names surfaced as a record's severity.
var severityLabels = map[string]bool{
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

// Client encapsulates the GitHub API client for one repository.
type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// NewClient creates a new GitHub adapter using connection credentials.
// It supports GitHub Enterprise through the optional domain setting.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	parts := strings.Split(cfg.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repository format: %s, expected format: owner/repo", cfg.Repository)
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "github.com"
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	client := github.NewClient(tc)
	if domain != "github.com" {
		apiURL := fmt.Sprintf("https://%s/api/v3/", domain)
		parsedURL, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsedURL
		client.UploadURL = parsedURL
	}

	logging.Debug("github adapter configured",
		"domain", domain,
		"repository", cfg.Repository,
		"token", logging.MaskSensitive(cfg.Token))

	return &Client{
		client: client,
		owner:  parts[0],
		repo:   parts[1],
	}, nil
}

// FetchOpenRecords retrieves all open issues from the repository, excluding
// pull requests.
func (c *Client) FetchOpenRecords(ctx context.Context) ([]models.Record, error) {
	opts := &github.IssueListByRepoOptions{
		State: "open",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var records []models.Record
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, typedError("github: list issues", resp, err)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			records = append(records, c.toRecord(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return records, nil
}

// UpdateStatus closes the issue when asked for resolved. Closing an already
// closed issue is a plain PATCH with no further effect, so the call is
// idempotent.
func (c *Client) UpdateStatus(ctx context.Context, recordID string, status models.RecordStatus) error {
	if status != models.StatusResolved {
		return models.NewValidationError("github: update status",
			fmt.Errorf("unsupported target status %q", status))
	}

	number, err := strconv.Atoi(recordID)
	if err != nil {
		return models.NewValidationError("github: update status",
			fmt.Errorf("invalid issue number %q", recordID))
	}

	_, resp, err := c.client.Issues.Edit(ctx, c.owner, c.repo, number, &github.IssueRequest{
		State: github.String("closed"),
	})
	if err != nil {
		return typedError("github: close issue", resp, err)
	}
	return nil
}

// TestConnection verifies the token with a read of the current user.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, _, err := c.client.Users.Get(ctx, "")
	return err == nil
}

// toRecord converts a GitHub issue to the canonical model. The repository
// name doubles as the project so mappings can filter per repo.
func (c *Client) toRecord(issue *github.Issue) models.Record {
	record := models.Record{
		ID:          strconv.Itoa(issue.GetNumber()),
		Status:      models.StatusOpen,
		Project:     c.repo,
		Title:       issue.GetTitle(),
		Description: issue.GetBody(),
		SourceURL:   issue.GetHTMLURL(),
	}
	for _, label := range issue.Labels {
		name := strings.ToLower(label.GetName())
		if severityLabels[name] {
			record.Severity = name
			break
		}
		if rest, ok := strings.CutPrefix(name, "severity:"); ok {
			record.Severity = strings.TrimSpace(rest)
			break
		}
	}
	return record
}

// typedError maps a GitHub API failure onto the error taxonomy.
func typedError(op string, resp *github.Response, err error) error {
	if _, ok := err.(*github.RateLimitError); ok {
		return models.NewTransientError(op, err)
	}
	if resp == nil {
		return models.NewTransientError(op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewAuthError(op, err)
	case resp.StatusCode == http.StatusNotFound:
		return models.NewNotFoundError(op, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return models.NewTransientError(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

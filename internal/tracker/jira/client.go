// Package jira implements the tracker adapter for JIRA projects.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/pkg/models"
)

const searchPageSize = 100

// Client handles interactions with the JIRA API for one project.
type Client struct {
	client     *jira.Client
	baseURL    string
	projectKey string
}

// NewClient creates a new JIRA adapter from connection credentials.
func NewClient(cfg config.JiraConfig) (*Client, error) {
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Token,
	}

	client, err := jira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	logging.Debug("jira adapter configured",
		"url", cfg.URL,
		"project", cfg.ProjectKey,
		"token", logging.MaskSensitive(cfg.Token))

	return &Client{
		client:     client,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		projectKey: cfg.ProjectKey,
	}, nil
}

// FetchOpenRecords returns every issue in the project whose status category
// is not Done. The JQL filter is server-side, so fetched issues are open by
// construction.
func (c *Client) FetchOpenRecords(ctx context.Context) ([]models.Record, error) {
	jql := fmt.Sprintf("project = %q AND statusCategory != Done ORDER BY created ASC", c.projectKey)

	var records []models.Record
	startAt := 0
	for {
		issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
			StartAt:    startAt,
			MaxResults: searchPageSize,
		})
		if err != nil {
			return nil, typedError("jira: search issues", resp, err)
		}

		for _, issue := range issues {
			records = append(records, c.toRecord(issue))
		}
		if resp == nil || startAt+len(issues) >= resp.Total || len(issues) == 0 {
			break
		}
		startAt += len(issues)
	}
	return records, nil
}

// UpdateStatus transitions an issue toward the requested status. Issues
// already in the target state are left untouched, which keeps repeated
// resolve calls side-effect free.
func (c *Client) UpdateStatus(ctx context.Context, recordID string, status models.RecordStatus) error {
	if status != models.StatusResolved {
		return models.NewValidationError("jira: update status",
			fmt.Errorf("unsupported target status %q", status))
	}

	issue, resp, err := c.client.Issue.GetWithContext(ctx, recordID, nil)
	if err != nil {
		return typedError("jira: get issue", resp, err)
	}
	if issueResolved(issue) {
		logging.Debug("jira issue already resolved", "issue", recordID)
		return nil
	}

	transitions, resp, err := c.client.Issue.GetTransitionsWithContext(ctx, recordID)
	if err != nil {
		return typedError("jira: get transitions", resp, err)
	}

	transitionID := ""
	for _, transition := range transitions {
		if transition.To.StatusCategory.Key == "done" || isResolvedName(transition.To.Name) {
			transitionID = transition.ID
			break
		}
	}
	if transitionID == "" {
		return models.NewValidationError("jira: update status",
			fmt.Errorf("issue %s has no transition to a done status", recordID))
	}

	resp, err = c.client.Issue.DoTransitionWithContext(ctx, recordID, transitionID)
	if err != nil {
		return typedError("jira: do transition", resp, err)
	}
	return nil
}

// TestConnection verifies the credentials with a read of the current user.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, _, err := c.client.User.GetSelfWithContext(ctx)
	return err == nil
}

// toRecord converts a JIRA issue to the canonical model.
func (c *Client) toRecord(issue jira.Issue) models.Record {
	record := models.Record{
		ID:        issue.Key,
		Status:    models.StatusOpen,
		Title:     issue.Fields.Summary,
		SourceURL: c.baseURL + "/browse/" + issue.Key,
	}
	record.Description = issue.Fields.Description
	record.Project = issue.Fields.Project.Key
	if issue.Fields.Priority != nil {
		record.Severity = issue.Fields.Priority.Name
	}
	for _, attachment := range issue.Fields.Attachments {
		if attachment.Content != "" {
			record.Attachments = append(record.Attachments, attachment.Content)
		}
	}
	return record
}

func issueResolved(issue *jira.Issue) bool {
	if issue == nil || issue.Fields == nil || issue.Fields.Status == nil {
		return false
	}
	return issue.Fields.Status.StatusCategory.Key == "done" || isResolvedName(issue.Fields.Status.Name)
}

func isResolvedName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "done", "resolved", "closed", "complete", "completed":
		return true
	}
	return false
}

// typedError maps a JIRA API failure onto the error taxonomy using the
// response status code.
func typedError(op string, resp *jira.Response, err error) error {
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

package github

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-github/v41/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/pkg/models"
)

func TestNewClientRepositoryValidation(t *testing.T) {
	tests := []struct {
		name       string
		repository string
		wantErr    bool
	}{
		{name: "valid", repository: "acme/widgets"},
		{name: "missing slash", repository: "acme-widgets", wantErr: true},
		{name: "empty owner", repository: "/widgets", wantErr: true},
		{name: "empty repo", repository: "acme/", wantErr: true},
		{name: "too many parts", repository: "acme/widgets/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(config.GitHubConfig{Token: "secret", Repository: tt.repository})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "acme", c.owner)
			assert.Equal(t, "widgets", c.repo)
		})
	}
}

func TestNewClientEnterpriseDomain(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{
		Token:      "secret",
		Repository: "acme/widgets",
		Domain:     "github.acme.internal",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.acme.internal/api/v3/", c.client.BaseURL.String())

	public, err := NewClient(config.GitHubConfig{Token: "secret", Repository: "acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", public.client.BaseURL.String())
}

func TestUpdateStatusValidation(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{Token: "secret", Repository: "acme/widgets"})
	require.NoError(t, err)

	err = c.UpdateStatus(context.Background(), "42", models.StatusOpen)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	err = c.UpdateStatus(context.Background(), "not-a-number", models.StatusResolved)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestToRecord(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{Token: "secret", Repository: "acme/widgets"})
	require.NoError(t, err)

	issue := &github.Issue{
		Number:  github.Int(42),
		Title:   github.String("broken pipeline"),
		Body:    github.String("the nightly build fails"),
		HTMLURL: github.String("https://github.com/acme/widgets/issues/42"),
		Labels: []*github.Label{
			{Name: github.String("bug")},
			{Name: github.String("High")},
		},
	}

	record := c.toRecord(issue)
	assert.Equal(t, models.Record{
		ID:          "42",
		Status:      models.StatusOpen,
		Project:     "widgets",
		Title:       "broken pipeline",
		Description: "the nightly build fails",
		Severity:    "high",
		SourceURL:   "https://github.com/acme/widgets/issues/42",
	}, record)
}

func TestToRecordSeverityPrefix(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{Token: "secret", Repository: "acme/widgets"})
	require.NoError(t, err)

	issue := &github.Issue{
		Number: github.Int(7),
		Labels: []*github.Label{
			{Name: github.String("needs-triage")},
			{Name: github.String("Severity: P1")},
		},
	}
	assert.Equal(t, "p1", c.toRecord(issue).Severity)

	unlabeled := &github.Issue{Number: github.Int(8)}
	assert.Empty(t, c.toRecord(unlabeled).Severity)
}

func TestTypedError(t *testing.T) {
	base := errors.New("request failed")
	response := func(statusCode int) *github.Response {
		return &github.Response{Response: &http.Response{StatusCode: statusCode}}
	}

	tests := []struct {
		name  string
		resp  *github.Response
		err   error
		check func(error) bool
	}{
		{name: "no response is transient", resp: nil, err: base, check: models.IsTransient},
		{name: "unauthorized", resp: response(http.StatusUnauthorized), err: base, check: models.IsAuth},
		{name: "forbidden", resp: response(http.StatusForbidden), err: base, check: models.IsAuth},
		{name: "not found", resp: response(http.StatusNotFound), err: base, check: models.IsNotFound},
		{name: "server error", resp: response(http.StatusServiceUnavailable), err: base, check: models.IsTransient},
		{
			name: "rate limit error",
			resp: response(http.StatusForbidden),
			err: &github.RateLimitError{
				Response: &http.Response{
					StatusCode: http.StatusForbidden,
					Request:    &http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/repos/acme/widgets/issues"}},
				},
			},
			check: models.IsTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := typedError("github: test", tt.resp, tt.err)
			assert.True(t, tt.check(err), "unexpected error kind")
		})
	}
}

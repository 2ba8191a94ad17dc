// Package notion implements the tracker adapter for Notion databases.
//
// Notion encodes the same logical field in several property shapes (status,
// select, multi_select, checkbox, formula). The client probes the database
// schema once, records each property's encoding, and normalizes pages into
// canonical Records so callers never deal with raw property payloads.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/pkg/models"
)

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultAPIVersion = "2022-06-28"
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
	queryPageSize     = 100
)

// resolvedNames are option labels treated as the resolved status across
// status, select, multi_select and string-formula encodings.
var resolvedNames = map[string]bool{
	"resolved":  true,
	"done":      true,
	"closed":    true,
	"complete":  true,
	"completed": true,
}

// propertyKind is the probed encoding of one database property.
type propertyKind string

const (
	kindStatus      propertyKind = "status"
	kindSelect      propertyKind = "select"
	kindMultiSelect propertyKind = "multi_select"
	kindCheckbox    propertyKind = "checkbox"
	kindFormula     propertyKind = "formula"
	kindTitle       propertyKind = "title"
	kindRichText    propertyKind = "rich_text"
	kindFiles       propertyKind = "files"
	kindURL         propertyKind = "url"
)

// propertySchema describes one property from the schema probe.
type propertySchema struct {
	name    string
	kind    propertyKind
	options []string
}

// databaseSchema is the resolved probe result for one database.
type databaseSchema struct {
	// byLower indexes properties by lower-cased name.
	byLower map[string]propertySchema

	// statusProp is the property carrying record status.
	statusProp propertySchema

	// titleProp is the property of kind title.
	titleProp propertySchema
}

// Client is the Notion tracker adapter for one database.
type Client struct {
	baseURL    string
	token      string
	databaseID string
	apiVersion string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	schemaOnce sync.Once
	schema     *databaseSchema
	schemaErr  error
}

// Option adjusts client construction, used by tests to point at a stub
// server and shrink backoff delays.
type Option func(*Client)

// WithBaseURL overrides the Notion API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRetry overrides retry/backoff tuning.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// NewClient creates a Notion adapter for the configured database.
func NewClient(cfg config.NotionConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchOpenRecords queries the database and returns the open working set.
func (c *Client) FetchOpenRecords(ctx context.Context) ([]models.Record, error) {
	schema, err := c.resolveSchema(ctx)
	if err != nil {
		return nil, err
	}

	var records []models.Record
	cursor := ""
	for {
		page, err := c.queryDatabase(ctx, schema, cursor)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Results {
			record, err := normalizePage(schema, raw)
			if err != nil {
				return nil, err
			}
			// Checkbox-encoded status filters server-side; the other
			// encodings are filtered here after normalization.
			if record.Status == models.StatusOpen {
				records = append(records, record)
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return records, nil
}

// UpdateStatus patches the page's status property. Writing a value the page
// already has is a no-op on Notion's side, which keeps the call idempotent.
func (c *Client) UpdateStatus(ctx context.Context, recordID string, status models.RecordStatus) error {
	schema, err := c.resolveSchema(ctx)
	if err != nil {
		return err
	}

	prop := schema.statusProp
	value, err := statusPropertyValue(prop, status)
	if err != nil {
		return err
	}

	body := map[string]any{
		"properties": map[string]any{
			prop.name: value,
		},
	}
	_, err = c.do(ctx, http.MethodPatch, "/v1/pages/"+recordID, body)
	return err
}

// TestConnection retrieves the database as a cheap read-only probe.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.do(ctx, http.MethodGet, "/v1/databases/"+c.databaseID, nil)
	return err == nil
}

// statusPropertyValue builds the PATCH payload for the probed encoding.
// Formula properties are computed and cannot be written.
func statusPropertyValue(prop propertySchema, status models.RecordStatus) (any, error) {
	resolved := status == models.StatusResolved
	switch prop.kind {
	case kindStatus:
		name, err := optionForStatus(prop, resolved)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": map[string]any{"name": name}}, nil
	case kindSelect:
		name, err := optionForStatus(prop, resolved)
		if err != nil {
			return nil, err
		}
		return map[string]any{"select": map[string]any{"name": name}}, nil
	case kindMultiSelect:
		name, err := optionForStatus(prop, resolved)
		if err != nil {
			return nil, err
		}
		return map[string]any{"multi_select": []any{map[string]any{"name": name}}}, nil
	case kindCheckbox:
		return map[string]any{"checkbox": resolved}, nil
	case kindFormula:
		return nil, models.NewValidationError("notion: update status",
			fmt.Errorf("property %q is a computed formula and cannot be written", prop.name))
	default:
		return nil, models.NewValidationError("notion: update status",
			fmt.Errorf("unsupported status encoding %q on property %q", prop.kind, prop.name))
	}
}

// optionForStatus picks the schema option matching the desired state.
func optionForStatus(prop propertySchema, resolved bool) (string, error) {
	for _, option := range prop.options {
		if resolvedNames[strings.ToLower(option)] == resolved {
			return option, nil
		}
	}
	want := "open"
	if resolved {
		want = "resolved"
	}
	return "", models.NewValidationError("notion: update status",
		fmt.Errorf("property %q has no option for the %s state", prop.name, want))
}

// resolveSchema probes the database schema once per client.
func (c *Client) resolveSchema(ctx context.Context) (*databaseSchema, error) {
	c.schemaOnce.Do(func() {
		c.schema, c.schemaErr = c.probeSchema(ctx)
	})
	return c.schema, c.schemaErr
}

func (c *Client) probeSchema(ctx context.Context) (*databaseSchema, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/databases/"+c.databaseID, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Properties map[string]struct {
			Type   string `json:"type"`
			Status struct {
				Options []struct {
					Name string `json:"name"`
				} `json:"options"`
			} `json:"status"`
			Select struct {
				Options []struct {
					Name string `json:"name"`
				} `json:"options"`
			} `json:"select"`
			MultiSelect struct {
				Options []struct {
					Name string `json:"name"`
				} `json:"options"`
			} `json:"multi_select"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, models.NewValidationError("notion: probe schema", err)
	}

	schema := &databaseSchema{byLower: map[string]propertySchema{}}
	for name, raw := range payload.Properties {
		prop := propertySchema{name: name, kind: propertyKind(raw.Type)}
		switch prop.kind {
		case kindStatus:
			for _, o := range raw.Status.Options {
				prop.options = append(prop.options, o.Name)
			}
		case kindSelect:
			for _, o := range raw.Select.Options {
				prop.options = append(prop.options, o.Name)
			}
		case kindMultiSelect:
			for _, o := range raw.MultiSelect.Options {
				prop.options = append(prop.options, o.Name)
			}
		case kindTitle:
			schema.titleProp = prop
		}
		schema.byLower[strings.ToLower(name)] = prop
	}

	statusProp, err := pickStatusProperty(schema)
	if err != nil {
		return nil, err
	}
	schema.statusProp = statusProp

	if schema.titleProp.name == "" {
		return nil, models.NewValidationError("notion: probe schema",
			fmt.Errorf("database %s has no title property", c.databaseID))
	}
	return schema, nil
}

// pickStatusProperty prefers a property named "status", then any property
// whose encoding is Notion's native status kind.
func pickStatusProperty(schema *databaseSchema) (propertySchema, error) {
	if prop, ok := schema.byLower["status"]; ok {
		switch prop.kind {
		case kindStatus, kindSelect, kindMultiSelect, kindCheckbox, kindFormula:
			return prop, nil
		}
		return propertySchema{}, models.NewValidationError("notion: probe schema",
			fmt.Errorf("status property has unsupported encoding %q", prop.kind))
	}
	for _, prop := range schema.byLower {
		if prop.kind == kindStatus {
			return prop, nil
		}
	}
	return propertySchema{}, models.NewValidationError("notion: probe schema",
		fmt.Errorf("database has no status property"))
}

// queryPage is one page of database query results.
type queryPage struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

func (c *Client) queryDatabase(ctx context.Context, schema *databaseSchema, cursor string) (*queryPage, error) {
	body := map[string]any{
		"page_size": queryPageSize,
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	// Checkbox status can be filtered server-side; option-based encodings
	// have connection-specific vocabularies and are filtered after
	// normalization instead.
	if schema.statusProp.kind == kindCheckbox {
		body["filter"] = map[string]any{
			"property": schema.statusProp.name,
			"checkbox": map[string]any{"equals": false},
		}
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.databaseID+"/query", body)
	if err != nil {
		return nil, err
	}
	var page queryPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, models.NewValidationError("notion: query database", err)
	}
	return &page, nil
}

// do performs one Notion API call with bounded retry on 429/5xx, honoring
// Retry-After, and maps failures to the typed error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	op := "notion: " + method + " " + path

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	url := c.baseURL + path
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, models.NewTransientError(op, ctx.Err())
			}
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, models.NewTransientError(op, waitErr)
				}
				continue
			}
			return nil, models.NewTransientError(op, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, models.NewTransientError(op, readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, models.NewTransientError(op, waitErr)
			}
			continue
		}

		return nil, c.statusError(op, resp.StatusCode, respBody)
	}
}

// statusError converts a non-2xx response into a typed error.
func (c *Client) statusError(op string, statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
		message = parsed.Message
		if parsed.Code != "" {
			message = parsed.Code + ": " + message
		}
	}
	err := fmt.Errorf("status=%d message=%s", statusCode, message)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewAuthError(op, err)
	case statusCode == http.StatusNotFound:
		return models.NewNotFoundError(op, err)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return models.NewTransientError(op, err)
	case statusCode == http.StatusBadRequest:
		return models.NewValidationError(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

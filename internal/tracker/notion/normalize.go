package notion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tetherhq/tether/pkg/models"
)

// Conventional property names resolved case-insensitively against the
// probed schema.
const (
	propProject     = "project"
	propDescription = "description"
	propSeverity    = "severity"
	propAttachments = "attachments"
)

// pageValue is the per-page value of one property, decoded for every
// encoding the schema probe admits.
type pageValue struct {
	Type   string `json:"type"`
	Status *struct {
		Name string `json:"name"`
	} `json:"status"`
	Select *struct {
		Name string `json:"name"`
	} `json:"select"`
	MultiSelect []struct {
		Name string `json:"name"`
	} `json:"multi_select"`
	Checkbox *bool `json:"checkbox"`
	Formula  *struct {
		Type    string `json:"type"`
		String  string `json:"string"`
		Boolean bool   `json:"boolean"`
	} `json:"formula"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
	URL      string     `json:"url"`
	Files    []struct {
		Name string `json:"name"`
		File *struct {
			URL string `json:"url"`
		} `json:"file"`
		External *struct {
			URL string `json:"url"`
		} `json:"external"`
	} `json:"files"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

// normalizePage converts one query result into a canonical Record using the
// probed schema. A page missing its status value is a schema mismatch, not
// a silent default.
func normalizePage(schema *databaseSchema, raw json.RawMessage) (models.Record, error) {
	var page struct {
		ID         string               `json:"id"`
		URL        string               `json:"url"`
		Properties map[string]pageValue `json:"properties"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return models.Record{}, models.NewValidationError("notion: normalize page", err)
	}

	status, err := normalizeStatus(schema.statusProp, page.Properties, page.ID)
	if err != nil {
		return models.Record{}, err
	}

	record := models.Record{
		ID:        page.ID,
		Status:    status,
		Title:     plainText(page.Properties[schema.titleProp.name].Title),
		SourceURL: page.URL,
	}

	if value, ok := lookup(schema, page.Properties, propProject); ok {
		record.Project = stringValue(value)
	}
	if value, ok := lookup(schema, page.Properties, propDescription); ok {
		record.Description = stringValue(value)
	}
	if value, ok := lookup(schema, page.Properties, propSeverity); ok {
		record.Severity = stringValue(value)
	}
	if value, ok := lookup(schema, page.Properties, propAttachments); ok {
		record.Attachments = fileURLs(value)
	}
	return record, nil
}

// lookup finds a page value by conventional lower-case property name.
func lookup(schema *databaseSchema, properties map[string]pageValue, lower string) (pageValue, bool) {
	prop, ok := schema.byLower[lower]
	if !ok {
		return pageValue{}, false
	}
	value, ok := properties[prop.name]
	return value, ok
}

// normalizeStatus maps the page's status value to the canonical enum across
// every supported encoding.
func normalizeStatus(prop propertySchema, properties map[string]pageValue, pageID string) (models.RecordStatus, error) {
	value, ok := properties[prop.name]
	if !ok {
		return "", models.NewValidationError("notion: normalize page",
			fmt.Errorf("page %s is missing status property %q", pageID, prop.name))
	}

	switch prop.kind {
	case kindStatus:
		if value.Status == nil {
			return models.StatusOpen, nil
		}
		return statusFromName(value.Status.Name), nil
	case kindSelect:
		if value.Select == nil {
			return models.StatusOpen, nil
		}
		return statusFromName(value.Select.Name), nil
	case kindMultiSelect:
		for _, option := range value.MultiSelect {
			if resolvedNames[strings.ToLower(option.Name)] {
				return models.StatusResolved, nil
			}
		}
		return models.StatusOpen, nil
	case kindCheckbox:
		if value.Checkbox != nil && *value.Checkbox {
			return models.StatusResolved, nil
		}
		return models.StatusOpen, nil
	case kindFormula:
		if value.Formula == nil {
			return models.StatusOpen, nil
		}
		switch value.Formula.Type {
		case "boolean":
			if value.Formula.Boolean {
				return models.StatusResolved, nil
			}
			return models.StatusOpen, nil
		case "string":
			return statusFromName(value.Formula.String), nil
		default:
			return "", models.NewValidationError("notion: normalize page",
				fmt.Errorf("page %s: formula status of type %q is not supported", pageID, value.Formula.Type))
		}
	default:
		return "", models.NewValidationError("notion: normalize page",
			fmt.Errorf("page %s: unsupported status encoding %q", pageID, prop.kind))
	}
}

func statusFromName(name string) models.RecordStatus {
	if resolvedNames[strings.ToLower(strings.TrimSpace(name))] {
		return models.StatusResolved
	}
	return models.StatusOpen
}

// stringValue extracts a display string from whichever encoding the
// property uses.
func stringValue(value pageValue) string {
	switch {
	case value.Select != nil:
		return value.Select.Name
	case value.Status != nil:
		return value.Status.Name
	case len(value.MultiSelect) > 0:
		names := make([]string, 0, len(value.MultiSelect))
		for _, option := range value.MultiSelect {
			names = append(names, option.Name)
		}
		return strings.Join(names, ", ")
	case len(value.RichText) > 0:
		return plainText(value.RichText)
	case len(value.Title) > 0:
		return plainText(value.Title)
	case value.URL != "":
		return value.URL
	case value.Formula != nil && value.Formula.Type == "string":
		return value.Formula.String
	default:
		return ""
	}
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return b.String()
}

func fileURLs(value pageValue) []string {
	var urls []string
	for _, file := range value.Files {
		switch {
		case file.File != nil && file.File.URL != "":
			urls = append(urls, file.File.URL)
		case file.External != nil && file.External.URL != "":
			urls = append(urls, file.External.URL)
		}
	}
	if value.URL != "" {
		urls = append(urls, value.URL)
	}
	return urls
}

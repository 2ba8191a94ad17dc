package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetherhq/tether/pkg/models"
)

func recordIDs(records []models.Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name       string
		current    []string
		cached     []string
		wantCreate []string
		wantUpdate []string
		wantRemove []string
	}{
		{
			name:       "all new",
			current:    []string{"A1", "A2"},
			wantCreate: []string{"A1", "A2"},
		},
		{
			name:       "all cached",
			current:    []string{"A1", "A2"},
			cached:     []string{"A1", "A2"},
			wantUpdate: []string{"A1", "A2"},
		},
		{
			name:       "all gone",
			cached:     []string{"A1", "A2"},
			wantRemove: []string{"A1", "A2"},
		},
		{
			name:       "mixed",
			current:    []string{"A1", "A3"},
			cached:     []string{"A1", "A2"},
			wantCreate: []string{"A3"},
			wantUpdate: []string{"A1"},
			wantRemove: []string{"A2"},
		},
		{
			name: "both empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toRecords := func(ids []string) []models.Record {
				var records []models.Record
				for _, id := range ids {
					records = append(records, models.Record{ID: id, Status: models.StatusOpen})
				}
				return records
			}

			p := diff(toRecords(tt.current), toRecords(tt.cached))
			assert.ElementsMatch(t, tt.wantCreate, recordIDs(p.toCreate))
			assert.ElementsMatch(t, tt.wantUpdate, recordIDs(p.toUpdate))
			assert.ElementsMatch(t, tt.wantRemove, recordIDs(p.toRemove))
		})
	}
}

func TestFilterRecords(t *testing.T) {
	records := []models.Record{
		{ID: "A1", Project: "core"},
		{ID: "B1", Project: "infra"},
		{ID: "C1", Project: ""},
	}

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{name: "all keyword", filter: models.ProjectAll, want: []string{"A1", "B1", "C1"}},
		{name: "empty filter", filter: "", want: []string{"A1", "B1", "C1"}},
		{name: "single project", filter: "core", want: []string{"A1"}},
		{name: "no matches", filter: "nothing", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := models.Mapping{ID: "m1", ProjectFilter: tt.filter}
			got := filterRecords(m, records)
			assert.ElementsMatch(t, tt.want, recordIDs(got))
		})
	}
}

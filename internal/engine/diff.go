package engine

import (
	"github.com/tetherhq/tether/pkg/models"
)

// plan is the computed operation set for one mapping run.
type plan struct {
	// toCreate holds records present upstream with no cached counterpart.
	toCreate []models.Record

	// toUpdate holds records present on both sides. Updates apply even
	// when field values are unchanged; the idempotent overwrite is cheaper
	// than field-by-field diffing and cannot miss an update.
	toUpdate []models.Record

	// toRemove holds cached records that left the open working set.
	toRemove []models.Record
}

// diff computes the minimal create/update/remove plan between the freshly
// fetched working set and the cached one, keyed by record id.
func diff(current, cached []models.Record) plan {
	cachedByID := make(map[string]models.Record, len(cached))
	for _, record := range cached {
		cachedByID[record.ID] = record
	}

	var p plan
	seen := make(map[string]bool, len(current))
	for _, record := range current {
		seen[record.ID] = true
		if _, ok := cachedByID[record.ID]; ok {
			p.toUpdate = append(p.toUpdate, record)
		} else {
			p.toCreate = append(p.toCreate, record)
		}
	}
	for _, record := range cached {
		if !seen[record.ID] {
			p.toRemove = append(p.toRemove, record)
		}
	}
	return p
}

// filterRecords applies the mapping's project filter to the fetched set.
func filterRecords(m models.Mapping, records []models.Record) []models.Record {
	if m.ProjectFilter == "" || m.ProjectFilter == models.ProjectAll {
		return records
	}
	var filtered []models.Record
	for _, record := range records {
		if m.Matches(record) {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

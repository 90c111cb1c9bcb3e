package services

import (
	"encoding/json"
	"log"
	"time"

	"listing_tracker/models"
)

// ReconcileStats counts the lifecycle transitions applied by one Reconcile call.
type ReconcileStats struct {
	SnapshotRecords int // records handed in, including unmatchable ones
	Unmatchable     int // records without an id, left out of the merge
	DuplicateIDs    int // records dropped because another record had the same id
	New             int
	Updated         int
	Unchanged       int
	Reactivated     int
	Disappeared     int // became inactive in this run
	StillMissing    int // already inactive and still absent
	Total           int // listings in the resulting store
}

// ToJSON returns JSON-serializable metadata
func (s ReconcileStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"snapshot_records": s.SnapshotRecords,
		"unmatchable":      s.Unmatchable,
		"duplicate_ids":    s.DuplicateIDs,
		"new":              s.New,
		"updated":          s.Updated,
		"unchanged":        s.Unchanged,
		"reactivated":      s.Reactivated,
		"disappeared":      s.Disappeared,
		"still_missing":    s.StillMissing,
		"total":            s.Total,
	})
	return data
}

// Reconcile merges today's snapshot into the stored listings and returns the
// new store. Listings are joined on id only:
//
//   - ids only in the snapshot become new active listings first seen today;
//   - ids in both keep their stored history, and take the snapshot's title,
//     price and address (bumping lastUpdated) when any of the three differ;
//     an inactive listing that shows up again is reactivated;
//   - ids only in the store are marked inactive, keeping an earlier
//     disappearance date if they already had one.
//
// Every id of either input appears exactly once in the result. The input
// map is not modified.
func Reconcile(store map[string]models.Listing, snapshot []models.Record, today time.Time) (map[string]models.Listing, ReconcileStats) {
	day := models.Day(today)
	stats := ReconcileStats{SnapshotRecords: len(snapshot)}

	current := keySnapshot(snapshot, &stats)
	result := make(map[string]models.Listing, len(store)+len(current))

	for id, rec := range current {
		stored, ok := store[id]
		if !ok {
			result[id] = newListing(id, rec, day)
			stats.New++
			continue
		}
		merged, changed, reactivated := mergeCommon(stored, rec, day)
		result[id] = merged
		switch {
		case reactivated:
			stats.Reactivated++
		case changed:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	for id, stored := range store {
		if _, seen := current[id]; seen {
			continue
		}
		gone, first := markMissing(stored, day)
		result[id] = gone
		if first {
			stats.Disappeared++
		} else {
			stats.StillMissing++
		}
	}

	stats.Total = len(result)
	return result, stats
}

// keySnapshot indexes records by id. Id-less records are counted and
// dropped; among records sharing an id the one with the greatest URL wins so
// the outcome does not depend on fetch completion order.
func keySnapshot(records []models.Record, stats *ReconcileStats) map[string]models.Record {
	keyed := make(map[string]models.Record, len(records))
	for _, rec := range records {
		id, ok := rec.Key()
		if !ok {
			stats.Unmatchable++
			continue
		}
		if prev, dup := keyed[id]; dup {
			stats.DuplicateIDs++
			log.Printf("Duplicate listing id %s (%s, %s)", id, prev.URL, rec.URL)
			if rec.URL < prev.URL {
				continue
			}
		}
		keyed[id] = rec
	}
	return keyed
}

func newListing(id string, rec models.Record, day time.Time) models.Listing {
	rec.ID = &id
	return models.Listing{
		Record:      rec,
		Active:      true,
		FirstSeen:   timePtr(day),
		LastUpdated: timePtr(day),
	}
}

func mergeCommon(stored models.Listing, rec models.Record, day time.Time) (models.Listing, bool, bool) {
	l := stored

	changed := !models.SameText(stored.Title, rec.Title) ||
		!models.SameText(stored.Price, rec.Price) ||
		!models.SameText(stored.Address, rec.Address)
	if changed {
		l.Title = rec.Title
		l.Price = rec.Price
		l.Address = rec.Address
		l.LastUpdated = timePtr(day)
	}

	reactivated := !stored.Active
	if reactivated {
		l.Active = true
		l.Disappeared = nil
		l.LastUpdated = timePtr(day)
	}
	return l, changed, reactivated
}

// markMissing reports whether the listing disappeared for the first time.
func markMissing(stored models.Listing, day time.Time) (models.Listing, bool) {
	l := stored
	l.Active = false
	first := l.Disappeared == nil
	if first {
		l.Disappeared = timePtr(day)
	}
	if l.LastUpdated == nil {
		l.LastUpdated = timePtr(day)
	}
	return l, first
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"listing_tracker/models"
)

// listingColumns is the persisted column order shared by every backend.
var listingColumns = []string{
	"id", "url", "title", "price", "address", "active",
	"firstSeen", "lastUpdated", "disappeared",
	"surfaceArea", "roomCount", "bathroomCount", "energyClass", "tags",
}

// Tags are joined with tagSeparator; a literal separator or backslash
// inside a tag is escaped with a backslash.
const (
	tagSeparator = '|'
	tagEscape    = '\\'
)

func encodeListing(l models.Listing) []string {
	return []string{
		l.ID(),
		l.URL,
		textField(l.Title),
		textField(l.Price),
		textField(l.Address),
		strconv.FormatBool(l.Active),
		models.FormatDate(l.FirstSeen),
		models.FormatDate(l.LastUpdated),
		models.FormatDate(l.Disappeared),
		floatField(l.SurfaceArea),
		intField(l.RoomCount),
		intField(l.BathroomCount),
		textField(l.EnergyClass),
		joinTags(l.Tags),
	}
}

// decodeListing rebuilds a listing from column values. field returns ""
// for columns the source does not have; those are backfilled.
func decodeListing(field func(col string) string) (models.Listing, error) {
	var l models.Listing
	var err error

	id := strings.TrimSpace(field("id"))
	if id == "" {
		return l, fmt.Errorf("row without id")
	}
	l.Record.ID = &id
	l.URL = field("url")
	l.Title = parseText(field("title"))
	l.Price = parseText(field("price"))
	l.Address = parseText(field("address"))
	l.EnergyClass = parseText(field("energyClass"))
	l.Tags = parseTags(field("tags"))

	if l.FirstSeen, err = models.ParseDate(field("firstSeen")); err != nil {
		return l, fmt.Errorf("listing %s firstSeen: %w", id, err)
	}
	if l.LastUpdated, err = models.ParseDate(field("lastUpdated")); err != nil {
		return l, fmt.Errorf("listing %s lastUpdated: %w", id, err)
	}
	if l.Disappeared, err = models.ParseDate(field("disappeared")); err != nil {
		return l, fmt.Errorf("listing %s disappeared: %w", id, err)
	}

	switch raw := strings.TrimSpace(field("active")); raw {
	case "":
		l.Active = l.Disappeared == nil
	default:
		active, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return l, fmt.Errorf("listing %s active %q: %w", id, raw, err)
		}
		l.Active = active
	}

	if l.SurfaceArea, err = parseFloat(field("surfaceArea")); err != nil {
		return l, fmt.Errorf("listing %s surfaceArea: %w", id, err)
	}
	if l.RoomCount, err = parseInt(field("roomCount")); err != nil {
		return l, fmt.Errorf("listing %s roomCount: %w", id, err)
	}
	if l.BathroomCount, err = parseInt(field("bathroomCount")); err != nil {
		return l, fmt.Errorf("listing %s bathroomCount: %w", id, err)
	}
	return l, nil
}

func sortedIDs(listings map[string]models.Listing) []string {
	ids := make([]string, 0, len(listings))
	for id := range listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func textField(s *string) string {
	if s == nil {
		return models.NotAvailable
	}
	return *s
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func intField(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func parseText(s string) *string {
	if strings.TrimSpace(s) == models.NotAvailable {
		return nil
	}
	return models.Text(s)
}

func joinTags(tags []string) string {
	var b strings.Builder
	for i, tag := range tags {
		if i > 0 {
			b.WriteRune(tagSeparator)
		}
		for _, r := range tag {
			if r == tagSeparator || r == tagEscape {
				b.WriteRune(tagEscape)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseTags(s string) []string {
	var tags []string
	var cur strings.Builder
	flush := func() {
		if tag := strings.TrimSpace(cur.String()); tag != "" {
			tags = append(tags, tag)
		}
		cur.Reset()
	}

	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == tagEscape:
			escaped = true
		case r == tagSeparator:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tags
}

func parseFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == models.NotAvailable {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == models.NotAvailable {
		return nil, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"listing_tracker/models"
)

var exportColumns = []string{
	"id", "url", "title", "price", "address",
	"surfaceArea", "roomCount", "bathroomCount", "energyClass", "tags",
}

// ExportName builds the snapshot file name, e.g. trovacasa_20240301_061500_42_listings.csv.
func ExportName(site string, count int, now time.Time) string {
	return fmt.Sprintf("%s_%s_%d_listings.csv", site, now.Format("20060102_150405"), count)
}

// WriteSnapshotCSV writes one run's raw records as a semicolon separated
// file in dir and returns its path.
func WriteSnapshotCSV(dir, site string, records []models.Record, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, ExportName(site, len(records), now))

	sorted := make([]models.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write(exportColumns); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	for _, r := range sorted {
		id, _ := r.Key()
		row := []string{
			id,
			r.URL,
			textField(r.Title),
			textField(r.Price),
			textField(r.Address),
			floatField(r.SurfaceArea),
			intField(r.RoomCount),
			intField(r.BathroomCount),
			textField(r.EnergyClass),
			joinTags(r.Tags),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write export: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, f.Close()
}

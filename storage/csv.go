package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"listing_tracker/models"
)

// CSVStore keeps the listing set in a single comma-separated file with a
// header row. Columns the file lacks are backfilled on load.
type CSVStore struct {
	path string
}

func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) Location() string {
	return s.path
}

func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) Load(ctx context.Context) (map[string]models.Listing, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.Listing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return map[string]models.Listing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read header: %v", ErrCorruptStore, s.path, err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[col] = i
	}
	if _, ok := index["id"]; !ok {
		return nil, fmt.Errorf("%w: %s: no id column", ErrCorruptStore, s.path)
	}

	listings := make(map[string]models.Listing)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
		}

		l, err := decodeListing(func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptStore, s.path, line, err)
		}
		if _, dup := listings[l.ID()]; dup {
			log.Printf("Store %s: duplicate id %s on line %d, keeping the later row", s.path, l.ID(), line)
		}
		listings[l.ID()] = l
	}
	return listings, nil
}

// Save writes the set to a temporary file next to the store and renames it
// over the old one, so a failed write never truncates the previous store.
func (s *CSVStore) Save(ctx context.Context, listings map[string]models.Listing) error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(listingColumns); err != nil {
			return err
		}
		for _, id := range sortedIDs(listings) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cw.Write(encodeListing(listings[id])); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

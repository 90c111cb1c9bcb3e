package storage

import (
	"fmt"
	"io"
	"time"
)

// EmptyExport is written as the export location when a run produced nothing.
const EmptyExport = "EMPTY"

// RunInfo is the KEY=VALUE artifact left for whatever invoked the tracker.
type RunInfo struct {
	StorePath     string
	ExportURL     string
	ListingsCount int
	SnapshotCount int
	RunID         string
	Timestamp     time.Time
}

// WriteRunInfo replaces the artifact at path.
func WriteRunInfo(path string, info RunInfo) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := fmt.Fprintf(w,
			"STORE_PATH=%s\nEXPORT_URL=%s\nLISTINGS_COUNT=%d\nSNAPSHOT_COUNT=%d\nRUN_ID=%s\nTIMESTAMP=%s\n",
			info.StorePath, info.ExportURL, info.ListingsCount, info.SnapshotCount,
			info.RunID, info.Timestamp.Format("20060102_150405"))
		return err
	})
}

package features

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/riftlab/matchforge/internal/pipeline"
)

// Header returns the stable dataset column layout: match key, label,
// then the per-slot feature columns for the ten canonical slots.
func Header() []string {
	header := []string{"region", "match_id", "label"}
	for slot := 0; slot < 10; slot++ {
		side := "blue"
		idx := slot
		if slot >= 5 {
			side = "red"
			idx = slot - 5
		}
		for _, name := range slotFeatureNames {
			header = append(header, fmt.Sprintf("%s_%d_%s", side, idx, name))
		}
	}
	return header
}

// writeDataset replaces the output file atomically: rows go to a temp
// file in the same directory which is renamed over the target, so a
// reader never observes a half-written dataset.
func writeDataset(path string, records []pipeline.FeatureRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(Header()); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	for _, record := range records {
		row := make([]string, 0, 3+len(record.Features))
		row = append(row, record.Ref.Region, record.Ref.ID, formatFloat(record.Label))
		for _, v := range record.Features {
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write dataset row %s: %w", record.Ref.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish dataset: %w", err)
	}
	return nil
}

// formatFloat renders values with the shortest round-trippable form so
// repeated runs emit identical bytes.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

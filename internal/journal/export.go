package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"plan_id", "timestamp", "source", "target", "provenance", "external_id"}

// ExportCSV writes every outstanding rename, oldest plan first.
func (j *Journal) ExportCSV(w io.Writer) (int, error) {
	all, err := j.List(0)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}
	rows := 0
	for i := len(all) - 1; i >= 0; i-- {
		h := all[i]
		for _, op := range h.Renames() {
			record := []string{
				h.PlanID,
				op.Timestamp.UTC().Format(time.RFC3339),
				op.SourcePath,
				op.DestPath,
				string(op.Provenance),
				op.ExternalID,
			}
			if err := cw.Write(record); err != nil {
				return rows, fmt.Errorf("failed to write csv row: %w", err)
			}
			rows++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush csv: %w", err)
	}
	return rows, nil
}

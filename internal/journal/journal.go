// Package journal persists an append-only audit record of per-order
// reconciliation outcomes as Parquet files on disk.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"tallyman/internal/domain"
)

// Action is the outcome recorded for one standing order in one pass.
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionRetired   Action = "retired"
	ActionSkipped   Action = "skipped"
	ActionRejected  Action = "rejected"
	ActionDropped   Action = "dropped" // instrument unresolvable, order deleted
)

// Entry is one journaled outcome.
type Entry struct {
	Time         time.Time
	PassID       string
	InstrumentID string
	Action       Action
	Price        string
	Quantity     int64
	Detail       string
}

// Journal records per-order outcomes. The engine takes any implementation;
// tests use Nop.
type Journal interface {
	Record(entries []Entry) error
}

// Nop discards all entries.
type Nop struct{}

// Record implements Journal.
func (Nop) Record([]Entry) error { return nil }

// Compile-time interface checks.
var _ Journal = (*ParquetJournal)(nil)
var _ Journal = Nop{}

// ParquetJournal appends outcomes to one Parquet file per year under
// <dataDir>/journal/<YYYY>.parquet, merging with existing records on write.
type ParquetJournal struct {
	DataDir string
}

// NewParquetJournal creates a journal rooted at the given data directory.
func NewParquetJournal(dataDir string) *ParquetJournal {
	return &ParquetJournal{DataDir: dataDir}
}

// entryRecord is the Parquet on-disk schema.
type entryRecord struct {
	Time         int64  `parquet:"time,timestamp(millisecond)"` // Unix ms
	PassID       string `parquet:"pass_id"`
	InstrumentID string `parquet:"instrument_id"`
	Action       string `parquet:"action"`
	Price        string `parquet:"price"`
	Quantity     int64  `parquet:"quantity"`
	Detail       string `parquet:"detail"`
}

// Record appends the entries, grouped by year file.
func (j *ParquetJournal) Record(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	groups := make(map[int][]entryRecord)
	for _, e := range entries {
		groups[e.Time.UTC().Year()] = append(groups[e.Time.UTC().Year()], entryRecord{
			Time:         e.Time.UnixMilli(),
			PassID:       e.PassID,
			InstrumentID: e.InstrumentID,
			Action:       string(e.Action),
			Price:        e.Price,
			Quantity:     e.Quantity,
			Detail:       e.Detail,
		})
	}

	for year, records := range groups {
		path := j.path(year)

		existing, _ := readParquetFile[entryRecord](path)
		merged := append(existing, records...)
		sort.Slice(merged, func(i, k int) bool {
			return merged[i].Time < merged[k].Time
		})

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing journal for %d: %w", year, err)
		}
	}
	return nil
}

// Read returns all entries within [start, end].
func (j *ParquetJournal) Read(start, end time.Time) ([]Entry, error) {
	var entries []Entry
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[entryRecord](j.path(year))
		if err != nil {
			// No journal file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Time)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			entries = append(entries, Entry{
				Time:         ts,
				PassID:       r.PassID,
				InstrumentID: r.InstrumentID,
				Action:       Action(r.Action),
				Price:        r.Price,
				Quantity:     r.Quantity,
				Detail:       r.Detail,
			})
		}
	}
	return entries, nil
}

// path returns <dataDir>/journal/<YYYY>.parquet.
func (j *ParquetJournal) path(year int) string {
	return filepath.Join(j.DataDir, "journal", fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// FromOutcome builds a journal entry for one standing order's outcome.
func FromOutcome(passID string, order domain.StandingOrder, action Action, detail string, at time.Time) Entry {
	return Entry{
		Time:         at,
		PassID:       passID,
		InstrumentID: order.InstrumentID,
		Action:       action,
		Price:        order.Price.String(),
		Quantity:     order.Quantity,
		Detail:       detail,
	}
}

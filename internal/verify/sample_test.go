package verify

import (
	"context"
	"fmt"
	"testing"

	"github.com/aristath/sheetagent/internal/sheet"
)

// numberedSheet builds a sheet with a header and n data rows whose first cell
// encodes the 1-based sheet row, so tests can verify which rows were sampled.
func numberedSheet(name string, n int) *sheet.Memory {
	rows := [][]string{{"Row Marker", "Value"}}
	for i := 0; i < n; i++ {
		rows = append(rows, []string{fmt.Sprintf("row-%d", i+2), fmt.Sprintf("%d", i)})
	}
	m := sheet.NewMemory()
	m.SetSheet(name, rows)
	return m
}

func TestDrawLayers(t *testing.T) {
	m := numberedSheet("data", 100)
	strat := Strategy{HeadRows: 10, TailRows: 5, RandomRows: 15, Seed: 1}

	set, err := Draw(context.Background(), m, "data", strat)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}

	if set.TotalRows != 101 {
		t.Errorf("TotalRows = %d, want 101", set.TotalRows)
	}
	if set.HeadCount != 10 || set.TailCount != 5 || set.RandomCount != 15 {
		t.Errorf("layer counts = %d/%d/%d, want 10/5/15", set.HeadCount, set.TailCount, set.RandomCount)
	}
	if len(set.Rows) != 30 || len(set.RowIndex) != 30 {
		t.Fatalf("sampled %d rows (%d indices), want 30", len(set.Rows), len(set.RowIndex))
	}

	// Head rows are 2..11, tail rows 97..101, random rows strictly interior.
	for i := 0; i < set.HeadCount; i++ {
		if want := 2 + i; set.RowIndex[i] != want {
			t.Errorf("head RowIndex[%d] = %d, want %d", i, set.RowIndex[i], want)
		}
	}
	for i := 0; i < set.TailCount; i++ {
		if want := 97 + i; set.RowIndex[set.HeadCount+i] != want {
			t.Errorf("tail RowIndex = %d, want %d", set.RowIndex[set.HeadCount+i], want)
		}
	}
	seen := map[int]bool{}
	for i, idx := range set.RowIndex {
		if seen[idx] {
			t.Errorf("row %d sampled twice", idx)
		}
		seen[idx] = true
		if want := fmt.Sprintf("row-%d", idx); set.Rows[i][0] != want {
			t.Errorf("Rows[%d][0] = %q, want %q", i, set.Rows[i][0], want)
		}
	}
	for _, idx := range set.RowIndex[set.HeadCount+set.TailCount:] {
		if idx < 12 || idx > 96 {
			t.Errorf("random row %d outside interior [12,96]", idx)
		}
	}
}

func TestDrawSmallSheet(t *testing.T) {
	m := numberedSheet("tiny", 8)

	set, err := Draw(context.Background(), m, "tiny", DefaultStrategy())
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}

	// All 8 data rows land in the head layer; the tail would overlap so it
	// is skipped, and no interior remains for random draws.
	if set.HeadCount != 8 || set.TailCount != 0 || set.RandomCount != 0 {
		t.Errorf("layer counts = %d/%d/%d, want 8/0/0", set.HeadCount, set.TailCount, set.RandomCount)
	}
	if len(set.Rows) != 8 {
		t.Errorf("sampled %d rows, want 8", len(set.Rows))
	}
}

func TestDrawTailBoundary(t *testing.T) {
	// 15 data rows: head takes 10, the tail window 12..16 starts right after
	// the head, leaving no interior.
	m := numberedSheet("edge", 15)

	set, err := Draw(context.Background(), m, "edge", DefaultStrategy())
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if set.HeadCount != 10 || set.TailCount != 5 || set.RandomCount != 0 {
		t.Errorf("layer counts = %d/%d/%d, want 10/5/0", set.HeadCount, set.TailCount, set.RandomCount)
	}
}

func TestDrawSeededDeterminism(t *testing.T) {
	m := numberedSheet("data", 200)
	strat := Strategy{HeadRows: 5, TailRows: 5, RandomRows: 20, Seed: 7}

	a, err := Draw(context.Background(), m, "data", strat)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	b, err := Draw(context.Background(), m, "data", strat)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}

	if len(a.RowIndex) != len(b.RowIndex) {
		t.Fatalf("draw sizes differ: %d vs %d", len(a.RowIndex), len(b.RowIndex))
	}
	for i := range a.RowIndex {
		if a.RowIndex[i] != b.RowIndex[i] {
			t.Fatalf("RowIndex[%d] differs: %d vs %d", i, a.RowIndex[i], b.RowIndex[i])
		}
	}
}

func TestDrawMissingSheet(t *testing.T) {
	m := sheet.NewMemory()
	if _, err := Draw(context.Background(), m, "nope", DefaultStrategy()); err == nil {
		t.Fatal("expected error for missing sheet")
	}
}

func TestSampleSetCell(t *testing.T) {
	set := &SampleSet{RowIndex: []int{2, 7, 42}}
	if got := set.Cell(1, 2); got != "C7" {
		t.Errorf("Cell(1, 2) = %q, want C7", got)
	}
	if got := set.Cell(9, 0); got != "" {
		t.Errorf("Cell out of range = %q, want empty", got)
	}
}

package verify

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/aristath/sheetagent/internal/sheet"
)

// Strategy controls the layered sample: head rows from the top, tail rows
// from the bottom, and random interior rows drawn without replacement.
type Strategy struct {
	HeadRows   int
	TailRows   int
	RandomRows int
	Seed       int64 // 0 means non-deterministic
}

// DefaultStrategy samples 10 head, 5 tail and 15 random rows.
func DefaultStrategy() Strategy {
	return Strategy{HeadRows: 10, TailRows: 5, RandomRows: 15}
}

// expanded returns the strategy used by the second-pass confirmation.
func (s Strategy) expanded() Strategy {
	return Strategy{
		HeadRows:   s.HeadRows * 2,
		TailRows:   s.TailRows * 2,
		RandomRows: s.RandomRows * 3,
		Seed:       s.Seed,
	}
}

// SampleSet is a layered sample of one sheet. Rows are data rows only (the
// header is kept separately) and RowIndex maps each sampled row back to its
// 1-based sheet row so issues can cite exact cell addresses.
type SampleSet struct {
	Header    []string
	Rows      [][]string
	RowIndex  []int
	TotalRows int // sheet rows including the header

	HeadCount   int
	TailCount   int
	RandomCount int
}

// DataRows returns the number of data rows in the sheet (total minus header).
func (s *SampleSet) DataRows() int {
	if s.TotalRows <= 1 {
		return 0
	}
	return s.TotalRows - 1
}

// Cell returns the A1 address of the sampled row i, column col (0-based).
func (s *SampleSet) Cell(i, col int) string {
	if i < 0 || i >= len(s.RowIndex) {
		return ""
	}
	return sheet.CellRef(col, s.RowIndex[i])
}

// Draw reads a layered sample: head rows, tail rows (only when the sheet is
// large enough that head and tail do not overlap), and random interior rows
// without replacement. Row 1 is treated as the header.
func Draw(ctx context.Context, sampler sheet.Sampler, name string, strat Strategy) (*SampleSet, error) {
	total, err := sampler.TotalRows(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading row count of %q: %w", name, err)
	}
	if total < 1 {
		return nil, fmt.Errorf("sheet %q is empty", name)
	}

	headerRows, err := sampler.ReadRows(ctx, name, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("reading header of %q: %w", name, err)
	}
	var header []string
	if len(headerRows) > 0 {
		header = headerRows[0]
	}

	set := &SampleSet{Header: header, TotalRows: total}
	dataRows := total - 1
	if dataRows <= 0 {
		return set, nil
	}

	// Head: rows 2 .. 1+headRows.
	headCount := min(strat.HeadRows, dataRows)
	if headCount > 0 {
		rows, err := sampler.ReadRows(ctx, name, 2, headCount)
		if err != nil {
			return nil, fmt.Errorf("reading head of %q: %w", name, err)
		}
		for i, row := range rows {
			set.Rows = append(set.Rows, row)
			set.RowIndex = append(set.RowIndex, 2+i)
		}
		set.HeadCount = len(rows)
	}

	// Tail: only when it cannot overlap the head.
	tailStart := total - strat.TailRows + 1
	if strat.TailRows > 0 && tailStart > 1+headCount {
		rows, err := sampler.ReadRows(ctx, name, tailStart, strat.TailRows)
		if err != nil {
			return nil, fmt.Errorf("reading tail of %q: %w", name, err)
		}
		for i, row := range rows {
			set.Rows = append(set.Rows, row)
			set.RowIndex = append(set.RowIndex, tailStart+i)
		}
		set.TailCount = len(rows)
	}

	// Random interior rows, drawn without replacement from the region
	// between head and tail.
	interiorStart := 2 + headCount
	interiorEnd := total
	if set.TailCount > 0 {
		interiorEnd = tailStart - 1
	}
	interiorSize := interiorEnd - interiorStart + 1
	if strat.RandomRows > 0 && interiorSize > 0 {
		rng := rand.New(rand.NewSource(strat.Seed))
		if strat.Seed == 0 {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}

		take := min(strat.RandomRows, interiorSize)
		picks := rng.Perm(interiorSize)[:take]
		sort.Ints(picks)

		for _, p := range picks {
			rowNum := interiorStart + p
			rows, err := sampler.ReadRows(ctx, name, rowNum, 1)
			if err != nil {
				return nil, fmt.Errorf("reading row %d of %q: %w", rowNum, name, err)
			}
			if len(rows) == 0 {
				continue
			}
			set.Rows = append(set.Rows, rows[0])
			set.RowIndex = append(set.RowIndex, rowNum)
			set.RandomCount++
		}
	}

	return set, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

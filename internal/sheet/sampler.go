package sheet

import (
	"context"
)

// Sampler is the narrow document-reading interface the verification engine
// depends on. Higher-level reads (layered samples, full scans, lookup-table
// discovery) are all built from these three primitives.
//
// Row numbers are 1-based to match spreadsheet addressing; row 1 is the
// header row by convention.
type Sampler interface {
	// ReadRows returns up to count rows starting at the 1-based row start.
	// Reading past the end of the sheet returns the rows that exist.
	ReadRows(ctx context.Context, sheet string, start, count int) ([][]string, error)

	// TotalRows returns the number of rows in the sheet, header included.
	TotalRows(ctx context.Context, sheet string) (int, error)

	// ColumnFormulas returns the formula strings of a column ("A", "B", ...)
	// for every data row. Cells holding plain values yield empty strings.
	ColumnFormulas(ctx context.Context, sheet string, column string) ([]string, error)
}

// Lister is implemented by samplers that can enumerate their sheets.
// The lookup-consistency rule uses it for best-effort master-table discovery;
// samplers without it simply disable that rule.
type Lister interface {
	SheetNames(ctx context.Context) ([]string, error)
}

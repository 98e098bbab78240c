package sheet

import (
	"context"
	"testing"
)

func TestReadRowsWindow(t *testing.T) {
	m := NewMemory()
	m.SetSheet("sales", [][]string{
		{"id", "price"},
		{"P1", "100"},
		{"P2", "200"},
		{"P3", "300"},
	})

	ctx := context.Background()

	tests := []struct {
		name     string
		start    int
		count    int
		wantRows int
		wantErr  bool
	}{
		{name: "header only", start: 1, count: 1, wantRows: 1},
		{name: "interior window", start: 2, count: 2, wantRows: 2},
		{name: "window past end clamps", start: 3, count: 10, wantRows: 2},
		{name: "start beyond sheet", start: 10, count: 1, wantRows: 0},
		{name: "invalid start", start: 0, count: 1, wantErr: true},
		{name: "invalid count", start: 1, count: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := m.ReadRows(ctx, "sales", tt.start, tt.count)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadRows: %v", err)
			}
			if len(rows) != tt.wantRows {
				t.Errorf("got %d rows, want %d", len(rows), tt.wantRows)
			}
		})
	}
}

func TestReadRowsMissingSheet(t *testing.T) {
	m := NewMemory()
	if _, err := m.ReadRows(context.Background(), "nope", 1, 1); err == nil {
		t.Error("expected error for missing sheet")
	}
}

func TestColumnFormulasDefaultEmpty(t *testing.T) {
	m := NewMemory()
	m.SetSheet("sales", [][]string{
		{"id", "amount"},
		{"P1", "100"},
		{"P2", "200"},
	})

	formulas, err := m.ColumnFormulas(context.Background(), "sales", "b")
	if err != nil {
		t.Fatalf("ColumnFormulas: %v", err)
	}
	if len(formulas) != 2 {
		t.Fatalf("got %d formulas, want 2", len(formulas))
	}
	for i, f := range formulas {
		if f != "" {
			t.Errorf("formula %d = %q, want empty", i, f)
		}
	}

	if err := m.SetColumnFormulas("sales", "B", []string{"=A2*2", "=A3*2"}); err != nil {
		t.Fatalf("SetColumnFormulas: %v", err)
	}
	formulas, err = m.ColumnFormulas(context.Background(), "sales", "B")
	if err != nil {
		t.Fatalf("ColumnFormulas: %v", err)
	}
	if formulas[0] != "=A2*2" {
		t.Errorf("formula 0 = %q, want =A2*2", formulas[0])
	}
}

func TestSetCellGrowsSheet(t *testing.T) {
	m := NewMemory()
	if err := m.SetCell("new", 3, 2, "x"); err != nil {
		t.Fatalf("SetCell: %v", err)
	}

	total, err := m.TotalRows(context.Background(), "new")
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 3 {
		t.Errorf("TotalRows = %d, want 3", total)
	}

	rows, err := m.ReadRows(context.Background(), "new", 3, 1)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if rows[0][2] != "x" {
		t.Errorf("cell C3 = %q, want x", rows[0][2])
	}
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{-1, ""},
	}

	for _, tt := range tests {
		if got := ColumnLetter(tt.index); got != tt.want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestCellAndRangeRef(t *testing.T) {
	if got := CellRef(1, 12); got != "B12" {
		t.Errorf("CellRef = %q, want B12", got)
	}
	if got := RangeRef(0, 2, 2, 30); got != "A2:C30" {
		t.Errorf("RangeRef = %q, want A2:C30", got)
	}
}

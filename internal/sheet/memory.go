package sheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory workbook implementing Sampler. It backs the demo
// binary (loaded from CSV files) and the package tests; production deployments
// substitute the host application's sampler.
type Memory struct {
	mu       sync.RWMutex
	sheets   map[string]*memSheet
	ordering []string // insertion order for SheetNames
}

type memSheet struct {
	rows     [][]string
	formulas map[string][]string // column letter -> per-data-row formulas
}

// NewMemory creates an empty in-memory workbook.
func NewMemory() *Memory {
	return &Memory{sheets: make(map[string]*memSheet)}
}

// SetSheet replaces the named sheet's contents. The first row is the header.
func (m *Memory) SetSheet(name string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sheets[name]; !exists {
		m.ordering = append(m.ordering, name)
	}
	m.sheets[name] = &memSheet{rows: rows, formulas: make(map[string][]string)}
}

// SetColumnFormulas records the formula strings for a column's data rows.
func (m *Memory) SetColumnFormulas(name, column string, formulas []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sheets[name]
	if !exists {
		return fmt.Errorf("sheet %q not found", name)
	}
	s.formulas[strings.ToUpper(column)] = formulas
	return nil
}

// SetCell writes a single cell. row is 1-based, col is 0-based. The sheet
// grows as needed.
func (m *Memory) SetCell(name string, row, col int, value string) error {
	if row < 1 || col < 0 {
		return fmt.Errorf("invalid cell position row=%d col=%d", row, col)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sheets[name]
	if !exists {
		s = &memSheet{formulas: make(map[string][]string)}
		m.sheets[name] = s
		m.ordering = append(m.ordering, name)
	}

	for len(s.rows) < row {
		s.rows = append(s.rows, nil)
	}
	r := s.rows[row-1]
	for len(r) <= col {
		r = append(r, "")
	}
	r[col] = value
	s.rows[row-1] = r
	return nil
}

// Snapshot returns a deep copy of a column's data rows, used by the signal
// layer to capture prior state for rollback.
func (m *Memory) Snapshot(name string, col int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sheets[name]
	if !exists {
		return nil, fmt.Errorf("sheet %q not found", name)
	}

	out := make([]string, 0, len(s.rows))
	for i := 1; i < len(s.rows); i++ {
		row := s.rows[i]
		if col < len(row) {
			out = append(out, row[col])
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

// ReadRows implements Sampler.
func (m *Memory) ReadRows(ctx context.Context, sheet string, start, count int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sheets[sheet]
	if !exists {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	if start < 1 || count <= 0 {
		return nil, fmt.Errorf("invalid read window start=%d count=%d", start, count)
	}

	if start > len(s.rows) {
		return nil, nil
	}
	end := start - 1 + count
	if end > len(s.rows) {
		end = len(s.rows)
	}

	out := make([][]string, 0, end-(start-1))
	for _, row := range s.rows[start-1 : end] {
		out = append(out, append([]string(nil), row...))
	}
	return out, nil
}

// TotalRows implements Sampler.
func (m *Memory) TotalRows(ctx context.Context, sheet string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sheets[sheet]
	if !exists {
		return 0, fmt.Errorf("sheet %q not found", sheet)
	}
	return len(s.rows), nil
}

// ColumnFormulas implements Sampler.
func (m *Memory) ColumnFormulas(ctx context.Context, sheet string, column string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sheets[sheet]
	if !exists {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	formulas, ok := s.formulas[strings.ToUpper(column)]
	if !ok {
		// No formulas recorded: every data row holds a plain value.
		n := len(s.rows) - 1
		if n < 0 {
			n = 0
		}
		return make([]string, n), nil
	}
	return append([]string(nil), formulas...), nil
}

// SheetNames implements Lister.
func (m *Memory) SheetNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ordering...), nil
}

// LoadCSVDir loads every *.csv file in dir as a sheet named after the file
// (without extension). Files load in lexical order so sheet ordering is
// deterministic.
func LoadCSVDir(dir string) (*Memory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workbook directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	m := NewMemory()
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}

		m.SetSheet(strings.TrimSuffix(name, ".csv"), rows)
	}

	return m, nil
}

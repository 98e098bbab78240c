package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/sheetagent/internal/sheet"
)

// RegisterSheetTools registers the built-in write tools backed by an
// in-memory workbook. Production hosts register their own tools against the
// live document instead.
func RegisterSheetTools(r *Registry, wb *sheet.Memory) error {
	builtins := []Tool{
		Func("write_column", writeColumn(wb)),
		Func("fill_column", fillColumn(wb)),
		Func("apply_formula", applyFormula(wb)),
	}

	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// WriteActions reports whether an action name mutates the document. The
// reflection fallback treats a write tool returning empty output as suspect.
func WriteAction(action string) bool {
	switch action {
	case "write_column", "fill_column", "apply_formula":
		return true
	}
	return strings.HasPrefix(action, "write_") || strings.HasPrefix(action, "set_")
}

// writeColumn writes explicit values into a column's data rows.
// Params: sheet, column (letter), values ([]string).
func writeColumn(wb *sheet.Memory) func(ctx context.Context, params map[string]any) (Result, error) {
	return func(ctx context.Context, params map[string]any) (Result, error) {
		name, err := StringParam(params, "sheet")
		if err != nil {
			return Result{}, err
		}
		column, err := StringParam(params, "column")
		if err != nil {
			return Result{}, err
		}
		values, err := StringsParam(params, "values")
		if err != nil {
			return Result{}, err
		}

		col := columnIndex(column)
		if col < 0 {
			return Result{}, fmt.Errorf("invalid column %q", column)
		}

		for i, v := range values {
			if err := wb.SetCell(name, i+2, col, v); err != nil {
				return Result{}, err
			}
		}

		out := fmt.Sprintf("wrote %d values to %s!%s", len(values), name, strings.ToUpper(column))
		return Result{Success: true, Output: out}, nil
	}
}

// fillColumn writes a single value into every data row of a column.
// Params: sheet, column (letter), value, rows (count).
func fillColumn(wb *sheet.Memory) func(ctx context.Context, params map[string]any) (Result, error) {
	return func(ctx context.Context, params map[string]any) (Result, error) {
		name, err := StringParam(params, "sheet")
		if err != nil {
			return Result{}, err
		}
		column, err := StringParam(params, "column")
		if err != nil {
			return Result{}, err
		}
		value, err := StringParam(params, "value")
		if err != nil {
			return Result{}, err
		}
		rows, err := IntParam(params, "rows")
		if err != nil {
			return Result{}, err
		}

		col := columnIndex(column)
		if col < 0 {
			return Result{}, fmt.Errorf("invalid column %q", column)
		}

		for i := 0; i < rows; i++ {
			if err := wb.SetCell(name, i+2, col, value); err != nil {
				return Result{}, err
			}
		}

		out := fmt.Sprintf("filled %s!%s with %q over %d rows", name, strings.ToUpper(column), value, rows)
		return Result{Success: true, Output: out}, nil
	}
}

// applyFormula records a formula for every data row of a column and writes
// the provided computed values. Params: sheet, column, formula, values.
func applyFormula(wb *sheet.Memory) func(ctx context.Context, params map[string]any) (Result, error) {
	return func(ctx context.Context, params map[string]any) (Result, error) {
		name, err := StringParam(params, "sheet")
		if err != nil {
			return Result{}, err
		}
		column, err := StringParam(params, "column")
		if err != nil {
			return Result{}, err
		}
		formula, err := StringParam(params, "formula")
		if err != nil {
			return Result{}, err
		}
		values, err := StringsParam(params, "values")
		if err != nil {
			return Result{}, err
		}

		col := columnIndex(column)
		if col < 0 {
			return Result{}, fmt.Errorf("invalid column %q", column)
		}

		formulas := make([]string, len(values))
		for i, v := range values {
			if err := wb.SetCell(name, i+2, col, v); err != nil {
				return Result{}, err
			}
			formulas[i] = formula
		}
		if len(values) == 0 {
			// No computed values: spread the formula over the existing data
			// rows without touching cell contents. The host recalculates.
			total, err := wb.TotalRows(ctx, name)
			if err != nil {
				return Result{}, err
			}
			if total < 2 {
				return Result{}, fmt.Errorf("sheet %q has no data rows to apply %s to", name, formula)
			}
			formulas = make([]string, total-1)
			for i := range formulas {
				formulas[i] = formula
			}
		}
		if err := wb.SetColumnFormulas(name, column, formulas); err != nil {
			return Result{}, err
		}

		out := fmt.Sprintf("applied %s to %s!%s (%d rows)", formula, name, strings.ToUpper(column), len(formulas))
		return Result{Success: true, Output: out}, nil
	}
}

// columnIndex converts a column letter to a 0-based index, or -1 if invalid.
func columnIndex(column string) int {
	column = strings.ToUpper(strings.TrimSpace(column))
	if column == "" {
		return -1
	}

	index := 0
	for _, r := range column {
		if r < 'A' || r > 'Z' {
			return -1
		}
		index = index*26 + int(r-'A') + 1
	}
	return index - 1
}

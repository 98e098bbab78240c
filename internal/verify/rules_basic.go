package verify

import (
	"context"
	"fmt"
	"strings"
)

// requiredNotEmptyRule flags empty cells in columns whose role marks them
// required.
type requiredNotEmptyRule struct{}

func (requiredNotEmptyRule) ID() string         { return "required_not_empty" }
func (requiredNotEmptyRule) Severity() Severity { return SeverityBlock }
func (requiredNotEmptyRule) RequiresIO() bool   { return false }
func (requiredNotEmptyRule) Roles() []Role      { return nil }

func (r requiredNotEmptyRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	var cells []string
	var columns []string

	for _, col := range rc.Columns {
		if !roleIn(col.Role, rc.Config.RequiredRoles) {
			continue
		}
		for i, row := range rc.Sample.Rows {
			v := ""
			if col.Index < len(row) {
				v = strings.TrimSpace(row[col.Index])
			}
			if v == "" {
				cells = append(cells, rc.Sample.Cell(i, col.Index))
				if !contains(columns, col.Header) {
					columns = append(columns, col.Header)
				}
			}
		}
	}
	if len(cells) == 0 {
		return nil, nil
	}

	ev := baseEvidence(rc.Sample)
	ev.Cells = capCells(cells, rc.Config.MaxEvidenceCells)

	return &Issue{
		RuleID:     r.ID(),
		Severity:   r.Severity(),
		Confidence: confidenceFor(len(rc.Sample.Rows)),
		Message: fmt.Sprintf("%d empty cell(s) in required column(s) %s (e.g. %s)",
			len(cells), strings.Join(columns, ", "), ev.Cells[0]),
		Sheet:    rc.Sheet,
		Column:   strings.Join(columns, ", "),
		Evidence: ev,
		Fix: &FixSuggestion{
			Kind:        "fill_blanks",
			Description: "fill the empty cells or remove the incomplete rows",
		},
	}, nil
}

// typeConsistencyRule flags columns whose role implies a value type but whose
// sampled cells disagree with it.
type typeConsistencyRule struct{}

func (typeConsistencyRule) ID() string         { return "type_consistency" }
func (typeConsistencyRule) Severity() Severity { return SeverityBlock }
func (typeConsistencyRule) RequiresIO() bool   { return false }
func (typeConsistencyRule) Roles() []Role      { return nil }

func (r typeConsistencyRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	for _, col := range rc.Columns {
		want := expectedType[col.Role]
		if want == TypeMixed || want == "" {
			continue
		}

		var cells, values []string
		for i, row := range rc.Sample.Rows {
			if col.Index >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[col.Index])
			if v == "" {
				continue
			}
			ok := false
			switch want {
			case TypeNumber:
				ok = isNumeric(v)
			case TypeDate:
				ok = isDate(v)
			case TypeText:
				ok = true // anything renders as text
			}
			if !ok {
				cells = append(cells, rc.Sample.Cell(i, col.Index))
				values = append(values, v)
			}
		}
		if len(cells) == 0 {
			continue
		}

		ev := baseEvidence(rc.Sample)
		ev.Cells = capCells(cells, rc.Config.MaxEvidenceCells)
		ev.Values = capCells(values, rc.Config.MaxEvidenceCells)
		ev.Expected = string(want)
		ev.Actual = string(col.Type)

		return &Issue{
			RuleID:     r.ID(),
			Severity:   r.Severity(),
			Confidence: confidenceFor(len(rc.Sample.Rows)),
			Message: fmt.Sprintf("column %q should hold %s values but %d sampled cell(s) do not (e.g. %s = %q)",
				col.Header, want, len(cells), ev.Cells[0], ev.Values[0]),
			Sheet:    rc.Sheet,
			Column:   col.Header,
			Evidence: ev,
			Fix: &FixSuggestion{
				Kind:        "retype",
				Description: fmt.Sprintf("convert the offending cells in %q to %s", col.Header, want),
			},
		}, nil
	}
	return nil, nil
}

func roleIn(role Role, set []Role) bool {
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

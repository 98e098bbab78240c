package verify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// constantColumnRule flags a transaction sheet whose unit-price column
// carries one constant hardcoded value across many distinct products. The
// single condition that fires it is the combination: constant price AND
// multiple identifiers AND enough rows. Any leg alone is normal (a
// single-product sheet, a fixed-price catalog). A column backed by formulas
// is exempt even when it currently evaluates to one value: the cells still
// compute, they were not pasted over.
type constantColumnRule struct{}

func (constantColumnRule) ID() string         { return "constant_column" }
func (constantColumnRule) Severity() Severity { return SeverityBlock }
func (constantColumnRule) RequiresIO() bool   { return true }
func (constantColumnRule) Roles() []Role      { return []Role{RoleUnitPrice, RoleIdentifier} }

func (r constantColumnRule) Check(ctx context.Context, rc *Context) (*Issue, error) {
	if rc.Kind != KindTransaction {
		return nil, nil
	}
	price, ok := FindColumn(rc.Columns, RoleUnitPrice)
	if !ok {
		return nil, nil
	}
	ident, ok := FindColumn(rc.Columns, RoleIdentifier)
	if !ok {
		return nil, nil
	}

	prices := distinctValues(rc.Sample, price.Index)
	idents := distinctValues(rc.Sample, ident.Index)

	// All three conditions together, never any one alone.
	if len(rc.Sample.Rows) < 10 || len(prices) != 1 || len(idents) < 3 {
		return nil, nil
	}

	if rc.Sampler != nil {
		formulas, err := rc.Sampler.ColumnFormulas(ctx, rc.Sheet, price.Letter)
		if err != nil {
			return nil, fmt.Errorf("reading formulas of %s!%s: %w", rc.Sheet, price.Letter, err)
		}
		for _, f := range formulas {
			if f != "" {
				return nil, nil
			}
		}
	}

	ev := baseEvidence(rc.Sample)
	ev.DistinctCategories = len(idents)
	ev.Actual = prices[0]

	formula := fmt.Sprintf("=VLOOKUP(%s2,PriceMaster!A:B,2,FALSE)", ident.Letter)

	return &Issue{
		RuleID:     r.ID(),
		Severity:   r.Severity(),
		Confidence: confidenceWithCategories(len(rc.Sample.Rows), len(idents)),
		Message: fmt.Sprintf("column %q holds the constant value %q across %d distinct %q values in %d sampled rows; per-item prices were likely overwritten",
			price.Header, prices[0], len(idents), ident.Header, len(rc.Sample.Rows)),
		Sheet:    rc.Sheet,
		Column:   price.Header,
		Range:    fmt.Sprintf("%s2:%s%d", price.Letter, price.Letter, rc.Sample.TotalRows),
		Evidence: ev,
		Fix: &FixSuggestion{
			Kind:        "lookup_formula",
			Formula:     formula,
			Description: fmt.Sprintf("restore per-item prices in %q with a lookup against the price master", price.Header),
		},
	}, nil
}

// summaryDistributionRule flags a summary sheet whose aggregate column is
// identical across categories, which usually means the same formula or value
// was pasted down instead of aggregating per category.
type summaryDistributionRule struct{}

func (summaryDistributionRule) ID() string         { return "summary_distribution" }
func (summaryDistributionRule) Severity() Severity { return SeverityWarn }
func (summaryDistributionRule) RequiresIO() bool   { return false }
func (summaryDistributionRule) Roles() []Role      { return []Role{RoleCategory, RoleAmount} }

func (r summaryDistributionRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	if rc.Kind != KindSummary {
		return nil, nil
	}
	cat, ok := FindColumn(rc.Columns, RoleCategory)
	if !ok {
		return nil, nil
	}
	amt, ok := FindColumn(rc.Columns, RoleAmount)
	if !ok {
		return nil, nil
	}

	amounts := distinctValues(rc.Sample, amt.Index)
	cats := distinctValues(rc.Sample, cat.Index)
	if len(cats) < 3 || len(amounts) != 1 {
		return nil, nil
	}

	ev := baseEvidence(rc.Sample)
	ev.DistinctCategories = len(cats)
	ev.Actual = amounts[0]

	return &Issue{
		RuleID:     r.ID(),
		Severity:   r.Severity(),
		Confidence: confidenceWithCategories(len(rc.Sample.Rows), len(cats)),
		Message: fmt.Sprintf("summary column %q shows the same value %q for all %d %q categories; the aggregation may not vary its input range",
			amt.Header, amounts[0], len(cats), cat.Header),
		Sheet:    rc.Sheet,
		Column:   amt.Header,
		Evidence: ev,
	}, nil
}

// iqrOutlierRule flags numeric columns where a substantial share of sampled
// values sits outside the Tukey fences, or where even a single value lies
// extremely far outside them. A lone mild outlier is left alone; a tenth of
// the sample out of range, or any value an order of magnitude past the
// fences, suggests a systematic error such as a unit mixup or a misplaced
// decimal point.
type iqrOutlierRule struct{}

func (iqrOutlierRule) ID() string         { return "distribution_anomaly" }
func (iqrOutlierRule) Severity() Severity { return SeverityWarn }
func (iqrOutlierRule) RequiresIO() bool   { return false }
func (iqrOutlierRule) Roles() []Role      { return nil }

func (r iqrOutlierRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	for _, col := range rc.Columns {
		if expectedType[col.Role] != TypeNumber && col.Type != TypeNumber {
			continue
		}

		var nums []float64
		var rows []int
		for i, row := range rc.Sample.Rows {
			if col.Index >= len(row) {
				continue
			}
			if n, ok := parseNumber(row[col.Index]); ok {
				nums = append(nums, n)
				rows = append(rows, i)
			}
		}
		if len(nums) < rc.Config.MinNumericSamples {
			continue
		}

		q1, q3 := quartiles(nums)
		iqr := q3 - q1
		if iqr == 0 {
			// Constant or near-constant column; the constant-column rule
			// owns that shape.
			continue
		}
		lo := q1 - rc.Config.IQRMultiplier*iqr
		hi := q3 + rc.Config.IQRMultiplier*iqr
		extremeLo := q1 - rc.Config.ExtremeMultiplier*iqr
		extremeHi := q3 + rc.Config.ExtremeMultiplier*iqr

		var cells, values []string
		extreme := false
		for i, n := range nums {
			if n < lo || n > hi {
				cells = append(cells, rc.Sample.Cell(rows[i], col.Index))
				values = append(values, strings.TrimSpace(rc.Sample.Rows[rows[i]][col.Index]))
				if n < extremeLo || n > extremeHi {
					extreme = true
				}
			}
		}
		if !extreme && float64(len(cells)) <= rc.Config.OutlierMinFraction*float64(len(nums)) {
			continue
		}

		ev := baseEvidence(rc.Sample)
		ev.Cells = capCells(cells, rc.Config.MaxEvidenceCells)
		ev.Values = capCells(values, rc.Config.MaxEvidenceCells)
		ev.Expected = fmt.Sprintf("[%.2f, %.2f]", lo, hi)

		return &Issue{
			RuleID:     r.ID(),
			Severity:   r.Severity(),
			Confidence: confidenceFor(len(nums)),
			Message: fmt.Sprintf("column %q has %d of %d sampled values outside the expected range %s (e.g. %s = %s)",
				col.Header, len(cells), len(nums), ev.Expected, ev.Cells[0], ev.Values[0]),
			Sheet:    rc.Sheet,
			Column:   col.Header,
			Evidence: ev,
		}, nil
	}
	return nil, nil
}

func distinctValues(sample *SampleSet, col int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, row := range sample.Rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// quartiles computes Q1 and Q3 by linear interpolation over the sorted data.
func quartiles(values []float64) (q1, q3 float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

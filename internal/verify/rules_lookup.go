package verify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/sheetagent/internal/sheet"
)

// scanBatch is the page size for full-column scans.
const scanBatch = 500

// uniqueIdentifierRule scans the entire identifier column for duplicates.
// Uniqueness cannot be established from a sample, so this rule always reads
// the full sheet and its findings are always high confidence.
type uniqueIdentifierRule struct{}

func (uniqueIdentifierRule) ID() string         { return "unique_identifier" }
func (uniqueIdentifierRule) Severity() Severity { return SeverityBlock }
func (uniqueIdentifierRule) RequiresIO() bool   { return true }
func (uniqueIdentifierRule) Roles() []Role      { return []Role{RoleIdentifier} }

func (r uniqueIdentifierRule) Check(ctx context.Context, rc *Context) (*Issue, error) {
	// Only master tables promise unique keys; transaction sheets repeat them.
	if rc.Kind != KindMaster {
		return nil, nil
	}
	ident, ok := FindColumn(rc.Columns, RoleIdentifier)
	if !ok {
		return nil, nil
	}

	seen := map[string]int{} // value -> first 1-based row
	var cells, values []string

	for start := 2; start <= rc.Sample.TotalRows; start += scanBatch {
		rows, err := rc.Sampler.ReadRows(ctx, rc.Sheet, start, scanBatch)
		if err != nil {
			return nil, fmt.Errorf("scanning %q for duplicate keys: %w", rc.Sheet, err)
		}
		for i, row := range rows {
			if ident.Index >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[ident.Index])
			if v == "" {
				continue
			}
			rowNum := start + i
			if first, dup := seen[v]; dup {
				cells = append(cells, sheet.CellRef(ident.Index, rowNum))
				values = append(values, fmt.Sprintf("%s (first at row %d)", v, first))
			} else {
				seen[v] = rowNum
			}
		}
	}
	if len(cells) == 0 {
		return nil, nil
	}

	ev := baseEvidence(rc.Sample)
	ev.SampleSize = rc.Sample.DataRows() // full scan, not the shared sample
	ev.Cells = capCells(cells, rc.Config.MaxEvidenceCells)
	ev.Values = capCells(values, rc.Config.MaxEvidenceCells)

	return &Issue{
		RuleID:     r.ID(),
		Severity:   r.Severity(),
		Confidence: ConfidenceHigh,
		Message: fmt.Sprintf("identifier column %q has %d duplicate value(s) (e.g. %s at %s)",
			ident.Header, len(cells), ev.Values[0], ev.Cells[0]),
		Sheet:    rc.Sheet,
		Column:   ident.Header,
		Evidence: ev,
		Fix: &FixSuggestion{
			Kind:        "deduplicate",
			Description: fmt.Sprintf("remove or renumber the duplicate keys in %q", ident.Header),
		},
	}, nil
}

// lookupConsistencyRule cross-checks sampled unit prices against the master
// table, locating the master sheet by name and matching rows by identifier.
type lookupConsistencyRule struct{}

func (lookupConsistencyRule) ID() string         { return "lookup_consistency" }
func (lookupConsistencyRule) Severity() Severity { return SeverityBlock }
func (lookupConsistencyRule) RequiresIO() bool   { return true }
func (lookupConsistencyRule) Roles() []Role      { return []Role{RoleIdentifier, RoleUnitPrice} }

func (r lookupConsistencyRule) Check(ctx context.Context, rc *Context) (*Issue, error) {
	if rc.Kind != KindTransaction || rc.Lister == nil {
		return nil, nil
	}
	ident, ok := FindColumn(rc.Columns, RoleIdentifier)
	if !ok {
		return nil, nil
	}
	price, ok := FindColumn(rc.Columns, RoleUnitPrice)
	if !ok {
		return nil, nil
	}

	master, prices, err := loadMasterPrices(ctx, rc)
	if err != nil {
		return nil, err
	}
	if master == "" || len(prices) == 0 {
		return nil, nil
	}

	var cells, values []string
	checked := 0
	for i, row := range rc.Sample.Rows {
		if ident.Index >= len(row) || price.Index >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[ident.Index])
		want, known := prices[key]
		if !known {
			continue
		}
		got, ok := parseNumber(row[price.Index])
		if !ok {
			continue
		}
		checked++
		if math.Abs(got-want) > rc.Config.LookupTolerance {
			cells = append(cells, rc.Sample.Cell(i, price.Index))
			values = append(values, fmt.Sprintf("%s: got %v, master says %v", key, got, want))
		}
	}
	if len(cells) == 0 {
		return nil, nil
	}

	ev := baseEvidence(rc.Sample)
	ev.Cells = capCells(cells, rc.Config.MaxEvidenceCells)
	ev.Values = capCells(values, rc.Config.MaxEvidenceCells)
	ev.Expected = fmt.Sprintf("prices from %q", master)

	return &Issue{
		RuleID:     r.ID(),
		Severity:   r.Severity(),
		Confidence: confidenceFor(checked),
		Message: fmt.Sprintf("%d of %d sampled prices in %q disagree with %q beyond tolerance %.2g (e.g. %s)",
			len(cells), checked, price.Header, master, rc.Config.LookupTolerance, ev.Values[0]),
		Sheet:    rc.Sheet,
		Column:   price.Header,
		Range:    fmt.Sprintf("%s2:%s%d", price.Letter, price.Letter, rc.Sample.TotalRows),
		Evidence: ev,
		Fix: &FixSuggestion{
			Kind:        "lookup_formula",
			Formula:     fmt.Sprintf("=VLOOKUP(%s2,'%s'!A:B,2,FALSE)", ident.Letter, master),
			Description: fmt.Sprintf("replace the hardcoded prices in %q with a lookup against %q", price.Header, master),
		},
	}, nil
}

// loadMasterPrices finds the first master-kind sheet and reads its
// identifier-to-price map.
func loadMasterPrices(ctx context.Context, rc *Context) (string, map[string]float64, error) {
	names, err := rc.Lister.SheetNames(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("listing sheets: %w", err)
	}

	for _, name := range names {
		if name == rc.Sheet || DetectKind(name) != KindMaster {
			continue
		}

		headerRows, err := rc.Sampler.ReadRows(ctx, name, 1, 1)
		if err != nil || len(headerRows) == 0 {
			continue
		}
		identIdx, priceIdx := -1, -1
		for i, h := range headerRows[0] {
			switch matchRole(h) {
			case RoleIdentifier:
				if identIdx < 0 {
					identIdx = i
				}
			case RoleUnitPrice:
				if priceIdx < 0 {
					priceIdx = i
				}
			}
		}
		if identIdx < 0 || priceIdx < 0 {
			continue
		}

		total, err := rc.Sampler.TotalRows(ctx, name)
		if err != nil {
			return "", nil, fmt.Errorf("reading row count of master %q: %w", name, err)
		}

		prices := map[string]float64{}
		for start := 2; start <= total; start += scanBatch {
			rows, err := rc.Sampler.ReadRows(ctx, name, start, scanBatch)
			if err != nil {
				return "", nil, fmt.Errorf("reading master %q: %w", name, err)
			}
			for _, row := range rows {
				if identIdx >= len(row) || priceIdx >= len(row) {
					continue
				}
				key := strings.TrimSpace(row[identIdx])
				if key == "" {
					continue
				}
				if n, ok := parseNumber(row[priceIdx]); ok {
					prices[key] = n
				}
			}
		}
		return name, prices, nil
	}
	return "", nil, nil
}

package verify

import (
	"context"
	"strings"

	"github.com/aristath/sheetagent/internal/sheet"
)

// SheetKind distinguishes the table shapes rules care about.
type SheetKind string

const (
	KindMaster      SheetKind = "master"      // reference tables keyed by identifier
	KindTransaction SheetKind = "transaction" // one row per event
	KindSummary     SheetKind = "summary"     // aggregates per category
	KindUnknown     SheetKind = "unknown"
)

// DetectKind guesses a sheet's kind from its name. English and Japanese
// naming conventions are both recognized.
func DetectKind(name string) SheetKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "master") || strings.Contains(n, "マスタ") || strings.Contains(n, "reference"):
		return KindMaster
	case strings.Contains(n, "summary") || strings.Contains(n, "集計") || strings.Contains(n, "report") || strings.Contains(n, "pivot"):
		return KindSummary
	case strings.Contains(n, "transaction") || strings.Contains(n, "sales") || strings.Contains(n, "orders") ||
		strings.Contains(n, "明細") || strings.Contains(n, "取引") || strings.Contains(n, "売上"):
		return KindTransaction
	}
	return KindUnknown
}

// RulesConfig tunes rule thresholds.
type RulesConfig struct {
	RequiredRoles      []Role  // roles whose columns must have no empty cells
	LookupTolerance    float64 // numeric tolerance for lookup comparison
	IQRMultiplier      float64 // fence width, 1.5 by convention
	OutlierMinFraction float64 // minimum outlier share before flagging
	ExtremeMultiplier  float64 // values past this many IQRs flag regardless of share
	MinNumericSamples  int     // minimum numeric values for the IQR rule
	MaxEvidenceCells   int     // cap on example cells carried as evidence
}

// DefaultRulesConfig returns the standard thresholds.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		RequiredRoles:      []Role{RoleIdentifier, RoleQuantity, RoleUnitPrice},
		LookupTolerance:    0.01,
		IQRMultiplier:      1.5,
		OutlierMinFraction: 0.10,
		ExtremeMultiplier:  10,
		MinNumericSamples:  5,
		MaxEvidenceCells:   5,
	}
}

// Context is the shared input every rule checks against: one sample, one
// set of column profiles, one sheet. IO-requiring rules additionally read
// through Sampler.
type Context struct {
	Sheet   string
	Kind    SheetKind
	Sample  *SampleSet
	Columns []ColumnProfile
	Sampler sheet.Sampler
	Lister  sheet.Lister // optional; enables cross-sheet lookups
	Config  RulesConfig
}

// Rule detects one class of problem. Check returns at most one issue;
// returning (nil, nil) means no finding. Rules with RequiresIO true perform
// reads beyond the shared sample and are executed strictly serially.
type Rule interface {
	ID() string
	Severity() Severity
	RequiresIO() bool
	Roles() []Role // column roles that must be present for the rule to apply
	Check(ctx context.Context, rc *Context) (*Issue, error)
}

// DefaultRules returns the standard rule set in registration order.
func DefaultRules() []Rule {
	return []Rule{
		requiredNotEmptyRule{},
		typeConsistencyRule{},
		constantColumnRule{},
		summaryDistributionRule{},
		iqrOutlierRule{},
		uniqueIdentifierRule{},
		lookupConsistencyRule{},
	}
}

// baseEvidence seeds an Evidence with the sample composition.
func baseEvidence(s *SampleSet) Evidence {
	return Evidence{
		SampleSize: len(s.Rows),
		TotalRows:  s.TotalRows,
		HeadRows:   s.HeadCount,
		TailRows:   s.TailCount,
		RandomRows: s.RandomCount,
	}
}

func capCells(cells []string, limit int) []string {
	if limit > 0 && len(cells) > limit {
		return cells[:limit]
	}
	return cells
}

package verify

// Severity classifies how a finding should gate execution.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// Confidence qualifies a finding, scaling with sample size and corroborating
// evidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Evidence carries the structured facts behind a finding, so downstream
// consumers can render it without re-deriving anything.
type Evidence struct {
	SampleSize         int      `json:"sample_size"`
	TotalRows          int      `json:"total_rows"`
	HeadRows           int      `json:"head_rows"`
	TailRows           int      `json:"tail_rows"`
	RandomRows         int      `json:"random_rows"`
	DistinctCategories int      `json:"distinct_categories,omitempty"`
	Cells              []string `json:"cells,omitempty"`  // example offending cell addresses
	Values             []string `json:"values,omitempty"` // example offending values
	Expected           string   `json:"expected,omitempty"`
	Actual             string   `json:"actual,omitempty"`
}

// FixSuggestion is an optional structured remedy attached to an issue.
type FixSuggestion struct {
	Kind        string `json:"kind"` // "lookup_formula", "deduplicate", "retype", "fill_blanks"
	Formula     string `json:"formula,omitempty"`
	Description string `json:"description"`
}

// Issue is a single rule finding. Immutable once produced, except that the
// second-pass confirmation may downgrade Severity and attach a Note.
type Issue struct {
	RuleID     string         `json:"rule_id"`
	Severity   Severity       `json:"severity"`
	Confidence Confidence     `json:"confidence"`
	Message    string         `json:"message"`
	Sheet      string         `json:"sheet"`
	Column     string         `json:"column,omitempty"` // header text of the affected column
	Range      string         `json:"range,omitempty"`  // A1 range of the affected region
	Evidence   Evidence       `json:"evidence"`
	Fix        *FixSuggestion `json:"fix,omitempty"`
	Note       string         `json:"note,omitempty"` // populated on second-pass downgrade
}

// confidenceFor grades a finding by sample size alone.
func confidenceFor(sampleSize int) Confidence {
	switch {
	case sampleSize >= 30:
		return ConfidenceHigh
	case sampleSize >= 10:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// confidenceWithCategories grades a cross-category finding: both a large
// sample and enough distinct category values are needed for high confidence.
func confidenceWithCategories(sampleSize, distinct int) Confidence {
	base := confidenceFor(sampleSize)
	if base == ConfidenceHigh && distinct < 3 {
		return ConfidenceMedium
	}
	if base == ConfidenceMedium && distinct < 2 {
		return ConfidenceLow
	}
	return base
}

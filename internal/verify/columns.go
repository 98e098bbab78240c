package verify

import (
	"strconv"
	"strings"
	"time"

	"github.com/aristath/sheetagent/internal/sheet"
)

// Role is the semantic role inferred for a column from its header.
type Role string

const (
	RoleIdentifier Role = "identifier"
	RoleName       Role = "name"
	RoleQuantity   Role = "quantity"
	RoleUnitPrice  Role = "unit_price"
	RoleAmount     Role = "amount"
	RoleCategory   Role = "category"
	RoleDate       Role = "date"
	RoleUnknown    Role = "unknown"
)

// ValueType is the value type inferred from sampled cells.
type ValueType string

const (
	TypeNumber ValueType = "number"
	TypeText   ValueType = "text"
	TypeDate   ValueType = "date"
	TypeEmpty  ValueType = "empty"
	TypeMixed  ValueType = "mixed"
)

// ColumnProfile is one column's inferred role and type, scoped to a single
// verification call.
type ColumnProfile struct {
	Index      int
	Header     string
	Letter     string
	Role       Role
	Type       ValueType
	Confidence Confidence
}

// rolePattern matches headers case-insensitively. Short tokens only match
// whole words; longer patterns match as substrings. English and Japanese
// synonyms share a role.
type rolePattern struct {
	role     Role
	patterns []string
}

// Ordered by specificity: unit_price before amount so "unit price" does not
// fall through to the amount role via "price total" style headers.
var rolePatterns = []rolePattern{
	{RoleUnitPrice, []string{"unit price", "unit_price", "unitprice", "price", "単価"}},
	{RoleAmount, []string{"amount", "total", "subtotal", "cost", "revenue", "sales", "金額", "合計", "売上"}},
	{RoleQuantity, []string{"quantity", "qty", "count", "units", "数量", "個数"}},
	{RoleIdentifier, []string{"id", "code", "sku", "key", "コード", "番号"}},
	{RoleCategory, []string{"category", "type", "group", "segment", "region", "区分", "分類", "カテゴリ", "地域"}},
	{RoleDate, []string{"date", "day", "month", "日付", "年月日", "日時"}},
	{RoleName, []string{"name", "product", "item", "title", "品名", "商品", "氏名", "名前"}},
}

// expectedType is the value type a role implies; roles without a strong
// expectation map to TypeMixed.
var expectedType = map[Role]ValueType{
	RoleQuantity:   TypeNumber,
	RoleUnitPrice:  TypeNumber,
	RoleAmount:     TypeNumber,
	RoleCategory:   TypeText,
	RoleName:       TypeText,
	RoleDate:       TypeDate,
	RoleIdentifier: TypeMixed,
	RoleUnknown:    TypeMixed,
}

// InferColumns derives a profile per column from the header text and the
// sampled values. A role whose expected type disagrees with the observed
// type keeps the role but drops to medium confidence.
func InferColumns(sample *SampleSet) []ColumnProfile {
	profiles := make([]ColumnProfile, 0, len(sample.Header))

	for i, header := range sample.Header {
		role := matchRole(header)
		observed := inferType(columnValues(sample, i))

		confidence := ConfidenceHigh
		if role == RoleUnknown {
			confidence = ConfidenceLow
		} else if want := expectedType[role]; want != TypeMixed && observed != TypeEmpty && observed != want {
			// Header says one thing, values another: keep the role,
			// downgrade instead of discarding.
			confidence = ConfidenceMedium
		}

		profiles = append(profiles, ColumnProfile{
			Index:      i,
			Header:     header,
			Letter:     sheet.ColumnLetter(i),
			Role:       role,
			Type:       observed,
			Confidence: confidence,
		})
	}

	return profiles
}

// FindColumn returns the first profile with the given role, if any.
func FindColumn(profiles []ColumnProfile, role Role) (ColumnProfile, bool) {
	for _, p := range profiles {
		if p.Role == role {
			return p, true
		}
	}
	return ColumnProfile{}, false
}

// HasRoles reports whether every role in want is present in the profiles.
func HasRoles(profiles []ColumnProfile, want []Role) bool {
	for _, role := range want {
		if _, ok := FindColumn(profiles, role); !ok {
			return false
		}
	}
	return true
}

func matchRole(header string) Role {
	h := strings.ToLower(strings.TrimSpace(header))
	if h == "" {
		return RoleUnknown
	}

	tokens := strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '/' || r == '.'
	})

	for _, rp := range rolePatterns {
		for _, pattern := range rp.patterns {
			if len([]rune(pattern)) <= 3 && isASCII(pattern) {
				// Short English tokens only match whole words, so "id"
				// does not light up "paid". Japanese headers have no word
				// separators, so those stay substring matches.
				for _, tok := range tokens {
					if tok == pattern {
						return rp.role
					}
				}
				continue
			}
			if strings.Contains(h, pattern) {
				return rp.role
			}
		}
	}
	return RoleUnknown
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

func columnValues(sample *SampleSet, col int) []string {
	values := make([]string, 0, len(sample.Rows))
	for _, row := range sample.Rows {
		if col < len(row) {
			values = append(values, row[col])
		} else {
			values = append(values, "")
		}
	}
	return values
}

// inferType classifies a column's sampled values: a clear 80% majority of
// one kind wins, otherwise the column is mixed.
func inferType(values []string) ValueType {
	var numbers, dates, texts, nonEmpty int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++
		switch {
		case isNumeric(v):
			numbers++
		case isDate(v):
			dates++
		default:
			texts++
		}
	}

	if nonEmpty == 0 {
		return TypeEmpty
	}

	threshold := (nonEmpty*8 + 9) / 10 // ceil(0.8 * nonEmpty)
	switch {
	case numbers >= threshold:
		return TypeNumber
	case dates >= threshold:
		return TypeDate
	case texts >= threshold:
		return TypeText
	}
	return TypeMixed
}

// parseNumber parses a cell as a number, tolerating thousands separators,
// currency markers and percent signs.
func parseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}

	cleaned := strings.NewReplacer(",", "", "¥", "", "$", "", "€", "", "%", "", "円", "").Replace(v)
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isNumeric(v string) bool {
	_, ok := parseNumber(v)
	return ok
}

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "01/02/2006", "2006-01-02 15:04:05", "2006年01月02日", "2006年1月2日",
}

func isDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

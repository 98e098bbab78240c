package sheet

import (
	"fmt"
)

// ColumnLetter converts a 0-based column index to its letter form
// (0 -> "A", 25 -> "Z", 26 -> "AA").
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}

	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}

// CellRef formats a 0-based column index and a 1-based row number as an A1
// reference ("B12").
func CellRef(colIndex, row int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(colIndex), row)
}

// RangeRef formats a rectangular range in A1 notation ("A2:C30").
func RangeRef(startCol, startRow, endCol, endRow int) string {
	return fmt.Sprintf("%s:%s", CellRef(startCol, startRow), CellRef(endCol, endRow))
}

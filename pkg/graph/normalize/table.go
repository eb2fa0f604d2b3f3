package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"
)

// TableData is a column oriented view of a table. Rows are keyed by column
// name; cells missing from a source row map to "".
type TableData struct {
	Columns     []string            `json:"columns"`
	Rows        []map[string]string `json:"rows"`
	RowCount    int                 `json:"rowCount"`
	ColumnCount int                 `json:"columnCount"`
}

var headerKeywords = mapset.NewSet(
	"name", "id", "date", "amount", "total", "category", "type", "description",
	"quantity", "qty", "price", "value", "year", "month", "count", "status",
	"item", "title", "number", "no", "code", "unit", "rate", "region",
)

var (
	wideSpace    = regexp.MustCompile(`\t|\s{2,}`)
	separatorRow = regexp.MustCompile(`^[\s:|+-]+$`)
)

// EmptyTable returns the explicit empty result used for malformed input.
func EmptyTable() TableData {
	return TableData{
		Columns: []string{},
		Rows:    []map[string]string{},
	}
}

// Table parses free-form tabular text. It is a best-effort heuristic, not a
// table parser: each line picks pipe, comma (two or more) or wide-whitespace
// splitting on its own, and the header row is guessed from the first two rows.
func Table(text string) TableData {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if cells := splitCells(line); len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return TableFromRows(rows)
}

// TableFromRows applies header detection and padding to rows that are
// already split into cells (spreadsheets, DOCX tables, OCR cell grids).
func TableFromRows(rows [][]string) TableData {
	trimmed := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		nonEmpty := false
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
			if cells[i] != "" {
				nonEmpty = true
			}
		}
		if nonEmpty {
			trimmed = append(trimmed, cells)
		}
	}
	if len(trimmed) == 0 {
		return EmptyTable()
	}

	maxCols := 0
	for _, row := range trimmed {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}

	var columns []string
	data := trimmed
	if len(trimmed) >= 2 && looksLikeHeader(trimmed[0], trimmed[1]) {
		columns = headerColumns(trimmed[0], maxCols)
		data = trimmed[1:]
	} else {
		columns = genericColumns(maxCols)
	}

	out := TableData{
		Columns:     columns,
		Rows:        make([]map[string]string, 0, len(data)),
		RowCount:    len(data),
		ColumnCount: maxCols,
	}
	for _, row := range data {
		record := make(map[string]string, maxCols)
		for i, col := range columns {
			if i < len(row) {
				record[col] = row[i]
			} else {
				record[col] = ""
			}
		}
		out.Rows = append(out.Rows, record)
	}
	return out
}

func splitCells(line string) []string {
	var cells []string
	switch {
	case strings.Contains(line, "|"):
		if separatorRow.MatchString(line) {
			return nil
		}
		cells = strings.Split(line, "|")
		if len(cells) > 0 && strings.TrimSpace(cells[0]) == "" {
			cells = cells[1:]
		}
		if len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
	case strings.Count(line, ",") >= 2:
		cells = strings.Split(line, ",")
	default:
		cells = wideSpace.Split(strings.TrimSpace(line), -1)
	}

	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func looksLikeHeader(first, second []string) bool {
	if numericCells(first) < numericCells(second) {
		return true
	}
	for _, cell := range first {
		for _, word := range strings.Fields(strings.ToLower(cell)) {
			if headerKeywords.Contains(strings.Trim(word, ".:#()")) {
				return true
			}
		}
	}
	return len(first) < len(second)
}

func numericCells(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.IndexFunc(cell, unicode.IsDigit) >= 0 {
			n++
		}
	}
	return n
}

func headerColumns(header []string, width int) []string {
	seen := make(map[string]int, width)
	columns := make([]string, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(header) {
			name = header[i]
		}
		if name == "" {
			name = fmt.Sprintf("Column_%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		columns[i] = name
	}
	return columns
}

func genericColumns(width int) []string {
	columns := make([]string, width)
	for i := range columns {
		columns[i] = fmt.Sprintf("Column_%d", i+1)
	}
	return columns
}

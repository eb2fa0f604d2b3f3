package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello world", "hello world"},
		{"typographic", "a\u00a0b – c — “q” ‘s’", `a b - c - "q" 's'`},
		{"control chars", "ab\x00c\x07d\u200be", "abcde"},
		{"keeps tabs", "a\tb", "a\tb"},
		{"drops blank lines", "one\n\n   \ntwo  \n", "one\ntwo"},
		{"crlf", "one\r\ntwo\r\n", "one\ntwo"},
		{"bullets", "● first\n  - second\n* third", "• first\n  • second\n• third"},
		{"numbering", "1) one\n(2) two\n  3. three", "1. one\n2. two\n  3. three"},
		{"letters", "a) alpha\n(b) beta", "a. alpha\nb. beta"},
		{"dash without space is not a bullet", "-5 degrees", "-5 degrees"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestCleanText_Decomposes(t *testing.T) {
	out := CleanText("café")
	assert.Equal(t, "café", out)
}

func TestCleanText_Idempotent(t *testing.T) {
	in := "  • Revenue – Q1\n\n2) growth rate"
	once := CleanText(in)
	assert.Equal(t, once, CleanText(once))
}

func TestTable_WhitespaceHeader(t *testing.T) {
	got := Table("Name  Age\nAlice  30\nBob  25")

	assert.Equal(t, []string{"Name", "Age"}, got.Columns)
	assert.Equal(t, []map[string]string{
		{"Name": "Alice", "Age": "30"},
		{"Name": "Bob", "Age": "25"},
	}, got.Rows)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, 2, got.ColumnCount)
}

func TestTable_PipeMarkdown(t *testing.T) {
	got := Table("| Item | Price |\n|---|---|\n| Tea | 3 |\n| Cake |")

	require.Equal(t, []string{"Item", "Price"}, got.Columns)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "3", got.Rows[0]["Price"])
	assert.Equal(t, "", got.Rows[1]["Price"])
}

func TestTable_CommaDelimited(t *testing.T) {
	got := Table("region,total,year\nnorth,10,2023\nsouth,12,2023")

	assert.Equal(t, []string{"region", "total", "year"}, got.Columns)
	assert.Equal(t, "south", got.Rows[1]["region"])
}

func TestTable_GenericHeaders(t *testing.T) {
	got := Table("10  20\n30  40")

	assert.Equal(t, []string{"Column_1", "Column_2"}, got.Columns)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, "10", got.Rows[0]["Column_1"])
}

func TestTable_ShorterFirstRowIsHeader(t *testing.T) {
	got := Table("alpha  beta\nx  y  z")

	assert.Equal(t, []string{"alpha", "beta", "Column_3"}, got.Columns)
	assert.Equal(t, map[string]string{"alpha": "x", "beta": "y", "Column_3": "z"}, got.Rows[0])
}

func TestTable_SingleRow(t *testing.T) {
	got := Table("just  one  row")

	assert.Equal(t, []string{"Column_1", "Column_2", "Column_3"}, got.Columns)
	assert.Equal(t, 1, got.RowCount)
}

func TestTable_Empty(t *testing.T) {
	for _, in := range []string{"", "\n\n  \n", "|---|---|"} {
		got := Table(in)
		assert.Equal(t, EmptyTable(), got, "input %q", in)
		assert.NotNil(t, got.Columns)
		assert.NotNil(t, got.Rows)
	}
}

func TestTableFromRows_DuplicateHeaders(t *testing.T) {
	got := TableFromRows([][]string{{"name", "name", ""}, {"a", "b", "c"}})

	assert.Equal(t, []string{"name", "name_2", "Column_3"}, got.Columns)
	assert.Equal(t, "b", got.Rows[0]["name_2"])
}

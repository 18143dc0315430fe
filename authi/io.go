package authi

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// InputRecord is one clinical note read from an input file. ID and Encounter
// are carried through to reports; only Note is analysed.
type InputRecord struct {
	ID        string `json:"id,omitempty"`
	Encounter string `json:"encounter,omitempty"`
	Note      string `json:"note"`
}

// InputParseOptions names input columns by header or by 1-based #N.
type InputParseOptions struct {
	IDColumn        string
	EncounterColumn string
	NoteColumn      string
}

// ParseConditionFile reads the chronic conditions table from a CSV or TSV file.
// Columns are detected from the header unless cols names them explicitly.
// Rows without a condition name or ICD description are skipped.
func ParseConditionFile(path string, cols ConditionColumns) ([]ConditionRow, error) {
	t, err := readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(t.rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoConditions, t.name)
	}
	candidates := getColumnCandidates()
	condition, err := t.column(cols.Condition, candidates.Condition)
	if err != nil {
		return nil, err
	}
	code, err := t.column(cols.ICDCode, candidates.ICDCode)
	if err != nil {
		return nil, err
	}
	description, err := t.column(cols.Description, candidates.Description)
	if err != nil {
		return nil, err
	}
	if condition.index < 0 {
		return nil, fmt.Errorf("no condition column found in %s", t.name)
	}
	if description.index < 0 {
		return nil, fmt.Errorf("no ICD description column found in %s", t.name)
	}

	var out []ConditionRow
	for _, row := range t.body(condition, code, description) {
		rec := ConditionRow{
			Condition:      condition.cell(row),
			ICDCode:        code.cell(row),
			ICDDescription: description.cell(row),
		}
		if rec.Condition == "" || rec.ICDDescription == "" {
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoConditions, t.name)
	}
	return out, nil
}

// ParseInputRecords reads clinical notes with auto-detected columns.
func ParseInputRecords(path string) ([]InputRecord, error) {
	return ParseInputRecordsWithOptions(path, InputParseOptions{})
}

// ParseInputRecordsWithOptions reads clinical notes from a CSV/TSV file, or from
// a text file where notes are separated by blank lines.
func ParseInputRecordsWithOptions(path string, opts InputParseOptions) ([]InputRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return parseNoteTable(path, opts)
	default:
		return parseNoteText(path)
	}
}

func parseNoteTable(path string, opts InputParseOptions) ([]InputRecord, error) {
	t, err := readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(t.rows) == 0 {
		return nil, fmt.Errorf("%s is empty", t.name)
	}
	candidates := getColumnCandidates()
	note, err := t.column(opts.NoteColumn, candidates.Note)
	if err != nil {
		return nil, err
	}
	id, err := t.column(opts.IDColumn, candidates.ID)
	if err != nil {
		return nil, err
	}
	encounter, err := t.column(opts.EncounterColumn, candidates.Encounter)
	if err != nil {
		return nil, err
	}
	if note.index < 0 {
		if id.named || encounter.named {
			return nil, fmt.Errorf("no note column found in %s", t.name)
		}
		// Headerless: every row is a note in the first column.
		note.index = 0
	}

	var out []InputRecord
	for _, row := range t.body(note, id, encounter) {
		text := note.cell(row)
		if text == "" {
			continue
		}
		out = append(out, InputRecord{ID: id.cell(row), Encounter: encounter.cell(row), Note: text})
	}
	return out, nil
}

// parseNoteText joins consecutive non-empty lines into one note.
func parseNoteText(path string) ([]InputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var (
		out   []InputRecord
		lines []string
	)
	flush := func() {
		if len(lines) > 0 {
			out = append(out, InputRecord{Note: strings.Join(lines, " ")})
			lines = lines[:0]
		}
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := cleanCell(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	flush()
	return out, nil
}

// sheet is a delimited file. header is the cleaned first row; rows includes it.
type sheet struct {
	name   string
	header []string
	rows   [][]string
}

func readSheet(path string) (*sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	t := &sheet{name: filepath.Base(path), rows: rows}
	if len(rows) > 0 {
		t.header = make([]string, len(rows[0]))
		for i, cell := range rows[0] {
			t.header[i] = cleanCell(cell)
		}
	}
	return t, nil
}

type column struct {
	index int
	named bool // matched a header cell, so the first row is a header
}

func (c column) cell(row []string) string {
	if c.index < 0 || c.index >= len(row) {
		return ""
	}
	return cleanCell(row[c.index])
}

// column resolves an explicit header name or #N, or else the first candidate
// present in the header. A missing candidate yields index -1 without error.
func (t *sheet) column(explicit string, candidates []string) (column, error) {
	name := strings.TrimSpace(explicit)
	if name == "" {
		for _, cand := range candidates {
			if i := t.headerIndex(cand); i >= 0 {
				return column{index: i, named: true}, nil
			}
		}
		return column{index: -1}, nil
	}
	if i := t.headerIndex(name); i >= 0 {
		return column{index: i, named: true}, nil
	}
	if !strings.HasPrefix(name, "#") {
		return column{index: -1}, fmt.Errorf("column %q not found in %s", name, t.name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(name[1:]))
	if err != nil || n <= 0 {
		return column{index: -1}, fmt.Errorf("invalid column index %q: indices are 1-based", name)
	}
	if n > len(t.header) {
		return column{index: -1}, fmt.Errorf("column index %s is out of range for %s", name, t.name)
	}
	return column{index: n - 1}, nil
}

func (t *sheet) headerIndex(name string) int {
	for i, h := range t.header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// body returns the data rows, dropping the header when any column was found by name.
func (t *sheet) body(cols ...column) [][]string {
	for _, c := range cols {
		if c.named {
			return t.rows[1:]
		}
	}
	return t.rows
}

func cleanCell(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "\ufeff")
}

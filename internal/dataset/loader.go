package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultLabelColumn is the churn label column in the account export.
const DefaultLabelColumn = "churn"

// missingTokens are cell contents treated as absent values.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

// LoaderOptions controls how a CSV export is turned into a table and labels.
type LoaderOptions struct {
	LabelColumn string
	DropColumns []string
}

// LoadCSV reads a CSV file with a header row, drops the configured columns and
// splits off the label column. Column names are normalized.
func LoadCSV(path string, opts LoaderOptions) (*Table, Labels, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	table, labels, err := ReadCSV(file, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", table.Len()).
		Int("columns", len(table.Columns)).
		Float64("positive_rate", labels.PositiveRate()).
		Msg("CSV data loaded successfully")

	return table, labels, nil
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader, opts LoaderOptions) (*Table, Labels, error) {
	labelColumn := NormalizeName(opts.LabelColumn)
	if labelColumn == "" {
		labelColumn = DefaultLabelColumn
	}
	drop := make(map[string]struct{}, len(opts.DropColumns))
	for _, c := range opts.DropColumns {
		drop[NormalizeName(c)] = struct{}{}
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("CSV file is empty")
		}
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	labelIdx := -1
	var keep []int
	var columns []string
	seen := make(map[string]struct{}, len(header))
	for i, raw := range header {
		name := NormalizeName(raw)
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		if name == labelColumn {
			labelIdx = i
			continue
		}
		if _, ok := drop[name]; ok {
			continue
		}
		keep = append(keep, i)
		columns = append(columns, name)
	}
	if labelIdx < 0 {
		return nil, nil, fmt.Errorf("label column %q not found", labelColumn)
	}

	var cells [][]string
	var labels Labels
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		label, err := ParseLabel(record[labelIdx])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]string, len(keep))
		for j, idx := range keep {
			row[j] = strings.TrimSpace(record[idx])
		}
		cells = append(cells, row)
		labels = append(labels, label)
	}

	table := NewTable(columns...)
	table.Rows = make([][]Value, len(cells))
	for i := range cells {
		table.Rows[i] = make([]Value, len(columns))
	}
	for j := range columns {
		numeric := isNumericColumn(cells, j)
		for i := range cells {
			table.Rows[i][j] = parseCell(cells[i][j], numeric)
		}
	}
	return table, labels, nil
}

// ParseLabel accepts 1/0, yes/no and true/false in any case.
func ParseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "yes", "true":
		return 1, nil
	case "0", "0.0", "no", "false":
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid label %q", s)
	}
}

func isMissingToken(s string) bool {
	_, ok := missingTokens[strings.ToLower(s)]
	return ok
}

func isNumericColumn(cells [][]string, j int) bool {
	for _, row := range cells {
		if isMissingToken(row[j]) {
			continue
		}
		if _, err := strconv.ParseFloat(row[j], 64); err != nil {
			return false
		}
	}
	return true
}

func parseCell(s string, numeric bool) Value {
	if isMissingToken(s) {
		return Missing()
	}
	if numeric {
		f, _ := strconv.ParseFloat(s, 64)
		return Number(f)
	}
	return Text(s)
}

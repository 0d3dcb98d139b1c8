package sources

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rpattn/datalab/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither csv nor xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Table is a parsed file: sanitized header names, typed rows and the type
// inferred for each column.
type Table struct {
	Columns []string
	Types   map[string]domain.FieldType
	Rows    []domain.Record
}

// Load reads a csv or xlsx file into a datasource source keyed by primary.
// An empty primary selects the first column.
func Load(path, primary string) (domain.Source, error) {
	source, err := LoadDatasource(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), path, primary)
	if err != nil {
		return domain.Source{}, err
	}
	return domain.Source{
		ID:      source.ID,
		Kind:    domain.SourceKindDatasource,
		Data:    domain.NewRelation(source.Catalog.Order, source.Data),
		Catalog: source.Catalog,
	}, nil
}

// LoadDatasource reads path into a datasource definition with the given id.
func LoadDatasource(id, path, primary string) (domain.Datasource, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return domain.Datasource{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	table, err := Parse(filepath.Base(path), payload)
	if err != nil {
		return domain.Datasource{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	catalog, err := table.Catalog(primary)
	if err != nil {
		return domain.Datasource{}, fmt.Errorf("%s: %w", path, err)
	}
	return domain.Datasource{
		ID:      id,
		Name:    id,
		Catalog: catalog,
		Data:    table.Rows,
	}, nil
}

// Catalog describes the table as a source catalog. primary must name one of
// the columns; empty selects the first.
func (t Table) Catalog(primary string) (domain.SourceCatalog, error) {
	primary = strings.TrimSpace(primary)
	if primary == "" && len(t.Columns) > 0 {
		primary = t.Columns[0]
	}
	found := false
	for _, column := range t.Columns {
		if column == primary {
			found = true
			break
		}
	}
	if !found {
		return domain.SourceCatalog{}, fmt.Errorf("primary column %q not found in header", primary)
	}

	types := make(map[string]domain.FieldType, len(t.Types))
	for column, fieldType := range t.Types {
		types[column] = fieldType
	}
	return domain.SourceCatalog{
		Primary:    primary,
		FieldTypes: types,
		Order:      append([]string(nil), t.Columns...),
	}, nil
}

// Parse dispatches on the file extension.
func Parse(fileName string, payload []byte) (Table, error) {
	var (
		records [][]string
		err     error
	)
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		records, err = readCSV(payload)
	case ".xlsx":
		records, err = readExcel(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Table{}, err
	}
	return buildTable(records)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

// buildTable takes the first non-empty row as the header and types every
// column from its non-empty cells.
func buildTable(records [][]string) (Table, error) {
	var (
		headerRow []string
		dataRows  [][]string
	)
	for _, row := range records {
		if isEmptyRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, padRow(row, len(headerRow)))
	}
	if headerRow == nil {
		return Table{}, errors.New("no rows found in file")
	}

	columns := sanitizeHeaders(headerRow)
	table := Table{
		Columns: columns,
		Types:   make(map[string]domain.FieldType, len(columns)),
		Rows:    make([]domain.Record, len(dataRows)),
	}
	for i := range table.Rows {
		table.Rows[i] = make(domain.Record, len(columns))
	}
	for col, name := range columns {
		fieldType := profileColumn(col, dataRows)
		table.Types[name] = fieldType
		for i, row := range dataRows {
			table.Rows[i][name] = coerceCell(fieldType, row[col])
		}
	}
	return table, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sanitizeHeaders trims names, fills blanks with column_N and suffixes duplicates.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

// profileColumn picks the narrowest type every non-empty cell satisfies:
// checkbox, number, date, then text.
func profileColumn(col int, rows [][]string) domain.FieldType {
	isBool, isNumber, isDate := true, true, true
	hasValue := false

	for _, row := range rows {
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		hasValue = true

		if _, ok := parseBool(value); !ok {
			isBool = false
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			isNumber = false
		}
		if _, ok := domain.String(value).Time(); !ok {
			isDate = false
		}
	}

	switch {
	case !hasValue:
		return domain.FieldTypeText
	case isBool:
		return domain.FieldTypeCheckbox
	case isNumber:
		return domain.FieldTypeNumber
	case isDate:
		return domain.FieldTypeDate
	default:
		return domain.FieldTypeText
	}
}

// parseBool accepts words only; 0 and 1 stay numbers.
func parseBool(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func coerceCell(fieldType domain.FieldType, raw string) domain.Value {
	value := strings.TrimSpace(raw)
	if value == "" {
		return domain.Null()
	}
	switch fieldType {
	case domain.FieldTypeCheckbox:
		b, _ := parseBool(value)
		return domain.Bool(b)
	case domain.FieldTypeNumber:
		f, _ := strconv.ParseFloat(value, 64)
		return domain.Number(f)
	case domain.FieldTypeDate:
		t, _ := domain.String(value).Time()
		return domain.Date(t)
	default:
		return domain.String(value)
	}
}

// Package export writes datalab rows as CSV.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/datalab/internal/domain"
)

// Summary reports what WriteCSV produced.
type Summary struct {
	Rows    int
	Columns int
	Bytes   int64
}

// Headers lists the relation columns exported for catalog: the visible
// columns in display order, or every column when none is visible.
// Checkbox-group columns expand into their sub-columns.
func Headers(catalog []domain.Column, relation domain.Relation) []string {
	visible := make([]domain.Column, 0, len(catalog))
	for _, column := range catalog {
		if column.Visible {
			visible = append(visible, column)
		}
	}
	if len(visible) == 0 {
		visible = catalog
	}

	headers := make([]string, 0, len(visible))
	for _, column := range visible {
		if column.Type != domain.FieldTypeCheckboxGroup {
			headers = append(headers, column.Label)
			continue
		}
		subColumns := column.SubColumns()
		if len(subColumns) == 0 {
			subColumns = relation.ColumnsWithPrefix(domain.CheckboxColumn(column.Label, ""))
		}
		headers = append(headers, subColumns...)
	}
	return headers
}

// WriteCSV streams records to w with headers as the first row.
func WriteCSV(w io.Writer, headers []string, records []domain.Record) (Summary, error) {
	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(headers); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(headers))
	for i, record := range records {
		for j, header := range headers {
			row[j] = formatValue(record.Get(header))
		}
		if err := csvWriter.Write(row); err != nil {
			return Summary{}, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return Summary{}, fmt.Errorf("flush csv: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return Summary{}, fmt.Errorf("flush buffered csv: %w", err)
	}
	return Summary{Rows: len(records), Columns: len(headers), Bytes: counter.count}, nil
}

// FileName turns a datalab name into a safe download file name.
func FileName(name string) string {
	return sanitizeFileComponent(name) + ".csv"
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value domain.Value) string {
	switch value.Kind() {
	case domain.KindNull:
		return ""
	case domain.KindList:
		encoded, err := json.Marshal(value)
		if err != nil {
			return value.Text()
		}
		return string(encoded)
	default:
		return value.Text()
	}
}

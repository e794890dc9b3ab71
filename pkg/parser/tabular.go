package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/xuri/excelize/v2"
)

// TabularParser handles CSV and XLSX bulk uploads. The first non-blank row
// is the header; its first column is the form-code column and the remaining
// columns are field codes. Every data row becomes one submission.
type TabularParser struct {
	forms DefinitionSource
}

func NewTabularParser(forms DefinitionSource) *TabularParser {
	return &TabularParser{forms: forms}
}

// ReadCSV reads an uploaded CSV file into raw rows. Ragged rows are allowed;
// row length fixing happens against the header in ParseRow.
func ReadCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = false
	return reader.ReadAll()
}

// ReadXLSX reads the first sheet of an uploaded workbook into raw rows.
func ReadXLSX(data []byte) ([][]string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, HeaderError{Reason: "workbook has no sheets"}
	}
	return wb.GetRows(sheets[0])
}

// Header finds and validates the header row, returning the folded header
// cells and the index of the first data row. Trailing blank header cells are
// trimmed; an empty first cell or an interior blank cell is a HeaderError.
func Header(rows [][]string) ([]string, int, error) {
	start := -1
	for i, row := range rows {
		if !rowBlank(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, 0, HeaderError{Reason: "upload has no header row"}
	}

	header := make([]string, len(rows[start]))
	for i, cell := range rows[start] {
		header[i] = models.Fold(cell)
	}
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	if len(header) == 0 || header[0] == "" {
		return nil, 0, HeaderError{Reason: "header row has no form code column"}
	}
	for _, cell := range header[1:] {
		if cell == "" {
			return nil, 0, HeaderError{Reason: "header row has a blank column"}
		}
	}
	return header, start + 1, nil
}

// ParseRow zips one data row against the header. Rows shorter than the
// header are filled with empty strings; rows longer than the header silently
// drop the excess, matching the tolerance of legacy uploads.
func (p *TabularParser) ParseRow(ctx context.Context, header []string, row []string) (Parsed, error) {
	cells := make([]string, len(header))
	for i := range header {
		if i < len(row) {
			cells[i] = strings.TrimSpace(row[i])
		}
	}

	formCode := models.Fold(cells[0])
	if formCode == "" {
		return Parsed{}, FormatError{Message: "row has no form code"}
	}

	def, err := p.forms.Resolve(ctx, formCode)
	if err != nil {
		return Parsed{}, err
	}

	fields := models.NewFieldMap()
	var extras []string
	for i, code := range header[1:] {
		value := cells[i+1]
		if _, known := def.Field(code); !known {
			if value != "" {
				extras = append(extras, value)
			}
			continue
		}
		fields.Set(code, value)
	}

	return Parsed{FormCode: formCode, Def: def, Fields: fields, Extras: extras}, nil
}

func rowBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

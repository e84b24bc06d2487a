// Package spreadsheet reads uploaded XLSX and CSV files into the raw row
// maps the import pipeline consumes. Cells stay strings; all typing happens
// later, once a column mapping is confirmed.
package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RawRow is one data row keyed by its header cell. Columns with a blank
// header are dropped.
type RawRow map[string]any

// Sheet is one parsed worksheet or CSV file.
type Sheet struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}

// SheetNames lists the worksheets in an XLSX workbook, in workbook order.
func SheetNames(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in workbook")
	}
	return sheets, nil
}

// ParseXLSX reads one worksheet. An empty sheet name selects the first
// worksheet. The first non-empty row is the header row; rows whose cells
// are all blank are skipped.
func ParseXLSX(r io.Reader, sheetName string) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets in workbook")
		}
		sheetName = sheets[0]
	}

	rows, err := f.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheetName, err)
	}
	defer rows.Close()

	sheet := &Sheet{Name: sheetName}
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheetName, err)
		}
		if allBlank(cells) {
			continue
		}
		if sheet.Headers == nil {
			sheet.Headers = trimCells(cells)
			continue
		}
		sheet.Rows = append(sheet.Rows, buildRow(sheet.Headers, cells))
	}
	if sheet.Headers == nil {
		return nil, fmt.Errorf("sheet %q has no header row", sheetName)
	}
	return sheet, nil
}

// ParseCSV reads a CSV export. A UTF-8 BOM is stripped, the delimiter is
// sniffed from the header line (Brazilian spreadsheet exports frequently
// use semicolons) and ragged rows are tolerated.
func ParseCSV(r io.Reader) (*Sheet, error) {
	buffered := bufio.NewReader(r)

	if bom, err := buffered.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		if _, err := buffered.Discard(3); err != nil {
			return nil, err
		}
	}

	headerLine, err := buffered.Peek(4096)
	if err != nil && err != io.EOF {
		return nil, err
	}
	delimiter := sniffDelimiter(string(headerLine))

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	sheet := &Sheet{Name: "csv"}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if allBlank(record) {
			continue
		}
		if sheet.Headers == nil {
			sheet.Headers = trimCells(record)
			continue
		}
		sheet.Rows = append(sheet.Rows, buildRow(sheet.Headers, record))
	}
	if sheet.Headers == nil {
		return nil, fmt.Errorf("csv has no header row")
	}
	return sheet, nil
}

func sniffDelimiter(headerLine string) rune {
	if idx := strings.IndexAny(headerLine, "\r\n"); idx >= 0 {
		headerLine = headerLine[:idx]
	}
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}
	return ','
}

func buildRow(headers, cells []string) RawRow {
	row := make(RawRow, len(headers))
	for i, header := range headers {
		if header == "" {
			continue
		}
		value := ""
		if i < len(cells) {
			value = strings.TrimSpace(cells[i])
		}
		row[header] = value
	}
	return row
}

func trimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

func allBlank(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

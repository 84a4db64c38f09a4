package annotation

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/yomogi-work/kizuki-log-sync/pkg/atomicfile"
)

var exportHeader = []string{"ID", "学生名", "Week", "日付", "Level", "ConceptSource", "自信度", "エビデンス", "メモ"}

// ID, Week, Level and confidence.
var numericColumns = map[int]bool{0: true, 2: true, 4: true, 6: true}

const exportSheet = "Sheet1"

// utf8BOM lets spreadsheet applications detect the CSV encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// judgedRows returns one row per judged entry, in dataset order.
func judgedRows(ds *Dataset) [][]string {
	var rows [][]string
	for _, e := range ds.Entries {
		j := e.Judgment
		if !j.Judged() {
			continue
		}
		source, confidence := "", ""
		if j.ConceptSource != nil {
			source = *j.ConceptSource
		}
		if j.Confidence != nil && *j.Confidence != 0 {
			confidence = strconv.Itoa(*j.Confidence)
		}
		rows = append(rows, []string{
			strconv.Itoa(e.ID),
			e.Context.StudentName,
			strconv.Itoa(e.Context.WeekNumber),
			e.Context.JournalDate,
			strconv.Itoa(*j.Level),
			source,
			confidence,
			j.Evidence,
			j.Notes,
		})
	}
	return rows
}

// WriteCSV writes the judged entries of ds as BOM-prefixed UTF-8 CSV.
func WriteCSV(w io.Writer, ds *Dataset) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(judgedRows(ds)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// ExportCSV atomically writes the judged entries of ds to path as CSV.
func ExportCSV(path string, ds *Dataset) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, buf.Bytes(), 0o644)
}

// ExportXLSX atomically writes the judged entries of ds to path as a
// workbook with the same columns as the CSV. Numeric columns are stored as
// numbers.
func ExportXLSX(path string, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range judgedRows(ds) {
		cells := make([]interface{}, len(row))
		for c, v := range row {
			cells[c] = v
			if numericColumns[c] {
				if n, err := strconv.Atoi(v); err == nil {
					cells[c] = n
				}
			}
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, addr, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return atomicfile.WriteFile(path, buf.Bytes(), 0o644)
}

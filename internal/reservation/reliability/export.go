package reliability

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"LERS-backend/internal/platform/apierr"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	EncodingUTF8  = "utf-8"
	EncodingCP932 = "cp932"
)

// Table は CSV / XLSX 出力の共通表現
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]string
	// NumericFrom 以降の列は XLSX で数値セルにする
	NumericFrom int
}

func fmtHours(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func fmtOptHours(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtHours(*v)
}

func UtilizationTable(rows []Utilization) Table {
	t := Table{Sheet: "utilization", NumericFrom: 2, Headers: []string{"equipment_id", "name", "total_contact_hours", "borrow_count"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.EquipmentID, r.Name, fmtHours(r.TotalContactHours), strconv.Itoa(r.BorrowCount)})
	}
	return t
}

func MTBFTable(rows []UserMTBF) Table {
	t := Table{Sheet: "mtbf", NumericFrom: 2, Headers: []string{"user_id", "user_name", "mtbf_hours"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.UserID, r.UserName, fmtOptHours(r.MTBFHours)})
	}
	return t
}

func MTTRTable(rows []EquipmentMTTR) Table {
	t := Table{Sheet: "mttr", NumericFrom: 2, Headers: []string{"equipment_id", "equipment_name", "mttr_hours", "total_maintenance_hours"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.EquipmentID, r.EquipmentName, fmtOptHours(r.MTTRHours), fmtHours(r.TotalMaintenanceHours)})
	}
	return t
}

// WriteCSV: encoding が cp932 のときは Excel 向けに Shift_JIS で書き出す
func WriteCSV(w io.Writer, t Table, encoding string) error {
	var tw io.WriteCloser
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf8":
	case EncodingCP932, "shift_jis", "sjis":
		tw = transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
		w = tw
	default:
		return apierr.ErrInvalid("encoding must be utf-8 or cp932")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

// WriteXLSX は1シートのブックを書き出す
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(t.Sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	for i, h := range t.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(t.Sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(t.Headers), 1)
	if err := f.SetCellStyle(t.Sheet, "A1", last, header); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(t.Headers))
	if err := f.SetColWidth(t.Sheet, "A", lastCol, 20); err != nil {
		return err
	}

	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var val any = v
			if c >= t.NumericFrom {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					val = n
				}
			}
			if err := f.SetCellValue(t.Sheet, cell, val); err != nil {
				return err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

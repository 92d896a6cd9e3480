// Package ingest parses bill-of-material and base price spreadsheets.
package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/material-audit/internal/model"
)

// Options configures spreadsheet parsing.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	HeaderRows int    // rows before data; the first is the column header
	MaxRows    int    // 0 = unlimited
}

// columns maps header cell text to a canonical field. Matching is by
// substring so "材料名称" and "名称" both bind name.
var columns = []struct {
	field string
	keys  []string
}{
	{"spec", []string{"规格型号", "规格", "型号", "specification", "spec"}},
	{"unit_price", []string{"除税单价", "单价", "unit_price", "price"}},
	{"name", []string{"材料名称", "名称", "name"}},
	{"unit", []string{"单位", "unit"}},
	{"quantity", []string{"数量", "quantity", "qty"}},
	{"province", []string{"省", "province"}},
	{"city", []string{"市", "city"}},
	{"district", []string{"区", "县", "district"}},
	{"price_date", []string{"价格月份", "月份", "price_date", "month"}},
	{"alias", []string{"别名", "alias"}},
}

func bindColumns(header []string) map[string]int {
	bound := map[string]int{}
	for i, cell := range header {
		cell = strings.ToLower(strings.TrimSpace(cell))
		if cell == "" {
			continue
		}
		for _, col := range columns {
			if _, taken := bound[col.field]; taken {
				continue
			}
			for _, key := range col.keys {
				if strings.Contains(cell, key) {
					bound[col.field] = i
					break
				}
			}
		}
	}
	return bound
}

func cellAt(row []string, bound map[string]int, field string) string {
	idx, ok := bound[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func decimalAt(row []string, bound map[string]int, field string) decimal.Decimal {
	s := cellAt(row, bound, field)
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func readRows(path string, opts Options) ([][]string, []string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, nil, err
	}

	headerRows := opts.HeaderRows
	if headerRows <= 0 {
		headerRows = 1
	}

	var header []string
	var rows [][]string
	for i, row := range sheet.Rows {
		cells := rowToStrings(row)
		if i == 0 {
			header = cells
		}
		if i < headerRows {
			continue
		}
		if opts.MaxRows > 0 && len(rows) >= opts.MaxRows {
			break
		}
		rows = append(rows, cells)
	}
	return rows, header, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

// ParseBoM reads a bill-of-materials sheet. Rows without a material name
// are dropped; the row count of the result is the project's material
// count.
func ParseBoM(path string, opts Options) ([]model.ProjectMaterial, error) {
	rows, header, err := readRows(path, opts)
	if err != nil {
		return nil, err
	}
	bound := bindColumns(header)
	if _, ok := bound["name"]; !ok {
		return nil, eris.New("ingest: no material name column found")
	}

	var out []model.ProjectMaterial
	for _, row := range rows {
		name := cellAt(row, bound, "name")
		if name == "" {
			continue
		}
		out = append(out, model.ProjectMaterial{
			Name:          name,
			Specification: cellAt(row, bound, "spec"),
			Unit:          cellAt(row, bound, "unit"),
			Quantity:      decimalAt(row, bound, "quantity"),
			UnitPrice:     decimalAt(row, bound, "unit_price"),
		})
	}
	return out, nil
}

// ParseCatalogue reads a base price sheet into catalogue entries. The
// price date applies to every row; rows missing a name or a positive
// price are dropped.
func ParseCatalogue(path string, priceDate string, priceType model.PriceType, opts Options) ([]model.BaseMaterial, error) {
	rows, header, err := readRows(path, opts)
	if err != nil {
		return nil, err
	}
	bound := bindColumns(header)
	if _, ok := bound["name"]; !ok {
		return nil, eris.New("ingest: no material name column found")
	}

	var out []model.BaseMaterial
	for _, row := range rows {
		name := cellAt(row, bound, "name")
		price := decimalAt(row, bound, "unit_price")
		if name == "" || price.Sign() <= 0 {
			continue
		}
		date := cellAt(row, bound, "price_date")
		if date == "" {
			date = priceDate
		}
		bm := model.BaseMaterial{
			Name:          name,
			Specification: cellAt(row, bound, "spec"),
			Unit:          cellAt(row, bound, "unit"),
			Price:         price,
			Province:      cellAt(row, bound, "province"),
			City:          cellAt(row, bound, "city"),
			District:      cellAt(row, bound, "district"),
			PriceType:     priceType,
			PriceDate:     date,
		}
		out = append(out, bm)
	}
	return out, nil
}

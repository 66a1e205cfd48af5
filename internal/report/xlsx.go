package report

import (
	"fmt"
	"io"

	"torn-market-tracker/internal/candles"

	"github.com/xuri/excelize/v2"
)

const sheetName = "History"

// WriteWorkbook writes h as an xlsx workbook with one row per sample.
func WriteWorkbook(w io.Writer, h History) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	header, rows := table(h)
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", "A", 22); err != nil {
		return err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("%s [%d] %s", h.ItemName, h.ItemID, h.Interval),
		Creator: "torn-market-tracker",
	}); err != nil {
		return err
	}
	return f.Write(w)
}

func table(h History) ([]any, [][]any) {
	if h.Interval == candles.Raw {
		header := []any{"Time (UTC)", "Market Price", "Market Avg", "Bazaar Price", "Bazaar Avg"}
		rows := make([][]any, 0, len(h.Rows))
		for _, r := range h.Rows {
			rows = append(rows, []any{
				r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
				cell(r.MarketPrice), cellF(r.MarketAvg), cell(r.BazaarPrice), cellF(r.BazaarAvg),
			})
		}
		return header, rows
	}

	header := []any{"Time (UTC)",
		"Market Open", "Market High", "Market Low", "Market Close", "Market Avg",
		"Bazaar Open", "Bazaar High", "Bazaar Low", "Bazaar Close", "Bazaar Avg"}
	rows := make([][]any, 0, len(h.Candles))
	for _, c := range h.Candles {
		row := []any{c.Time.UTC().Format("2006-01-02 15:04:05")}
		row = append(row, ohlcCells(c.Market)...)
		row = append(row, ohlcCells(c.Bazaar)...)
		rows = append(rows, row)
	}
	return header, rows
}

func ohlcCells(o *candles.OHLC) []any {
	if o == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{o.Open, o.High, o.Low, o.Close, o.Avg}
}

func cell(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func cellF(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
)

// ExcelReporter exports trade history to an Excel workbook.
type ExcelReporter struct{}

// NewExcelReporter creates an Excel reporter.
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

type excelStyles struct {
	header   int
	currency int
	profit   int
	loss     int
}

// WriteTradesXLSX writes the trade history and a summary sheet to path.
func (r *ExcelReporter) WriteTradesXLSX(status portfolio.Status, trades []portfolio.TradeRecord, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(summarySheet)

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeTradesSheet(fx, tradesSheet, trades, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, summarySheet, status, trades, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 177, // $#,##0.00
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.profit, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "008000"},
		NumFmt: 177,
	})
	if err != nil {
		return styles, err
	}

	styles.loss, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "FF0000"},
		NumFmt: 177,
	})
	return styles, err
}

func (r *ExcelReporter) writeTradesSheet(fx *excelize.File, sheet string, trades []portfolio.TradeRecord, styles excelStyles) error {
	headers := []string{"Time", "Symbol", "Side", "Action", "Quantity", "Price", "Notional", "Realized PnL", "Fees", "Order ID"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, header)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	for i, trade := range trades {
		row := i + 2
		values := []interface{}{
			trade.Timestamp.Format("2006-01-02 15:04:05"),
			trade.Symbol,
			string(trade.Side),
			trade.Action,
			trade.Quantity,
			trade.Price,
			trade.PositionValue,
			trade.RealizedPnl,
			trade.Fees,
			trade.OrderID,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			fx.SetCellValue(sheet, cell, value)
		}

		pnlCell, _ := excelize.CoordinatesToCellName(8, row)
		if trade.RealizedPnl > 0 {
			fx.SetCellStyle(sheet, pnlCell, pnlCell, styles.profit)
		} else if trade.RealizedPnl < 0 {
			fx.SetCellStyle(sheet, pnlCell, pnlCell, styles.loss)
		}
	}

	fx.SetColWidth(sheet, "A", "A", 20)
	fx.SetColWidth(sheet, "B", "J", 14)
	return nil
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, sheet string, status portfolio.Status, trades []portfolio.TradeRecord, styles excelStyles) error {
	var wins, losses int
	var totalPnl, totalFees float64
	for _, trade := range trades {
		totalFees += trade.Fees
		if trade.Action != "CLOSE" {
			continue
		}
		totalPnl += trade.RealizedPnl
		if trade.RealizedPnl > 0 {
			wins++
		} else {
			losses++
		}
	}

	rows := []struct {
		label string
		value interface{}
	}{
		{"Initial Balance", status.InitialBalance},
		{"Current Balance", status.CurrentBalance},
		{"Total Realized PnL", totalPnl},
		{"Total Fees", totalFees},
		{"Total Fills", len(trades)},
		{"Winning Closes", wins},
		{"Losing Closes", losses},
		{"Open Positions", len(status.OpenPositions)},
		{"Total Exposure", status.TotalExposure},
		{"Portfolio Risk Ratio", status.PortfolioRiskRatio},
	}

	for i, row := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		fx.SetCellValue(sheet, labelCell, row.label)
		fx.SetCellValue(sheet, valueCell, row.value)
	}

	fx.SetColWidth(sheet, "A", "A", 24)
	fx.SetColWidth(sheet, "B", "B", 18)
	return nil
}

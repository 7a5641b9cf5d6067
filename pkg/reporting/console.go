package reporting

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
)

// ConsoleReporter renders portfolio state as terminal tables.
type ConsoleReporter struct{}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// PrintStartup prints the bot configuration at startup.
func (r *ConsoleReporter) PrintStartup(exchangeName string, config portfolio.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RISK BOT INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Exchange", exchangeName},
		{"Initial Balance", fmt.Sprintf("$%.2f", config.InitialBalance)},
		{"Max Budget", fmt.Sprintf("$%.2f", config.MaxBudget)},
		{"Risk Per Trade", fmt.Sprintf("%.2f%%", config.RiskPerTrade*100)},
		{"Stop Loss", fmt.Sprintf("%.2f%%", config.StopLossPercent*100)},
		{"Leverage", fmt.Sprintf("%dx", config.DefaultLeverage)},
		{"Max Positions", config.MaxPositions},
		{"Max Portfolio Risk", fmt.Sprintf("%.1fx balance", config.MaxPortfolioRisk)},
		{"Min Safety Ratio", fmt.Sprintf("%.2f", config.Sizing.MinSafetyRatio)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PrintStatus prints the current portfolio status.
func (r *ConsoleReporter) PrintStatus(status portfolio.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PORTFOLIO STATUS")
	t.SetStyle(table.StyleRounded)

	profit := status.CurrentBalance - status.InitialBalance
	t.AppendRows([]table.Row{
		{"Balance", fmt.Sprintf("$%.2f", status.CurrentBalance)},
		{"Session PnL", fmt.Sprintf("$%+.2f", profit)},
		{"Total Exposure", fmt.Sprintf("$%.2f", status.TotalExposure)},
		{"Risk Ratio", fmt.Sprintf("%.2fx", status.PortfolioRiskRatio)},
		{"Open Positions", len(status.OpenPositions)},
		{"Trades", status.TradeCount},
	})
	t.Render()

	if len(status.OpenPositions) > 0 {
		r.printPositions(status)
	}
	fmt.Println()
}

func (r *ConsoleReporter) printPositions(status portfolio.Status) {
	symbols := make([]string, 0, len(status.OpenPositions))
	for symbol := range status.OpenPositions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Mark", "Unrealized PnL"})

	for _, symbol := range symbols {
		pos := status.OpenPositions[symbol]
		t.AppendRow(table.Row{
			pos.Symbol,
			pos.State,
			fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.6f", pos.EntryPrice),
			fmt.Sprintf("%.6f", pos.CurrentPrice),
			fmt.Sprintf("$%+.2f", pos.UnrealizedPnl),
		})
	}
	t.Render()
}

// PrintRejections prints the recent rejection history.
func (r *ConsoleReporter) PrintRejections(status portfolio.Status) {
	if len(status.LastSizingRejections) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RECENT REJECTIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Symbol", "Reason", "Detail"})

	for _, rec := range status.LastSizingRejections {
		t.AppendRow(table.Row{
			rec.Timestamp.Format("15:04:05"),
			rec.Symbol,
			string(rec.Reason),
			rec.Detail,
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60},
	})
	t.Render()
	fmt.Println()
}

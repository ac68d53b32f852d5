package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"perpbot/internal/backtest"
	"perpbot/internal/domain"
)

// ReadTableFromCSV loads a trading table's input columns from a CSV file
// with the header: time,open,high,low,close,signal. The signal column
// holds the strategy collaborator's per-bar output.
func ReadTableFromCSV(filename string) (*backtest.Table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s has no data rows", filename)
	}

	table := &backtest.Table{}
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("%s row %d has %d columns, expected 6", filename, i+2, len(row))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad timestamp %q: %w", filename, i+2, row[0], err)
		}
		prices := make([]float64, 4)
		for j := 0; j < 4; j++ {
			prices[j], err = strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: bad price %q: %w", filename, i+2, row[j+1], err)
			}
		}
		table.Times = append(table.Times, ts)
		table.Open = append(table.Open, prices[0])
		table.High = append(table.High, prices[1])
		table.Low = append(table.Low, prices[2])
		table.Close = append(table.Close, prices[3])
		table.Signals = append(table.Signals, domain.Signal(row[5]))
	}
	return table, nil
}

// WriteTableToCSV snapshots the full trading table, including the
// simulator's output columns, for audit/debugging. The file layout is
// not a stable machine-readable contract.
func WriteTableToCSV(table *backtest.Table, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"time", "open", "high", "low", "close", "signal",
		"trade_fees", "units", "pnl", "returns", "balance", "position", "action",
	})
	for i := 0; i < table.Len(); i++ {
		writer.Write([]string{
			table.Times[i].Format(time.RFC3339),
			formatFloat(table.Open[i]),
			formatFloat(table.High[i]),
			formatFloat(table.Low[i]),
			formatFloat(table.Close[i]),
			string(table.Signals[i]),
			formatFloat(table.TradeFees[i]),
			formatFloat(table.Units[i]),
			formatFloat(table.PnL[i]),
			formatFloat(table.Returns[i]),
			formatFloat(table.Balance[i]),
			strconv.Itoa(table.Position[i]),
			string(table.Action[i]),
		})
	}
	return writer.Error()
}

// WriteInputCSV writes only the input columns, in the layout
// ReadTableFromCSV expects.
func WriteInputCSV(table *backtest.Table, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"time", "open", "high", "low", "close", "signal"})
	for i := 0; i < table.Len(); i++ {
		writer.Write([]string{
			table.Times[i].Format(time.RFC3339),
			formatFloat(table.Open[i]),
			formatFloat(table.High[i]),
			formatFloat(table.Low[i]),
			formatFloat(table.Close[i]),
			string(table.Signals[i]),
		})
	}
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

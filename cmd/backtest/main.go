// Replay runner CLI
// Replays historical candles through the live signal and risk pipeline
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/gateway"
	"github.com/quantflow/quantflow/internal/marketstore"
	"github.com/quantflow/quantflow/internal/screener"
	"github.com/quantflow/quantflow/pkg/backtest"
)

// ==================== CLI FLAGS ====================

var (
	configPath = flag.String("config", "", "Path to config file (optional)")
	instrument = flag.String("instrument", "XBTUSDTM", "Instrument symbol to replay")
	timeframe  = flag.String("timeframe", "15m", "Candle timeframe")
	csvPath    = flag.String("csv", "", "Candle CSV file (time,open,high,low,close,volume); fetched from the venue when empty")
	startDate  = flag.String("start", "", "Fetch start date (YYYY-MM-DD), used without -csv")
	endDate    = flag.String("end", "", "Fetch end date (YYYY-MM-DD), used without -csv")
	warmup     = flag.Int("warmup", 100, "Bars consumed before signals are evaluated")
	outputFile = flag.String("output", "", "Write the full result JSON to this file")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}

	candles, err := loadCandles(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Candle load failed")
	}
	log.Info().Int("candles", len(candles)).Str("instrument", *instrument).Msg("Candles loaded")

	harness := backtest.New(cfg, *warmup)
	result, err := harness.Run(*instrument, *timeframe, candles)
	if err != nil {
		log.Fatal().Err(err).Msg("Replay failed")
	}

	printSummary(result.Metrics)

	if *outputFile != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("Result marshal failed")
		}
		if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Result write failed")
		}
		log.Info().Str("path", *outputFile).Msg("Result written")
	}
}

func loadCandles(cfg *config.Config) ([]marketstore.Candle, error) {
	if *csvPath != "" {
		return loadCSV(*csvPath)
	}
	return fetchFromVenue(cfg)
}

// loadCSV reads time,open,high,low,close,volume rows; a header row is
// skipped when the first field does not parse as a timestamp
func loadCSV(path string) ([]marketstore.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var out []marketstore.Candle
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: want 6 fields, got %d", i+1, len(row))
		}
		ts, err := parseTime(row[0])
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		vals := make([]float64, 5)
		for j := 1; j < 6; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+1, j+1, err)
			}
			vals[j-1] = v
		}
		out = append(out, marketstore.Candle{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func fetchFromVenue(cfg *config.Config) ([]marketstore.Candle, error) {
	from, to, err := dateRange()
	if err != nil {
		return nil, err
	}

	client := gateway.NewClient(cfg.Exchange)
	granularity := screener.GranularityMinutes(*timeframe)

	klines, err := client.GetKlines(context.Background(), *instrument, granularity, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]marketstore.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, marketstore.Candle{
			Time:   time.UnixMilli(k.Time).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		})
	}
	return out, nil
}

func dateRange() (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if *startDate != "" {
		t, err := time.Parse("2006-01-02", *startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		from = t
	}
	if *endDate != "" {
		t, err := time.Parse("2006-01-02", *endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		to = t
	}
	return from, to, nil
}

func printSummary(m *backtest.Metrics) {
	fmt.Println()
	fmt.Println("==================== REPLAY SUMMARY ====================")
	fmt.Printf("Period:          %s to %s\n", m.StartDate.Format("2006-01-02"), m.EndDate.Format("2006-01-02"))
	fmt.Printf("Initial capital: %.2f\n", m.InitialCapital)
	fmt.Printf("Final equity:    %.2f\n", m.FinalEquity)
	fmt.Printf("Total return:    %.2f (%.2f%%)\n", m.TotalReturn, m.TotalReturnPct)
	fmt.Printf("Max drawdown:    %.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct)
	fmt.Printf("Sharpe ratio:    %.2f\n", m.SharpeRatio)
	fmt.Println()
	fmt.Printf("Trades:          %d (%d wins / %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("Win rate:        %.1f%%\n", m.WinRate)
	fmt.Printf("Profit factor:   %.2f\n", m.ProfitFactor)
	fmt.Printf("Expectancy:      %.2f per trade\n", m.Expectancy)
	fmt.Println("========================================================")
}

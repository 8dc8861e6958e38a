package datastore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/your-org/dca-drawdown-sim/pkg/logger"
)

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// StreamCandlesFromCSV reads OHLCV rows from a CSV file and streams them as
// Candles through a channel. The header row names the columns; matching is
// case-insensitive and extra columns are ignored. Rows that fail to parse are
// skipped with a warning.
func StreamCandlesFromCSV(ctx context.Context, filePath string) (<-chan Candle, <-chan error) {
	candleCh := make(chan Candle)
	errCh := make(chan error, 1)

	go func() {
		defer close(candleCh)
		defer close(errCh)

		file, err := os.Open(filePath)
		if err != nil {
			errCh <- fmt.Errorf("failed to open csv file: %w", err)
			return
		}
		defer file.Close()

		reader := csv.NewReader(file)
		header, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				errCh <- fmt.Errorf("failed to read csv header: %w", err)
			}
			return // Empty file is not an error
		}
		cols, err := columnIndex(header)
		if err != nil {
			errCh <- err
			return
		}

		var total int
		for {
			record, err := reader.Read()
			if err == io.EOF {
				logger.Infof("Successfully streamed %d candles from %s", total, filePath)
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("failed to read csv record: %w", err)
				return
			}

			c, err := parseCandle(record, cols)
			if err != nil {
				logger.Warnf("Skipping record %d: %v", total+1, err)
				continue
			}

			select {
			case candleCh <- c:
				total++
			case <-ctx.Done():
				logger.Info("CSV streaming cancelled by context.")
				return
			}
		}
	}()

	return candleCh, errCh
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(csvColumns))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", c)
		}
	}
	return idx, nil
}

func parseCandle(record []string, cols map[string]int) (Candle, error) {
	var vals [5]float64
	for i, name := range csvColumns[1:] {
		pos := cols[name]
		if pos >= len(record) {
			return Candle{}, fmt.Errorf("missing %s column", name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[pos]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("%s parse error: %w", name, err)
		}
		vals[i] = v
	}
	ts := ""
	if pos := cols["timestamp"]; pos < len(record) {
		ts = record[pos]
	}
	return Candle{Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4], Timestamp: ts}, nil
}

// LoadMemorySourceFromCSV reads an entire CSV file into a MemorySource.
// Rows are indexed from zero in file order.
func LoadMemorySourceFromCSV(ctx context.Context, filePath string) (*MemorySource, error) {
	candleCh, errCh := StreamCandlesFromCSV(ctx, filePath)
	src := NewMemorySource()
	for c := range candleCh {
		src.Append(c)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return src, nil
}

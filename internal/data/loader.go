// Package data loads and validates historical bar data for backtests.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// CSV column layout: ticker,timestamp,open,high,low,close,volume. The
// timestamp is RFC 3339 or a Unix epoch in seconds. A header row is
// detected and skipped.
const csvColumns = 7

// LoadBarsCSV reads bars from a CSV file, sorted ascending by timestamp
func LoadBarsCSV(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer f.Close()
	bars, err := ReadBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadBarsCSV parses bars from CSV content
func ReadBarsCSV(r io.Reader) ([]types.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = csvColumns
	reader.TrimLeadingSpace = true

	var bars []types.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++
		if line == 1 && isHeader(record) {
			continue
		}
		bar, err := parseBar(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func isHeader(record []string) bool {
	return strings.EqualFold(strings.TrimSpace(record[0]), "ticker")
}

func parseBar(record []string) (types.Bar, error) {
	ts, err := parseTimestamp(record[1])
	if err != nil {
		return types.Bar{}, err
	}
	fields := [5]decimal.Decimal{}
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := range fields {
		v, err := decimal.NewFromString(strings.TrimSpace(record[i+2]))
		if err != nil {
			return types.Bar{}, fmt.Errorf("bad %s %q", names[i], record[i+2])
		}
		fields[i] = v
	}
	ticker := strings.ToUpper(strings.TrimSpace(record[0]))
	if ticker == "" {
		return types.Bar{}, fmt.Errorf("empty ticker")
	}
	return types.Bar{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	epoch, err := decimal.NewFromString(s)
	if err != nil || !epoch.IsInteger() {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return time.Unix(epoch.IntPart(), 0).UTC(), nil
}

package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

const (
	candlePrefix = "candles"
	reportPrefix = "reports"
	dayLayout    = "2006-01-02"
)

// candleRecord is the parquet row of a candle. Prices are decimal strings
// so archived values round-trip exactly.
type candleRecord struct {
	Symbol    string `parquet:"symbol"`
	Timeframe string `parquet:"timeframe"`
	Time      int64  `parquet:"time"` // unix ms, period start
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    string `parquet:"volume"`
}

// CandlePath returns the file holding one UTC day of a candle stream.
func CandlePath(symbol, timeframe string, day time.Time) string {
	return path.Join(candlePrefix, symbol, timeframe, day.UTC().Format(dayLayout)+".parquet")
}

// WriteCandles writes candles as one parquet file per stream and UTC day,
// merging with files already present. Returns the number of files written.
func WriteCandles(ctx context.Context, store Storage, candles []core.Candle) (int, error) {
	groups := make(map[string][]core.Candle)
	for _, c := range candles {
		p := CandlePath(c.Symbol, c.Timeframe, c.Time)
		groups[p] = append(groups[p], c)
	}

	files := make([]string, 0, len(groups))
	for p := range groups {
		files = append(files, p)
	}
	sort.Strings(files)

	for _, p := range files {
		batch := groups[p]
		existing, err := readCandleFile(ctx, store, p)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return 0, err
		}

		data, err := encodeCandles(mergeCandles(existing, batch))
		if err != nil {
			return 0, fmt.Errorf("encoding %s: %w", p, err)
		}
		if err := store.Write(ctx, p, data); err != nil {
			return 0, fmt.Errorf("writing %s: %w", p, err)
		}
	}
	return len(files), nil
}

// ReadCandles returns the archived candles of a stream with
// start <= time < end, oldest first. A zero end is unbounded.
func ReadCandles(ctx context.Context, store Storage, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	files, err := store.List(ctx, path.Join(candlePrefix, symbol, timeframe)+"/")
	if err != nil {
		return nil, err
	}

	firstDay := start.UTC().Truncate(24 * time.Hour)
	var out []core.Candle
	for _, f := range files {
		day, err := time.Parse(dayLayout, strings.TrimSuffix(path.Base(f), ".parquet"))
		if err != nil {
			continue
		}
		if day.Before(firstDay) || (!end.IsZero() && !day.Before(end)) {
			continue
		}

		candles, err := readCandleFile(ctx, store, f)
		if err != nil {
			return nil, err
		}
		for _, c := range candles {
			if c.Time.Before(start) || (!end.IsZero() && !c.Time.Before(end)) {
				continue
			}
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// WriteReport stores a backtest report as indented JSON under
// reports/<name>.json and returns its path.
func WriteReport(ctx context.Context, store Storage, name string, report *core.BacktestReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	p := path.Join(reportPrefix, name+".json")
	if err := store.Write(ctx, p, data); err != nil {
		return "", err
	}
	return p, nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(ctx context.Context, store Storage, name string) (*core.BacktestReport, error) {
	data, err := store.Read(ctx, path.Join(reportPrefix, name+".json"))
	if err != nil {
		return nil, err
	}
	var report core.BacktestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", name, err)
	}
	return &report, nil
}

func readCandleFile(ctx context.Context, store Storage, p string) ([]core.Candle, error) {
	data, err := store.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := parquet.Read[candleRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p, err)
	}

	out := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		c, err := r.candle()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func encodeCandles(candles []core.Candle) ([]byte, error) {
	rows := make([]candleRecord, len(candles))
	for i, c := range candles {
		rows[i] = candleRecord{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Time:      c.Time.UnixMilli(),
			Open:      c.Open.String(),
			High:      c.High.String(),
			Low:       c.Low.String(),
			Close:     c.Close.String(),
			Volume:    c.Volume.String(),
		}
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergeCandles unions two candle sets by time; incoming wins on conflict.
func mergeCandles(existing, incoming []core.Candle) []core.Candle {
	byTime := make(map[int64]core.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byTime[c.Time.UnixMilli()] = c
	}
	for _, c := range incoming {
		byTime[c.Time.UnixMilli()] = c
	}

	out := make([]core.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func (r candleRecord) candle() (core.Candle, error) {
	fields := [5]string{r.Open, r.High, r.Low, r.Close, r.Volume}
	var vals [5]decimal.Decimal
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return core.Candle{}, err
		}
		vals[i] = v
	}
	return core.Candle{
		Symbol:    r.Symbol,
		Timeframe: r.Timeframe,
		Time:      time.UnixMilli(r.Time).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

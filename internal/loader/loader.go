// Package loader reads the two JSON input files a validation run needs: the
// baseline OHLC series and the parsed strategy universe. Per spec §6 these
// are thin collaborator-layer concerns, not core responsibilities; the core
// only ever consumes the resulting core.Security and []*core.Strategy
// values. JSON is used because nothing in the retrieved corpus reaches for
// a dedicated tabular-data library for this kind of one-shot batch input,
// and encoding/json already round-trips the shapes below without any
// bespoke parsing.
package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// ohlcBarJSON mirrors core.OHLCBar with JSON-friendly field names.
type ohlcBarJSON struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

type securityJSON struct {
	Symbol string        `json:"symbol"`
	Bars   []ohlcBarJSON `json:"bars"`
}

// LoadSecurity reads a baseline OHLC series from a JSON file.
func LoadSecurity(path string) (*core.Security, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read security file: %w", err)
	}

	var raw securityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("loader: parse security file: %w", err)
	}

	bars := make([]core.OHLCBar, len(raw.Bars))
	for i, b := range raw.Bars {
		bar, err := parseBar(b)
		if err != nil {
			return nil, fmt.Errorf("loader: bar %d: %w", i, err)
		}
		bars[i] = bar
	}

	return &core.Security{Symbol: raw.Symbol, Bars: bars}, nil
}

func parseBar(b ohlcBarJSON) (core.OHLCBar, error) {
	open, err := decimal.NewFromString(b.Open)
	if err != nil {
		return core.OHLCBar{}, fmt.Errorf("open: %w", err)
	}
	high, err := decimal.NewFromString(b.High)
	if err != nil {
		return core.OHLCBar{}, fmt.Errorf("high: %w", err)
	}
	low, err := decimal.NewFromString(b.Low)
	if err != nil {
		return core.OHLCBar{}, fmt.Errorf("low: %w", err)
	}
	closePx, err := decimal.NewFromString(b.Close)
	if err != nil {
		return core.OHLCBar{}, fmt.Errorf("close: %w", err)
	}
	volume := decimal.Zero
	if b.Volume != "" {
		volume, err = decimal.NewFromString(b.Volume)
		if err != nil {
			return core.OHLCBar{}, fmt.Errorf("volume: %w", err)
		}
	}

	return core.OHLCBar{
		Timestamp: b.Timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, nil
}

// patternJSON mirrors the attributes a PatternTree exposes per spec §6's
// Parser interface: hash, profit-target %, stop-loss %, direction,
// max-bars-back, and an optional category label.
type patternJSON struct {
	Name            string `json:"name"`
	Hash            uint64 `json:"hash"`
	ProfitTargetPct string `json:"profit_target_pct"`
	StopLossPct     string `json:"stop_loss_pct"`
	Direction       string `json:"direction"`
	MaxBarsBack     int    `json:"max_bars_back"`
	Category        string `json:"category"`
}

// LoadPatterns reads a parsed strategy universe from a JSON file: a flat
// array of named patterns, each becoming one core.Strategy.
func LoadPatterns(path string) ([]*core.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read patterns file: %w", err)
	}

	var raw []patternJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("loader: parse patterns file: %w", err)
	}

	strategies := make([]*core.Strategy, len(raw))
	for i, p := range raw {
		strat, err := buildStrategy(p)
		if err != nil {
			return nil, fmt.Errorf("loader: pattern %d (%s): %w", i, p.Name, err)
		}
		strategies[i] = strat
	}

	return strategies, nil
}

func buildStrategy(p patternJSON) (*core.Strategy, error) {
	dir := core.Long
	switch p.Direction {
	case "", "long":
		dir = core.Long
	case "short":
		dir = core.Short
	default:
		return nil, fmt.Errorf("unknown direction %q", p.Direction)
	}

	profitTarget := decimal.Zero
	if p.ProfitTargetPct != "" {
		var err error
		profitTarget, err = decimal.NewFromString(p.ProfitTargetPct)
		if err != nil {
			return nil, fmt.Errorf("profit_target_pct: %w", err)
		}
	}

	stopLoss := decimal.Zero
	if p.StopLossPct != "" {
		var err error
		stopLoss, err = decimal.NewFromString(p.StopLossPct)
		if err != nil {
			return nil, fmt.Errorf("stop_loss_pct: %w", err)
		}
	}

	pattern := core.NewPatternTree(p.Hash, profitTarget, stopLoss, dir, p.MaxBarsBack).WithCategory(p.Category)
	return core.NewStrategy(pattern, p.Name, dir), nil
}

package domain

import (
	"strconv"
	"strings"
	"time"
)

// minuteIntervals are the bar lengths the minutes candle endpoint accepts.
var minuteIntervals = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true, 240: true}

// ValidCandleUnit reports whether unit names a candle endpoint: "days",
// "weeks", "months" or "minutes/{n}" with a supported n.
func ValidCandleUnit(unit string) bool {
	switch unit {
	case "days", "weeks", "months":
		return true
	}
	rest, ok := strings.CutPrefix(unit, "minutes/")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && minuteIntervals[n]
}

// Candle is a single OHLCV bar returned by the candles endpoint. Series are
// ordered newest first, the same order the exchange returns them in.
type Candle struct {
	Market      Market
	TimeUTC     time.Time
	TimeKST     time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64 // trade_price
	AccVolume   float64
	AccPrice    float64
	TimestampMs int64
}

// Closes extracts close prices preserving the newest-first order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

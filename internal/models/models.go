// Package models provides domain models for the portfolio tracker.
package models

import (
	"strings"
	"time"
)

// Symbol is a case-normalized ticker identifier. It is the primary join key
// across holdings, quotes, and charts.
type Symbol string

// NewSymbol normalizes a raw ticker string into a Symbol.
func NewSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

func (s Symbol) String() string {
	return string(s)
}

// InstrumentClass represents the class of a tracked instrument.
type InstrumentClass string

const (
	ClassStock  InstrumentClass = "STOCK"
	ClassOption InstrumentClass = "OPTION"
	ClassCrypto InstrumentClass = "CRYPTOCURRENCY"
)

// Direction represents the sign of a price movement.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionNone Direction = "NONE"
)

// DirectionOf derives a Direction from the sign of a change amount.
func DirectionOf(change float64) Direction {
	switch {
	case change > 0:
		return DirectionUp
	case change < 0:
		return DirectionDown
	default:
		return DirectionNone
	}
}

// IntervalRange represents a requested chart interval.
type IntervalRange string

const (
	RangeOneDay     IntervalRange = "1D"
	RangeFiveDays   IntervalRange = "5D"
	RangeOneMonth   IntervalRange = "1M"
	RangeThreeMonth IntervalRange = "3M"
	RangeSixMonth   IntervalRange = "6M"
	RangeOneYear    IntervalRange = "1Y"
	RangeFiveYears  IntervalRange = "5Y"
	RangeMax        IntervalRange = "MAX"
)

// Holding represents a user's tracked instrument. Holdings are created by
// user action and immutable apart from soft deletion with an undo window.
type Holding struct {
	ID        int64
	Symbol    Symbol
	Class     InstrumentClass
	CreatedAt time.Time
}

// Position represents one purchase lot under a holding. Many positions may
// exist per holding.
type Position struct {
	ID           int64
	HoldingID    int64
	Shares       float64
	Price        float64
	PurchaseDate time.Time
}

// Cost returns the cost of the lot (price paid times share count).
func (p Position) Cost() float64 {
	return p.Price * p.Shares
}

// LongTerm reports whether the lot qualifies as long-term at the given time
// (held for more than one year).
func (p Position) LongTerm(now time.Time) bool {
	return p.PurchaseDate.Before(now.AddDate(-1, 0, 0))
}

// Split represents a corporate action record affecting historical
// share-count interpretation. It is consumed as given, never derived.
type Split struct {
	ID        int64
	HoldingID int64
	Ratio     float64
	Date      time.Time
}

// SessionQuote holds price movement figures for a single trading session.
type SessionQuote struct {
	Price         float64
	ChangeAmount  float64
	ChangePercent float64
	Direction     Direction
}

// Quote represents a live market quote for one symbol. Quotes are transient:
// always freshly fetched or cache-served, never persisted.
type Quote struct {
	Symbol               Symbol
	RegularPrice         float64
	PreviousClose        float64
	Open                 float64
	High                 float64
	Low                  float64
	RegularChangeAmount  float64
	RegularChangePercent float64
	RegularDirection     Direction
	PreMarket            *SessionQuote
	PostMarket           *SessionQuote
	Timestamp            time.Time
}

// ChartPoint is one (date, close) sample of a chart series.
type ChartPoint struct {
	Date  time.Time
	Close float64
}

// Chart represents an ordered close-price series over a requested range.
type Chart struct {
	Symbol Symbol
	Range  IntervalRange
	Points []ChartPoint
}

// Ticker is the merged live-data unit for one symbol. A nil Quote or Chart
// signals a fetch failure for that symbol, not a fatal error for the batch;
// consumers must handle both being nil.
type Ticker struct {
	Symbol Symbol
	Quote  *Quote
	Chart  *Chart
}

// WatchlistEntry represents one watched symbol.
type WatchlistEntry struct {
	ID      int64
	Symbol  Symbol
	AddedAt time.Time
}

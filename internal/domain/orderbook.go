package domain

import "time"

// FeedEventKind names the closed set of upstream event variants.
type FeedEventKind uint8

const (
	FeedEventQuote FeedEventKind = iota + 1
	FeedEventTrade
	FeedEventDepth
)

// String returns the lower-case variant name.
func (k FeedEventKind) String() string {
	switch k {
	case FeedEventQuote:
		return "quote"
	case FeedEventTrade:
		return "trade"
	case FeedEventDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// FeedEvent is an inbound upstream event keyed by instrument id. The set of
// implementations is closed: Quote, Trade and Depth.
type FeedEvent interface {
	Kind() FeedEventKind
	Instrument() string
	feedEvent()
}

// Quote is a top-of-book / last-price update.
type Quote struct {
	InstrumentID string    `json:"id"`
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"lastPrice"`
	BestBid      float64   `json:"bestBid"`
	BestAsk      float64   `json:"bestAsk"`
	Change       float64   `json:"change"`
	Volume       float64   `json:"volume"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Quote) Kind() FeedEventKind { return FeedEventQuote }
func (q Quote) Instrument() string { return q.InstrumentID }
func (Quote) feedEvent() {}

// TradeSide is the aggressor side of a trade print.
type TradeSide int

const (
	TradeBuy  TradeSide = 0
	TradeSell TradeSide = 1
)

// TradePrint is a single execution.
type TradePrint struct {
	Price     float64
	Volume    float64
	Side      TradeSide
	Timestamp time.Time
}

// Trade is a batch of trade prints for one instrument.
type Trade struct {
	InstrumentID string
	Prints       []TradePrint
}

func (Trade) Kind() FeedEventKind { return FeedEventTrade }
func (t Trade) Instrument() string { return t.InstrumentID }
func (Trade) feedEvent() {}

// BookSide classifies a depth entry.
type BookSide uint8

const (
	BookSideNone BookSide = iota
	BookSideBid
	BookSideAsk
)

// DepthLevel is one order-book entry from a depth batch.
type DepthLevel struct {
	Side      BookSide
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Depth is an order-book batch for one instrument.
type Depth struct {
	InstrumentID string
	Levels       []DepthLevel
}

func (Depth) Kind() FeedEventKind { return FeedEventDepth }
func (d Depth) Instrument() string { return d.InstrumentID }
func (Depth) feedEvent() {}

// NetVolume returns the bid volume minus the ask volume of the batch.
// Entries that are neither bid nor ask do not contribute.
func (d Depth) NetVolume() float64 {
	var net float64
	for _, lvl := range d.Levels {
		switch lvl.Side {
		case BookSideBid:
			net += lvl.Volume
		case BookSideAsk:
			net -= lvl.Volume
		}
	}
	return net
}

package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

// The market hub speaks the SignalR JSON hub protocol: every record is a
// JSON object terminated by 0x1e.
const recordSeparator = 0x1e

const (
	messageInvocation = 1
	messagePing       = 6
	messageClose      = 7
)

// Hub method and event names.
const (
	targetQuote = "GatewayQuote"
	targetTrade = "GatewayTrade"
	targetDepth = "GatewayDepth"
)

var (
	subscribeMethods = []string{
		"SubscribeContractQuotes",
		"SubscribeContractTrades",
		"SubscribeContractMarketDepth",
	}
	unsubscribeMethods = []string{
		"UnsubscribeContractQuotes",
		"UnsubscribeContractTrades",
		"UnsubscribeContractMarketDepth",
	}
)

// DOM entry types reported in depth payloads.
const (
	domAsk        = 1
	domBid        = 2
	domBestAsk    = 3
	domBestBid    = 4
	domNewBestBid = 9
	domNewBestAsk = 10
)

func handshakeRecord() []byte {
	return append([]byte(`{"protocol":"json","version":1}`), recordSeparator)
}

// pingRecord is the keep-alive record. The hub drops clients it has not
// heard from within its client timeout.
func pingRecord() []byte {
	return append([]byte(`{"type":6}`), recordSeparator)
}

type invocation struct {
	Type      int    `json:"type"`
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

// encodeInvocation builds a non-blocking invocation record.
func encodeInvocation(target string, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(invocation{Type: messageInvocation, Target: target, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("feed: encode %s: %w", target, err)
	}
	return append(b, recordSeparator), nil
}

// splitRecords cuts a frame into its records. Empty records are dropped.
func splitRecords(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{recordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
	Error     string            `json:"error"`
}

func decodeMessage(record []byte) (hubMessage, error) {
	var msg hubMessage
	if err := json.Unmarshal(record, &msg); err != nil {
		return hubMessage{}, fmt.Errorf("feed: decode record: %w: %w", domain.ErrParse, err)
	}
	return msg, nil
}

type quotePayload struct {
	Symbol      string    `json:"symbol"`
	SymbolName  string    `json:"symbolName"`
	LastPrice   float64   `json:"lastPrice"`
	BestBid     float64   `json:"bestBid"`
	BestAsk     float64   `json:"bestAsk"`
	Change      float64   `json:"change"`
	Volume      float64   `json:"volume"`
	LastUpdated time.Time `json:"lastUpdated"`
	Timestamp   time.Time `json:"timestamp"`
}

type tradePayload struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Type      int       `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type depthPayload struct {
	Type      int       `json:"type"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// decodeEvent turns an invocation into a feed event. Unknown targets
// return ok == false without an error.
func decodeEvent(msg hubMessage) (ev domain.FeedEvent, ok bool, err error) {
	switch msg.Target {
	case targetQuote, targetTrade, targetDepth:
	default:
		return nil, false, nil
	}

	if len(msg.Arguments) < 2 {
		return nil, false, fmt.Errorf("feed: %s: want 2 arguments, got %d: %w", msg.Target, len(msg.Arguments), domain.ErrParse)
	}
	var contractID string
	if err := json.Unmarshal(msg.Arguments[0], &contractID); err != nil || contractID == "" {
		return nil, false, fmt.Errorf("feed: %s: contract id: %w", msg.Target, domain.ErrParse)
	}
	payload := msg.Arguments[1]

	switch msg.Target {
	case targetQuote:
		var q quotePayload
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, false, fmt.Errorf("feed: %s %s: %w: %w", msg.Target, contractID, domain.ErrParse, err)
		}
		updated := q.LastUpdated
		if updated.IsZero() {
			updated = q.Timestamp
		}
		return domain.Quote{
			InstrumentID: contractID,
			Symbol:       q.Symbol,
			LastPrice:    q.LastPrice,
			BestBid:      q.BestBid,
			BestAsk:      q.BestAsk,
			Change:       q.Change,
			Volume:       q.Volume,
			UpdatedAt:    updated,
		}, true, nil

	case targetTrade:
		var raw []tradePayload
		if err := decodeList(payload, &raw); err != nil {
			return nil, false, fmt.Errorf("feed: %s %s: %w: %w", msg.Target, contractID, domain.ErrParse, err)
		}
		t := domain.Trade{InstrumentID: contractID, Prints: make([]domain.TradePrint, 0, len(raw))}
		for _, p := range raw {
			t.Prints = append(t.Prints, domain.TradePrint{
				Price:     p.Price,
				Volume:    p.Volume,
				Side:      domain.TradeSide(p.Type),
				Timestamp: p.Timestamp,
			})
		}
		return t, true, nil

	default:
		var raw []depthPayload
		if err := decodeList(payload, &raw); err != nil {
			return nil, false, fmt.Errorf("feed: %s %s: %w: %w", msg.Target, contractID, domain.ErrParse, err)
		}
		d := domain.Depth{InstrumentID: contractID, Levels: make([]domain.DepthLevel, 0, len(raw))}
		for _, p := range raw {
			d.Levels = append(d.Levels, domain.DepthLevel{
				Side:      classifyDOM(p.Type),
				Price:     p.Price,
				Volume:    p.Volume,
				Timestamp: p.Timestamp,
			})
		}
		return d, true, nil
	}
}

// decodeList accepts either a JSON array or a single object.
func decodeList[T any](data json.RawMessage, out *[]T) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*out = []T{one}
	return nil
}

func classifyDOM(t int) domain.BookSide {
	switch t {
	case domBid, domBestBid, domNewBestBid:
		return domain.BookSideBid
	case domAsk, domBestAsk, domNewBestAsk:
		return domain.BookSideAsk
	default:
		return domain.BookSideNone
	}
}

// NetVolume returns Σbid − Σask over a depth batch.
func NetVolume(d domain.Depth) float64 {
	return d.NetVolume()
}

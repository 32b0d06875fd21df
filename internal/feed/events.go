package feed

import "github.com/alanyoungcy/inago/internal/domain"

// EventHandler receives decoded upstream events. Methods are called from
// the adapter's read goroutine, one event at a time. They must not call
// Adapter.Close.
type EventHandler interface {
	OnQuote(domain.Quote)
	OnTrade(domain.Trade)
	OnDepth(domain.Depth)
}

// HandlerFuncs adapts optional functions to EventHandler.
type HandlerFuncs struct {
	Quote func(domain.Quote)
	Trade func(domain.Trade)
	Depth func(domain.Depth)
}

func (h HandlerFuncs) OnQuote(q domain.Quote) {
	if h.Quote != nil {
		h.Quote(q)
	}
}

func (h HandlerFuncs) OnTrade(t domain.Trade) {
	if h.Trade != nil {
		h.Trade(t)
	}
}

func (h HandlerFuncs) OnDepth(d domain.Depth) {
	if h.Depth != nil {
		h.Depth(d)
	}
}

// Dispatch routes ev to the matching handler method.
func Dispatch(ev domain.FeedEvent, h EventHandler) {
	switch e := ev.(type) {
	case domain.Quote:
		h.OnQuote(e)
	case domain.Trade:
		h.OnTrade(e)
	case domain.Depth:
		h.OnDepth(e)
	}
}

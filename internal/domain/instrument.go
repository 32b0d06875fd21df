package domain

import "time"

// InstrumentSpec is one static catalog entry. It never changes while the
// process runs.
type InstrumentSpec struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	BasePrice  float64 `json:"basePrice"`
	Volatility float64 `json:"volatility"`
}

// Contract is the public catalog view of an instrument sent to consumers.
type Contract struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contract returns the public catalog view of the spec.
func (s InstrumentSpec) Contract() Contract {
	return Contract{ID: s.ID, Name: s.Name}
}

// Trend is the direction of the simulated random walk.
type Trend int

const (
	TrendDown Trend = -1
	TrendUp   Trend = 1
)

// Flip returns the opposite trend.
func (t Trend) Flip() Trend {
	return -t
}

// Tick is an immutable snapshot of one instrument after a generation cycle.
type Tick struct {
	InstrumentID     string    `json:"id"`
	Name             string    `json:"name"`
	Price            float64   `json:"price"`
	CumulativeVolume int64     `json:"cumulativeVolume"`
	IsPositive       bool      `json:"isPositive"`
	GeneratedAt      time.Time `json:"-"`
}

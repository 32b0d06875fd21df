// Package market owns the instrument registry and the simulated tick
// generator that drives it.
package market

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/inago/internal/domain"
)

// CatalogSource loads the static instrument catalog at process start.
type CatalogSource interface {
	Load(ctx context.Context) ([]domain.InstrumentSpec, error)
}

// DefaultCatalog returns the built-in futures catalog.
func DefaultCatalog() []domain.InstrumentSpec {
	return []domain.InstrumentSpec{
		{ID: "ES", Name: "E-mini S&P 500", BasePrice: 5200, Volatility: 5},
		{ID: "MSE", Name: "Micro E-mini S&P 500", BasePrice: 5200, Volatility: 5},
		{ID: "NQ", Name: "E-mini NASDAQ-100", BasePrice: 18500, Volatility: 20},
		{ID: "MNQ", Name: "Micro E-mini NASDAQ-100", BasePrice: 18500, Volatility: 20},
		{ID: "CL", Name: "Crude Oil", BasePrice: 75, Volatility: 0.5},
		{ID: "MCL", Name: "Micro Crude Oil", BasePrice: 75, Volatility: 0.5},
		{ID: "GC", Name: "Gold", BasePrice: 2300, Volatility: 3},
		{ID: "MGC", Name: "Micro Gold", BasePrice: 2300, Volatility: 3},
	}
}

// StaticCatalog is a CatalogSource backed by an in-memory list.
type StaticCatalog struct {
	specs []domain.InstrumentSpec
}

// NewStaticCatalog returns a source serving a copy of specs. A nil or empty
// list serves DefaultCatalog.
func NewStaticCatalog(specs []domain.InstrumentSpec) *StaticCatalog {
	if len(specs) == 0 {
		specs = DefaultCatalog()
	}
	out := make([]domain.InstrumentSpec, len(specs))
	copy(out, specs)
	return &StaticCatalog{specs: out}
}

// Load returns a copy of the configured catalog.
func (c *StaticCatalog) Load(_ context.Context) ([]domain.InstrumentSpec, error) {
	out := make([]domain.InstrumentSpec, len(c.specs))
	copy(out, c.specs)
	return out, nil
}

// ValidateCatalog rejects catalogs the generator cannot run: empty lists,
// blank or duplicate ids, negative volatility and non-finite prices.
func ValidateCatalog(specs []domain.InstrumentSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("market: catalog is empty: %w", domain.ErrInvalidInput)
	}

	var errs []string
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			errs = append(errs, fmt.Sprintf("entry %d: id must not be empty", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Sprintf("entry %d: duplicate id %q", i, id))
		}
		seen[id] = true
		if s.Volatility < 0 || math.IsNaN(s.Volatility) || math.IsInf(s.Volatility, 0) {
			errs = append(errs, fmt.Sprintf("%s: volatility must be a finite value >= 0", id))
		}
		if math.IsNaN(s.BasePrice) || math.IsInf(s.BasePrice, 0) {
			errs = append(errs, fmt.Sprintf("%s: base price must be finite", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("market: invalid catalog (%s): %w", strings.Join(errs, "; "), domain.ErrInvalidInput)
	}
	return nil
}

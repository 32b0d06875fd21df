package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/inago/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL. Instruments
// are listed in their stored position order.
type CatalogStore struct {
	pool *pgxpool.Pool
	seed []domain.InstrumentSpec
}

// NewCatalogStore creates a new CatalogStore backed by the given pool. seed
// is written to an empty table on the first Load.
func NewCatalogStore(pool *pgxpool.Pool, seed []domain.InstrumentSpec) *CatalogStore {
	return &CatalogStore{pool: pool, seed: seed}
}

// ListInstruments returns every stored instrument.
func (s *CatalogStore) ListInstruments(ctx context.Context) ([]domain.InstrumentSpec, error) {
	const query = `SELECT id, name, base_price, volatility FROM instruments ORDER BY position, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var specs []domain.InstrumentSpec
	for rows.Next() {
		var spec domain.InstrumentSpec
		if err := rows.Scan(&spec.ID, &spec.Name, &spec.BasePrice, &spec.Volatility); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list instruments rows: %w", err)
	}
	return specs, nil
}

// UpsertInstrument inserts spec or updates the stored row with the same id.
// New rows are appended after the existing ones.
func (s *CatalogStore) UpsertInstrument(ctx context.Context, spec domain.InstrumentSpec) error {
	const query = `
		INSERT INTO instruments (id, name, base_price, volatility, position)
		VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(position), 0) + 1 FROM instruments))
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			base_price = EXCLUDED.base_price,
			volatility = EXCLUDED.volatility,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, spec.ID, spec.Name, spec.BasePrice, spec.Volatility); err != nil {
		return fmt.Errorf("postgres: upsert instrument %s: %w", spec.ID, err)
	}
	return nil
}

// Load implements market.CatalogSource. An empty table is seeded first so a
// fresh database starts with a usable catalog.
func (s *CatalogStore) Load(ctx context.Context) ([]domain.InstrumentSpec, error) {
	specs, err := s.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if len(specs) > 0 || len(s.seed) == 0 {
		return specs, nil
	}
	for _, spec := range s.seed {
		if err := s.UpsertInstrument(ctx, spec); err != nil {
			return nil, fmt.Errorf("postgres: seed catalog: %w", err)
		}
	}
	return s.ListInstruments(ctx)
}

// Compile-time interface check.
var _ domain.CatalogStore = (*CatalogStore)(nil)

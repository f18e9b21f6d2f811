package positions

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trigger-vault-go/internal/models"
)

// Holder identifies one tenant with an open position in a symbol.
type Holder struct {
	UserID   string
	Exchange models.Exchange
	Quantity float64
}

// Store is the narrow position contract the trigger executor depends on.
type Store interface {
	// HoldersOf returns the distinct tenants with a nonzero open position in
	// symbol, optionally scoped to one exchange (empty string means all).
	HoldersOf(symbol string, exchange models.Exchange) ([]Holder, error)

	// Reduce subtracts quantity from the tenant's open position in symbol on
	// one exchange, closing it when nothing remains.
	Reduce(userID, symbol string, exchange models.Exchange, quantity float64) error
}

// GormStore is the default Store backed by the service database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a position store backed by db.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.Named("positions")}
}

// HoldersOf returns every tenant holding symbol, one Holder per
// (user, exchange). Multiple open rows on the same venue are summed; holdings
// on different venues stay separate, since each must be sold with that venue's
// credential against that venue's balance.
func (s *GormStore) HoldersOf(symbol string, exchange models.Exchange) ([]Holder, error) {
	q := s.db.Where("symbol = ? AND open = ? AND quantity > 0", symbol, true)
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}

	var rows []models.Position
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query holders of %s: %w", symbol, err)
	}

	index := make(map[string]int)
	holders := make([]Holder, 0, len(rows))
	for _, p := range rows {
		key := p.UserID + "|" + string(p.Exchange)
		if i, ok := index[key]; ok {
			holders[i].Quantity += p.Quantity
			continue
		}
		index[key] = len(holders)
		holders = append(holders, Holder{
			UserID:   p.UserID,
			Exchange: p.Exchange,
			Quantity: p.Quantity,
		})
	}
	return holders, nil
}

// Reduce subtracts an executed sell from the tenant's oldest open rows on the
// given exchange first.
func (s *GormStore) Reduce(userID, symbol string, exchange models.Exchange, quantity float64) error {
	var rows []models.Position
	if err := s.db.Where("user_id = ? AND symbol = ? AND exchange = ? AND open = ?", userID, symbol, exchange, true).
		Order("id").Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load positions for reduce: %w", err)
	}

	remaining := quantity
	for i := range rows {
		if remaining <= 0 {
			break
		}
		p := &rows[i]
		take := p.Quantity
		if take > remaining {
			take = remaining
		}
		p.Quantity -= take
		remaining -= take
		if p.Quantity <= 1e-12 {
			p.Quantity = 0
			p.Open = false
		}
		if err := s.db.Save(p).Error; err != nil {
			return fmt.Errorf("failed to save reduced position: %w", err)
		}
	}

	if remaining > 0 {
		s.logger.Warn("Sell quantity exceeded recorded position",
			zap.String("user_id", userID),
			zap.String("symbol", symbol),
			zap.String("exchange", string(exchange)),
			zap.Float64("unaccounted", remaining))
	}
	return nil
}

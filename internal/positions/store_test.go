package positions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trigger-vault-go/internal/models"
)

func setupStore(t *testing.T) (*GormStore, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.Position{})
	assert.NoError(t, err)

	return NewGormStore(db, zap.NewNop()), db
}

func TestHoldersOf(t *testing.T) {
	store, db := setupStore(t)

	db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0})
	db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 0.5})
	db.Create(&models.Position{UserID: "b", Symbol: "BTCUSDT", Exchange: models.ExchangeOKX, Quantity: 2.0})
	db.Create(&models.Position{UserID: "c", Symbol: "ETHUSDT", Exchange: models.ExchangeBinance, Quantity: 3.0})
	db.Create(&models.Position{UserID: "d", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0, Open: false})

	t.Run("AllExchanges", func(t *testing.T) {
		holders, err := store.HoldersOf("BTCUSDT", "")
		assert.NoError(t, err)
		assert.Len(t, holders, 2)
		// Two rows for the same user collapse into one holder with summed quantity.
		assert.Equal(t, "a", holders[0].UserID)
		assert.Equal(t, 1.5, holders[0].Quantity)
		assert.Equal(t, "b", holders[1].UserID)
	})

	t.Run("ScopedToExchange", func(t *testing.T) {
		holders, err := store.HoldersOf("BTCUSDT", models.ExchangeOKX)
		assert.NoError(t, err)
		assert.Len(t, holders, 1)
		assert.Equal(t, "b", holders[0].UserID)
	})

	t.Run("NoHolders", func(t *testing.T) {
		holders, err := store.HoldersOf("XRPUSDT", "")
		assert.NoError(t, err)
		assert.Empty(t, holders)
	})
}

func TestHoldersOf_SameUserAcrossExchanges(t *testing.T) {
	// One user holding the same symbol on two venues must come back as two
	// holders, each with its own exchange and quantity. Merging them would
	// dispatch the combined quantity against a single venue.
	store, db := setupStore(t)

	db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0})
	db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeOKX, Quantity: 2.0})

	holders, err := store.HoldersOf("BTCUSDT", "")
	assert.NoError(t, err)
	assert.Len(t, holders, 2)

	byExchange := map[models.Exchange]float64{}
	for _, h := range holders {
		assert.Equal(t, "a", h.UserID)
		byExchange[h.Exchange] = h.Quantity
	}
	assert.Equal(t, 1.0, byExchange[models.ExchangeBinance])
	assert.Equal(t, 2.0, byExchange[models.ExchangeOKX])
}

func TestReduce(t *testing.T) {
	t.Run("PartialReduce", func(t *testing.T) {
		store, db := setupStore(t)
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 2.0})

		err := store.Reduce("a", "BTCUSDT", models.ExchangeBinance, 0.5)
		assert.NoError(t, err)

		var p models.Position
		db.First(&p, "user_id = ?", "a")
		assert.Equal(t, 1.5, p.Quantity)
		assert.True(t, p.Open)
	})

	t.Run("FullReduceClosesPosition", func(t *testing.T) {
		store, db := setupStore(t)
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 2.0})

		err := store.Reduce("a", "BTCUSDT", models.ExchangeBinance, 2.0)
		assert.NoError(t, err)

		var p models.Position
		db.First(&p, "user_id = ?", "a")
		assert.Equal(t, 0.0, p.Quantity)
		assert.False(t, p.Open)
	})

	t.Run("ReduceSpansRows", func(t *testing.T) {
		store, db := setupStore(t)
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0})
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0})

		err := store.Reduce("a", "BTCUSDT", models.ExchangeBinance, 1.5)
		assert.NoError(t, err)

		holders, err := store.HoldersOf("BTCUSDT", "")
		assert.NoError(t, err)
		assert.Len(t, holders, 1)
		assert.Equal(t, 0.5, holders[0].Quantity)
	})

	t.Run("ScopedToExchange", func(t *testing.T) {
		store, db := setupStore(t)
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeBinance, Quantity: 1.0})
		db.Create(&models.Position{UserID: "a", Symbol: "BTCUSDT", Exchange: models.ExchangeOKX, Quantity: 2.0})

		err := store.Reduce("a", "BTCUSDT", models.ExchangeBinance, 1.0)
		assert.NoError(t, err)

		// The fill happened on Binance; the OKX position is untouched.
		var p models.Position
		db.First(&p, "user_id = ? AND exchange = ?", "a", models.ExchangeOKX)
		assert.Equal(t, 2.0, p.Quantity)
		assert.True(t, p.Open)
	})
}

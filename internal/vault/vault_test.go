package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trigger-vault-go/internal/models"
)

// setupVault creates a vault over a fresh in-memory database.
func setupVault(t *testing.T) (*Vault, *gorm.DB) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.Credential{})
	assert.NoError(t, err)

	enc, err := NewEncryptor(testKey(0x42))
	assert.NoError(t, err)

	return NewVault(db, enc, 1, zap.NewNop()), db
}

func boolPtr(b bool) *bool { return &b }

func TestVault_UpsertIsIdempotent(t *testing.T) {
	// Arrange
	v, db := setupVault(t)

	// Act: connect, then reconnect the same (user, exchange) with new keys.
	first, err := v.Upsert("user-1", models.ExchangeBinance,
		Keys{APIKey: "key-a", SecretKey: "secret-a"},
		UpsertOptions{Label: "main", ActiveTrading: boolPtr(true)})
	assert.NoError(t, err)

	err = v.SetActive("user-1", models.ExchangeBinance, false)
	assert.NoError(t, err)

	second, err := v.Upsert("user-1", models.ExchangeBinance,
		Keys{APIKey: "key-b", SecretKey: "secret-b"}, UpsertOptions{})
	assert.NoError(t, err)

	// Assert: exactly one row, second call's fields win, reactivated.
	var count int64
	db.Model(&models.Credential{}).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
	assert.True(t, second.ActiveTrading) // unchanged when not supplied

	keys, err := v.GetDecrypted("user-1", models.ExchangeBinance)
	assert.NoError(t, err)
	assert.Equal(t, "key-b", keys.APIKey)
	assert.Equal(t, "secret-b", keys.SecretKey)
}

func TestVault_UpsertResolvesExistingRowThroughConflict(t *testing.T) {
	// A row inserted out-of-band must not make the upsert surface a
	// uniqueness violation; the insert resolves into an update.
	v, db := setupVault(t)

	enc, err := NewEncryptor(testKey(0x42))
	assert.NoError(t, err)
	encKey, err := enc.Encrypt("stale-key")
	assert.NoError(t, err)
	encSecret, err := enc.Encrypt("stale-secret")
	assert.NoError(t, err)

	err = db.Create(&models.Credential{
		UserID:             "user-1",
		Exchange:           models.ExchangeBinance,
		EncryptedAPIKey:    encKey,
		EncryptedSecretKey: encSecret,
		KeyVersion:         1,
		IsActive:           true,
		Label:              "existing",
	}).Error
	assert.NoError(t, err)

	cred, err := v.Upsert("user-1", models.ExchangeBinance,
		Keys{APIKey: "fresh-key", SecretKey: "fresh-secret"}, UpsertOptions{})
	assert.NoError(t, err)

	var count int64
	db.Model(&models.Credential{}).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, "existing", cred.Label) // untouched when not supplied

	keys, err := v.GetDecrypted("user-1", models.ExchangeBinance)
	assert.NoError(t, err)
	assert.Equal(t, "fresh-key", keys.APIKey)
}

func TestVault_UpsertSeparateRowsPerExchange(t *testing.T) {
	v, db := setupVault(t)

	_, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k1", SecretKey: "s1"}, UpsertOptions{})
	assert.NoError(t, err)
	_, err = v.Upsert("user-1", models.ExchangeOKX, Keys{APIKey: "k2", SecretKey: "s2", Passphrase: "p2"}, UpsertOptions{})
	assert.NoError(t, err)

	var count int64
	db.Model(&models.Credential{}).Count(&count)
	assert.Equal(t, int64(2), count)

	keys, err := v.GetDecrypted("user-1", models.ExchangeOKX)
	assert.NoError(t, err)
	assert.Equal(t, "p2", keys.Passphrase)
}

func TestVault_UpsertRejectsUnknownExchange(t *testing.T) {
	v, _ := setupVault(t)

	_, err := v.Upsert("user-1", "KRAKEN", Keys{APIKey: "k", SecretKey: "s"}, UpsertOptions{})
	assert.Error(t, err)
}

func TestVault_GetDecrypted(t *testing.T) {
	t.Run("MissingReturnsNil", func(t *testing.T) {
		v, _ := setupVault(t)

		keys, err := v.GetDecrypted("nobody", models.ExchangeBinance)
		assert.NoError(t, err)
		assert.Nil(t, keys)
	})

	t.Run("InactiveReturnsNil", func(t *testing.T) {
		v, _ := setupVault(t)
		_, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k", SecretKey: "s"}, UpsertOptions{})
		assert.NoError(t, err)

		err = v.SetActive("user-1", models.ExchangeBinance, false)
		assert.NoError(t, err)

		keys, err := v.GetDecrypted("user-1", models.ExchangeBinance)
		assert.NoError(t, err)
		assert.Nil(t, keys)
	})

	t.Run("WrongKeyIsHardError", func(t *testing.T) {
		// A key/ciphertext mismatch must never return garbage keys.
		v, db := setupVault(t)
		_, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k", SecretKey: "s"}, UpsertOptions{})
		assert.NoError(t, err)

		otherEnc, err := NewEncryptor(testKey(0x99))
		assert.NoError(t, err)
		other := NewVault(db, otherEnc, 1, zap.NewNop())

		keys, err := other.GetDecrypted("user-1", models.ExchangeBinance)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
		assert.Nil(t, keys)
	})
}

func TestVault_ListActiveTrading(t *testing.T) {
	v, _ := setupVault(t)

	_, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k1", SecretKey: "s1"}, UpsertOptions{ActiveTrading: boolPtr(true)})
	assert.NoError(t, err)
	_, err = v.Upsert("user-2", models.ExchangeBinance, Keys{APIKey: "k2", SecretKey: "s2"}, UpsertOptions{ActiveTrading: boolPtr(true)})
	assert.NoError(t, err)
	_, err = v.Upsert("user-3", models.ExchangeBinance, Keys{APIKey: "k3", SecretKey: "s3"}, UpsertOptions{})
	assert.NoError(t, err)

	// user-2 is flagged but soft-disabled; it must not appear.
	err = v.SetActive("user-2", models.ExchangeBinance, false)
	assert.NoError(t, err)

	active, err := v.ListActiveTrading()
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "user-1", active[0].UserID)
	assert.Equal(t, "k1", active[0].Keys.APIKey)
}

func TestVault_RemoveExcludesFromActiveTrading(t *testing.T) {
	v, db := setupVault(t)

	_, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k1", SecretKey: "s1"}, UpsertOptions{ActiveTrading: boolPtr(true)})
	assert.NoError(t, err)

	err = v.Remove("user-1", models.ExchangeBinance)
	assert.NoError(t, err)

	// Hard delete: the row is gone, not soft-deleted.
	var count int64
	db.Unscoped().Model(&models.Credential{}).Count(&count)
	assert.Equal(t, int64(0), count)

	active, err := v.ListActiveTrading()
	assert.NoError(t, err)
	assert.Empty(t, active)

	keys, err := v.GetDecrypted("user-1", models.ExchangeBinance)
	assert.NoError(t, err)
	assert.Nil(t, keys)
}

func TestVault_RemoveMissing(t *testing.T) {
	v, _ := setupVault(t)

	err := v.Remove("nobody", models.ExchangeBinance)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestVault_KeyVersionFollowsVaultOnReconnect(t *testing.T) {
	v, db := setupVault(t)

	first, err := v.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k", SecretKey: "s"}, UpsertOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, first.KeyVersion)

	// A vault running with a rotated key stamps the new version on reconnect.
	enc, err := NewEncryptor(testKey(0x42))
	assert.NoError(t, err)
	rotated := NewVault(db, enc, 2, zap.NewNop())

	second, err := rotated.Upsert("user-1", models.ExchangeBinance, Keys{APIKey: "k", SecretKey: "s"}, UpsertOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, second.KeyVersion)
}

package vault

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trigger-vault-go/internal/models"
)

// Keys is the plaintext credential triple handed to a vault write or returned
// by a decrypting read. Instances are short-lived: callers consume them within
// one dispatch and must not retain or log them.
type Keys struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// ActiveCredential pairs decrypted keys with their owner, as returned by the
// startup warm-up listing.
type ActiveCredential struct {
	UserID   string
	Exchange models.Exchange
	Keys     Keys
}

// Vault encrypts, stores and retrieves per-user per-exchange API credentials.
// It is the only component that touches ciphertext or the encryption key.
type Vault struct {
	db         *gorm.DB
	enc        *Encryptor
	keyVersion int
	logger     *zap.Logger
}

// NewVault creates a credential vault backed by db, encrypting with enc.
func NewVault(db *gorm.DB, enc *Encryptor, keyVersion int, logger *zap.Logger) *Vault {
	if keyVersion < 1 {
		keyVersion = 1
	}
	return &Vault{
		db:         db,
		enc:        enc,
		keyVersion: keyVersion,
		logger:     logger.Named("vault"),
	}
}

// UpsertOptions carries the optional fields of an upsert.
type UpsertOptions struct {
	Label         string
	ActiveTrading *bool
}

// Upsert stores keys for (userID, exchange). If a row already exists its
// encrypted fields are overwritten and it is reactivated, so reconnecting an
// exchange never produces a duplicate-key error. Returns the stored record
// with ciphertext fields populated; it is never decrypted on this path.
func (v *Vault) Upsert(userID string, exchange models.Exchange, keys Keys, opts UpsertOptions) (*models.Credential, error) {
	if !exchange.Valid() {
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}

	encKey, err := v.enc.Encrypt(keys.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}
	encSecret, err := v.enc.Encrypt(keys.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret key: %w", err)
	}
	var encPassphrase string
	if keys.Passphrase != "" {
		encPassphrase, err = v.enc.Encrypt(keys.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt passphrase: %w", err)
		}
	}

	cred := models.Credential{
		UserID:              userID,
		Exchange:            exchange,
		EncryptedAPIKey:     encKey,
		EncryptedSecretKey:  encSecret,
		EncryptedPassphrase: encPassphrase,
		KeyVersion:          v.keyVersion,
		IsActive:            true,
		Label:               opts.Label,
	}
	if opts.ActiveTrading != nil {
		cred.ActiveTrading = *opts.ActiveTrading
	}

	// On conflict with the (user_id, exchange) unique index the insert turns
	// into an update that overwrites the encrypted fields and forces the row
	// active. Label and active_trading are only assigned when supplied, so a
	// bare reconnect leaves them untouched.
	assignCols := []string{
		"encrypted_api_key", "encrypted_secret_key", "encrypted_passphrase",
		"key_version", "is_active", "updated_at",
	}
	if opts.Label != "" {
		assignCols = append(assignCols, "label")
	}
	if opts.ActiveTrading != nil {
		assignCols = append(assignCols, "active_trading")
	}

	err = v.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "exchange"}},
		DoUpdates: clause.AssignmentColumns(assignCols),
	}).Create(&cred).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}

	// Re-read the stored row; on the conflict path Create does not load the
	// existing ID or timestamps.
	var stored models.Credential
	if err := v.db.Where("user_id = ? AND exchange = ?", userID, exchange).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to load stored credential: %w", err)
	}

	v.logger.Info("Credential stored",
		zap.String("user_id", userID),
		zap.String("exchange", string(exchange)),
		zap.Int("key_version", stored.KeyVersion))
	return &stored, nil
}

// GetDecrypted returns the decrypted keys for (userID, exchange), or nil if no
// active credential exists. A decryption failure is returned as a hard error:
// trading on garbage keys against a live exchange is worse than failing the
// tenant outright.
func (v *Vault) GetDecrypted(userID string, exchange models.Exchange) (*Keys, error) {
	var cred models.Credential
	err := v.db.Where("user_id = ? AND exchange = ? AND is_active = ?", userID, exchange, true).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	return v.decrypt(&cred)
}

// ListActiveTrading bulk-decrypts every credential flagged for live trading,
// used to warm up order-monitoring connections at startup. Any undecryptable
// row fails the whole listing; a partially warmed-up set would hide a key
// misconfiguration until trigger time.
func (v *Vault) ListActiveTrading() ([]ActiveCredential, error) {
	var creds []models.Credential
	if err := v.db.Where("is_active = ? AND active_trading = ?", true, true).
		Order("id").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to list active trading credentials: %w", err)
	}

	out := make([]ActiveCredential, 0, len(creds))
	for i := range creds {
		keys, err := v.decrypt(&creds[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ActiveCredential{
			UserID:   creds[i].UserID,
			Exchange: creds[i].Exchange,
			Keys:     *keys,
		})
	}
	return out, nil
}

// SetActive soft-enables or soft-disables a credential.
func (v *Vault) SetActive(userID string, exchange models.Exchange, active bool) error {
	return v.updateColumns(userID, exchange, map[string]interface{}{"is_active": active})
}

// SetActiveTrading flags or unflags a credential for live order monitoring and
// trigger dispatch.
func (v *Vault) SetActiveTrading(userID string, exchange models.Exchange, activeTrading bool) error {
	return v.updateColumns(userID, exchange, map[string]interface{}{"active_trading": activeTrading})
}

// UpdateLabel renames a stored credential.
func (v *Vault) UpdateLabel(userID string, exchange models.Exchange, label string) error {
	return v.updateColumns(userID, exchange, map[string]interface{}{"label": label})
}

// Remove hard-deletes a credential. There is no cached active-trading view to
// invalidate; every read goes to the store, so a removed row is gone for all
// subsequent reads.
func (v *Vault) Remove(userID string, exchange models.Exchange) error {
	res := v.db.Unscoped().
		Where("user_id = ? AND exchange = ?", userID, exchange).
		Delete(&models.Credential{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	v.logger.Info("Credential removed",
		zap.String("user_id", userID),
		zap.String("exchange", string(exchange)))
	return nil
}

// List returns the stored (still encrypted) credentials for a user.
func (v *Vault) List(userID string) ([]models.Credential, error) {
	var creds []models.Credential
	if err := v.db.Where("user_id = ?", userID).Order("id").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

func (v *Vault) decrypt(cred *models.Credential) (*Keys, error) {
	apiKey, err := v.enc.Decrypt(cred.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("credential %s/%s: %w", cred.UserID, cred.Exchange, err)
	}
	secretKey, err := v.enc.Decrypt(cred.EncryptedSecretKey)
	if err != nil {
		return nil, fmt.Errorf("credential %s/%s: %w", cred.UserID, cred.Exchange, err)
	}
	keys := Keys{APIKey: apiKey, SecretKey: secretKey}
	if cred.EncryptedPassphrase != "" {
		keys.Passphrase, err = v.enc.Decrypt(cred.EncryptedPassphrase)
		if err != nil {
			return nil, fmt.Errorf("credential %s/%s: %w", cred.UserID, cred.Exchange, err)
		}
	}
	return &keys, nil
}

func (v *Vault) updateColumns(userID string, exchange models.Exchange, cols map[string]interface{}) error {
	res := v.db.Model(&models.Credential{}).
		Where("user_id = ? AND exchange = ?", userID, exchange).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

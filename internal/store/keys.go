package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"torn-market-tracker/internal/models"

	"gorm.io/gorm"
)

// ErrNoCipher is returned when a key is stored without an encryption key
// configured.
var ErrNoCipher = errors.New("api key encryption is not configured")

// Cipher seals API keys before they are written.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Fingerprint(plaintext string) string
}

// UseCipher enables storing API keys.
func (s *Store) UseCipher(c Cipher) {
	s.cipher = c
}

// ActiveKeys returns the active keys still encrypted; callers decrypt.
func (s *Store) ActiveKeys(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&keys).Error
	return keys, err
}

func (s *Store) ListKeys(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.WithContext(ctx).Order("id").Find(&keys).Error
	return keys, err
}

// CreateKey encrypts key.Key and inserts the row. A key that is already
// stored returns ErrConflict.
func (s *Store) CreateKey(ctx context.Context, key *models.APIKey) error {
	if s.cipher == nil {
		return ErrNoCipher
	}
	key.Fingerprint = s.cipher.Fingerprint(key.Key)
	key.Hint = models.KeyHint(key.Key)

	var n int64
	err := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("fingerprint = ?", key.Fingerprint).Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}

	enc, err := s.cipher.Encrypt(key.Key)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	key.EncryptedKey = enc
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) DeleteKey(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.APIKey{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// KeyUsage is the usage of one key accumulated since the last flush.
type KeyUsage struct {
	Uses       int64
	Errors     int
	LastUsedAt time.Time
}

// RecordKeyUsage adds u to the key's counters.
func (s *Store) RecordKeyUsage(ctx context.Context, id uint, u KeyUsage) error {
	updates := map[string]any{
		"usage_count": gorm.Expr("usage_count + ?", u.Uses),
		"error_count": gorm.Expr("error_count + ?", u.Errors),
	}
	if !u.LastUsedAt.IsZero() {
		updates["last_used_at"] = u.LastUsedAt
	}
	return s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).UpdateColumns(updates).Error
}

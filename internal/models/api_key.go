package models

import "time"

// APIKey is a Torn API credential. Every active key adds one slot of
// per-minute request budget. The key is stored encrypted; Key only holds the
// plaintext in memory and is never persisted.
type APIKey struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	Key          string     `json:"-" gorm:"-"`
	EncryptedKey string     `json:"-" gorm:"type:text;not null"`
	Fingerprint  string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	Hint         string     `json:"-" gorm:"type:varchar(4)"`
	Label        string     `json:"label"`
	IsActive     bool       `json:"is_active" gorm:"index;default:true"`
	UsageCount   int64      `json:"usage_count" gorm:"default:0"`
	ErrorCount   int        `json:"error_count" gorm:"default:0"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Masked returns the key with everything but the last four characters hidden.
func (k *APIKey) Masked() string {
	tail := k.Hint
	if k.Key != "" {
		tail = KeyHint(k.Key)
	}
	if tail == "" {
		return "****"
	}
	return "****" + tail
}

// KeyHint is the part of a key that may be shown: its last four characters,
// or nothing for keys too short to hide.
func KeyHint(key string) string {
	if len(key) <= 4 {
		return ""
	}
	return key[len(key)-4:]
}

// Package store is the gorm-backed persistence layer for items, price logs,
// alerts and API keys.
package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row would violate a unique constraint.
	ErrConflict = errors.New("already exists")
)

type Store struct {
	db     *gorm.DB
	cipher Cipher
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need a raw query.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

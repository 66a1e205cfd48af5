// Package keys keeps the in-memory rotation of Torn API credentials.
package keys

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"torn-market-tracker/internal/models"
	"torn-market-tracker/internal/store"

	"github.com/rs/zerolog/log"
)

// ErrNoKeys is returned by Next when no credential is configured.
var ErrNoKeys = errors.New("no api keys configured")

// Source lists the active credentials stored in the database and accumulates
// their usage counters.
type Source interface {
	ActiveKeys(ctx context.Context) ([]models.APIKey, error)
	RecordKeyUsage(ctx context.Context, id uint, u store.KeyUsage) error
}

// Decrypter opens the encrypted keys read from the database.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Pool hands out keys round-robin. Keys from the environment are always
// present; database keys are decrypted and merged in on every Refresh.
type Pool struct {
	src    Source
	dec    Decrypter
	static []string

	mu     sync.RWMutex
	keys   []string
	stored map[string]uint
	idx    atomic.Uint64

	usageMu sync.Mutex
	usage   map[uint]*store.KeyUsage
	now     func() time.Time
}

// NewPool builds a pool from env keys. Database keys are only loaded when
// both src and dec are set.
func NewPool(static []string, src Source, dec Decrypter) *Pool {
	return &Pool{
		src:    src,
		dec:    dec,
		static: static,
		keys:   dedupe(static, nil),
		usage:  make(map[uint]*store.KeyUsage),
		now:    time.Now,
	}
}

// Refresh flushes usage counters and reloads the database keys. On error the
// previous pool is kept.
func (p *Pool) Refresh(ctx context.Context) error {
	if p.src == nil || p.dec == nil {
		return nil
	}
	p.Flush(ctx)

	rows, err := p.src.ActiveKeys(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]uint, len(rows))
	plain := make([]string, 0, len(rows))
	for _, r := range rows {
		key, err := p.dec.Decrypt(r.EncryptedKey)
		if err != nil {
			log.Error().Err(err).Uint("key_id", r.ID).Msg("Failed to decrypt API key, skipping")
			continue
		}
		if _, dup := stored[key]; !dup {
			stored[key] = r.ID
		}
		plain = append(plain, key)
	}
	keys := dedupe(p.static, plain)

	p.mu.Lock()
	p.keys = keys
	p.stored = stored
	p.mu.Unlock()

	log.Debug().Int("count", len(keys)).Msg("API key pool refreshed")
	return nil
}

// StartAutoRefresh refreshes the pool every interval until ctx is done.
func (p *Pool) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh API key pool")
			}
		}
	}
}

// Count is the number of active credentials.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

func (p *Pool) Next() (string, error) {
	p.mu.RLock()
	if len(p.keys) == 0 {
		p.mu.RUnlock()
		return "", ErrNoKeys
	}
	i := p.idx.Add(1) - 1
	key := p.keys[i%uint64(len(p.keys))]
	id, ok := p.stored[key]
	p.mu.RUnlock()

	if ok {
		p.record(id, func(u *store.KeyUsage) {
			u.Uses++
			u.LastUsedAt = p.now().UTC()
		})
	}
	return key, nil
}

// ReportError counts a request rejected because of the key itself.
func (p *Pool) ReportError(key string) {
	p.mu.RLock()
	id, ok := p.stored[key]
	p.mu.RUnlock()
	if !ok {
		log.Warn().Str("key", maskKey(key)).Msg("Environment API key rejected by Torn")
		return
	}
	p.record(id, func(u *store.KeyUsage) { u.Errors++ })
}

func (p *Pool) record(id uint, fn func(u *store.KeyUsage)) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	u, ok := p.usage[id]
	if !ok {
		u = &store.KeyUsage{}
		p.usage[id] = u
	}
	fn(u)
}

// Flush writes the counters collected since the previous flush.
func (p *Pool) Flush(ctx context.Context) {
	if p.src == nil {
		return
	}
	p.usageMu.Lock()
	usage := p.usage
	p.usage = make(map[uint]*store.KeyUsage)
	p.usageMu.Unlock()

	for id, u := range usage {
		if err := p.src.RecordKeyUsage(ctx, id, *u); err != nil {
			log.Warn().Err(err).Uint("key_id", id).Msg("Failed to record key usage")
		}
	}
}

func maskKey(k string) string {
	return (&models.APIKey{Key: k}).Masked()
}

func dedupe(static, stored []string) []string {
	seen := make(map[string]bool, len(static)+len(stored))
	out := make([]string, 0, len(static)+len(stored))
	for _, list := range [][]string{static, stored} {
		for _, k := range list {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

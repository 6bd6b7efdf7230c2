// Package sessioncache is a TTL key-value store for ephemeral session
// state that lives outside the content tree. It is backed by BadgerDB,
// which gives low-latency embedded storage with native per-entry TTLs.
package sessioncache

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key is absent or its TTL has expired.
var ErrNotFound = errors.New("sessioncache: key not found")

// Config holds cache settings.
type Config struct {
	// Path is the directory for the Badger files. Ignored when InMemory.
	Path string
	// InMemory disables disk persistence; used by tests and local mode.
	InMemory bool
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration
	// GCInterval is how often value-log garbage collection runs.
	// Zero disables GC (in-memory mode needs none).
	GCInterval time.Duration
}

// Cache is the TTL key-value store.
type Cache struct {
	db     *badger.DB
	cfg    Config
	logger *zap.Logger
	stopGC chan struct{}
}

// New opens the cache.
func New(cfg Config, logger *zap.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Minute
	}

	c := &Cache{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopGC: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go c.runGC()
	}
	return c, nil
}

// Set stores a value with the given TTL; zero TTL uses the default.
// Badger tracks expiry with one-second granularity, so TTLs are clamped
// to a minimum of one second to keep fresh entries from expiring on the
// next read.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Get returns the value for key, or ErrNotFound when absent or expired.
func (c *Cache) Get(key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close stops garbage collection and closes the database.
func (c *Cache) Close() error {
	close(c.stopGC)
	return c.db.Close()
}

// runGC periodically reclaims value-log space from expired entries.
func (c *Cache) runGC() {
	ticker := time.NewTicker(c.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			for {
				if err := c.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						c.logger.Warn("Session cache GC error", zap.Error(err))
					}
					break
				}
			}
		}
	}
}

package keyValStore

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sirupsen/logrus"
)

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
	SyncWrites       bool
}

// KeyValStore is a string keyed durable store backed by badger.
type KeyValStore struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

// Stats counts operations since the store was opened.
type Stats struct {
	Reads  uint64
	Writes uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 64 // values are small per-repository maps
	opts.SyncWrites = config.SyncWrites
	opts.Compression = options.ZSTD

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Paths[0], err)
	}

	k := &KeyValStore{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}

	if err := k.displayDiskUsage(config.Paths); err != nil {
		k.log.WithError(err).Warn("Could not report disk usage")
	}

	return k, nil
}

// Get returns the value stored under key. found is false when the key does
// not exist.
func (k *KeyValStore) Get(key string) (value []byte, found bool, err error) {
	atomic.AddUint64(&k.readCounter, 1)
	err = k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return value, true, nil
}

func (k *KeyValStore) Put(key string, value []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

// Keys returns every key in the store in badger iteration order.
func (k *KeyValStore) Keys() ([]string, error) {
	var keys []string
	atomic.AddUint64(&k.readCounter, 1)
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing keys: %w", err)
	}
	return keys, nil
}

// Force flushes pending writes to disk.
func (k *KeyValStore) Force() error {
	if err := k.badgerDB.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}
	return nil
}

func (k *KeyValStore) Close() error {
	syncErr := k.Force()
	if err := k.badgerDB.Close(); err != nil {
		return errors.Join(syncErr, fmt.Errorf("error closing db: %w", err))
	}
	return syncErr
}

// Clean syncs, flattens and garbage collects the value log.
func (k *KeyValStore) Clean() error {
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	k.log.Debug("DB Flattened")

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

func (k *KeyValStore) Stats() Stats {
	return Stats{
		Reads:  atomic.LoadUint64(&k.readCounter),
		Writes: atomic.LoadUint64(&k.writeCounter),
	}
}

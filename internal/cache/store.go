package cache

import (
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/handiism/bundle-fetcher/internal/model"
)

var (
	// ErrNotOpen is returned by every method of a nil or closed Store.
	ErrNotOpen = errors.New("cache: store is not open")

	// ErrEmptyName is returned for an empty bundle name.
	ErrEmptyName = errors.New("cache: bundle name is empty")
)

const keyPrefix = "bundle/"

// OpenOptions configure Open.
type OpenOptions struct {
	// Path is the badger directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory; nothing touches the disk.
	InMemory bool

	// ReadOnly opens an existing directory without write access.
	ReadOnly bool
}

// Store is a badger-backed cache of bundle payloads keyed by bundle name
// and content hash. A new manifest hash means a new key, so stale entries
// are never served.
type Store struct {
	db *badger.DB
}

// Open opens or creates the cache.
func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("cache: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "cache: open badger")
	}
	return &Store{db: db}, nil
}

// Close releases the database. It is safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func key(name string, hash model.Hash) []byte {
	return []byte(keyPrefix + name + "/" + hash.String())
}

// Get returns the payload stored for name at hash.
func (s *Store) Get(name string, hash model.Hash) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrNotOpen
	}
	if name == "" {
		return nil, false, ErrEmptyName
	}
	var out []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name, hash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache: get %s", name)
	}
	return out, found, nil
}

// Put stores data for name at hash, replacing any previous value.
func (s *Store) Put(name string, hash model.Hash, data []byte) error {
	if s == nil || s.db == nil {
		return ErrNotOpen
	}
	if name == "" {
		return ErrEmptyName
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name, hash), data)
	})
	return errors.Wrapf(err, "cache: put %s", name)
}

// Versions lists the hashes stored for name.
func (s *Store) Versions(name string) ([]model.Hash, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	prefix := []byte(keyPrefix + name + "/")
	var out []model.Hash
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			// "a/b" shares the prefix of "a"; only a bare hash belongs to name.
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			h, err := model.ParseHash(rest)
			if err != nil {
				continue
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cache: list %s", name)
	}
	return out, nil
}

// Prune deletes every version of name except keep and returns how many
// entries were removed.
func (s *Store) Prune(name string, keep model.Hash) (int, error) {
	versions, err := s.Versions(name)
	if err != nil {
		return 0, err
	}
	removed := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, h := range versions {
			if h == keep {
				continue
			}
			if err := txn.Delete(key(name, h)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cache: prune %s", name)
	}
	return removed, nil
}

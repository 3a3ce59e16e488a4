// Package branchIndex stores discovered branch copy points per repository
// and answers best-prefix lookups over them.
package branchIndex

import (
	"errors"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/internal/binaryCoder"
	"github.com/i5heu/branchpoints/pkg/types"
)

var ErrClosed = errors.New("branchIndex: index closed")

// Store is the durable key-value store the index persists into. Values are
// whole per-repository maps in binaryCoder encoding.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Keys() ([]string, error)
	Force() error
	Close() error
}

// Cleaner is implemented by stores that support compaction.
type Cleaner interface {
	Clean() error
}

// Index keeps every repository map it has touched resident, sorted by URL.
// A single mutex guards all repositories.
type Index struct {
	log   *logrus.Logger
	store Store

	// life keeps Close from releasing the store under a running Compact.
	life sync.RWMutex

	mu     sync.Mutex
	repos  map[string]*treemap.Map
	closed bool
}

func New(store Store, log *logrus.Logger) *Index {
	if log == nil {
		log = logrus.New()
	}
	return &Index{
		log:   log,
		store: store,
		repos: make(map[string]*treemap.Map),
	}
}

// Put stores record under targetURL in the repository's map and flushes the
// whole map. The resident map keeps the record even if persisting fails.
func (ix *Index) Put(repositoryID, targetURL string, record types.CopyRecord) error {
	return ix.PutAll(repositoryID, []binaryCoder.Entry{{URL: targetURL, Record: record}})
}

// PutAll stores every entry in the repository's map and flushes the map once.
func (ix *Index) PutAll(repositoryID string, entries []binaryCoder.Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	m, err := ix.repoLocked(repositoryID)
	if err != nil {
		return err
	}

	type previous struct {
		value interface{}
		had   bool
	}
	prev := make([]previous, len(entries))
	for i, e := range entries {
		prev[i].value, prev[i].had = m.Get(e.URL)
		m.Put(e.URL, e.Record)
	}

	data, err := binaryCoder.EncodeBranchMap(entriesOf(m))
	if err != nil {
		// an unencodable record must not stay resident
		for i := len(entries) - 1; i >= 0; i-- {
			if prev[i].had {
				m.Put(entries[i].URL, prev[i].value)
			} else {
				m.Remove(entries[i].URL)
			}
		}
		return &types.StorageError{Op: "encode " + repositoryID, Err: err}
	}
	if err := ix.store.Put(repositoryID, data); err != nil {
		return &types.StorageError{Op: "write " + repositoryID, Err: err}
	}
	if err := ix.store.Force(); err != nil {
		return &types.StorageError{Op: "flush", Err: err}
	}
	return nil
}

// BestHit resolves both URLs to their floor entries whose key is a prefix of
// the URL. It returns nil when neither side resolves.
func (ix *Index) BestHit(repositoryID, sourceURL, targetURL string) (*types.Result, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil, ErrClosed
	}

	m, err := ix.repoLocked(repositoryID)
	if err != nil {
		return nil, err
	}

	sourceData, sourceOK := floorPrefix(m, sourceURL)
	targetData, targetOK := floorPrefix(m, targetURL)

	switch {
	case sourceOK && targetOK:
		// equal revisions select the target side
		inverted := sourceData.TargetRevision > targetData.TargetRevision
		if inverted {
			return &types.Result{Wrapped: sourceData, Inverted: true}, nil
		}
		return &types.Result{Wrapped: targetData, Inverted: false}, nil
	case sourceOK:
		return &types.Result{Wrapped: sourceData, Inverted: true}, nil
	case targetOK:
		return &types.Result{Wrapped: targetData, Inverted: false}, nil
	}
	return nil, nil
}

// Entries lists the repository's records in URL order.
func (ix *Index) Entries(repositoryID string) ([]binaryCoder.Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil, ErrClosed
	}

	m, err := ix.repoLocked(repositoryID)
	if err != nil {
		return nil, err
	}
	return entriesOf(m), nil
}

// Repositories lists every repository with a persisted map.
func (ix *Index) Repositories() ([]string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil, ErrClosed
	}

	keys, err := ix.store.Keys()
	if err != nil {
		return nil, &types.StorageError{Op: "list repositories", Err: err}
	}
	return keys, nil
}

// Compact asks the store to reclaim space, if it supports it. Lookups and
// writes proceed while the store compacts.
func (ix *Index) Compact() error {
	ix.life.RLock()
	defer ix.life.RUnlock()

	ix.mu.Lock()
	closed := ix.closed
	ix.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c, ok := ix.store.(Cleaner)
	if !ok {
		return nil
	}
	if err := c.Clean(); err != nil {
		return &types.StorageError{Op: "compact", Err: err}
	}
	return nil
}

// Close flushes and releases the store. The index is unusable afterwards.
func (ix *Index) Close() error {
	ix.life.Lock()
	defer ix.life.Unlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true
	ix.repos = nil

	if err := ix.store.Close(); err != nil {
		return &types.StorageError{Op: "close", Err: err}
	}
	return nil
}

// repoLocked returns the resident map of a repository, loading it from the
// store on first use. Callers hold ix.mu.
func (ix *Index) repoLocked(repositoryID string) (*treemap.Map, error) {
	if m, ok := ix.repos[repositoryID]; ok {
		return m, nil
	}

	m := treemap.NewWithStringComparator()
	data, found, err := ix.store.Get(repositoryID)
	if err != nil {
		return nil, &types.StorageError{Op: "read " + repositoryID, Err: err}
	}
	if found {
		entries, err := binaryCoder.DecodeBranchMap(data)
		if err != nil {
			return nil, &types.StorageError{Op: "decode " + repositoryID, Err: err}
		}
		for _, e := range entries {
			m.Put(e.URL, e.Record)
		}
		ix.log.WithFields(logrus.Fields{
			"repository": repositoryID,
			"entries":    len(entries),
		}).Debug("Loaded branch map")
	}

	ix.repos[repositoryID] = m
	return m, nil
}

// floorPrefix finds the greatest key <= url and accepts it only when it is a
// path prefix of url: "trunk" covers "trunk/sub" but not "trunk2/other".
func floorPrefix(m *treemap.Map, url string) (types.CopyRecord, bool) {
	key, value := m.Floor(url)
	if key == nil || !isPathPrefix(key.(string), url) {
		return types.CopyRecord{}, false
	}
	return value.(types.CopyRecord), true
}

func isPathPrefix(prefix, url string) bool {
	if !strings.HasPrefix(url, prefix) {
		return false
	}
	if len(url) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return url[len(prefix)] == '/'
}

func entriesOf(m *treemap.Map) []binaryCoder.Entry {
	entries := make([]binaryCoder.Entry, 0, m.Size())
	it := m.Iterator()
	for it.Next() {
		entries = append(entries, binaryCoder.Entry{
			URL:    it.Key().(string),
			Record: it.Value().(types.CopyRecord),
		})
	}
	return entries
}

package branchIndex

import (
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/branchpoints/internal/binaryCoder"
	"github.com/i5heu/branchpoints/internal/keyValStore"
	"github.com/i5heu/branchpoints/pkg/types"
)

// memStore is an in-memory Store with switchable failures.
type memStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	puts      int
	forces    int
	failGet   error
	failPut   error
	failForce error
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, false, s.failGet
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.puts++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) Force() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forces++
	return s.failForce
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.failForce
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func record(source string, sourceRev int64, target string, targetRev int64) types.CopyRecord {
	return types.CopyRecord{Source: source, SourceRevision: sourceRev, Target: target, TargetRevision: targetRev}
}

func TestBestHit_ConcreteScenario(t *testing.T) {
	ix := New(newMemStore(), quietLogger())
	rec := record("trunk", 10, "branchA", 20)
	require.NoError(t, ix.Put("R", "branchA", rec))

	got, err := ix.BestHit("R", "trunk", "branchA/x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Inverted)
	assert.Equal(t, rec, got.Wrapped)
	assert.Equal(t, rec, got.TrueValue())
}

func TestBestHit_TieBreak(t *testing.T) {
	tests := []struct {
		name         string
		sourceRev    int64
		targetRev    int64
		wantInverted bool
		wantTarget   string
	}{
		{name: "source side newer", sourceRev: 100, targetRev: 50, wantInverted: true, wantTarget: "branches/src"},
		{name: "target side newer", sourceRev: 50, targetRev: 100, wantInverted: false, wantTarget: "branches/tgt"},
		{name: "equal revisions pick target side", sourceRev: 70, targetRev: 70, wantInverted: false, wantTarget: "branches/tgt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := New(newMemStore(), quietLogger())
			require.NoError(t, ix.Put("R", "branches/src", record("trunk", 1, "branches/src", tt.sourceRev)))
			require.NoError(t, ix.Put("R", "branches/tgt", record("trunk", 1, "branches/tgt", tt.targetRev)))

			got, err := ix.BestHit("R", "branches/src/x", "branches/tgt/y")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantInverted, got.Inverted)
			assert.Equal(t, tt.wantTarget, got.Wrapped.Target)
		})
	}
}

func TestBestHit_SingleSide(t *testing.T) {
	ix := New(newMemStore(), quietLogger())
	rec := record("trunk", 3, "branches/a", 4)
	require.NoError(t, ix.Put("R", "branches/a", rec))

	got, err := ix.BestHit("R", "branches/a/lib", "tags/v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Inverted)
	assert.Equal(t, rec.Invert(), got.TrueValue())

	got, err = ix.BestHit("R", "tags/v1", "branches/a/lib")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Inverted)
	assert.Equal(t, rec, got.TrueValue())
}

func TestBestHit_Miss(t *testing.T) {
	ix := New(newMemStore(), quietLogger())

	got, err := ix.BestHit("R", "trunk", "branches/a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2)))
	got, err = ix.BestHit("other", "trunk", "branches/a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBestHit_PrefixMatching(t *testing.T) {
	ix := New(newMemStore(), quietLogger())
	rec := record("root", 1, "trunk", 2)
	require.NoError(t, ix.Put("R", "trunk", rec))

	tests := []struct {
		url   string
		match bool
	}{
		{url: "trunk", match: true},
		{url: "trunk/sub/path", match: true},
		{url: "trunk2/other", match: false},
		{url: "trunk-old", match: false},
		{url: "tags/x", match: false},
		{url: "aaa", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ix.BestHit("R", "unrelated/zzz", tt.url)
			require.NoError(t, err)
			if tt.match {
				require.NotNil(t, got)
				assert.Equal(t, rec, got.Wrapped)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestIsPathPrefix(t *testing.T) {
	assert.True(t, isPathPrefix("branches/", "branches/x"))
	assert.True(t, isPathPrefix("a", "a"))
	assert.True(t, isPathPrefix("a", "a/b"))
	assert.False(t, isPathPrefix("a", "ab"))
	assert.False(t, isPathPrefix("ab", "a"))
}

func TestPut_LastWriteWins(t *testing.T) {
	ix := New(newMemStore(), quietLogger())
	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2)))
	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 5, "branches/a", 6)))

	entries, err := ix.Entries("R")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(6), entries[0].Record.TargetRevision)
}

func TestPut_FlushesEveryWrite(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())

	require.NoError(t, ix.Put("R", "b", record("t", 1, "b", 2)))
	require.NoError(t, ix.Put("R", "c", record("t", 1, "c", 3)))

	assert.Equal(t, 2, store.puts)
	assert.Equal(t, 2, store.forces)
}

func TestPut_ReloadsFromStore(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())
	require.NoError(t, ix.Put("R", "branches/b", record("trunk", 1, "branches/b", 2)))
	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 3, "branches/a", 4)))

	// a fresh index over the same store sees the persisted map
	fresh := New(store, quietLogger())
	entries, err := fresh.Entries("R")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "branches/a", entries[0].URL)
	assert.Equal(t, "branches/b", entries[1].URL)

	repos, err := fresh.Repositories()
	require.NoError(t, err)
	assert.Equal(t, []string{"R"}, repos)
}

func TestPut_WriteFailureKeepsResidentMap(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())
	store.failPut = errors.New("disk full")

	err := ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2))
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)

	got, err := ix.BestHit("R", "trunk", "branches/a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "branches/a", got.Wrapped.Target)
}

func TestPut_FlushFailureIsReported(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())
	store.failForce = errors.New("fsync")

	err := ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2))
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "flush", storageErr.Op)
}

func TestBestHit_ReadFailure(t *testing.T) {
	store := newMemStore()
	store.failGet = errors.New("io")
	ix := New(store, quietLogger())

	_, err := ix.BestHit("R", "a", "b")
	var storageErr *types.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestBestHit_CorruptMap(t *testing.T) {
	store := newMemStore()
	store.data["R"] = []byte{0, 0, 0, 9}
	ix := New(store, quietLogger())

	_, err := ix.BestHit("R", "a", "b")
	var storageErr *types.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestClose(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())

	require.NoError(t, ix.Close())
	assert.True(t, store.closed)
	assert.NoError(t, ix.Close())

	assert.ErrorIs(t, ix.Put("R", "a", record("t", 1, "a", 2)), ErrClosed)
	_, err := ix.BestHit("R", "a", "b")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ix.Entries("R")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ix.Compact(), ErrClosed)
}

func TestIndex_WithKeyValStore(t *testing.T) {
	dir := t.TempDir()
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{Paths: []string{dir}, Logger: quietLogger()})
	require.NoError(t, err)

	ix := New(kv, quietLogger())
	rec := record("trunk", 10, "branchA", 20)
	require.NoError(t, ix.Put("R", "branchA", rec))
	require.NoError(t, ix.Compact())
	require.NoError(t, ix.Close())

	kv, err = keyValStore.NewKeyValStore(keyValStore.StoreConfig{Paths: []string{dir}, Logger: quietLogger()})
	require.NoError(t, err)
	ix = New(kv, quietLogger())
	defer ix.Close()

	got, err := ix.BestHit("R", "trunk", "branchA/x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, got.TrueValue())
}

func TestIndex_ConcurrentPutAndBestHit(t *testing.T) {
	ix := New(newMemStore(), quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			target := "branches/b" + string(rune('a'+i))
			assert.NoError(t, ix.Put("R", target, record("trunk", int64(i), target, int64(i+1))))
		}(i)
		go func() {
			defer wg.Done()
			_, err := ix.BestHit("R", "trunk", "branches/ba/x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := ix.Entries("R")
	require.NoError(t, err)
	assert.Len(t, entries, 16)
}

// blockingCleaner holds Clean until released.
type blockingCleaner struct {
	*memStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingCleaner) Clean() error {
	close(s.entered)
	<-s.release
	return nil
}

func TestCompact_DoesNotBlockLookups(t *testing.T) {
	store := &blockingCleaner{
		memStore: newMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	ix := New(store, quietLogger())
	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2)))

	compacted := make(chan error, 1)
	go func() { compacted <- ix.Compact() }()
	<-store.entered

	looked := make(chan *types.Result, 1)
	go func() {
		r, err := ix.BestHit("R", "trunk", "branches/a")
		assert.NoError(t, err)
		looked <- r
	}()
	select {
	case r := <-looked:
		require.NotNil(t, r)
		assert.Equal(t, int64(2), r.Wrapped.TargetRevision)
	case <-time.After(time.Second):
		t.Fatal("lookup blocked by compaction")
	}
	require.NoError(t, ix.Put("R", "branches/b", record("trunk", 3, "branches/b", 4)))

	closed := make(chan error, 1)
	go func() { closed <- ix.Close() }()
	select {
	case <-closed:
		t.Fatal("close released the store during compaction")
	case <-time.After(20 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-compacted)
	require.NoError(t, <-closed)
	assert.ErrorIs(t, ix.Compact(), ErrClosed)
}

func TestPutAll_FlushesOnce(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())

	require.NoError(t, ix.PutAll("R", []binaryCoder.Entry{
		{URL: "branches/b", Record: record("trunk", 3, "branches/b", 4)},
		{URL: "branches/a", Record: record("trunk", 1, "branches/a", 2)},
		{URL: "tags/v1", Record: record("trunk", 5, "tags/v1", 6)},
	}))
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, 1, store.forces)

	entries, err := ix.Entries("R")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "branches/a", entries[0].URL)
	assert.Equal(t, "tags/v1", entries[2].URL)

	reloaded := New(store, quietLogger())
	again, err := reloaded.Entries("R")
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestPutAll_UnencodableBatchIsRolledBack(t *testing.T) {
	store := newMemStore()
	ix := New(store, quietLogger())
	require.NoError(t, ix.Put("R", "branches/a", record("trunk", 1, "branches/a", 2)))

	long := strings.Repeat("x", 70000)
	err := ix.PutAll("R", []binaryCoder.Entry{
		{URL: "branches/a", Record: record("trunk", 9, "branches/a", 10)},
		{URL: "branches/z", Record: record(long, 1, "branches/z", 2)},
	})
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)

	entries, err := ix.Entries("R")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Record.TargetRevision)
}

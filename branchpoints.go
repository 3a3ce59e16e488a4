// Package branchpoints answers "where was this branch copied from" for pairs
// of branch URLs. Answers come from a persistent per-project index first and
// from repository history on a miss; fresh answers are written back to the
// index.
package branchpoints

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/internal/branchCache"
	"github.com/i5heu/branchpoints/internal/branchIndex"
	"github.com/i5heu/branchpoints/internal/gitHistory"
	"github.com/i5heu/branchpoints/internal/keyValStore"
	"github.com/i5heu/branchpoints/internal/origin"
	"github.com/i5heu/branchpoints/pkg/types"
	workerpool "github.com/i5heu/branchpoints/pkg/workerPool"
)

var (
	ErrNotActive   = errors.New("branchpoints: calculator not active")
	ErrNilConsumer = errors.New("branchpoints: consumer must not be nil")
)

// Calculator owns one index and one cache per activation.
type Calculator struct {
	log    *logrus.Logger
	config Config

	mu     sync.RWMutex
	active *session
}

// session holds everything created by one Activate call.
type session struct {
	kv     *keyValStore.KeyValStore
	index  *branchIndex.Index
	cache  *branchCache.Cache
	loader *origin.Loader

	scheduler  workerpool.Scheduler
	dispatcher *workerpool.Dispatcher // nil when the scheduler was injected

	ctx    context.Context
	cancel context.CancelFunc
	gcDone chan struct{}
}

func New(conf Config) (*Calculator, error) {
	if conf.SystemPath == "" {
		return nil, fmt.Errorf("system path must be provided in config")
	}
	if conf.ProjectHash == "" {
		return nil, fmt.Errorf("project hash must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Calculator{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// StorePath is the directory the index is persisted in.
func (c *Calculator) StorePath() string {
	return storePath(c.config)
}

// Activate opens the index and starts the scheduler. Calling it on an
// active Calculator does nothing.
func (c *Calculator) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil
	}

	dir := c.StorePath()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{dir},
		MinimumFreeSpace: c.config.MinimumFreeGB,
		Logger:           c.log,
	})
	if err != nil {
		return fmt.Errorf("init kv: %w", err)
	}

	history := c.config.History
	if history == nil {
		history = gitHistory.New(gitHistory.Config{
			Roots:  c.config.Repositories,
			Logger: c.log,
		})
	}

	index := branchIndex.New(kv, c.log)
	s := &session{
		kv:        kv,
		index:     index,
		cache:     branchCache.New(index, c.log),
		loader:    origin.NewLoader(history, c.log),
		scheduler: c.config.Scheduler,
	}
	if s.scheduler == nil {
		s.dispatcher = workerpool.NewDispatcher(workerpool.Config{
			WorkerCount:  c.config.Workers,
			GlobalBuffer: c.config.QueueSize,
			Logger:       c.log,
		})
		s.scheduler = s.dispatcher
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if c.config.GarbageCollectionInterval > 0 {
		s.gcDone = make(chan struct{})
		go c.createGarbageCollection(s)
	}

	c.active = s
	c.log.WithField("path", dir).Info("Branch point calculator activated")
	return nil
}

// Deactivate stops background work and closes the index. Requests still in
// flight are answered, history lookups among them with a canceled context.
// Deactivate must not be called from a task running on the primary context.
func (c *Calculator) Deactivate() error {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	s.cancel()
	if s.gcDone != nil {
		<-s.gcDone
	}
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}

	var closeErr error
	if err := s.index.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close index: %w", err))
	}

	c.log.Info("Branch point calculator deactivated")
	return closeErr
}

// Index exposes the active index for inspection and maintenance.
func (c *Calculator) Index() (*branchIndex.Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active == nil {
		return nil, ErrNotActive
	}
	return c.active.index, nil
}

// StoreStats counts store reads and writes since Activate.
func (c *Calculator) StoreStats() (keyValStore.Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active == nil {
		return keyValStore.Stats{}, ErrNotActive
	}
	return c.active.kv.Stats(), nil
}

// RequestBranchPoint looks up the copy point between two branches and calls
// consumer exactly once, on the primary context, with the outcome. The index
// is consulted first; on a miss history is queried on the worker pool and the
// answer is stored. A non-nil error means nothing was scheduled and consumer
// will not be called.
func (c *Calculator) RequestBranchPoint(repositoryID, sourceURL, targetURL string, consumer func(types.Outcome)) error {
	if consumer == nil {
		return ErrNilConsumer
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.active
	if s == nil {
		return ErrNotActive
	}

	key := types.Key{RepositoryID: repositoryID, SourceURL: sourceURL, TargetURL: targetURL}
	d := types.NewDeferred()
	return s.scheduler.Schedule(workerpool.Primary, func() {
		c.lookup(s, key, d, consumer)
	})
}

// Future is RequestBranchPoint with the outcome delivered on a channel.
func (c *Calculator) Future(repositoryID, sourceURL, targetURL string) (<-chan types.Outcome, error) {
	out := make(chan types.Outcome, 1)
	err := c.RequestBranchPoint(repositoryID, sourceURL, targetURL, func(o types.Outcome) {
		out <- o
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BranchPoint blocks until the outcome is known or ctx is done. It returns
// nil, nil when the branches share no copy ancestry. It must not be called
// from a task running on the primary context.
func (c *Calculator) BranchPoint(ctx context.Context, repositoryID, sourceURL, targetURL string) (*types.Result, error) {
	out, err := c.Future(repositoryID, sourceURL, targetURL)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-out:
		return o.Result, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup runs on the primary context.
func (c *Calculator) lookup(s *session, key types.Key, d *types.Deferred, consumer func(types.Outcome)) {
	c.capture(d, key, func() error {
		r, err := s.cache.Get(key)
		if err != nil {
			return err
		}
		d.Set(r)
		return nil
	})

	if d.HaveSomething() {
		c.respond(key, d, consumer)
		return
	}

	err := s.scheduler.Schedule(workerpool.Pooled, func() {
		c.load(s, key, d, consumer)
	})
	if err != nil {
		d.FailRuntime(&types.UnexpectedError{Err: fmt.Errorf("schedule history lookup: %w", err)})
		c.respond(key, d, consumer)
	}
}

// load runs on the worker pool and hands the outcome back to the primary
// context.
func (c *Calculator) load(s *session, key types.Key, d *types.Deferred, consumer func(types.Outcome)) {
	c.capture(d, key, func() error {
		r, err := s.loader.Load(s.ctx, key)
		if err != nil {
			return err
		}
		if r != nil {
			if err := s.cache.Put(key, *r); err != nil {
				return err
			}
		}
		d.Set(r)
		return nil
	})

	deliver := func() { c.respond(key, d, consumer) }
	if err := s.scheduler.Schedule(workerpool.Primary, deliver); err != nil {
		c.log.WithFields(logrus.Fields{
			"key":   key.String(),
			"error": err,
		}).Warn("Primary context unavailable, delivering from worker")
		deliver()
	}
}

func (c *Calculator) capture(d *types.Deferred, key types.Key, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.setException(d, key, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		c.setException(d, key, err)
	}
}

func (c *Calculator) setException(d *types.Deferred, key types.Key, err error) {
	var vcsErr *types.VersionControlError
	var storageErr *types.StorageError

	fields := logrus.Fields{"key": key.String(), "error": err}
	switch {
	case errors.As(err, &vcsErr):
		c.log.WithFields(fields).Info("Branch point lookup failed")
		d.Fail(vcsErr)
	case errors.As(err, &storageErr):
		c.log.WithFields(fields).Debug("Branch point storage failure")
		d.FailRuntime(err)
	default:
		c.log.WithFields(fields).Debug("Unexpected branch point failure")
		d.FailRuntime(&types.UnexpectedError{Err: err})
	}
}

// respond hands the outcome to consumer. Runtime failures are logged here
// because no caller is expected to handle them.
func (c *Calculator) respond(key types.Key, d *types.Deferred, consumer func(types.Outcome)) {
	o := d.Outcome()
	if d.RuntimeFailure() {
		c.log.WithFields(logrus.Fields{
			"key":   key.String(),
			"error": o.Err,
		}).Warn("Branch point query failed")
	}
	consumer(o)
}

func (c *Calculator) createGarbageCollection(s *session) {
	defer close(s.gcDone)

	ticker := time.NewTicker(c.config.GarbageCollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.index.Compact(); err != nil {
				c.log.WithError(err).Error("Error during garbage collection")
			}
		}
	}
}

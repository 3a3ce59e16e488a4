package branchCache

import (
	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/pkg/types"
)

// Index is the persistent lookup the cache reads through.
type Index interface {
	BestHit(repositoryID, sourceURL, targetURL string) (*types.Result, error)
	Put(repositoryID, targetURL string, record types.CopyRecord) error
}

// Cache answers repeated queries from the persistent index and remembers
// computed results back into it.
type Cache struct {
	log   *logrus.Logger
	index Index
}

func New(index Index, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.New()
	}
	return &Cache{log: log, index: index}
}

// Get returns nil on a miss. Errors only come from the index.
func (c *Cache) Get(key types.Key) (*types.Result, error) {
	result, err := c.index.BestHit(key.RepositoryID, key.SourceURL, key.TargetURL)
	if err != nil {
		return nil, err
	}
	if c.log.IsLevelEnabled(logrus.DebugLevel) {
		c.log.WithFields(logrus.Fields{
			"key":    key.String(),
			"result": describe(result),
		}).Debug("Persistent lookup")
	}
	return result, nil
}

// Put persists the wrapped record, not the true value, so the stored
// direction keeps its meaning for later queries.
func (c *Cache) Put(key types.Key, value types.Result) error {
	c.log.WithFields(logrus.Fields{
		"key":   key.String(),
		"value": value.String(),
	}).Debug("Put into persistent")
	return c.index.Put(key.RepositoryID, value.Wrapped.Target, value.Wrapped)
}

func describe(r *types.Result) string {
	if r == nil {
		return "<nil>"
	}
	return r.String()
}

package branchpoints

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/internal/origin"
	workerpool "github.com/i5heu/branchpoints/pkg/workerPool"
)

// Config configures a Calculator. SystemPath and ProjectHash are required;
// everything else has a usable default.
type Config struct {
	// SystemPath is the root directory for persisted state.
	SystemPath string
	// ProjectHash separates the stores of different projects below SystemPath.
	ProjectHash string
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB int
	// Logger is optional. If nil, logrus.New() is used.
	Logger *logrus.Logger
	// GarbageCollectionInterval enables periodic store compaction when > 0.
	GarbageCollectionInterval time.Duration

	// Workers and QueueSize size the built-in worker pool.
	Workers   int
	QueueSize int

	// History answers copy ancestry queries. If nil, git history is used,
	// with Repositories mapping repository IDs to working copy paths.
	History      origin.HistoryProvider
	Repositories map[string]string

	// Scheduler replaces the built-in event loop and worker pool. The
	// Calculator does not stop a Scheduler it did not create.
	Scheduler workerpool.Scheduler
}

func storePath(conf Config) string {
	return filepath.Join(conf.SystemPath, "vcs", "branch_copy_sources", conf.ProjectHash)
}

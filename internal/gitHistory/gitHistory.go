// Package gitHistory answers copy ancestry queries from git history.
//
// Branch URLs are resolved as git revisions. The copy point between two
// branches is their merge base; revision numbers are first-parent heights,
// counting the root commit as 1. When the merge base lies on the source's
// first-parent line, the target is the branch copied from the source.
// Otherwise, if it lies on the target's first-parent line, the roles swap.
package gitHistory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/internal/origin"
)

type Config struct {
	// Roots maps repository IDs to working copy paths. IDs without an entry
	// are used as paths.
	Roots map[string]string
	// Filesystem overrides how a repository ID becomes a filesystem rooted
	// at the working copy (or at a bare repository).
	Filesystem func(repositoryID string) (billy.Filesystem, error)
	Logger     *logrus.Logger
}

// History implements origin.HistoryProvider. Opened repositories are kept
// for the lifetime of the History. go-git storage is not safe for concurrent
// use, so queries against one repository run one at a time.
type History struct {
	config Config
	log    *logrus.Logger

	mu    sync.Mutex
	repos map[string]*repository
}

type repository struct {
	mu   sync.Mutex
	repo *gogit.Repository
}

var _ origin.HistoryProvider = (*History)(nil)

func New(config Config) *History {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Filesystem == nil {
		roots := config.Roots
		config.Filesystem = func(repositoryID string) (billy.Filesystem, error) {
			path := repositoryID
			if root, ok := roots[repositoryID]; ok {
				path = root
			}
			return osfs.New(path), nil
		}
	}
	return &History{
		config: config,
		log:    config.Logger,
		repos:  make(map[string]*repository),
	}
}

func (h *History) FindCopy(ctx context.Context, repositoryID, sourceURL, targetURL string) (*origin.CopyEvent, error) {
	r, err := h.open(repositoryID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	repo := r.repo

	source, err := resolve(repo, sourceURL)
	if err != nil {
		return nil, err
	}
	target, err := resolve(repo, targetURL)
	if err != nil {
		return nil, err
	}

	bases, err := source.MergeBase(target)
	if err != nil {
		return nil, wrapError(err, "merge base")
	}
	if len(bases) == 0 {
		return nil, nil
	}
	base := bases[0]

	sourceLine, err := firstParentLine(ctx, source)
	if err != nil {
		return nil, wrapError(err, "walk "+sourceURL)
	}
	targetLine, err := firstParentLine(ctx, target)
	if err != nil {
		return nil, wrapError(err, "walk "+targetURL)
	}

	correct := true
	branchLine := targetLine
	if indexOf(sourceLine, base.Hash) < 0 && indexOf(targetLine, base.Hash) >= 0 {
		correct = false
		branchLine = sourceLine
	}

	baseLine, err := firstParentLine(ctx, base)
	if err != nil {
		return nil, wrapError(err, "walk merge base")
	}
	baseHeight := int64(len(baseLine))

	// the branch starts with the commit following the merge base on its line
	branchHeight := baseHeight
	if j := indexOf(branchLine, base.Hash); j > 0 {
		branchHeight = int64(len(branchLine) - j + 1)
	}

	event := &origin.CopyEvent{
		TrunkSideCorrect:   correct,
		CopySourceRevision: baseHeight,
		CopyTargetRevision: branchHeight,
	}

	h.log.WithFields(logrus.Fields{
		"repository": repositoryID,
		"source":     sourceURL,
		"target":     targetURL,
		"mergeBase":  base.Hash.String(),
		"event":      fmt.Sprintf("%+v", *event),
	}).Debug("Found copy point")

	return event, nil
}

func (h *History) open(repositoryID string) (*repository, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.repos[repositoryID]; ok {
		return r, nil
	}

	fs, err := h.config.Filesystem(repositoryID)
	if err != nil {
		return nil, wrapError(err, "open "+repositoryID)
	}
	repo, err := openFilesystem(fs)
	if err != nil {
		return nil, wrapError(err, "open "+repositoryID)
	}

	r := &repository{repo: repo}
	h.repos[repositoryID] = r
	return r, nil
}

// openFilesystem opens a standard repository (with .git) or a bare one.
func openFilesystem(fs billy.Filesystem) (*gogit.Repository, error) {
	if st, err := fs.Stat(".git"); err == nil && st.IsDir() {
		dotGit, err := fs.Chroot(".git")
		if err != nil {
			return nil, err
		}
		storage := filesystem.NewStorage(dotGit, cache.NewObjectLRUDefault())
		return gogit.Open(storage, fs)
	}

	storage := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())
	return gogit.Open(storage, nil)
}

func resolve(repo *gogit.Repository, url string) (*object.Commit, error) {
	rev := strings.TrimPrefix(url, "/")
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("resolve %q", url))
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("load commit of %q", url))
	}
	return commit, nil
}

// firstParentLine returns tip and its first-parent ancestors, root last.
func firstParentLine(ctx context.Context, tip *object.Commit) ([]*object.Commit, error) {
	line := []*object.Commit{tip}
	cur := tip
	for cur.NumParents() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent, err := cur.Parent(0)
		if err != nil {
			return nil, err
		}
		line = append(line, parent)
		cur = parent
	}
	return line, nil
}

func indexOf(line []*object.Commit, hash plumbing.Hash) int {
	for i, c := range line {
		if c.Hash == hash {
			return i
		}
	}
	return -1
}

// Package origin computes branch copy points from live repository history.
package origin

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints/pkg/types"
)

// CopyEvent describes where one branch was copied from the other.
// TrunkSideCorrect is true when the target branch was copied from the source
// branch; CopySourceRevision is the revision on the copied-from side and
// CopyTargetRevision the first revision on the copy.
type CopyEvent struct {
	TrunkSideCorrect   bool
	CopySourceRevision int64
	CopyTargetRevision int64
}

// HistoryProvider queries copy ancestry between two branch URLs. A nil event
// with a nil error means the branches share no copy ancestry.
type HistoryProvider interface {
	FindCopy(ctx context.Context, repositoryID, sourceURL, targetURL string) (*CopyEvent, error)
}

type Loader struct {
	log     *logrus.Logger
	history HistoryProvider
}

func NewLoader(history HistoryProvider, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}
	return &Loader{log: log, history: history}
}

// Load returns nil when no ancestry exists. History failures come back as
// *types.VersionControlError.
func (l *Loader) Load(ctx context.Context, key types.Key) (*types.Result, error) {
	event, err := l.history.FindCopy(ctx, key.RepositoryID, key.SourceURL, key.TargetURL)
	if err != nil {
		var vcsErr *types.VersionControlError
		if errors.As(err, &vcsErr) {
			return nil, err
		}
		return nil, &types.VersionControlError{Op: "find copy for " + key.String(), Err: err}
	}

	if event == nil {
		l.log.WithField("key", key.String()).Debug("Loader returned no ancestry")
		return nil, nil
	}

	var record types.CopyRecord
	if event.TrunkSideCorrect {
		record = types.CopyRecord{
			Source:         key.SourceURL,
			SourceRevision: event.CopySourceRevision,
			Target:         key.TargetURL,
			TargetRevision: event.CopyTargetRevision,
		}
	} else {
		record = types.CopyRecord{
			Source:         key.TargetURL,
			SourceRevision: event.CopySourceRevision,
			Target:         key.SourceURL,
			TargetRevision: event.CopyTargetRevision,
		}
	}
	result := &types.Result{Wrapped: record, Inverted: !event.TrunkSideCorrect}

	l.log.WithFields(logrus.Fields{
		"key":    key.String(),
		"result": result.String(),
	}).Debug("Loader returned")

	return result, nil
}

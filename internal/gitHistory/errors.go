package gitHistory

import (
	"context"
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/i5heu/branchpoints/pkg/types"
)

// wrapError classifies err and wraps it as a version control failure of op.
// If err is nil, returns nil.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	return &types.VersionControlError{Op: op, Err: classifyError(err)}
}

// classifyError maps go-git errors to platform error codes. Unknown errors
// pass through unchanged.
func classifyError(err error) error {
	switch {
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "repository does not exist")
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "repository not found")
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "reference not found")
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "object not found")
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authentication required")
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authorization failed")
	case errors.Is(err, context.DeadlineExceeded):
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, "history walk timed out")
	case errors.Is(err, context.Canceled):
		return platformerrors.Wrap(err, platformerrors.CodeUnavailable, "history walk canceled")
	}
	return err
}

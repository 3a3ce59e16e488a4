package types

import "fmt"

// VersionControlError reports that repository history could not be queried.
// It is the only failure a history lookup is expected to produce.
type VersionControlError struct {
	Op  string
	Err error
}

func (e *VersionControlError) Error() string {
	return fmt.Sprintf("vcs: %s: %v", e.Op, e.Err)
}

func (e *VersionControlError) Unwrap() error { return e.Err }

// StorageError reports a read, write, flush or decode failure of the
// persistent branch index.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UnexpectedError carries any other failure raised while answering a query,
// including recovered panics.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

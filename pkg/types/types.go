package types

import "fmt"

// CopyRecord is the revision pair at which Target was created as a copy of
// Source. Revisions are non-negative repository revision numbers.
type CopyRecord struct {
	Source         string
	SourceRevision int64
	Target         string
	TargetRevision int64
}

// Invert swaps the source and target pairs. Invert is its own inverse.
func (c CopyRecord) Invert() CopyRecord {
	return CopyRecord{
		Source:         c.Target,
		SourceRevision: c.TargetRevision,
		Target:         c.Source,
		TargetRevision: c.SourceRevision,
	}
}

func (c CopyRecord) String() string {
	return fmt.Sprintf("source: %s@%d target: %s@%d", c.Source, c.SourceRevision, c.Target, c.TargetRevision)
}

// Result wraps a stored or computed CopyRecord. Inverted reports that the
// record is stored in the opposite direction of the query that produced it.
type Result struct {
	Wrapped  CopyRecord
	Inverted bool
}

// TrueValue returns the record in the direction the caller asked for.
func (r Result) TrueValue() CopyRecord {
	if r.Inverted {
		return r.Wrapped.Invert()
	}
	return r.Wrapped
}

// InvertedValue returns the wrapped record with source and target swapped,
// regardless of Inverted.
func (r Result) InvertedValue() CopyRecord {
	return r.Wrapped.Invert()
}

func (r Result) String() string {
	return fmt.Sprintf("inverted: %t wrapped: %s", r.Inverted, r.Wrapped)
}

// Key identifies a branch point query.
type Key struct {
	RepositoryID string
	SourceURL    string
	TargetURL    string
}

func (k Key) String() string {
	return fmt.Sprintf("repo: %s sourceUrl: %s targetUrl: %s", k.RepositoryID, k.SourceURL, k.TargetURL)
}

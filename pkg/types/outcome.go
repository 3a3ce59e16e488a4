package types

import (
	"errors"
	"sync"
)

// Outcome is the tri-state answer to a branch point query: a present
// Result, an absent one, or a failure.
type Outcome struct {
	Result *Result
	Err    error
}

func (o Outcome) Present() bool { return o.Err == nil && o.Result != nil }

func (o Outcome) Absent() bool { return o.Err == nil && o.Result == nil }

func (o Outcome) Failed() bool { return o.Err != nil }

// VersionControlFailure reports whether the outcome failed because history
// could not be queried, as opposed to a storage or unexpected failure.
func (o Outcome) VersionControlFailure() bool {
	var vcsErr *VersionControlError
	return errors.As(o.Err, &vcsErr)
}

// Deferred collects the outcome of a query while it moves between
// execution contexts. It is safe for concurrent use.
type Deferred struct {
	mu      sync.Mutex
	result  *Result
	err     error
	runtime bool
}

func NewDeferred() *Deferred {
	return &Deferred{}
}

// Set records a result. A nil result means absent and clears any failure.
func (d *Deferred) Set(r *Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result = r
	d.err = nil
	d.runtime = false
}

// Fail records a version control failure.
func (d *Deferred) Fail(err *VersionControlError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result = nil
	d.err = err
	d.runtime = false
}

// FailRuntime records any failure that is not a version control failure.
func (d *Deferred) FailRuntime(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result = nil
	d.err = err
	d.runtime = true
}

// HaveSomething reports whether a result or a failure has been recorded.
func (d *Deferred) HaveSomething() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result != nil || d.err != nil
}

// RuntimeFailure reports whether the recorded failure came from FailRuntime.
func (d *Deferred) RuntimeFailure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err != nil && d.runtime
}

func (d *Deferred) Outcome() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Outcome{Result: d.result, Err: d.err}
}

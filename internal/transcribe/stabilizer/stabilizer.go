// Package stabilizer decides when a file has finished being written, by
// requiring its size and modification time to stay unchanged for several
// consecutive checks.
package stabilizer

import (
	"errors"
	"os"
	"time"
)

// Snapshot is what a stability check compares.
type Snapshot struct {
	Size    int64
	ModTime time.Time
}

// Stat takes a snapshot of path.
func Stat(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, err
	}
	if info.IsDir() {
		return Snapshot{}, errors.New("not a regular file")
	}
	return Snapshot{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Status is the outcome of one check.
type Status int

const (
	// Pending means the file changed or has not been stable long enough.
	Pending Status = iota
	// Stable means the required number of unchanged checks was reached.
	Stable
	// Gone means the file disappeared; the candidate should be dropped.
	Gone
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Stable:
		return "stable"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Candidate tracks one settling file. It is not safe for concurrent use.
type Candidate struct {
	Path   string
	checks int
	last   Snapshot
	seen   bool
	stable int
}

// NewCandidate tracks path, requiring checks consecutive unchanged observations.
func NewCandidate(path string, checks int) *Candidate {
	if checks < 1 {
		checks = 1
	}
	return &Candidate{Path: path, checks: checks}
}

// Observe records a snapshot and reports whether the file is now stable.
func (c *Candidate) Observe(s Snapshot) Status {
	if c.seen && s.Size == c.last.Size && s.ModTime.Equal(c.last.ModTime) {
		c.stable++
	} else {
		c.stable = 0
		c.last = s
		c.seen = true
	}
	if c.stable >= c.checks {
		return Stable
	}
	return Pending
}

// Check stats the file and observes the result.
func (c *Candidate) Check() (Status, error) {
	s, err := Stat(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Gone, nil
		}
		return Pending, err
	}
	return c.Observe(s), nil
}

// Reset restarts the count, as when a change notification arrives.
func (c *Candidate) Reset() {
	c.stable = 0
	c.seen = false
}

// Last returns the most recent snapshot.
func (c *Candidate) Last() Snapshot {
	return c.last
}

package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is the pair of coordinates a working copy is synchronized to
type Target struct {
	RemoteURL string
	Revision  string
}

// ErrInvalidTarget is returned before any git operation for unusable coordinates
var ErrInvalidTarget = errors.New("invalid target")

// Validate rejects empty coordinates and revisions git would parse as options
func (t Target) Validate() error {
	if strings.TrimSpace(t.RemoteURL) == "" {
		return fmt.Errorf("%w: remote URL is empty", ErrInvalidTarget)
	}
	if strings.TrimSpace(t.Revision) == "" {
		return fmt.Errorf("%w: revision is empty", ErrInvalidTarget)
	}
	if strings.HasPrefix(t.Revision, "-") {
		return fmt.Errorf("%w: revision %q looks like an option", ErrInvalidTarget, t.Revision)
	}
	return nil
}

// CopyState is the state of a working copy relative to a target revision
type CopyState int

const (
	CopyAbsent CopyState = iota
	CopyInvalid
	CopyClean
	CopyDirty
	CopyAtRevision
)

func (s CopyState) String() string {
	switch s {
	case CopyAbsent:
		return "absent"
	case CopyInvalid:
		return "invalid"
	case CopyClean:
		return "present-clean"
	case CopyDirty:
		return "present-dirty"
	case CopyAtRevision:
		return "present-at-revision"
	default:
		return fmt.Sprintf("CopyState(%d)", int(s))
	}
}

// Result classifies a successful run. Failed runs return an error instead.
type Result int

const (
	// AlreadyCurrent means nothing was touched
	AlreadyCurrent Result = iota + 1
	// Synchronized means the copy was brought to the revision and bootstrapped
	Synchronized
)

func (r Result) String() string {
	switch r {
	case AlreadyCurrent:
		return "already-current"
	case Synchronized:
		return "synchronized"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Outcome describes a successful run
type Outcome struct {
	Result       Result
	Revision     string
	Commit       string
	Bootstrapped bool
}

// RevisionNotFoundError reports a pinned revision the remote does not have.
// It is not recoverable by retrying.
type RevisionNotFoundError struct {
	Remote   string
	Revision string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %s does not exist on remote %s: update the pinned revision or point the repository URL at a fork that contains it",
		e.Revision, e.Remote)
}

// ErrRevisionMismatch is returned when the checked out commit is not the pinned one
var ErrRevisionMismatch = errors.New("checked out revision does not match pinned revision")

// Stamp records a completed bootstrap for a commit
type Stamp struct {
	Revision       string    `json:"revision"`
	Commit         string    `json:"commit"`
	BootstrappedAt time.Time `json:"bootstrapped_at"`
}

// StampPath returns the stamp file kept next to the working copy at dir
func StampPath(dir string) string {
	return strings.TrimRight(dir, `/\`) + ".stamp.json"
}

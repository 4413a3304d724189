package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	gogit "github.com/go-git/go-git/v5"
)

// State describes a working copy independent of any target revision
type State int

const (
	// StateAbsent means nothing exists at the path
	StateAbsent State = iota
	// StateInvalid means the path exists but is not a usable repository
	StateInvalid
	// StateClean means a repository with no modified or untracked files
	StateClean
	// StateDirty means a repository with modified or untracked files
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInvalid:
		return "invalid"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WorkingCopy is a snapshot of a local checkout
type WorkingCopy struct {
	Path    string
	State   State
	Head    string // commit hash of HEAD, empty unless present
	Shallow bool
	Origin  string // first URL of the origin remote, if any
	Reason  string // why the copy is invalid
}

// Present reports whether the working copy is a usable repository
func (w WorkingCopy) Present() bool {
	return w.State == StateClean || w.State == StateDirty
}

// Inspect opens the repository with go-git and reports HEAD, shallowness
// and cleanliness. Ignored files do not make a copy dirty. go-git cannot be
// interrupted while it hashes the worktree, so cancellation is only observed
// before and after the status scan.
func (c *ShellClient) Inspect(ctx context.Context, dir string) (WorkingCopy, error) {
	wc := WorkingCopy{Path: dir}

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			wc.State = StateAbsent
			return wc, nil
		}
		return wc, fmt.Errorf("failed to stat working copy: %w", err)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		wc.State = StateInvalid
		wc.Reason = fmt.Sprintf("open repository: %v", err)
		return wc, nil
	}

	head, err := repo.Head()
	if err != nil {
		wc.State = StateInvalid
		wc.Reason = fmt.Sprintf("resolve HEAD: %v", err)
		return wc, nil
	}
	wc.Head = head.Hash().String()

	shallows, err := repo.Storer.Shallow()
	if err != nil {
		return wc, fmt.Errorf("failed to read shallow commits: %w", err)
	}
	wc.Shallow = len(shallows) > 0

	if origin, err := repo.Remote("origin"); err == nil && len(origin.Config().URLs) > 0 {
		wc.Origin = origin.Config().URLs[0]
	}

	wt, err := repo.Worktree()
	if err != nil {
		wc.State = StateInvalid
		wc.Reason = fmt.Sprintf("open worktree: %v", err)
		return wc, nil
	}

	if err := ctx.Err(); err != nil {
		return wc, err
	}
	status, err := wt.Status()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return wc, ctxErr
	}
	if err != nil {
		return wc, fmt.Errorf("failed to read worktree status: %w", err)
	}

	if status.IsClean() {
		wc.State = StateClean
	} else {
		wc.State = StateDirty
	}
	return wc, nil
}

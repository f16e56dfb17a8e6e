package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Checkpoint wraps a local VCS store used purely as a commit-style snapshot
// mechanism for the working directory — not a collaboration remote.
type Checkpoint struct {
	repo *git.Repository
}

// RollbackEvent records one rollback's bookkeeping for the learning task
// that must be enqueued alongside it.
type RollbackEvent struct {
	FromIteration int
	ToCommit      string
	At            time.Time
}

// OpenCheckpoint opens (or initializes) the checkpoint store at
// <agentDir>/checkpoints/.git, with its worktree pointed at worktree (the
// actual project directory being snapshotted) rather than at the git-dir
// itself. agentDir, if it lives inside worktree, is excluded from every
// snapshot so checkpoints never recursively commit their own store.
func OpenCheckpoint(agentDir, worktree string) (*Checkpoint, error) {
	gitDir := filepath.Join(agentDir, "checkpoints", ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir checkpoint store: %w", err)
	}
	if err := os.MkdirAll(worktree, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir checkpoint worktree: %w", err)
	}

	storer := filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault())
	wtFS := osfs.New(worktree)

	repo, err := git.Open(storer, wtFS)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.Init(storer, wtFS)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: open checkpoint store: %w", err)
	}

	if err := excludeAgentDir(gitDir, agentDir, worktree); err != nil {
		return nil, fmt.Errorf("engine: exclude agent dir from checkpoints: %w", err)
	}

	return &Checkpoint{repo: repo}, nil
}

// excludeAgentDir writes agentDir's path, relative to worktree, to the
// checkpoint store's info/exclude file, so Take's AddWithOptions never
// stages the agent's own logs/skillbook/metrics/checkpoints tree.
func excludeAgentDir(gitDir, agentDir, worktree string) error {
	rel, err := filepath.Rel(worktree, agentDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	infoDir := filepath.Join(gitDir, "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(infoDir, "exclude"), []byte(filepath.ToSlash(rel)+"/\n"), 0o644)
}

// Take commits the current state of the worktree with the standard
// checkpoint message format.
func (c *Checkpoint) Take(iteration int, now time.Time) (plumbing.Hash, error) {
	wt, err := c.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("engine: checkpoint worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("engine: checkpoint add: %w", err)
	}

	msg := fmt.Sprintf("ralph checkpoint: iter=%d ts=%s", iteration, now.UTC().Format(time.RFC3339))
	sig := &object.Signature{Name: "ralph", Email: "ralph@localhost", When: now}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author:            sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("engine: checkpoint commit: %w", err)
	}
	return hash, nil
}

// Rollback resolves the most recent checkpoint strictly before
// beforeIteration, hard-resets the worktree to it, and returns the event
// the caller must fold into a rollback LearningTask.
func (c *Checkpoint) Rollback(beforeIteration int, now time.Time) (RollbackEvent, error) {
	head, err := c.repo.Head()
	if err != nil {
		return RollbackEvent{}, fmt.Errorf("engine: rollback head: %w", err)
	}

	commits, err := c.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return RollbackEvent{}, fmt.Errorf("engine: rollback log: %w", err)
	}
	defer commits.Close()

	var target *object.Commit
	err = commits.ForEach(func(c *object.Commit) error {
		var iter int
		if _, scanErr := fmt.Sscanf(c.Message, "ralph checkpoint: iter=%d", &iter); scanErr == nil {
			if iter < beforeIteration {
				target = c
				return storerStop
			}
		}
		return nil
	})
	if err != nil && err != storerStop {
		return RollbackEvent{}, fmt.Errorf("engine: rollback scan: %w", err)
	}
	if target == nil {
		return RollbackEvent{}, fmt.Errorf("engine: no checkpoint strictly before iteration %d", beforeIteration)
	}

	wt, err := c.repo.Worktree()
	if err != nil {
		return RollbackEvent{}, fmt.Errorf("engine: rollback worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target.Hash, Mode: git.HardReset}); err != nil {
		return RollbackEvent{}, fmt.Errorf("engine: rollback reset: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return RollbackEvent{}, fmt.Errorf("engine: rollback clean: %w", err)
	}

	return RollbackEvent{FromIteration: beforeIteration, ToCommit: target.Hash.String(), At: now}, nil
}

// storerStop is a sentinel used to short-circuit object.CommitIter.ForEach
// once the target commit is found.
var storerStop = fmt.Errorf("engine: checkpoint scan stop")

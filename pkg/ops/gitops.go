package ops

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type gitCloneCommit struct{}

// NewGitCloneCommit clones a repository into the sandbox, applies file
// changes and commits them locally. There is deliberately no push: results
// stay inside the sandbox.
func NewGitCloneCommit() catalog.Operation { return gitCloneCommit{} }

func (gitCloneCommit) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "git_clone_commit",
		Description: "Clone a git repository into the working directory, apply file changes and commit them locally.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "repo_url", Type: catalog.TypeString, Required: true, Description: "Repository URL to clone"},
			{Name: "message", Type: catalog.TypeString, Default: "Automated commit", Description: "Commit message"},
			{Name: "changes", Type: catalog.TypeStringMap, Required: true, Description: "Repo-relative file path to new content"},
		},
	}
}

func (gitCloneCommit) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	repoURL, err := requireString(params, "repo_url")
	if err != nil {
		return nil, err
	}
	changes := mapParam(params, "changes")
	if len(changes) == 0 {
		return nil, fmt.Errorf("no file changes provided")
	}
	message := stringParam(params, "message")
	if message == "" {
		message = "Automated commit"
	}

	cloneDir := repoDirName(repoURL)
	cloneAbs, err := env.EnsureDir(cloneDir)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(cloneAbs)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainCloneContext(ctx, cloneAbs, false, &git.CloneOptions{URL: repoURL})
	}
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}

	for rel, content := range changes {
		// Changes are repo-relative; re-guard each one so a crafted path
		// cannot climb out of the clone or the sandbox.
		p, err := env.Resolve(filepath.Join(cloneDir, rel))
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(p.Rel(), cloneDir+string(filepath.Separator)) {
			return nil, fmt.Errorf("change %q escapes the repository", rel)
		}
		if err := env.Put(p.Rel(), strings.NewReader(content)); err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.AddGlob("."); err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if status.IsClean() {
		return nil, fmt.Errorf("no changes to commit")
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "taskpilot", Email: "taskpilot@localhost", When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &catalog.Result{
		Value:    map[string]string{"commit": hash.String(), "dir": cloneDir},
		Artifact: cloneDir,
	}, nil
}

func repoDirName(repoURL string) string {
	name := strings.TrimSuffix(path.Base(repoURL), ".git")
	if name == "" || name == "." || name == "/" {
		name = "repository"
	}
	return name
}

package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ehrconnect/authz/internal/config"
)

// GitSource reads the document from a file in a Git repository. The
// repository is cloned into memory on the first load and fetched on every
// later one; the document is read from the tip of the tracked branch.
type GitSource struct {
	url    string
	branch string // empty tracks the remote HEAD
	path   string
	auth   transport.AuthMethod

	mu   sync.Mutex
	repo *git.Repository
}

// NewGitSource creates a GitSource. A token authenticates over HTTPS.
func NewGitSource(cfg config.PolicyConfig) *GitSource {
	s := &GitSource{
		url:    cfg.GitURL,
		branch: cfg.GitBranch,
		path:   cfg.GitPath,
	}
	if s.path == "" {
		s.path = "policy.yaml"
	}
	if cfg.GitToken != "" {
		s.auth = &http.BasicAuth{Username: "x-access-token", Password: cfg.GitToken}
	}
	return s
}

// Load implements Source.
func (s *GitSource) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		if err := s.clone(ctx); err != nil {
			return nil, fmt.Errorf("failed to clone policy repository: %w", err)
		}
	} else {
		err := s.repo.FetchContext(ctx, &git.FetchOptions{Auth: s.auth, RemoteName: git.DefaultRemoteName, Force: true})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("failed to fetch policy repository: %w", err)
		}
	}

	ref, err := s.repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, s.branch), true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve branch %s: %w", s.branch, err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", ref.Hash(), err)
	}
	file, err := commit.File(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", s.path, ref.Hash(), err)
	}
	if file.Size > maxPolicySize {
		return nil, fmt.Errorf("policy file exceeds %d bytes", maxPolicySize)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, err
	}
	return Parse([]byte(content))
}

func (s *GitSource) clone(ctx context.Context) error {
	opts := &git.CloneOptions{
		URL:          s.url,
		Auth:         s.auth,
		SingleBranch: true,
		NoCheckout:   true,
	}
	if s.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(s.branch)
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err != nil {
		return err
	}
	if s.branch == "" {
		head, err := repo.Head()
		if err != nil {
			return err
		}
		s.branch = head.Name().Short()
	}
	s.repo = repo
	return nil
}

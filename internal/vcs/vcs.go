// Package vcs provides version control providers. The git provider shells
// out to the git CLI using plumbing commands only.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// DefaultTimeout bounds each git invocation.
const DefaultTimeout = 5 * time.Second

// Git inspects repositories through the git binary.
type Git struct {
	binary  string
	timeout time.Duration
}

var _ ports.VCSProvider = (*Git)(nil)

// NewGit locates git on PATH. It fails with a Configuration error when the
// binary is missing.
func NewGit() (*Git, error) {
	bin, err := exec.LookPath("git")
	if err != nil {
		return nil, amerrors.Configuration("git binary not found on PATH", err)
	}
	return &Git{binary: bin, timeout: DefaultTimeout}, nil
}

// Name returns "git".
func (g *Git) Name() string { return "git" }

// Detect reports the repository containing path. ok is false outside a
// work tree. A repository without commits reports an empty Commit.
func (g *Git) Detect(ctx context.Context, path string) (ports.VCSInfo, bool, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return ports.VCSInfo{}, false, amerrors.InvalidArgument("resolve %s: %v", path, err)
	}
	root, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		if errors.Is(err, errNotRepository) {
			return ports.VCSInfo{}, false, nil
		}
		return ports.VCSInfo{}, false, err
	}
	info := ports.VCSInfo{Root: filepath.FromSlash(root)}

	// Both fail on an unborn branch; that is not an error.
	if commit, err := g.run(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		info.Commit = commit
	}
	if branch, err := g.run(ctx, dir, "symbolic-ref", "--short", "-q", "HEAD"); err == nil {
		info.Branch = branch
	} else if info.Commit != "" {
		info.Branch = "HEAD" // detached
	}
	return info, true, nil
}

var errNotRepository = errors.New("not a git repository")

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.binary, append([]string{"-C", dir}, args...)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", amerrors.Unavailable("git %s timed out", args[0])
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not a git repository") {
			return "", errNotRepository
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return "", amerrors.Newf(amerrors.ErrCodeInternal, "git %s exited %d: %s", args[0], exit.ExitCode(), msg)
		}
		return "", amerrors.Infrastructure("run git", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// None is the provider for workspaces without version control.
type None struct{}

var _ ports.VCSProvider = None{}

// Name returns "none".
func (None) Name() string { return "none" }

// Detect never finds a repository.
func (None) Detect(context.Context, string) (ports.VCSInfo, bool, error) {
	return ports.VCSInfo{}, false, nil
}

package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	cctypes "github.com/aws/aws-sdk-go-v2/service/codecommit/types"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RequireLocalTransport skips the test when local clones cannot run. go-git
// serves file URLs by spawning git-upload-pack.
func RequireLocalTransport(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available for local clones")
	}
}

// NewSourceRepo creates a non-bare git repository in a temp directory with
// the given files committed on the default branch and returns its path.
func NewSourceRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err, "failed to initialize source repository")

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err, "failed to add %s", name)
	}

	_, err = wt.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err, "failed to create initial commit")
	return dir
}

// CodeCommitFor returns a CodeCommit fake that resolves every known
// repository to a local clone URL, and fails for unknown ones.
func CodeCommitFor(repos map[string]string, notFound error) *MockCodeCommit {
	return &MockCodeCommit{
		GetRepositoryFunc: func(_ context.Context, in *codecommit.GetRepositoryInput) (*codecommit.GetRepositoryOutput, error) {
			url, ok := repos[aws.ToString(in.RepositoryName)]
			if !ok {
				return nil, notFound
			}
			return &codecommit.GetRepositoryOutput{
				RepositoryMetadata: &cctypes.RepositoryMetadata{
					RepositoryName: in.RepositoryName,
					CloneUrlHttp:   aws.String(url),
					CloneUrlSsh:    aws.String(url),
				},
			}, nil
		},
	}
}

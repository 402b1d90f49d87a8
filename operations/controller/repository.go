package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/sithukyaw666/pushdeploy/model"
)

// RepositorySync produces a fresh working copy of a CodeCommit repository.
// AWS credentials travel with the CodeCommit client; git transport
// credentials come from the git section of the runtime config.
type RepositorySync struct {
	CodeCommit CodeCommitAPI
	Git        model.GitConfig
	// WorkDir is the invocation's private directory; the clone lands in
	// WorkDir/<repositoryID>.
	WorkDir string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Sync looks up the repository's clone URL, wipes any existing copy at the
// target path and clones the latest revision.
func (s *RepositorySync) Sync(ctx context.Context, repositoryID string) (*model.LocalRepository, error) {
	if repositoryID == "" {
		return nil, SyncError("lookup", errors.New("repository id cannot be empty"))
	}

	cloneURL, err := s.lookup(ctx, repositoryID)
	if err != nil {
		return nil, SyncError("lookup "+repositoryID, err)
	}

	destination := filepath.Join(s.WorkDir, repositoryID)
	if _, err := os.Stat(destination); err == nil {
		s.Logger.Info("Removing existing working copy before clone", "path", destination)
		if err := os.RemoveAll(destination); err != nil {
			return nil, SyncError("remove "+destination, err)
		}
	}

	auth, err := s.authMethod(cloneURL)
	if err != nil {
		return nil, SyncError("auth", err)
	}

	s.Logger.Info("Cloning repository", "repository", repositoryID, "url", cloneURL, "path", destination)
	cloneCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := git.PlainCloneContext(cloneCtx, destination, false, &git.CloneOptions{
		URL:          cloneURL,
		Auth:         auth,
		Depth:        s.Git.Depth,
		SingleBranch: s.Git.Depth > 0,
	})
	if err != nil {
		return nil, SyncError("clone "+repositoryID, err)
	}

	headRef, err := repo.Head()
	if err != nil {
		return nil, SyncError("head "+repositoryID, fmt.Errorf("failed to get the HEAD after clone: %w", err))
	}
	s.Logger.Info("Clone successful.", "repository", repositoryID, "head", headRef.Hash().String())

	return &model.LocalRepository{
		ID:       repositoryID,
		Path:     destination,
		CloneURL: cloneURL,
		Head:     headRef.Hash().String(),
	}, nil
}

func (s *RepositorySync) lookup(ctx context.Context, repositoryID string) (string, error) {
	lookupCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.CodeCommit.GetRepository(lookupCtx, &codecommit.GetRepositoryInput{
		RepositoryName: aws.String(repositoryID),
	})
	if err != nil {
		return "", fmt.Errorf("repository %s not found or not in this region: %w", repositoryID, err)
	}
	if out == nil || out.RepositoryMetadata == nil {
		return "", fmt.Errorf("repository %s has no metadata", repositoryID)
	}

	meta := out.RepositoryMetadata
	url := aws.ToString(meta.CloneUrlSsh)
	if s.Git.Transport == "https" {
		url = aws.ToString(meta.CloneUrlHttp)
	}
	if url == "" {
		return "", fmt.Errorf("repository %s has no %s clone url", repositoryID, s.Git.Transport)
	}
	return url, nil
}

func (s *RepositorySync) authMethod(cloneURL string) (transport.AuthMethod, error) {
	if isLocalURL(cloneURL) {
		return nil, nil
	}

	if s.Git.Transport == "https" {
		if s.Git.Username == "" {
			return nil, nil
		}
		return &http.BasicAuth{Username: s.Git.Username, Password: s.Git.Password}, nil
	}

	user := s.Git.Username
	if user == "" {
		user = "git"
	}

	var auth ssh.AuthMethod

	if os.Getenv("SSH_AUTH_SOCK") != "" {
		s.Logger.Info("SSH Agent detected, attempting authentication.")
		agentAuth, err := ssh.NewSSHAgentAuth(user)
		if err != nil {
			s.Logger.Warn("SSH agent auth failed, will attempt key file.", "error", err)
		} else {
			auth = agentAuth
		}
	}
	if auth == nil {
		if s.Git.SSHKeyPath == "" {
			return nil, fmt.Errorf("no SSH agent found and git.ssh_key_path is not configured")
		}
		s.Logger.Info("Using SSH key file for authentication.", "path", s.Git.SSHKeyPath)
		keyAuth, err := ssh.NewPublicKeysFromFile(user, s.Git.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("could not create SSH authentication: %w", err)
		}
		auth = keyAuth
	}
	return auth, nil
}

func (s *RepositorySync) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.Timeout)
}

// withTimeout bounds a remote call; a non-positive timeout only adds cancellation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isLocalURL(url string) bool {
	if strings.HasPrefix(url, "file://") {
		return true
	}
	return filepath.IsAbs(url) || strings.HasPrefix(url, ".")
}

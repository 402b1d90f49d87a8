package controller

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sithukyaw666/pushdeploy/model"
)

// IgnoreFile is read from the packaged subtree root when present; its
// gitignore-style patterns are added to the configured exclusions.
const IgnoreFile = ".lambdaignore"

// zipEpoch is stamped on every entry so identical trees give identical bytes.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// skippedDirs are never descended into.
var skippedDirs = map[string]struct{}{
	".git": {},
}

// ArtifactPackager zips a repository subtree.
type ArtifactPackager struct {
	// FS resolves both the working copy paths and StagingDir.
	FS         billy.Filesystem
	StagingDir string
	Exclude    []string
	Logger     *slog.Logger
}

type packEntry struct {
	rel  string
	path string
	mode os.FileMode
}

// Package archives localPath/subtreePath into <repositoryID>.zip. Inside the
// archive every file sits under repositoryID/, whatever the subtree's location.
func (p *ArtifactPackager) Package(ctx context.Context, localPath, subtreePath, repositoryID string) (*model.Artifact, error) {
	if repositoryID == "" {
		return nil, PackagingError("package", errors.New("repository id cannot be empty"))
	}

	root := filepath.Join(localPath, filepath.FromSlash(strings.Trim(subtreePath, "/")))
	if rel, err := filepath.Rel(localPath, root); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, PackagingError("package", fmt.Errorf("subtree %q escapes the repository", subtreePath))
	}
	info, err := p.FS.Stat(root)
	if err != nil {
		return nil, PackagingError("stat "+root, err)
	}
	if !info.IsDir() {
		return nil, PackagingError("stat "+root, fmt.Errorf("%s is not a directory", root))
	}

	matcher, err := p.matcher(root)
	if err != nil {
		return nil, PackagingError("ignore file", err)
	}

	entries, err := p.collect(ctx, root, matcher)
	if err != nil {
		return nil, PackagingError("walk "+root, err)
	}
	if len(entries) == 0 {
		return nil, PackagingError("walk "+root, errors.New("no files to package"))
	}

	content, names, err := p.archive(entries, repositoryID)
	if err != nil {
		return nil, PackagingError("archive", err)
	}

	name := repositoryID + ".zip"
	if err := p.FS.MkdirAll(p.StagingDir, 0o755); err != nil {
		return nil, PackagingError("staging", err)
	}
	target := filepath.Join(p.StagingDir, name)
	if err := util.WriteFile(p.FS, target, content, 0o644); err != nil {
		return nil, PackagingError("write "+target, err)
	}

	sum := sha256.Sum256(content)
	p.Logger.Info("Packaged artifact",
		"artifact", name,
		"subtree", subtreePath,
		"files", len(names),
		"bytes", len(content))

	return &model.Artifact{
		Name:    name,
		Path:    target,
		Content: content,
		Entries: names,
		SHA256:  hex.EncodeToString(sum[:]),
	}, nil
}

func (p *ArtifactPackager) matcher(root string) (*ignore.GitIgnore, error) {
	lines := append([]string{}, p.Exclude...)

	data, err := util.ReadFile(p.FS, filepath.Join(root, IgnoreFile))
	switch {
	case err == nil:
		lines = append(lines, strings.Split(string(data), "\n")...)
		lines = append(lines, IgnoreFile)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if len(lines) == 0 {
		return nil, nil
	}
	return ignore.CompileIgnoreLines(lines...), nil
}

func (p *ArtifactPackager) collect(ctx context.Context, root string, matcher *ignore.GitIgnore) ([]packEntry, error) {
	var entries []packEntry

	err := util.Walk(p.FS, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if _, skip := skippedDirs[info.Name()]; skip {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				p.Logger.Debug("Skipping excluded directory", "path", rel)
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			p.Logger.Debug("Ignoring special file", "path", rel, "mode", info.Mode().String())
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			p.Logger.Debug("Skipping excluded file", "path", rel)
			return nil
		}
		entries = append(entries, packEntry{rel: rel, path: path, mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func (p *ArtifactPackager) archive(entries []packEntry, repositoryID string) ([]byte, []string, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		header := &zip.FileHeader{
			Name:     repositoryID + "/" + e.rel,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		header.SetMode(e.mode)

		w, err := writer.CreateHeader(header)
		if err != nil {
			return nil, nil, err
		}
		if err := p.copyFile(w, e.path); err != nil {
			return nil, nil, fmt.Errorf("failed to add %s: %w", e.rel, err)
		}
		names = append(names, header.Name)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), names, nil
}

func (p *ArtifactPackager) copyFile(w io.Writer, path string) error {
	f, err := p.FS.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

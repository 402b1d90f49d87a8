package controller

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
	"github.com/sithukyaw666/pushdeploy/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPackager(t *testing.T, files map[string]string) (*ArtifactPackager, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return &ArtifactPackager{FS: fs, StagingDir: "/work", Logger: testutil.Logger()}, fs
}

func readZip(t *testing.T, content []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	out := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(data)
	}
	return out
}

func TestArtifactPackager_Package(t *testing.T) {
	p, fs := newPackager(t, map[string]string{
		"/repo/myrepo/src/python/main.py":      "def handler(e, c): pass\n",
		"/repo/myrepo/src/python/lib/util.py":  "X = 1\n",
		"/repo/myrepo/README.md":               "outside the subtree\n",
		"/repo/myrepo/src/python/.git/HEAD":    "ref: refs/heads/main\n",
		"/repo/myrepo/src/python/.git/objects": "",
	})

	art, err := p.Package(context.Background(), "/repo/myrepo", "src/python/", "myrepo")
	require.NoError(t, err)

	assert.Equal(t, "myrepo.zip", art.Name)
	assert.Equal(t, "/work/myrepo.zip", art.Path)
	assert.Equal(t, []string{"myrepo/lib/util.py", "myrepo/main.py"}, art.Entries)
	assert.Len(t, art.SHA256, 64)

	assert.Equal(t, map[string]string{
		"myrepo/lib/util.py": "X = 1\n",
		"myrepo/main.py":     "def handler(e, c): pass\n",
	}, readZip(t, art.Content))

	staged, err := util.ReadFile(fs, "/work/myrepo.zip")
	require.NoError(t, err)
	assert.Equal(t, art.Content, staged)
}

func TestArtifactPackager_NestedLayout(t *testing.T) {
	p, _ := newPackager(t, map[string]string{
		"/src/a/b.py": "b",
		"/src/c.py":   "c",
	})

	art, err := p.Package(context.Background(), "/src", "a", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/b.py"}, art.Entries)

	art, err = p.Package(context.Background(), "/src", "", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/a/b.py", "r/c.py"}, art.Entries)
}

func TestArtifactPackager_Deterministic(t *testing.T) {
	files := map[string]string{
		"/repo/src/z.py":     "z",
		"/repo/src/a.py":     "a",
		"/repo/src/m/m.py":   "m",
		"/repo/src/m/n.json": "{}",
	}
	p1, _ := newPackager(t, files)
	p2, _ := newPackager(t, files)

	first, err := p1.Package(context.Background(), "/repo", "src", "r")
	require.NoError(t, err)
	second, err := p2.Package(context.Background(), "/repo", "src", "r")
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.SHA256, second.SHA256)
}

func TestArtifactPackager_Exclusions(t *testing.T) {
	p, _ := newPackager(t, map[string]string{
		"/repo/src/main.py":              "main",
		"/repo/src/main.pyc":             "bytecode",
		"/repo/src/__pycache__/main.pyc": "bytecode",
		"/repo/src/tests/test_main.py":   "test",
		"/repo/src/" + IgnoreFile:        "tests/\n# comment\n",
		"/repo/src/vendor/dep/dep.py":    "dep",
	})
	p.Exclude = []string{"*.pyc", "__pycache__/"}

	art, err := p.Package(context.Background(), "/repo", "src", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/main.py", "r/vendor/dep/dep.py"}, art.Entries)
}

func TestArtifactPackager_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		subtree string
		repo    string
	}{
		{name: "missing subtree", files: map[string]string{"/repo/other/x.py": "x"}, subtree: "src", repo: "r"},
		{name: "subtree is a file", files: map[string]string{"/repo/src": "x"}, subtree: "src", repo: "r"},
		{name: "nothing to package", files: map[string]string{"/repo/src/.git/HEAD": "x"}, subtree: "src", repo: "r"},
		{name: "empty repository id", files: map[string]string{"/repo/src/x.py": "x"}, subtree: "src"},
		{name: "subtree above repository", files: map[string]string{"/repo/src/x.py": "x", "/secret.txt": "s"}, subtree: "../", repo: "r"},
		{name: "subtree escapes through a sibling", files: map[string]string{"/repo/src/x.py": "x", "/other/y.py": "y"}, subtree: "src/../../other", repo: "r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fs := newPackager(t, tt.files)
			art, err := p.Package(context.Background(), "/repo", tt.subtree, tt.repo)
			assert.Nil(t, art)
			assert.ErrorIs(t, err, ErrPackaging)

			_, statErr := fs.Stat("/work/r.zip")
			assert.Error(t, statErr)
		})
	}
}

func TestArtifactPackager_Cancelled(t *testing.T) {
	p, _ := newPackager(t, map[string]string{"/repo/src/x.py": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Package(ctx, "/repo", "src", "r")
	assert.ErrorIs(t, err, ErrPackaging)
	assert.ErrorIs(t, err, context.Canceled)
}

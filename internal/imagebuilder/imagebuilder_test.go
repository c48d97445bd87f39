package imagebuilder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puzzlefs/puzzlefs/internal/chunkreader"
	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/pathresolver"
)

func TestBuildAndOpenRootfs(t *testing.T) {
	dir := t.TempDir()
	built, err := Build(dir, Spec{
		Dirs: []Dir{{Path: "empty"}},
		Files: []File{
			{Path: "hello.txt", Content: []byte("hello world"), ChunkSize: 4},
		},
		Symlinks: []Symlink{
			{Path: "link", Target: "hello.txt"},
		},
	})
	require.NoError(t, err)

	m, err := built.Store.OpenRootfs(built.Tag, &built.RootDigest)
	require.NoError(t, err)
	require.EqualValues(t, format.ManifestVersion, m.ManifestVersion())

	fileInode, err := pathresolver.Lookup(m, "/hello.txt")
	require.NoError(t, err)
	require.NotNil(t, fileInode)
	require.Equal(t, format.KindFile, fileInode.Mode.Kind)
	require.EqualValues(t, 11, fileInode.FileLen())

	out := make([]byte, 11)
	n, err := chunkreader.Read(built.Store, fileInode, 0, out, m.VerityRootFor)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(out))

	dirInode, err := pathresolver.Lookup(m, "/empty")
	require.NoError(t, err)
	require.NotNil(t, dirInode)
	require.Equal(t, format.KindDir, dirInode.Mode.Kind)
	require.Empty(t, dirInode.Mode.DirList.Entries)

	linkInode, err := pathresolver.Lookup(m, "/link")
	require.NoError(t, err)
	require.Equal(t, format.KindLnk, linkInode.Mode.Kind)
	require.Equal(t, "hello.txt", string(linkInode.Additional.SymlinkTarget))
}

func TestBuildWithVerityAllowsUntamperedRead(t *testing.T) {
	dir := t.TempDir()
	built, err := Build(dir, Spec{
		Files:      []File{{Path: "f", Content: []byte("trusted content")}},
		WithVerity: true,
	})
	require.NoError(t, err)

	m, err := built.Store.OpenRootfs(built.Tag, &built.RootDigest)
	require.NoError(t, err)

	fileInode, err := pathresolver.Lookup(m, "/f")
	require.NoError(t, err)

	out := make([]byte, len("trusted content"))
	n, err := chunkreader.Read(built.Store, fileInode, 0, out, m.VerityRootFor)
	require.NoError(t, err)
	require.Equal(t, "trusted content", string(out[:n]))
}

func TestBuildWithVerityDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	built, err := Build(dir, Spec{
		Files:      []File{{Path: "f", Content: []byte("trusted content")}},
		WithVerity: true,
	})
	require.NoError(t, err)

	m, err := built.Store.OpenRootfs(built.Tag, &built.RootDigest)
	require.NoError(t, err)

	fileInode, err := pathresolver.Lookup(m, "/f")
	require.NoError(t, err)
	require.Len(t, fileInode.Mode.Chunks, 1)

	blobPath := filepath.Join(dir, "blobs", "sha256", fileInode.Mode.Chunks[0].Digest.Encoded())
	require.NoError(t, os.WriteFile(blobPath, []byte("forged content!"), 0o644))

	out := make([]byte, len("trusted content"))
	_, err = chunkreader.Read(built.Store, fileInode, 0, out, m.VerityRootFor)
	require.Error(t, err)
}

func TestBuildRootHasExpectedMaxInode(t *testing.T) {
	dir := t.TempDir()
	built, err := Build(dir, Spec{
		Files: []File{{Path: "a"}, {Path: "b"}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, built.MaxInode) // root(1) + a(2) + b(3)
}

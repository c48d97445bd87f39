package imagebuilder

import (
	"sort"
	"strings"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/puzzlefs/puzzlefs/internal/format"
)

// treeBuilder assigns inode numbers and builds directory entry lists as
// files, directories, and symlinks are added by path. Chunk lists are left
// empty for File inodes; Build fills them in afterwards once blobs exist.
type treeBuilder struct {
	nextIno   format.Ino
	inodes    map[format.Ino]*format.Inode
	inoOfPath map[string]format.Ino
	maxInode  format.Ino
}

func newTreeBuilder() *treeBuilder {
	root := &format.Inode{
		Ino:         format.RootIno,
		Permissions: 0o755,
		Mode:        format.Mode{Kind: format.KindDir},
	}
	return &treeBuilder{
		nextIno:   format.RootIno + 1,
		inodes:    map[format.Ino]*format.Inode{format.RootIno: root},
		inoOfPath: map[string]format.Ino{"": format.RootIno, "/": format.RootIno},
		maxInode:  format.RootIno,
	}
}

func (t *treeBuilder) alloc() format.Ino {
	ino := t.nextIno
	t.nextIno++
	if ino > t.maxInode {
		t.maxInode = ino
	}
	return ino
}

// ensureDir creates every path component of path as a directory (if not
// already present) and returns the inode number of the leaf directory.
func (t *treeBuilder) ensureDir(path string) format.Ino {
	path = strings.Trim(path, "/")
	if path == "" {
		return format.RootIno
	}
	if ino, ok := t.inoOfPath[path]; ok {
		return ino
	}

	parentPath := ""
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		parentPath = path[:idx]
	}
	name := path
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		name = path[idx+1:]
	}

	parentIno := t.ensureDir(parentPath)
	ino := t.alloc()
	t.inodes[ino] = &format.Inode{
		Ino:         ino,
		Permissions: 0o755,
		Mode:        format.Mode{Kind: format.KindDir},
	}
	t.inoOfPath[path] = ino
	t.addEntry(parentIno, name, ino)
	return ino
}

func (t *treeBuilder) addEntry(parentIno format.Ino, name string, childIno format.Ino) {
	parent := t.inodes[parentIno]
	parent.Mode.DirList.Entries = append(parent.Mode.DirList.Entries, format.DirEnt{Name: name, Ino: childIno})
}

func (t *treeBuilder) splitParent(path string) (parentPath, name string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func (t *treeBuilder) addDir(path string) format.Ino {
	return t.ensureDir(path)
}

func (t *treeBuilder) addFile(path string) format.Ino {
	parentPath, name := t.splitParent(path)
	parentIno := t.ensureDir(parentPath)
	ino := t.alloc()
	t.inodes[ino] = &format.Inode{
		Ino:         ino,
		Permissions: 0o644,
		Mode:        format.Mode{Kind: format.KindFile},
	}
	t.inoOfPath[strings.Trim(path, "/")] = ino
	t.addEntry(parentIno, name, ino)
	return ino
}

func (t *treeBuilder) addSymlink(path, target string) format.Ino {
	parentPath, name := t.splitParent(path)
	parentIno := t.ensureDir(parentPath)
	ino := t.alloc()
	t.inodes[ino] = &format.Inode{
		Ino:         ino,
		Permissions: 0o777,
		Mode:        format.Mode{Kind: format.KindLnk},
		Additional:  format.Additional{SymlinkTarget: []byte(target)},
	}
	t.inoOfPath[strings.Trim(path, "/")] = ino
	t.addEntry(parentIno, name, ino)
	return ino
}

// flatten returns the inode table sorted by inode number, matching the
// deterministic ordering a real builder would produce.
func flatten(inodes map[format.Ino]*format.Inode) []format.Inode {
	out := make([]format.Inode, 0, len(inodes))
	for _, inode := range inodes {
		out = append(out, *inode)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ino < out[j].Ino })
	return out
}

func specVersioned() ispec.Versioned {
	return ispec.Versioned{SchemaVersion: 2}
}

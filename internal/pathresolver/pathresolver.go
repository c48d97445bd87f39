// Package pathresolver implements the path resolver (spec §4.4): walking an
// absolute path through directory inodes to a terminal inode, starting from
// the root.
//
// Grounded directly on
// _examples/original_source/puzzlefs-lib/src/reader/puzzlefs.rs's
// PuzzleFS::lookup.
package pathresolver

import (
	"strings"

	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/puzzlefserr"
)

// InodeFinder is the subset of the manifest reader the resolver needs.
type InodeFinder interface {
	FindInode(ino format.Ino) (*format.Inode, error)
}

// Lookup resolves an absolute, slash-separated path to an inode. It returns
// (nil, nil) when no such path exists (a "null result", distinct from an
// error); it returns an error with Kind KindInvalidArgument when the path
// does not begin with the root marker or contains a non-plain component
// ("." or ".."). An empty segment from a doubled slash (e.g. "//x") is not
// an error: it is silently collapsed, matching the Rust reference's
// Path::components behavior.
func Lookup(m InodeFinder, path string) (*format.Inode, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, puzzlefserr.New(puzzlefserr.KindInvalidArgument, "path must be absolute")
	}

	cur, err := m.FindInode(format.RootIno)
	if err != nil {
		return nil, err
	}

	components := strings.Split(path, "/")[1:]
	for _, comp := range components {
		if comp == "" {
			// A trailing slash (or "/") contributes no further components.
			continue
		}
		if !isNormal(comp) {
			return nil, puzzlefserr.New(puzzlefserr.KindInvalidArgument, "non-normal path component "+comp)
		}

		if cur.Mode.Kind != format.KindDir {
			return nil, nil
		}

		var next *format.Inode
		for _, ent := range cur.Mode.DirList.Entries {
			if ent.Name != comp {
				continue
			}
			next, err = m.FindInode(ent.Ino)
			if err != nil {
				return nil, err
			}
			break
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}

	return cur, nil
}

// isNormal reports whether comp is a plain path component: not empty, not
// ".", not "..".
func isNormal(comp string) bool {
	return comp != "" && comp != "." && comp != ".."
}

// Package manifest implements the manifest/rootfs reader (spec §4.2): it
// decodes a root manifest blob, enforces the manifest version invariant,
// and looks up inodes by number.
//
// Grounded directly on
// _examples/original_source/puzzlefs-lib/src/reader/puzzlefs.rs's
// PuzzleFS::open/find_inode/max_inode.
package manifest

import (
	"github.com/opencontainers/go-digest"

	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/puzzlefserr"
)

// Reader exposes the decoded contents of one root manifest blob.
type Reader struct {
	m        *format.Manifest
	byIno    map[format.Ino]*format.Inode
	maxInode format.Ino
	hasRoot  bool
}

// Open decodes raw manifest bytes and validates the manifest version.
// verityRequested should be true iff the caller passed an expected manifest
// root to the blob store when fetching this blob; verity data is only
// loaded (exposed via VerityData) in that case, per spec §4.2.
func Open(raw []byte, verityRequested bool) (*Reader, error) {
	m, err := format.DecodeManifest(raw)
	if err != nil {
		return nil, puzzlefserr.Wrap(puzzlefserr.KindIntegrityFailure, err, "decode manifest")
	}
	if m.Version != format.ManifestVersion {
		return nil, puzzlefserr.ErrWrongManifestVersion(m.Version, format.ManifestVersion)
	}

	r := &Reader{m: m, byIno: make(map[format.Ino]*format.Inode, len(m.Inodes)), hasRoot: verityRequested}
	for i := range m.Inodes {
		inode := &m.Inodes[i]
		r.byIno[inode.Ino] = inode
		if inode.Ino > r.maxInode {
			r.maxInode = inode.Ino
		}
	}
	return r, nil
}

// ManifestVersion returns the manifest's version field (always 3 for an
// image that passed Open).
func (r *Reader) ManifestVersion() uint64 { return r.m.Version }

// FindInode returns the Inode for ino from the inode table decoded once by
// Open, or a not-found error if ino is not present in that table.
func (r *Reader) FindInode(ino format.Ino) (*format.Inode, error) {
	inode, ok := r.byIno[ino]
	if !ok {
		return nil, puzzlefserr.New(puzzlefserr.KindNotFound, "inode not found")
	}
	return inode, nil
}

// MaxInode returns the largest ino referenced by this manifest's inode
// table (an upper bound on all referenced inos, per spec invariant 4).
func (r *Reader) MaxInode() format.Ino { return r.maxInode }

// VerityData returns the image's verity map, or nil if this image was
// opened without an expected manifest root.
func (r *Reader) VerityData() format.VerityData {
	if !r.hasRoot {
		return nil
	}
	return r.m.Verity
}

// VerityRootFor looks up the expected integrity root for a blob digest, or
// nil if verity was not requested or the blob has no entry.
func (r *Reader) VerityRootFor(blob digest.Digest) *digest.Digest {
	vd := r.VerityData()
	if vd == nil {
		return nil
	}
	root, ok := vd[blob]
	if !ok {
		return nil
	}
	return &root
}

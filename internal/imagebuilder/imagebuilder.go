// Package imagebuilder assembles minimal, valid PuzzleFS OCI images for use
// as test fixtures. It is exercised only by other packages' tests; nothing
// in the read path imports it.
//
// Grounded on opencontainers-umoci's engine-backed image construction
// (oci/cas/dir.go's PutBlob/PutReference, reused here via
// internal/blobstore) and on
// _examples/original_source/puzzlefs-lib/src/builder/mod.rs for which
// blobs a PuzzleFS image is made of: one or more chunk blobs per file plus
// one rootfs manifest blob, referenced from a top-level OCI image manifest.
package imagebuilder

import (
	"encoding/json"
	"io"

	"github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/orcaman/writerseeker"
	"github.com/pkg/errors"

	"github.com/puzzlefs/puzzlefs/internal/blobstore"
	"github.com/puzzlefs/puzzlefs/internal/format"
)

// File describes one regular file to add to the built image. Its content is
// split into chunks of at most ChunkSize bytes (or kept as a single chunk,
// if ChunkSize is zero), exercising the chunk reader's multi-chunk
// reassembly path.
type File struct {
	Path      string // slash-separated path below the image root, e.g. "dir/file"
	Content   []byte
	ChunkSize int
}

// Dir describes a directory to add to the built image, distinct from any
// directory implied by a File's Path: use this to model an empty directory.
type Dir struct {
	Path string
}

// Symlink describes a symbolic link to add to the built image.
type Symlink struct {
	Path   string
	Target string
}

// Spec describes the full tree to assemble into an image.
type Spec struct {
	Files    []File
	Dirs     []Dir
	Symlinks []Symlink
	// WithVerity, if true, populates the manifest's verity map with the
	// real digest of every chunk blob written, so tests can opt into
	// exercising the integrity-checked read path.
	WithVerity bool
}

// Built is the result of Build: an opened store and the information needed
// to mount it.
type Built struct {
	Store       *blobstore.Store
	Tag         string
	RootDigest  digest.Digest
	MaxInode    format.Ino
	InodeOfPath map[string]format.Ino
}

const defaultTag = "latest"

// Build writes a complete OCI directory layout under dir and returns a
// handle to it along with bookkeeping useful to assertions.
func Build(dir string, spec Spec) (*Built, error) {
	store, err := blobstore.CreateLayout(dir)
	if err != nil {
		return nil, errors.Wrap(err, "imagebuilder: create layout")
	}

	tree := newTreeBuilder()
	for _, d := range spec.Dirs {
		tree.addDir(d.Path)
	}
	for _, f := range spec.Files {
		tree.addFile(f.Path)
	}
	for _, l := range spec.Symlinks {
		tree.addSymlink(l.Path, l.Target)
	}

	inodes := tree.inodes
	inoOfPath := tree.inoOfPath

	verity := format.VerityData{}
	for _, f := range spec.Files {
		ino := inoOfPath[f.Path]
		chunks, err := writeChunks(store, f.Content, f.ChunkSize, verity, spec.WithVerity)
		if err != nil {
			return nil, err
		}
		inodes[ino].Mode.Chunks = chunks
	}

	m := &format.Manifest{Version: format.ManifestVersion, Inodes: flatten(inodes)}
	if spec.WithVerity {
		m.Verity = verity
	}
	raw, err := m.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "imagebuilder: encode manifest")
	}
	rootDigest, _, err := store.PutBlob(raw)
	if err != nil {
		return nil, errors.Wrap(err, "imagebuilder: put manifest blob")
	}

	top := ispec.Manifest{
		Versioned: specVersioned(),
		Config:    ispec.Descriptor{MediaType: "application/vnd.oci.image.config.v1+json", Digest: rootDigest, Size: 0},
		Layers: []ispec.Descriptor{{
			MediaType: blobstore.MediaTypeRootfs,
			Digest:    rootDigest,
			Size:      int64(len(raw)),
		}},
	}
	topRaw, err := seekableEncode(func(w io.Writer) error {
		return json.NewEncoder(w).Encode(top)
	})
	if err != nil {
		return nil, errors.Wrap(err, "imagebuilder: encode top-level manifest")
	}
	topDigest, topSize, err := store.PutBlob(topRaw)
	if err != nil {
		return nil, errors.Wrap(err, "imagebuilder: put top-level manifest")
	}
	if err := store.PutReference(defaultTag, &ispec.Descriptor{
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Digest:    topDigest,
		Size:      topSize,
	}); err != nil {
		return nil, errors.Wrap(err, "imagebuilder: put reference")
	}

	return &Built{
		Store:       store,
		Tag:         defaultTag,
		RootDigest:  rootDigest,
		MaxInode:    tree.maxInode,
		InodeOfPath: inoOfPath,
	}, nil
}

// writeChunks splits content into chunk blobs of at most chunkSize bytes
// (all of content in one chunk, if chunkSize is 0) and writes each as a
// blob, returning the format.Chunk list for the owning inode.
func writeChunks(store *blobstore.Store, content []byte, chunkSize int, verity format.VerityData, withVerity bool) ([]format.Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = len(content)
	}
	if len(content) == 0 {
		// An empty file still gets one zero-length chunk, matching the
		// invariant that FileLen() always equals the sum of chunk lengths.
		dgst, _, err := store.PutBlob(nil)
		if err != nil {
			return nil, err
		}
		if withVerity {
			verity[dgst] = dgst
		}
		return []format.Chunk{{Digest: dgst, Len: 0}}, nil
	}

	var chunks []format.Chunk
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		part := content[off:end]
		dgst, n, err := store.PutBlob(part)
		if err != nil {
			return nil, err
		}
		if withVerity {
			verity[dgst] = dgst
		}
		chunks = append(chunks, format.Chunk{Digest: dgst, Len: uint64(n)})
	}
	return chunks, nil
}

// seekableEncode runs encode against a writerseeker buffer and returns what
// was written, avoiding json.Marshal's extra allocation for the top-level
// manifest encode.
func seekableEncode(encode func(io.Writer) error) ([]byte, error) {
	var ws writerseeker.WriterSeeker
	if err := encode(&ws); err != nil {
		return nil, err
	}
	r := ws.Reader()
	return io.ReadAll(r)
}

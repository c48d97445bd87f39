package blobstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
)

// CreateLayout creates a new, empty OCI directory layout at path. It is
// used only by internal/imagebuilder to construct test fixtures; the core
// reader never writes.
// Grounded on opencontainers-umoci's oci/cas/dir.go CreateLayout, adapted to
// use renameio for the atomic oci-layout write instead of a bare os.Create.
func CreateLayout(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(path, blobDirectory, blobAlgorithm), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir blobdir")
	}
	if err := os.MkdirAll(filepath.Join(path, refDirectory), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir refdir")
	}

	layout := ispec.ImageLayout{Version: imageLayoutVersion}
	raw, err := json.Marshal(layout)
	if err != nil {
		return nil, errors.Wrap(err, "encode oci-layout")
	}
	if err := renameio.WriteFile(filepath.Join(path, layoutFile), raw, 0o644); err != nil {
		return nil, errors.Wrap(err, "write oci-layout")
	}

	return &Store{path: path}, nil
}

// PutBlob stores raw as a new content-addressed blob, returning its digest
// and size. Idempotent: writing the same bytes twice atomically rewrites the
// same blob file with identical content, matching umoci's PutBlob semantics.
func (s *Store) PutBlob(raw []byte) (digest.Digest, int64, error) {
	dgst := digest.FromBytes(raw)
	path, err := blobPath(s.path, dgst)
	if err != nil {
		return "", 0, err
	}
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return "", 0, errors.Wrap(err, "write blob")
	}
	return dgst, int64(len(raw)), nil
}

// PutReference stores a descriptor under the given tag name.
func (s *Store) PutReference(name string, desc *ispec.Descriptor) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return errors.Wrap(err, "encode reference")
	}
	if err := renameio.WriteFile(refPath(s.path, name), raw, 0o644); err != nil {
		return errors.Wrap(err, "write reference")
	}
	return nil
}

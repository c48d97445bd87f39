package blobstore

import (
	"github.com/opencontainers/go-digest"

	"github.com/puzzlefs/puzzlefs/internal/manifest"
)

// OpenRootfs resolves tag through the image's reference index to the
// PuzzleFS root manifest blob and decodes it into a *manifest.Reader. If
// expectedRoot is non-nil, the blob's digest must match it (checked inside
// GetManifest) and the manifest's verity map is made available through the
// returned Reader; otherwise the image is trusted as-is and verity data is
// not loaded (spec §4.1/§4.2).
func (s *Store) OpenRootfs(tag string, expectedRoot *digest.Digest) (*manifest.Reader, error) {
	raw, err := s.GetManifest(tag, expectedRoot)
	if err != nil {
		return nil, err
	}
	return manifest.Open(raw, expectedRoot != nil)
}

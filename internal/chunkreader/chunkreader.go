// Package chunkreader implements the central read-path algorithm (spec
// §4.3): mapping a (inode, offset, length) request onto the sequence of
// (blob, in-blob offset, length) reads needed to assemble the answer.
//
// Grounded line-for-line on
// _examples/original_source/puzzlefs-lib/src/reader/puzzlefs.rs's
// file_read function.
package chunkreader

import (
	"github.com/opencontainers/go-digest"

	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/puzzlefserr"
)

// BlobFiller is the subset of the blob store the chunk reader needs: a way
// to pull bytes out of a content-addressed blob, optionally verified
// against an expected integrity root.
type BlobFiller interface {
	FillFromChunk(blob digest.Digest, inBlobOffset int64, out []byte, verityRoot *digest.Digest) (int, error)
}

// VerityLookup resolves the expected integrity root for a blob digest, or
// returns nil when verity is not in effect for this image.
type VerityLookup func(blob digest.Digest) *digest.Digest

// Read assembles up to len(out) bytes of inode's content starting at
// offset, returning the number of bytes actually written into out. inode
// must be a File; any other kind is a puzzlefserr.KindNotDirectory error
// (spec §9 open question 1: the source-observed ENOTDIR behavior is
// preserved here rather than "corrected" to EISDIR/EINVAL).
func Read(store BlobFiller, inode *format.Inode, offset int64, out []byte, verity VerityLookup) (int, error) {
	if inode.Mode.Kind != format.KindFile {
		return 0, puzzlefserr.New(puzzlefserr.KindNotDirectory, "read on non-file inode")
	}
	if len(out) == 0 {
		return 0, nil
	}
	if offset < 0 {
		return 0, puzzlefserr.New(puzzlefserr.KindInvalidArgument, "negative offset")
	}

	end := offset + int64(len(out))
	var fileOffset int64
	var bufOffset int

	for _, chunk := range inode.Mode.Chunks {
		// Stop once we're past the end of the requested range.
		if fileOffset > end {
			break
		}

		chunkLen := int64(chunk.Len)

		// Skip a chunk entirely when it ends before the requested range
		// starts.
		if fileOffset+chunkLen < offset {
			fileOffset += chunkLen
			continue
		}

		addl := int64(0)
		if offset > fileOffset {
			addl = offset - fileOffset
		}
		remaining := int64(len(out) - bufOffset)
		toRead := chunkLen - addl
		if toRead > remaining {
			toRead = remaining
		}

		fileOffset += addl

		var verityRoot *digest.Digest
		if verity != nil {
			verityRoot = verity(chunk.Digest)
		}

		n, err := store.FillFromChunk(chunk.Digest, addl, out[bufOffset:bufOffset+int(toRead)], verityRoot)
		if err != nil {
			return bufOffset, err
		}
		bufOffset += n
		fileOffset += int64(n)

		// Once the output buffer is full, every further chunk would read
		// zero bytes anyway (left_in_buf == 0); stop rather than issuing
		// no-op blob reads for the remainder of the chunk list.
		if bufOffset >= len(out) {
			break
		}
	}

	return bufOffset, nil
}

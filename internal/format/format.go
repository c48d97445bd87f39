// Package format defines the decoded shape of a PuzzleFS image: the root
// manifest, the inode table, and the handful of small value types (chunks,
// directory entries, extended attributes, verity roots) that make it up.
//
// The wire encoding is CBOR, matching the Rust reference implementation's
// use of serde_cbor. Nothing in this package talks to a blob store; it only
// knows how to decode bytes that have already been fetched.
package format

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// ManifestVersion is the only manifest version this reader accepts.
const ManifestVersion uint64 = 3

// Ino is an inode number. The root directory always has Ino 1.
type Ino uint64

// RootIno is the inode number of the root directory of every image.
const RootIno Ino = 1

// Kind enumerates the tagged variants an Inode's Mode can take.
type Kind int

const (
	KindInvalid Kind = iota
	KindFile
	KindDir
	KindFifo
	KindChr
	KindBlk
	KindLnk
	KindSock
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindFifo:
		return "fifo"
	case KindChr:
		return "chr"
	case KindBlk:
		return "blk"
	case KindLnk:
		return "lnk"
	case KindSock:
		return "sock"
	default:
		return "invalid"
	}
}

// Chunk is a reference into the blob store: read Len bytes, starting at
// whatever offset the caller computes, from the blob identified by Digest.
type Chunk struct {
	Digest digest.Digest `cbor:"digest"`
	Len    uint64        `cbor:"len"`
}

// DirEnt is one entry in a directory's entry list: a name and the inode it
// resolves to. Names are uninterpreted byte strings; dir_list.entries is
// kept in the order it was decoded, and that order is what readdir exposes.
type DirEnt struct {
	Name string `cbor:"name"`
	Ino  Ino    `cbor:"ino"`
}

// Xattr is a single extended attribute key/value pair.
type Xattr struct {
	Key string `cbor:"key"`
	Val []byte `cbor:"val"`
}

// DirList is the decoded entry list of a directory inode.
type DirList struct {
	Entries []DirEnt `cbor:"entries"`
}

// Mode is the tagged variant of Inode.Mode. Exactly one of the fields below
// is meaningful, selected by Kind.
type Mode struct {
	Kind    Kind
	Chunks  []Chunk // valid iff Kind == KindFile
	DirList DirList // valid iff Kind == KindDir
}

// Additional holds the optional extra data an inode may carry: a symlink
// target (for Kind == KindLnk) and/or an ordered xattr list.
type Additional struct {
	SymlinkTarget []byte  `cbor:"symlink_target,omitempty"`
	Xattrs        []Xattr `cbor:"xattrs,omitempty"`
}

// Inode is the fully decoded record for one Ino.
type Inode struct {
	Ino         Ino        `cbor:"ino"`
	Permissions uint16     `cbor:"permissions"`
	UID         uint32     `cbor:"uid"`
	GID         uint32     `cbor:"gid"`
	Mode        Mode       `cbor:"mode"`
	Additional  Additional `cbor:"additional"`
}

// FileLen returns the logical length of a File inode: the sum of its
// chunks' lengths. Invariant (1) of the data model requires this to equal
// the file's true content length.
func (i *Inode) FileLen() uint64 {
	var total uint64
	for _, c := range i.Mode.Chunks {
		total += c.Len
	}
	return total
}

// wireMode is the on-the-wire shape of Mode: a single-key map naming the
// active variant, mirroring the Rust enum's serde_cbor encoding.
type wireMode struct {
	File *struct {
		Chunks []Chunk `cbor:"chunks"`
	} `cbor:"File,omitempty"`
	Dir *struct {
		DirList DirList `cbor:"dir_list"`
	} `cbor:"Dir,omitempty"`
	Fifo *struct{} `cbor:"Fifo,omitempty"`
	Chr  *struct{} `cbor:"Chr,omitempty"`
	Blk  *struct{} `cbor:"Blk,omitempty"`
	Lnk  *struct{} `cbor:"Lnk,omitempty"`
	Sock *struct{} `cbor:"Sock,omitempty"`
}

type wireInode struct {
	Ino         Ino        `cbor:"ino"`
	Permissions uint16     `cbor:"permissions"`
	UID         uint32     `cbor:"uid"`
	GID         uint32     `cbor:"gid"`
	Mode        wireMode   `cbor:"mode"`
	Additional  Additional `cbor:"additional"`
}

// UnmarshalCBOR decodes an Inode from its tagged-variant wire form.
func (i *Inode) UnmarshalCBOR(data []byte) error {
	var w wireInode
	if err := cbor.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode inode")
	}
	i.Ino = w.Ino
	i.Permissions = w.Permissions
	i.UID = w.UID
	i.GID = w.GID
	i.Additional = w.Additional
	switch {
	case w.Mode.File != nil:
		i.Mode = Mode{Kind: KindFile, Chunks: w.Mode.File.Chunks}
	case w.Mode.Dir != nil:
		i.Mode = Mode{Kind: KindDir, DirList: w.Mode.Dir.DirList}
	case w.Mode.Fifo != nil:
		i.Mode = Mode{Kind: KindFifo}
	case w.Mode.Chr != nil:
		i.Mode = Mode{Kind: KindChr}
	case w.Mode.Blk != nil:
		i.Mode = Mode{Kind: KindBlk}
	case w.Mode.Lnk != nil:
		i.Mode = Mode{Kind: KindLnk}
	case w.Mode.Sock != nil:
		i.Mode = Mode{Kind: KindSock}
	default:
		i.Mode = Mode{Kind: KindInvalid}
	}
	return nil
}

// MarshalCBOR encodes an Inode back to its tagged-variant wire form. Only
// used by the test-only image builder.
func (i *Inode) MarshalCBOR() ([]byte, error) {
	w := wireInode{
		Ino:         i.Ino,
		Permissions: i.Permissions,
		UID:         i.UID,
		GID:         i.GID,
		Additional:  i.Additional,
	}
	switch i.Mode.Kind {
	case KindFile:
		w.Mode.File = &struct {
			Chunks []Chunk `cbor:"chunks"`
		}{Chunks: i.Mode.Chunks}
	case KindDir:
		w.Mode.Dir = &struct {
			DirList DirList `cbor:"dir_list"`
		}{DirList: i.Mode.DirList}
	case KindFifo:
		w.Mode.Fifo = &struct{}{}
	case KindChr:
		w.Mode.Chr = &struct{}{}
	case KindBlk:
		w.Mode.Blk = &struct{}{}
	case KindLnk:
		w.Mode.Lnk = &struct{}{}
	case KindSock:
		w.Mode.Sock = &struct{}{}
	}
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(w); err != nil {
		return nil, errors.Wrap(err, "encode inode")
	}
	return buf.Bytes(), nil
}

// VerityData maps a blob digest to its expected fs-verity-style integrity
// root. It is populated only when the image was opened with an expected
// manifest root (spec §4.2).
type VerityData map[digest.Digest]digest.Digest

// Manifest is the decoded root manifest blob: a version tag, the inode
// table, and the verity map (verbatim from the blob; whether it gets
// consulted is decided by the caller that opened the image).
type Manifest struct {
	Version uint64          `cbor:"version"`
	Inodes  []Inode         `cbor:"inodes"`
	Verity  VerityData      `cbor:"verity,omitempty"`
}

// DecodeManifest decodes a root manifest blob.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return &m, nil
}

// Encode encodes a Manifest back to CBOR. Only used by the test-only image
// builder.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	return buf.Bytes(), nil
}

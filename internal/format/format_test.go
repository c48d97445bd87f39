package format

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestInodeRoundTripFile(t *testing.T) {
	in := Inode{
		Ino:         2,
		Permissions: 0o644,
		UID:         1000,
		GID:         1000,
		Mode: Mode{
			Kind:   KindFile,
			Chunks: []Chunk{{Digest: digest.FromBytes([]byte("hello")), Len: 5}},
		},
		Additional: Additional{Xattrs: []Xattr{{Key: "user.foo", Val: []byte("bar")}}},
	}

	raw, err := in.MarshalCBOR()
	require.NoError(t, err)

	var out Inode
	require.NoError(t, out.UnmarshalCBOR(raw))

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInodeRoundTripDir(t *testing.T) {
	in := Inode{
		Ino:         1,
		Permissions: 0o755,
		Mode: Mode{
			Kind:    KindDir,
			DirList: DirList{Entries: []DirEnt{{Name: "a", Ino: 2}, {Name: "b", Ino: 3}}},
		},
	}
	raw, err := in.MarshalCBOR()
	require.NoError(t, err)

	var out Inode
	require.NoError(t, out.UnmarshalCBOR(raw))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInodeRoundTripSpecialKinds(t *testing.T) {
	for _, kind := range []Kind{KindFifo, KindChr, KindBlk, KindLnk, KindSock} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			in := Inode{Ino: 5, Mode: Mode{Kind: kind}}
			raw, err := in.MarshalCBOR()
			require.NoError(t, err)

			var out Inode
			require.NoError(t, out.UnmarshalCBOR(raw))
			require.Equal(t, kind, out.Mode.Kind)
		})
	}
}

func TestFileLenSumsChunks(t *testing.T) {
	in := Inode{Mode: Mode{Kind: KindFile, Chunks: []Chunk{{Len: 3}, {Len: 4}, {Len: 5}}}}
	require.EqualValues(t, 12, in.FileLen())
}

func TestDecodeManifestRejectsGarbage(t *testing.T) {
	_, err := DecodeManifest([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	m := &Manifest{
		Version: ManifestVersion,
		Inodes: []Inode{
			{Ino: RootIno, Mode: Mode{Kind: KindDir, DirList: DirList{Entries: []DirEnt{{Name: "f", Ino: 2}}}}},
			{Ino: 2, Mode: Mode{Kind: KindFile, Chunks: []Chunk{{Digest: digest.FromBytes([]byte("x")), Len: 1}}}},
		},
	}
	raw, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeManifest(raw)
	require.NoError(t, err)
	require.Equal(t, m.Version, got.Version)
	require.Len(t, got.Inodes, 2)
}

package manifest

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/puzzlefserr"
)

func digestOfString(s string) digest.Digest { return digest.FromBytes([]byte(s)) }

func validManifest() *format.Manifest {
	return &format.Manifest{
		Version: format.ManifestVersion,
		Inodes: []format.Inode{
			{Ino: format.RootIno, Mode: format.Mode{Kind: format.KindDir, DirList: format.DirList{
				Entries: []format.DirEnt{{Name: "f", Ino: 2}},
			}}},
			{Ino: 2, Mode: format.Mode{Kind: format.KindFile}},
		},
	}
}

func TestOpenRejectsWrongVersion(t *testing.T) {
	m := validManifest()
	m.Version = 99
	raw, err := m.Encode()
	require.NoError(t, err)

	_, err = Open(raw, false)
	require.Equal(t, puzzlefserr.KindIntegrityFailure, puzzlefserr.KindOf(err))
}

func TestOpenAndFindInode(t *testing.T) {
	m := validManifest()
	raw, err := m.Encode()
	require.NoError(t, err)

	r, err := Open(raw, false)
	require.NoError(t, err)
	require.EqualValues(t, format.ManifestVersion, r.ManifestVersion())

	root, err := r.FindInode(format.RootIno)
	require.NoError(t, err)
	require.Equal(t, format.KindDir, root.Mode.Kind)

	require.EqualValues(t, 2, r.MaxInode())
}

func TestFindInodeMissingIsNotFound(t *testing.T) {
	m := validManifest()
	raw, err := m.Encode()
	require.NoError(t, err)

	r, err := Open(raw, false)
	require.NoError(t, err)

	_, err = r.FindInode(999)
	require.Equal(t, puzzlefserr.KindNotFound, puzzlefserr.KindOf(err))
}

func TestVerityDataOnlyExposedWhenRequested(t *testing.T) {
	m := validManifest()
	d := digestOfString("chunk")
	m.Verity = format.VerityData{d: d}
	raw, err := m.Encode()
	require.NoError(t, err)

	r, err := Open(raw, false)
	require.NoError(t, err)
	require.Nil(t, r.VerityData())
	require.Nil(t, r.VerityRootFor(d))

	r2, err := Open(raw, true)
	require.NoError(t, err)
	require.NotNil(t, r2.VerityData())
	require.Equal(t, &d, r2.VerityRootFor(d))
}

package puzzlefserr

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want syscall.Errno
	}{
		{KindIO, syscall.EIO},
		{KindNotFound, syscall.ENOENT},
		{KindNotDirectory, syscall.ENOTDIR},
		{KindInvalidArgument, syscall.EINVAL},
		{KindXattrMissing, syscall.ENODATA},
		{KindRange, syscall.ERANGE},
		{KindReadOnly, syscall.EROFS},
		{KindNotImplemented, syscall.ENOSYS},
		{KindIntegrityFailure, syscall.EIO},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		require.Equal(t, c.want, Errno(err))
	}
}

func TestErrnoDefaultsIOForForeignErrors(t *testing.T) {
	require.Equal(t, syscall.EIO, Errno(errors.New("boom")))
}

func TestErrnoPassesThroughBareSyscallErrno(t *testing.T) {
	require.Equal(t, syscall.ENOSPC, Errno(syscall.ENOSPC))
}

func TestWrapPreservesKind(t *testing.T) {
	err := Wrap(KindNotFound, syscall.ENOENT, "looking up inode")
	require.Equal(t, KindNotFound, KindOf(err))
	require.Equal(t, syscall.ENOENT, Errno(err))
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(KindIO, nil, "no-op"))
}

func TestErrWrongManifestVersionIsIntegrityFailure(t *testing.T) {
	err := ErrWrongManifestVersion(7, 3)
	require.Equal(t, KindIntegrityFailure, KindOf(err))
	require.Contains(t, err.Error(), "got 7")
}

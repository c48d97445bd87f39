// Package puzzlefserr defines the error taxonomy shared by the manifest
// reader, chunk reader, and path resolver, and the mapping from each kind to
// the POSIX errno the filesystem adapter replies with (spec §7).
//
// Internal packages return one of the sentinel kinds below (optionally
// wrapped with github.com/pkg/errors for context); the adapter is the only
// place that calls Errno to turn a kind into a reply.
package puzzlefserr

import (
	"syscall"

	"github.com/pkg/errors"
)

// Kind is a coarse error classification independent of any particular
// wrapping or message; Errno maps it to a reply errno.
type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindNotDirectory
	KindInvalidArgument
	KindXattrMissing
	KindRange
	KindReadOnly
	KindNotImplemented
	KindIntegrityFailure
)

// puzzlefsError pairs a Kind with the error that caused it, so callers can
// still unwrap down to the original error (e.g. an os.PathError) while the
// adapter only needs the Kind to pick an errno.
type puzzlefsError struct {
	kind Kind
	err  error
}

func (e *puzzlefsError) Error() string {
	if e.err == nil {
		return e.kind.String()
	}
	return e.err.Error()
}

func (e *puzzlefsError) Unwrap() error { return e.err }

// KindOf returns the error classification of err, defaulting to KindIO for any
// error not produced by this package (e.g. a raw I/O error bubbling up from
// the blob store).
func KindOf(err error) Kind {
	var pe *puzzlefsError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return KindIO
}

// New creates an error of the given kind wrapping msg.
func New(kind Kind, msg string) error {
	return &puzzlefsError{kind: kind, err: errors.New(msg)}
}

// Wrap creates an error of the given kind wrapping err with additional
// context, in the style of github.com/pkg/errors.Wrap.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &puzzlefsError{kind: kind, err: errors.Wrap(err, msg)}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindNotDirectory:
		return "not a directory / wrong kind"
	case KindInvalidArgument:
		return "invalid argument"
	case KindXattrMissing:
		return "xattr missing"
	case KindRange:
		return "range"
	case KindReadOnly:
		return "read-only filesystem"
	case KindNotImplemented:
		return "not implemented"
	case KindIntegrityFailure:
		return "integrity failure"
	default:
		return "io error"
	}
}

// Errno maps an error's Kind to the POSIX errno the adapter should reply
// with, per spec §7's table.
func Errno(err error) syscall.Errno {
	switch KindOf(err) {
	case KindNotFound:
		return syscall.ENOENT
	case KindNotDirectory:
		return syscall.ENOTDIR
	case KindInvalidArgument:
		return syscall.EINVAL
	case KindXattrMissing:
		return syscall.ENODATA
	case KindRange:
		return syscall.ERANGE
	case KindReadOnly:
		return syscall.EROFS
	case KindNotImplemented:
		return syscall.ENOSYS
	case KindIntegrityFailure:
		return syscall.EIO
	default:
		if errno, ok := err.(syscall.Errno); ok {
			return errno
		}
		return syscall.EIO
	}
}

// ErrInvalidInodeMode is raised when an Inode's Mode.Kind is not one of the
// documented variants (spec §3, invariant violation). It maps to EINVAL.
var ErrInvalidInodeMode = New(KindInvalidArgument, "invalid inode mode")

// ErrWrongManifestVersion is raised when a manifest's version field is not
// format.ManifestVersion.
func ErrWrongManifestVersion(observed, expected uint64) error {
	return New(KindIntegrityFailure, errors.Errorf(
		"wrong image version: got %d, expected %d", observed, expected).Error())
}

// ErrDigestMismatch is raised when a verity check fails.
var ErrDigestMismatch = New(KindIntegrityFailure, "blob digest mismatch")

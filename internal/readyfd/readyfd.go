// Package readyfd signals mount readiness to a waiting parent process, via
// either a raw file descriptor number or a named FIFO path (spec §4.6).
//
// Adapted from distr1/distri's internal/addrfd, generalized from a
// write-once address string to the two readiness mechanisms the mount
// lifecycle needs: writing one byte to and then closing an inherited fd, and
// writing to a FIFO that may
// not have a reader attached yet.
package readyfd

import (
	"os"

	"github.com/pkg/errors"
)

// Notifier signals readiness exactly once, by whichever mechanism the
// caller configured.
type Notifier struct {
	fd   int
	path string
}

// FromFD builds a Notifier that writes the single byte 's' to the inherited
// file descriptor fd and then closes it to signal readiness. A negative fd
// disables the mechanism; Notify becomes a no-op.
func FromFD(fd int) *Notifier {
	return &Notifier{fd: fd}
}

// FromFIFO builds a Notifier that writes a single byte to the named FIFO at
// path. The path must already exist and be a FIFO (spec §9 open question
// 3: PuzzleFS does not create the FIFO itself, only writes to it).
func FromFIFO(path string) *Notifier {
	return &Notifier{fd: -1, path: path}
}

// Notify performs the configured readiness signal. It must be called
// exactly once, after the filesystem is mounted and ready to serve
// requests but before the caller blocks waiting for unmount.
func (n *Notifier) Notify() error {
	if n == nil {
		return nil
	}
	if n.fd >= 0 {
		f := os.NewFile(uintptr(n.fd), "")
		if _, err := f.Write([]byte{'s'}); err != nil {
			f.Close()
			return errors.Wrap(err, "readyfd: write readiness fd")
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "readyfd: close readiness fd")
		}
		return nil
	}
	if n.path != "" {
		fi, err := os.Stat(n.path)
		if err != nil {
			return errors.Wrap(err, "readyfd: stat readiness fifo")
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return errors.Errorf("readyfd: %s is not a FIFO", n.path)
		}
		f, err := os.OpenFile(n.path, os.O_WRONLY, 0)
		if err != nil {
			return errors.Wrap(err, "readyfd: open readiness fifo")
		}
		defer f.Close()
		if _, err := f.Write([]byte{'s'}); err != nil {
			return errors.Wrap(err, "readyfd: write readiness fifo")
		}
		return nil
	}
	return nil
}

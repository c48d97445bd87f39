// Package mount drives the mount lifecycle (spec §4.6): opening the image,
// mounting the FUSE filesystem, signalling readiness, and tearing down
// cleanly on interrupt or on the kernel's own destroy callback.
//
// Grounded on distr1/distri's internal/fuse.Mount (the fuse.Mount/MountConfig
// construction and the deferred fuse.Unmount-on-join pattern) and its
// top-level context.go/atexit.go (folded here into a single
// context.Context-driven shutdown rather than the package-level globals the
// teacher used, since this package only ever mounts one image at a time).
package mount

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/apex/log"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/puzzlefs/puzzlefs/internal/blobstore"
	"github.com/puzzlefs/puzzlefs/internal/fuseadapter"
	"github.com/puzzlefs/puzzlefs/internal/readyfd"
)

// Options configures a single mount of one PuzzleFS image.
type Options struct {
	// ImagePath is the path to the OCI-directory-layout image to mount.
	ImagePath string
	// Tag names the reference within ImagePath to mount.
	Tag string
	// MountPoint is the directory to mount the filesystem onto.
	MountPoint string
	// ExpectedRoot, if non-nil, pins the root manifest blob's digest and
	// enables dm-verity-style integrity checking of chunk reads against the
	// manifest's verity map (spec §4.2).
	ExpectedRoot *digest.Digest
	// ReadyFD, if >= 0, is an inherited file descriptor to write the byte 's'
	// to and then close once the filesystem is ready to serve requests.
	ReadyFD int
	// ReadyFIFO, if non-empty, is a path to an existing named pipe to write
	// a readiness byte to, as an alternative to ReadyFD.
	ReadyFIFO string
	// AllowOther permits users other than the mount's owner to access the
	// filesystem (passed through to the kernel as the allow_other option).
	AllowOther bool
}

// Run mounts the configured image and blocks until ctx is canceled (by the
// caller, or by SIGINT/SIGTERM if the caller derived ctx from
// InterruptibleContext) or the kernel unmounts the filesystem out from
// under us. It attempts an unmount when ctx is canceled or the adapter's
// Destroy callback fires; when the kernel session ends on its own, it
// returns without an unmount call.
func Run(ctx context.Context, opts Options) error {
	store, err := blobstore.Open(opts.ImagePath)
	if err != nil {
		return errors.Wrap(err, "mount: open image")
	}

	m, err := store.OpenRootfs(opts.Tag, opts.ExpectedRoot)
	if err != nil {
		return errors.Wrap(err, "mount: open rootfs")
	}

	var shutdownOnce sync.Once
	shutdown := make(chan struct{})
	onDestroy := func() {
		shutdownOnce.Do(func() { close(shutdown) })
	}

	fs := fuseadapter.New(store, m, onDestroy)
	server := fuseutil.NewFileSystemServer(fs)

	options := map[string]string{}
	if opts.AllowOther {
		options["allow_other"] = ""
	}

	mfs, err := fuse.Mount(opts.MountPoint, server, &fuse.MountConfig{
		FSName:   "puzzlefs",
		ReadOnly: true,
		Options:  options,
		// The image never changes for the lifetime of a mount: opt into
		// caching resolved symlinks and suppressing pointless open calls.
		EnableSymlinkCaching:   true,
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return errors.Wrap(err, "fuse.Mount")
	}

	// Readiness notification is best-effort (spec §4.6, §7): a failure here
	// must not tear down a filesystem that is already live. The named-FIFO
	// form is additionally backgrounded, since opening it may block until a
	// reader shows up; the unnamed-pipe/fd form is fast and fires inline.
	notifier := readyNotifier(opts)
	if opts.ReadyFIFO != "" {
		go func() {
			if err := notifier.Notify(); err != nil {
				log.WithError(err).Warn("mount: signal readiness via named fifo")
			}
		}()
	} else if err := notifier.Notify(); err != nil {
		log.WithError(err).Warn("mount: signal readiness via fd")
	}

	// Two goroutines race to decide how the mount ends: the kernel session
	// simply exiting (mfs.Join returning on its own), or an external signal
	// to tear down (ctx cancellation, or the adapter's Destroy callback).
	// sessionDone lets whichever happens first unblock the other side.
	// Grounded on distr1/distri's own use of errgroup.Group in
	// internal/fuse/fuse.go to join concurrent FUSE-adjacent goroutines.
	sessionDone := make(chan struct{})
	var eg errgroup.Group
	eg.Go(func() error {
		defer close(sessionDone)
		return mfs.Join(context.Background())
	})
	eg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-shutdown:
		case <-sessionDone:
			return nil
		}
		return errors.Wrap(fuse.Unmount(opts.MountPoint), "fuse.Unmount")
	})
	return eg.Wait()
}

func readyNotifier(opts Options) *readyfd.Notifier {
	if opts.ReadyFIFO != "" {
		return readyfd.FromFIFO(opts.ReadyFIFO)
	}
	return readyfd.FromFD(opts.ReadyFD)
}

// InterruptibleContext returns a context canceled on SIGINT or SIGTERM, so
// that a second signal still results in immediate termination even if
// cleanup hangs.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		cancel()
	}()
	return ctx, cancel
}

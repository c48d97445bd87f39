// Command puzzlefs mounts, inspects, and verifies PuzzleFS images.
//
// Grounded on opencontainers-umoci's experimental/cmd/umoci2/main.go: the
// same apex/log + logcli handler wiring, --log level flag, and --image
// "path[:tag]" parsing convention, generalized to a single always-present
// --image flag instead of a per-command category.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/puzzlefs/puzzlefs/internal/blobstore"
	"github.com/puzzlefs/puzzlefs/internal/format"
	"github.com/puzzlefs/puzzlefs/internal/mount"
	"github.com/puzzlefs/puzzlefs/internal/pathresolver"
)

func main() {
	app := cli.NewApp()
	app.Name = "puzzlefs"
	app.Usage = "mount and inspect read-only, content-addressed container filesystem images"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log",
			Usage: "set the log level (debug, info, [warn], error, fatal)",
			Value: "warn",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		log.SetHandler(logcli.New(os.Stderr))
		level, err := log.ParseLevel(ctx.GlobalString("log"))
		if err != nil {
			return errors.Wrap(err, "parsing log level")
		}
		log.SetLevel(level)
		return nil
	}

	app.Commands = []cli.Command{
		mountCommand,
		infoCommand,
		verifyCommand,
		resolveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

// parseImage splits a "path[:tag]" image reference into its directory and
// tag, defaulting the tag to "latest".
func parseImage(image string) (dir, tag string, err error) {
	sep := strings.LastIndex(image, ":")
	if sep == -1 {
		return image, "latest", nil
	}
	dir, tag = image[:sep], image[sep+1:]
	if dir == "" {
		return "", "", errors.New("invalid --image: path is empty")
	}
	if tag == "" {
		return "", "", errors.New("invalid --image: tag is empty")
	}
	return dir, tag, nil
}

var mountCommand = cli.Command{
	Name:      "mount",
	Usage:     "mount a PuzzleFS image at a directory",
	ArgsUsage: "--image=<path[:tag]> <mountpoint>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "image", Usage: "OCI image URI of the form 'path[:tag]'"},
		cli.StringFlag{Name: "verity-root", Usage: "expected digest of the root manifest blob, enabling integrity checking"},
		cli.IntFlag{Name: "ready-fd", Value: -1, Usage: "file descriptor to write a readiness byte to and close once the mount is ready to serve"},
		cli.StringFlag{Name: "ready-fifo", Usage: "path to an existing FIFO to write a readiness byte to"},
		cli.BoolFlag{Name: "allow-other", Usage: "allow users other than the mount owner to access the filesystem"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return errors.New("syntax: puzzlefs mount --image=<path[:tag]> <mountpoint>")
		}
		dir, tag, err := parseImage(ctx.String("image"))
		if err != nil {
			return err
		}

		var expectedRoot *digest.Digest
		if raw := ctx.String("verity-root"); raw != "" {
			d, err := digest.Parse(raw)
			if err != nil {
				return errors.Wrap(err, "invalid --verity-root")
			}
			expectedRoot = &d
		}

		runCtx, cancel := mount.InterruptibleContext()
		defer cancel()

		log.WithFields(log.Fields{"image": dir, "tag": tag, "mountpoint": ctx.Args()[0]}).Info("mounting")
		return mount.Run(runCtx, mount.Options{
			ImagePath:    dir,
			Tag:          tag,
			MountPoint:   ctx.Args()[0],
			ExpectedRoot: expectedRoot,
			ReadyFD:      ctx.Int("ready-fd"),
			ReadyFIFO:    ctx.String("ready-fifo"),
			AllowOther:   ctx.Bool("allow-other"),
		})
	},
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "print the manifest version and inode count of a PuzzleFS image",
	ArgsUsage: "--image=<path[:tag]>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "image", Usage: "OCI image URI of the form 'path[:tag]'"},
	},
	Action: func(ctx *cli.Context) error {
		dir, tag, err := parseImage(ctx.String("image"))
		if err != nil {
			return err
		}
		store, err := blobstore.Open(dir)
		if err != nil {
			return errors.Wrap(err, "open image")
		}
		m, err := store.OpenRootfs(tag, nil)
		if err != nil {
			return errors.Wrap(err, "open rootfs")
		}
		fmt.Printf("manifest version: %d\n", m.ManifestVersion())
		fmt.Printf("max inode: %d\n", m.MaxInode())
		root, err := m.FindInode(format.RootIno)
		if err != nil {
			return errors.Wrap(err, "find root inode")
		}
		fmt.Printf("root entries: %d\n", len(root.Mode.DirList.Entries))
		return nil
	},
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "verify a PuzzleFS image's root manifest digest against an expected value",
	ArgsUsage: "--image=<path[:tag]> <expected-digest>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "image", Usage: "OCI image URI of the form 'path[:tag]'"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return errors.New("syntax: puzzlefs verify --image=<path[:tag]> <expected-digest>")
		}
		dir, tag, err := parseImage(ctx.String("image"))
		if err != nil {
			return err
		}
		want, err := digest.Parse(ctx.Args()[0])
		if err != nil {
			return errors.Wrap(err, "invalid expected digest")
		}
		store, err := blobstore.Open(dir)
		if err != nil {
			return errors.Wrap(err, "open image")
		}
		if _, err := store.OpenRootfs(tag, &want); err != nil {
			return errors.Wrap(err, "verify")
		}
		fmt.Println("ok: " + strconv.Quote(want.String()))
		return nil
	},
}

// resolveCommand exercises internal/pathresolver's whole-path walk (spec
// §4.4) directly, as a standalone debugging surface separate from the FUSE
// adapter's own per-component LookUpInode.
var resolveCommand = cli.Command{
	Name:      "resolve",
	Usage:     "resolve an absolute path to an inode number, without mounting the image",
	ArgsUsage: "--image=<path[:tag]> <absolute-path>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "image", Usage: "OCI image URI of the form 'path[:tag]'"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return errors.New("syntax: puzzlefs resolve --image=<path[:tag]> <absolute-path>")
		}
		dir, tag, err := parseImage(ctx.String("image"))
		if err != nil {
			return err
		}
		store, err := blobstore.Open(dir)
		if err != nil {
			return errors.Wrap(err, "open image")
		}
		m, err := store.OpenRootfs(tag, nil)
		if err != nil {
			return errors.Wrap(err, "open rootfs")
		}

		inode, err := pathresolver.Lookup(m, ctx.Args()[0])
		if err != nil {
			return errors.Wrap(err, "resolve")
		}
		if inode == nil {
			return errors.New("not found: " + ctx.Args()[0])
		}
		fmt.Printf("ino: %d\n", inode.Ino)
		fmt.Printf("kind: %s\n", inode.Mode.Kind)
		return nil
	},
}

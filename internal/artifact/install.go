package artifact

import (
	"archive/tar"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/klauspost/pgzip"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/mount"
)

// BootFiles maps artifact roles to the fixed names u-boot reads from the FAT
// partition.
var BootFiles = map[string]string{
	"kernel":   "zImage",
	"dtb":      "zero-gravitas.dtb",
	"waveform": "waveform.bin",
	"splash":   "splash.bmp",
}

// BootFileNames lists the files InstallBoot will place on the boot
// partition for this set.
func (s *Set) BootFileNames() []string {
	names := []string{BootFiles["kernel"], BootFiles["dtb"], BootFiles["waveform"]}
	if s.Splash != "" {
		names = append(names, BootFiles["splash"])
	}
	return names
}

// InstallBoot copies the kernel image, device-tree blob and e-paper firmware
// into the mounted boot partition. The splash bitmap is copied when present.
func InstallBoot(boot *mount.Session, set *Set) error {
	for _, f := range []struct {
		src      string
		name     string
		optional bool
	}{
		{set.Kernel, BootFiles["kernel"], false},
		{set.DTB, BootFiles["dtb"], false},
		{set.Waveform, BootFiles["waveform"], false},
		{set.Splash, BootFiles["splash"], true},
	} {
		if f.src == "" && f.optional {
			continue
		}
		if err := copyFile(f.src, boot.Path(f.name)); err != nil {
			if f.optional && os.IsNotExist(err) {
				continue
			}
			return &CopyError{Path: f.src, Err: err}
		}
		log.Printf("installed %s", boot.Path(f.name))
	}
	return nil
}

// InstallRootfs populates the mounted system partition from the rootfs
// artifact: a .tar.gz archive is extracted (parallel gzip), a directory tree
// is copied recursively preserving permissions, symlinks and device nodes.
// Cancellation is honored between entries, never mid-write.
func InstallRootfs(ctx context.Context, system *mount.Session, set *Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.RootfsIsArchive() {
		log.Printf("extracting rootfs %s to %s", set.Rootfs, system.Dir)
		return extractTar(ctx, set.Rootfs, system.Dir)
	}
	log.Printf("copying rootfs tree %s to %s", set.Rootfs, system.Dir)
	return copyTree(ctx, set.Rootfs, system.Dir)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(ctx context.Context, src, dest string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return &CopyError{Path: path, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if rel == "." {
			return os.Chmod(dest, fi.Mode().Perm())
		}
		switch {
		case fi.IsDir():
			if err := os.MkdirAll(target, fi.Mode().Perm()); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		case fi.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return &CopyError{Path: path, Err: err}
			}
			if err := replaceSymlink(link, target); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		case fi.Mode()&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
			if err := mknod(target, fi); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		default:
			if err := copyFile(path, target); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		}
		return lchown(target, fi)
	})
}

// replaceSymlink creates the symlink, replacing a previous one if the target
// already exists (idempotent re-runs).
func replaceSymlink(link, target string) error {
	if err := os.Symlink(link, target); err == nil || !os.IsExist(err) {
		return err
	}
	if err := os.Remove(target); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

func mknod(target string, fi os.FileInfo) error {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return xerrors.Errorf("mknod %s: no stat info", target)
	}
	mode := uint32(fi.Mode().Perm())
	switch {
	case fi.Mode()&os.ModeCharDevice != 0:
		mode |= unix.S_IFCHR
	case fi.Mode()&os.ModeDevice != 0:
		mode |= unix.S_IFBLK
	case fi.Mode()&os.ModeNamedPipe != 0:
		mode |= unix.S_IFIFO
	case fi.Mode()&os.ModeSocket != 0:
		mode |= unix.S_IFSOCK
	}
	if err := unix.Mknod(target, mode, int(st.Rdev)); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func lchown(target string, fi os.FileInfo) error {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if err := os.Lchown(target, int(st.Uid), int(st.Gid)); err != nil {
		// Not running as root (tests); ownership is best-effort there.
		log.Printf("lchown %s: %v", target, err)
	}
	return nil
}

func extractTar(ctx context.Context, archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return &MissingError{Name: "rootfs", Path: archive}
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		return xerrors.Errorf("gunzip %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("read %s: %w", archive, err)
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return &CopyError{Path: target, Err: err}
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return &CopyError{Path: target, Err: err}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return &CopyError{Path: target, Err: err}
			}
			if err := out.Close(); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		case tar.TypeSymlink:
			if err := replaceSymlink(hdr.Linkname, target); err != nil {
				return &CopyError{Path: target, Err: err}
			}
		case tar.TypeLink:
			if err := os.Link(filepath.Join(dest, hdr.Linkname), target); err != nil && !os.IsExist(err) {
				return &CopyError{Path: target, Err: err}
			}
		case tar.TypeChar, tar.TypeBlock:
			mode := uint32(hdr.Mode & 0777)
			if hdr.Typeflag == tar.TypeChar {
				mode |= unix.S_IFCHR
			} else {
				mode |= unix.S_IFBLK
			}
			dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
			if err := unix.Mknod(target, mode, int(dev)); err != nil && !os.IsExist(err) {
				return &CopyError{Path: target, Err: err}
			}
		case tar.TypeFifo:
			if err := unix.Mkfifo(target, uint32(hdr.Mode&0777)); err != nil && !os.IsExist(err) {
				return &CopyError{Path: target, Err: err}
			}
		default:
			log.Printf("skipping unsupported tar entry type %d: %s", hdr.Typeflag, hdr.Name)
			continue
		}
		if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			log.Printf("lchown %s: %v", target, err)
		}
	}
}

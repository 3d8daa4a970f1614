// Package artifact places prebuilt artifacts onto the provisioned device:
// the raw bootloader image into the eMMC boot area, kernel/device-tree/
// firmware blobs into the boot partition, and the root filesystem tree into
// the system partition.
//
// Artifacts are produced by the external cross-compilation tooling and are
// strictly read-only here.
package artifact

import (
	"fmt"
	"os"
	"strings"

	"github.com/parabola-rm/rmbuilder/internal/config"
)

// Set references the prebuilt artifacts consumed by a provisioning run.
type Set struct {
	// Bootloader is the raw u-boot image (u-boot.imx).
	Bootloader string
	// Kernel is the zImage.
	Kernel string
	// DTB is the device-tree blob (zero-gravitas.dtb).
	DTB string
	// Waveform is the e-paper controller firmware blob.
	Waveform string
	// Splash is the boot splash bitmap; optional.
	Splash string
	// Rootfs is either a directory tree or a .tar.gz archive.
	Rootfs string
}

// FromConfig resolves the artifact paths named in the configuration.
func FromConfig(cfg *config.Config) *Set {
	return &Set{
		Bootloader: cfg.Bootloader.Image,
		Kernel:     cfg.Kernel.Image,
		DTB:        cfg.Kernel.DTB,
		Waveform:   cfg.Kernel.Waveform,
		Splash:     cfg.Kernel.Splash,
		Rootfs:     cfg.System.Rootfs,
	}
}

// MissingError names the first required artifact that is absent or unusable.
type MissingError struct {
	Name string
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("artifact %s missing: %s", e.Name, e.Path)
}

// CopyError reports an I/O failure while installing artifacts. The copy is
// not transactional: the target may be partially populated, which the
// verification pass detects.
type CopyError struct {
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s: %v", e.Path, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// Validate checks that every required artifact exists and is non-empty. The
// splash bitmap is the only optional artifact.
func (s *Set) Validate() error {
	for _, a := range []struct{ name, path string }{
		{"bootloader", s.Bootloader},
		{"kernel", s.Kernel},
		{"dtb", s.DTB},
		{"waveform", s.Waveform},
	} {
		fi, err := os.Stat(a.path)
		if err != nil || fi.Size() == 0 {
			return &MissingError{Name: a.name, Path: a.path}
		}
	}
	fi, err := os.Stat(s.Rootfs)
	if err != nil {
		return &MissingError{Name: "rootfs", Path: s.Rootfs}
	}
	if fi.IsDir() {
		entries, err := os.ReadDir(s.Rootfs)
		if err != nil || len(entries) == 0 {
			return &MissingError{Name: "rootfs", Path: s.Rootfs}
		}
	} else if fi.Size() == 0 {
		return &MissingError{Name: "rootfs", Path: s.Rootfs}
	}
	return nil
}

// RootfsIsArchive reports whether the rootfs artifact is a tarball rather
// than an unpacked tree.
func (s *Set) RootfsIsArchive() bool {
	return strings.HasSuffix(s.Rootfs, ".tar.gz") || strings.HasSuffix(s.Rootfs, ".tgz")
}

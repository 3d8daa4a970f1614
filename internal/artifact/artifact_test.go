package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/parabola-rm/rmbuilder/internal/block"
	"github.com/parabola-rm/rmbuilder/internal/mount"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// completeSet lays out a full artifact set in a temp dir.
func completeSet(t *testing.T) *Set {
	t.Helper()
	dir := t.TempDir()
	s := &Set{
		Bootloader: filepath.Join(dir, "u-boot.imx"),
		Kernel:     filepath.Join(dir, "zImage"),
		DTB:        filepath.Join(dir, "zero-gravitas.dtb"),
		Waveform:   filepath.Join(dir, "waveform.bin"),
		Rootfs:     filepath.Join(dir, "rootfs"),
	}
	writeFile(t, s.Bootloader, "UBOOT")
	writeFile(t, s.Kernel, "KERNEL")
	writeFile(t, s.DTB, "DTB")
	writeFile(t, s.Waveform, "WAVEFORM")
	writeFile(t, filepath.Join(s.Rootfs, "etc", "hostname"), "parabola-rm\n")
	return s
}

func TestValidate(t *testing.T) {
	s := completeSet(t)
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateMissingKernel(t *testing.T) {
	s := completeSet(t)
	if err := os.Remove(s.Kernel); err != nil {
		t.Fatal(err)
	}
	var me *MissingError
	if err := s.Validate(); !errors.As(err, &me) {
		t.Fatalf("got %v, want MissingError", err)
	} else if me.Name != "kernel" {
		t.Errorf("missing artifact = %q, want %q", me.Name, "kernel")
	}
}

func TestValidateEmptyRootfs(t *testing.T) {
	s := completeSet(t)
	if err := os.RemoveAll(s.Rootfs); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(s.Rootfs, 0755); err != nil {
		t.Fatal(err)
	}
	var me *MissingError
	if err := s.Validate(); !errors.As(err, &me) {
		t.Fatalf("got %v, want MissingError for empty rootfs", err)
	} else if me.Name != "rootfs" {
		t.Errorf("missing artifact = %q, want %q", me.Name, "rootfs")
	}
}

func TestInstallBoot(t *testing.T) {
	s := completeSet(t)
	boot := mount.Adopt("/dev/mmcblk1p1", t.TempDir())
	if err := InstallBoot(boot, s); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zImage", "zero-gravitas.dtb", "waveform.bin"} {
		fi, err := os.Stat(boot.Path(name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
	// No splash configured: none installed, no error.
	if _, err := os.Stat(boot.Path("splash.bmp")); !os.IsNotExist(err) {
		t.Errorf("unexpected splash.bmp: %v", err)
	}
}

func TestInstallRootfsTree(t *testing.T) {
	s := completeSet(t)
	writeFile(t, filepath.Join(s.Rootfs, "usr", "bin", "xfce4-session"), "#!/bin/sh\n")
	if err := os.Chmod(filepath.Join(s.Rootfs, "usr", "bin", "xfce4-session"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("xfce4-session", filepath.Join(s.Rootfs, "usr", "bin", "startxfce4")); err != nil {
		t.Fatal(err)
	}

	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	if err := InstallRootfs(context.Background(), system, s); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(system.Path("usr", "bin", "xfce4-session"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fi.Mode().Perm(), os.FileMode(0755); got != want {
		t.Errorf("mode = %v, want %v", got, want)
	}
	link, err := os.Readlink(system.Path("usr", "bin", "startxfce4"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "xfce4-session" {
		t.Errorf("symlink target = %q, want %q", link, "xfce4-session")
	}

	// Re-running over the same target succeeds (idempotent symlink
	// replacement).
	if err := InstallRootfs(context.Background(), system, s); err != nil {
		t.Fatal(err)
	}
}

func TestInstallRootfsArchive(t *testing.T) {
	s := completeSet(t)
	if err := os.RemoveAll(s.Rootfs); err != nil {
		t.Fatal(err)
	}
	s.Rootfs = filepath.Join(filepath.Dir(s.Rootfs), "parabola-rootfs.tar.gz")

	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range []struct {
		hdr  tar.Header
		body string
	}{
		{tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0755}, ""},
		{tar.Header{Name: "etc/hostname", Typeflag: tar.TypeReg, Mode: 0644, Size: 12}, "parabola-rm\n"},
		{tar.Header{Name: "etc/mtab", Typeflag: tar.TypeSymlink, Linkname: "/proc/self/mounts", Mode: 0777}, ""},
	} {
		if err := tw.WriteHeader(&e.hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Rootfs, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	if err := InstallRootfs(context.Background(), system, s); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(system.Path("etc", "hostname"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "parabola-rm\n" {
		t.Errorf("hostname = %q", b)
	}
	link, err := os.Readlink(system.Path("etc", "mtab"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "/proc/self/mounts" {
		t.Errorf("mtab target = %q", link)
	}
}

func TestInstallRootfsMissing(t *testing.T) {
	s := completeSet(t)
	if err := os.RemoveAll(s.Rootfs); err != nil {
		t.Fatal(err)
	}
	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	var me *MissingError
	if err := InstallRootfs(context.Background(), system, s); !errors.As(err, &me) {
		t.Fatalf("got %v, want MissingError", err)
	}
}

func TestInstallBootloader(t *testing.T) {
	dir := t.TempDir()
	dev := block.Device{Path: filepath.Join(dir, "mmcblk1"), Sysfs: filepath.Join(dir, "sys")}

	// Stand-in nodes: boot area as a regular file, force_ro in a fake sysfs.
	writeFile(t, dev.BootAreaPath(), string(bytes.Repeat([]byte{0xff}, 8192)))
	writeFile(t, dev.ForceROPath(), "1\n")

	image := filepath.Join(dir, "u-boot.imx")
	writeFile(t, image, "UBOOTIMAGE")

	if err := InstallBootloader(dev, image); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(dev.BootAreaPath())
	if err != nil {
		t.Fatal(err)
	}
	// The first two sectors are zeroed, the image starts at sector 2.
	for i, c := range b[:bootImageOffset] {
		if c != 0 {
			t.Fatalf("byte %d before image offset is %#x, want 0", i, c)
		}
	}
	if got := string(b[bootImageOffset : bootImageOffset+10]); got != "UBOOTIMAGE" {
		t.Errorf("image at offset = %q", got)
	}

	ro, err := os.ReadFile(dev.ForceROPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(ro) != "1\n" {
		t.Errorf("force_ro = %q, want restored to %q", ro, "1\n")
	}
}

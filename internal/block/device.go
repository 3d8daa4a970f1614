// Package block drives the raw block device layer of a provisioning run:
// partition table writes, filesystem creation, partition re-scan settling
// and the eMMC boot-area write-protection toggle.
//
// Everything in this package is destructive to the target device. The
// sequencing and confirmation logic lives with the caller.
package block

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device identifies the target block device by its whole-device node. It is
// owned by a single provisioning run and never retained across runs.
type Device struct {
	// Path is the whole-device node, e.g. /dev/mmcblk1.
	Path string

	// Sysfs is the sysfs mount point, overridable in tests.
	Sysfs string
}

func New(path string) Device {
	return Device{Path: path, Sysfs: "/sys"}
}

// Name is the kernel device name, e.g. mmcblk1.
func (d Device) Name() string {
	return filepath.Base(d.Path)
}

// PartitionPath derives the node for partition index. Devices whose name
// ends in a digit (mmcblk1, nvme0n1, loop0) get a "p" infix: mmcblk1p2.
// Plain sd-style names concatenate directly: sda2.
func (d Device) PartitionPath(index int) string {
	if n := d.Name(); n != "" && n[len(n)-1] >= '0' && n[len(n)-1] <= '9' {
		return fmt.Sprintf("%sp%d", d.Path, index)
	}
	return fmt.Sprintf("%s%d", d.Path, index)
}

// BootAreaPath is the eMMC hardware boot area node (<dev>boot0). The
// bootloader is written here, outside any partition.
func (d Device) BootAreaPath() string {
	return d.Path + "boot0"
}

// ForceROPath is the sysfs attribute guarding writes to the boot area.
func (d Device) ForceROPath() string {
	return filepath.Join(d.Sysfs, "block", d.Name()+"boot0", "force_ro")
}

// DeviceNotFoundError means the device node does not exist; nothing has been
// written yet when this is returned.
type DeviceNotFoundError struct {
	Path string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("block device %s not found", e.Path)
}

// Exists reports whether the device node is present.
func (d Device) Exists() bool {
	_, err := os.Stat(d.Path)
	return err == nil
}

// Capacity returns the device size in bytes (BLKGETSIZE64).
func (d Device) Capacity() (int64, error) {
	f, err := os.OpenFile(d.Path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

// RereadPartitionTable asks the kernel to re-scan the partition table
// (BLKRRPART). The re-scan completes asynchronously; use WaitForPartitions
// before touching any partition node.
func (d Device) RereadPartitionTable() error {
	f, err := os.OpenFile(d.Path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKRRPART, 0); errno != 0 {
		return errno
	}
	return nil
}

// WithBootAreaWritable lifts the boot-area write protection, runs fn, and
// restores protection on every exit path. The protected window is kept as
// narrow as possible: it wraps only the raw bootloader write, not the whole
// pipeline.
func (d Device) WithBootAreaWritable(fn func() error) (err error) {
	forceRO := d.ForceROPath()
	if werr := os.WriteFile(forceRO, []byte("0\n"), 0644); werr != nil {
		return fmt.Errorf("unprotect boot area: %w", werr)
	}
	defer func() {
		if werr := os.WriteFile(forceRO, []byte("1\n"), 0644); werr != nil && err == nil {
			err = fmt.Errorf("reprotect boot area: %w", werr)
		}
	}()
	return fn()
}

// sizeSuffix formats a byte count the way humans (and sfdisk scripts) read
// them in logs.
func sizeSuffix(bytes int64) string {
	switch {
	case bytes == 0:
		return "remaining"
	case bytes%(1<<30) == 0:
		return fmt.Sprintf("%dG", bytes>>30)
	case bytes%(1<<20) == 0:
		return fmt.Sprintf("%dM", bytes>>20)
	}
	return fmt.Sprintf("%d", bytes)
}

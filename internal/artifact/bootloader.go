package artifact

import (
	"io"
	"log"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/block"
)

const (
	// bootImageOffset is where u-boot expects to be found by the SoC boot
	// ROM: sector 2 of the boot area.
	bootImageOffset = 2 * 512
	// bootAreaZeroLen is the region zeroed before the write (4096 sectors),
	// clearing any previous bootloader remnants.
	bootAreaZeroLen = 4096 * 512
)

// InstallBootloader writes the raw bootloader image into the device's eMMC
// boot area. The area is write-protected in hardware; protection is lifted
// only around the zero+write and restored on every exit path. Once this
// write has started there is no safe point to cancel: a half-written
// bootloader will not boot.
func InstallBootloader(dev block.Device, image string) error {
	in, err := os.Open(image)
	if err != nil {
		return &MissingError{Name: "bootloader", Path: image}
	}
	defer in.Close()

	log.Printf("installing bootloader %s to %s", image, dev.BootAreaPath())
	return dev.WithBootAreaWritable(func() error {
		out, err := os.OpenFile(dev.BootAreaPath(), os.O_WRONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return xerrors.Errorf("open boot area: %w", err)
		}
		defer out.Close()

		if err := zeroRegion(out, bootAreaZeroLen); err != nil {
			return xerrors.Errorf("zero boot area: %w", err)
		}
		if _, err := out.Seek(bootImageOffset, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			return xerrors.Errorf("write bootloader: %w", err)
		}
		if err := out.Sync(); err != nil {
			return xerrors.Errorf("sync boot area: %w", err)
		}
		return out.Close()
	})
}

func zeroRegion(w io.WriteSeeker, length int) error {
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	zero := make([]byte, 64*1024)
	for length > 0 {
		n := len(zero)
		if length < n {
			n = length
		}
		if _, err := w.Write(zero[:n]); err != nil {
			return err
		}
		length -= n
	}
	return nil
}

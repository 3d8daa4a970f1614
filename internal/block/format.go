package block

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/plan"
)

// execCommand is swapped out in tests.
var execCommand = exec.CommandContext

// FormatError names the formatting step that failed. A partially formatted
// device is left as-is: re-formatting automatically would only hide the
// problem from the user, who has to decide whether to re-run from scratch.
type FormatError struct {
	Step string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format failed at %s: %v", e.Step, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Format destructively applies the plan to dev: it writes a fresh MBR
// partition table, waits for the kernel to expose the new partition nodes,
// and creates the filesystems. The caller must have obtained confirmation
// before calling; there is no way back.
func Format(ctx context.Context, dev Device, p *plan.Plan, fs config.Filesystem) error {
	if !dev.Exists() {
		return &DeviceNotFoundError{Path: dev.Path}
	}
	if size, err := dev.Capacity(); err != nil {
		log.Printf("cannot read capacity of %s: %v (skipping size check)", dev.Path, err)
	} else if min := p.MinBytes(); size < min {
		return &FormatError{
			Step: "capacity",
			Err:  fmt.Errorf("device holds %d bytes, plan needs at least %d", size, min),
		}
	}

	log.Printf("writing partition table to %s:", dev.Path)
	for _, s := range p.Specs {
		log.Printf("  - p%d %s %s bootable=%t (%s)", s.Index, s.Type, sizeSuffix(s.Size), s.Bootable, s.Label)
	}
	sfdisk := execCommand(ctx, "sfdisk", "--wipe", "always", "--wipe-partitions", "always", dev.Path)
	sfdisk.Stdin = strings.NewReader(sfdiskScript(p))
	if out, err := sfdisk.CombinedOutput(); err != nil {
		return &FormatError{
			Step: "partition-table",
			Err:  xerrors.Errorf("%v: %v\nout: %s", sfdisk.Args, err, out),
		}
	}

	if err := dev.RereadPartitionTable(); err != nil {
		// sfdisk already asks the kernel to re-read; the explicit ioctl is
		// only a nudge, so a failure here is not fatal.
		log.Printf("BLKRRPART %s: %v", dev.Path, err)
	}
	if err := WaitForPartitions(ctx, dev, len(p.Specs)); err != nil {
		return err
	}

	for _, s := range p.Specs {
		if err := mkfs(ctx, dev.PartitionPath(s.Index), s, fs.Ext4Params); err != nil {
			return err
		}
	}
	return nil
}

// sfdiskScript renders the plan as an sfdisk input script. Offsets and sizes
// are given in 512-byte sectors; a remaining-size partition omits its size
// field.
func sfdiskScript(p *plan.Plan) string {
	var b strings.Builder
	b.WriteString("label: dos\n")
	for _, s := range p.Specs {
		typ := "83"
		if s.Type == plan.FAT32 {
			typ = "c"
		}
		b.WriteString("start=" + strconv.FormatInt(s.Start/512, 10))
		if s.Size > 0 {
			b.WriteString(", size=" + strconv.FormatInt(s.Size/512, 10))
		}
		b.WriteString(", type=" + typ)
		if s.Bootable {
			b.WriteString(", bootable")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func mkfs(ctx context.Context, devpath string, s plan.Spec, params config.Ext4Params) error {
	var cmd *exec.Cmd
	switch s.Type {
	case plan.FAT32:
		cmd = execCommand(ctx, "mkfs.vfat", devpath)
	case plan.Ext4:
		// The feature and geometry arguments are load-bearing for the small
		// eMMC and must be passed through verbatim, never left at mkfs
		// defaults.
		cmd = execCommand(ctx, "mkfs.ext4",
			"-O", "^64bit",
			"-O", "^metadata_csum",
			"-O", "uninit_bg",
			"-J", fmt.Sprintf("size=%d", params.JournalSize),
			"-b", strconv.Itoa(params.BlockSize),
			"-i", strconv.Itoa(params.InodeRatio),
			"-I", strconv.Itoa(params.InodeSize),
			devpath)
	default:
		return &FormatError{Step: "mkfs " + s.Label, Err: fmt.Errorf("unknown filesystem type %v", s.Type)}
	}
	log.Printf("formatting %s (%s)", devpath, s.Label)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &FormatError{
			Step: "mkfs " + s.Label,
			Err:  xerrors.Errorf("%v: %v\nout: %s", cmd.Args, err, out),
		}
	}
	return nil
}

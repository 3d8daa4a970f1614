// Package plan computes the partition layout for a provisioning run.
//
// The layout policy is fixed: three MBR primary partitions in
// boot(FAT)/system(ext4)/home(ext4) order, with home permitted to take all
// remaining space. Additional layouts are data (more specs), not new code
// paths. The package is pure: it never touches a device, so capacity
// checking against real hardware happens later, in block.Format.
package plan

import (
	"fmt"

	"github.com/parabola-rm/rmbuilder/internal/config"
)

// Reserve is the gap before the first partition: sector 0 holds the MBR and
// the remainder keeps the first partition 1 MiB-aligned. The bootloader
// itself does not live here — it goes into the eMMC hardware boot area,
// which is outside the addressable range of the partition table entirely.
const Reserve = 1 << 20

const (
	MiB = 1 << 20
	GiB = 1 << 30
)

type FSType int

const (
	FAT32 FSType = iota
	Ext4
)

func (t FSType) String() string {
	switch t {
	case FAT32:
		return "fat32"
	case Ext4:
		return "ext4"
	}
	return "unknown"
}

// Spec describes one partition. Size == 0 means "all remaining space" and is
// only valid on the last spec.
type Spec struct {
	Index    int // 1-based, matches the partition device suffix
	Start    int64
	Size     int64
	Type     FSType
	Bootable bool
	Label    string
}

// Plan is an ordered, validated partition layout. Compute is the only
// constructor; a Plan is immutable afterwards.
type Plan struct {
	Specs []Spec
}

// InvalidPlanError reports a size configuration no valid layout can satisfy.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid partition plan: %s", e.Reason)
}

// Compute maps the hardware and partition configuration to a Plan.
func Compute(hw config.Hardware, pc config.Partition) (*Plan, error) {
	if hw.TabletModel != "rm1" {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("unsupported tablet model %q", hw.TabletModel)}
	}
	l := pc.Layout
	if l.FATSize <= 0 {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("fat_size must be positive, got %d", l.FATSize)}
	}
	if l.SystemSize <= 0 {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("system_size must be positive, got %d", l.SystemSize)}
	}
	if l.HomeSize < 0 {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("home_size must be zero (remaining) or positive, got %d", l.HomeSize)}
	}
	for _, typ := range []string{pc.Filesystem.SystemType, pc.Filesystem.HomeType} {
		if typ != "ext4" {
			return nil, &InvalidPlanError{Reason: fmt.Sprintf("unsupported filesystem type %q", typ)}
		}
	}
	if pc.Filesystem.FATType != "vfat" {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("unsupported fat type %q", pc.Filesystem.FATType)}
	}

	boot := Spec{
		Index:    1,
		Start:    Reserve,
		Size:     l.FATSize * MiB,
		Type:     FAT32,
		Bootable: true,
		Label:    "boot",
	}
	system := Spec{
		Index: 2,
		Start: boot.Start + boot.Size,
		Size:  l.SystemSize * GiB,
		Type:  Ext4,
		Label: "system",
	}
	home := Spec{
		Index: 3,
		Start: system.Start + system.Size,
		Size:  l.HomeSize * GiB, // 0 == remaining
		Type:  Ext4,
		Label: "home",
	}
	return &Plan{Specs: []Spec{boot, system, home}}, nil
}

// MinBytes is the smallest device capacity the plan fits on. A remaining-size
// spec contributes nothing beyond its start offset.
func (p *Plan) MinBytes() int64 {
	var end int64
	for _, s := range p.Specs {
		if s.Start > end {
			end = s.Start
		}
		end = s.Start + s.Size
	}
	return end
}

// Remaining reports whether the last spec takes all remaining space.
func (p *Plan) Remaining() bool {
	if len(p.Specs) == 0 {
		return false
	}
	return p.Specs[len(p.Specs)-1].Size == 0
}

package plan

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/parabola-rm/rmbuilder/internal/config"
)

func rm1() config.Hardware { return config.Hardware{TabletModel: "rm1"} }

func layout(fat, system, home int64) config.Partition {
	pc := config.Default().Partition
	pc.Layout = config.Layout{FATSize: fat, SystemSize: system, HomeSize: home}
	return pc
}

func TestCompute(t *testing.T) {
	got, err := Compute(rm1(), layout(20, 2, 0))
	if err != nil {
		t.Fatal(err)
	}
	want := &Plan{Specs: []Spec{
		{Index: 1, Start: Reserve, Size: 20 * MiB, Type: FAT32, Bootable: true, Label: "boot"},
		{Index: 2, Start: Reserve + 20*MiB, Size: 2 * GiB, Type: Ext4, Label: "system"},
		{Index: 3, Start: Reserve + 20*MiB + 2*GiB, Size: 0, Type: Ext4, Label: "home"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected plan: diff (-want +got):\n%s", diff)
	}
	if !got.Remaining() {
		t.Errorf("Remaining() = false, want true for home_size == 0")
	}
	if got, want := got.MinBytes(), int64(Reserve+20*MiB+2*GiB); got != want {
		t.Errorf("MinBytes() = %d, want %d", got, want)
	}
}

func TestComputeFixedHome(t *testing.T) {
	p, err := Compute(rm1(), layout(20, 2, 4))
	if err != nil {
		t.Fatal(err)
	}
	if p.Remaining() {
		t.Errorf("Remaining() = true, want false for home_size == 4")
	}
	if got, want := p.Specs[2].Size, int64(4*GiB); got != want {
		t.Errorf("home size = %d, want %d", got, want)
	}
}

func TestComputeOrderingInvariant(t *testing.T) {
	p, err := Compute(rm1(), layout(33, 5, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(p.Specs))
	}
	for i, s := range p.Specs {
		if s.Index != i+1 {
			t.Errorf("spec %d has index %d", i, s.Index)
		}
		if i == 0 {
			continue
		}
		prev := p.Specs[i-1]
		if s.Start != prev.Start+prev.Size {
			t.Errorf("spec %d starts at %d, want %d (offsets must be contiguous and non-overlapping)",
				i, s.Start, prev.Start+prev.Size)
		}
	}
	if p.Specs[0].Start < Reserve {
		t.Errorf("first partition starts at %d, inside the reserved region", p.Specs[0].Start)
	}
}

func TestComputeInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		hw   config.Hardware
		pc   config.Partition
	}{
		{"zero fat_size", rm1(), layout(0, 2, 0)},
		{"negative system_size", rm1(), layout(20, -1, 0)},
		{"negative home_size", rm1(), layout(20, 2, -3)},
		{"unknown model", config.Hardware{TabletModel: "rm9"}, layout(20, 2, 0)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compute(tt.hw, tt.pc); err == nil {
				t.Fatal("Compute succeeded, want InvalidPlanError")
			} else if _, ok := err.(*InvalidPlanError); !ok {
				t.Fatalf("got %T, want *InvalidPlanError", err)
			}
		})
	}
}

func TestComputeUnsupportedFilesystem(t *testing.T) {
	pc := layout(20, 2, 0)
	pc.Filesystem.HomeType = "btrfs"
	if _, err := Compute(rm1(), pc); err == nil {
		t.Fatal("Compute succeeded, want InvalidPlanError for btrfs home")
	}
}

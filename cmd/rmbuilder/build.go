package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/parabola-rm/rmbuilder/internal/artifact"
	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/plan"
)

const buildHelp = `build - resolve and validate the prebuilt artifacts

The bootloader, kernel and rootfs are produced by the cross-compilation
environment named in the configuration; build checks that every artifact the
configured install would consume is present and usable, and prints the
partition plan it implies. Nothing is written to any device.

Example:
  % rmbuilder build -config rmbuilder.yaml
`

func build(args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		configPath = fset.String("config",
			"",
			"path to the YAML configuration (empty: built-in defaults)")
	)
	fset.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	layout, err := plan.Compute(cfg.Hardware, cfg.Partition)
	if err != nil {
		return err
	}
	fmt.Printf("partition plan (%s):\n", cfg.Hardware.TabletModel)
	for _, s := range layout.Specs {
		size := "remaining"
		if s.Size > 0 {
			size = fmt.Sprintf("%d MiB", s.Size/plan.MiB)
		}
		fmt.Printf("  p%d  %-7s %-10s %s\n", s.Index, s.Type, size, s.Label)
	}

	set := artifact.FromConfig(cfg)
	if err := set.Validate(); err != nil {
		return err
	}
	for _, a := range []struct{ name, path string }{
		{"bootloader", set.Bootloader},
		{"kernel", set.Kernel},
		{"dtb", set.DTB},
		{"waveform", set.Waveform},
		{"splash", set.Splash},
		{"rootfs", set.Rootfs},
	} {
		if a.path == "" {
			continue
		}
		fi, err := os.Stat(a.path)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			fmt.Printf("  %-10s %s (tree)\n", a.name, a.path)
		} else {
			fmt.Printf("  %-10s %s (%d bytes)\n", a.name, a.path, fi.Size())
		}
	}
	log.Printf("all artifacts present")
	return nil
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder"
	"github.com/parabola-rm/rmbuilder/internal/block"
	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/provision"
	"github.com/parabola-rm/rmbuilder/internal/trace"
)

const installHelp = `install - provision a tablet eMMC (DESTRUCTIVE)

install partitions and formats the device, writes the bootloader into the
eMMC boot area, installs the boot files and the root filesystem, configures
the installed system and verifies the result with a read-only re-mount.

ALL DATA ON THE DEVICE IS DESTROYED.

Example:
  % rmbuilder install -device /dev/mmcblk1 -config rmbuilder.yaml
`

func install(args []string) error {
	fset := flag.NewFlagSet("install", flag.ExitOnError)
	var (
		device = fset.String("device",
			"",
			"block device to provision, e.g. /dev/mmcblk1")

		configPath = fset.String("config",
			"",
			"path to the YAML configuration (empty: built-in defaults)")

		yes = fset.Bool("yes",
			false,
			"skip the interactive confirmation")

		tracefile = fset.String("tracefile",
			"",
			"path to store a Chrome trace event file of the run at")
	)
	fset.Parse(args)

	if *tracefile != "" {
		if err := trace.Enable(*tracefile); err != nil {
			return err
		}
	}

	if *device == "" {
		return xerrors.New("-device is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	dev := block.New(*device)
	if !dev.Exists() {
		return &block.DeviceNotFoundError{Path: dev.Path}
	}

	if !*yes {
		if err := confirm(dev); err != nil {
			return err
		}
	}

	ctx, canc := rmbuilder.InterruptibleContext()
	defer canc()

	res := provision.New(cfg, dev).Run(ctx)
	if res.Err != nil {
		if res.Report != nil {
			for _, c := range res.Report.Failed() {
				log.Printf("check failed: %s: %s", c.Name, c.Detail)
			}
		}
		return xerrors.Errorf("step %s: %w", res.Failed, res.Err)
	}
	log.Printf("provisioned %s (%d checks passed)", res.Device, len(res.Report.Checks))
	return nil
}

// confirm makes the operator type out their consent. Refuses to run at all
// when stdin is not a terminal: a script that wants this must say -yes.
func confirm(dev block.Device) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return xerrors.New("stdin is not a terminal; pass -yes to provision without confirmation")
	}
	if size, err := dev.Capacity(); err == nil {
		fmt.Printf("%s holds %d bytes.\n", dev.Path, size)
	}
	fmt.Printf("About to FORMAT %s. ALL DATA ON IT WILL BE LOST.\n", dev.Path)
	fmt.Printf("Type %q to continue: ", "yes")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "yes" {
		return xerrors.New("aborted")
	}
	return nil
}

// Package sysconf rewrites the boot-time configuration of the installed
// system: fstab, network units, service enablement, login behavior, the
// e-paper desktop tuning and the shutdown hook.
//
// Every sub-step generates whole files from the typed configuration and
// writes them atomically (renameio); nothing is patched in place with
// pattern substitution. That makes each step idempotent, so a failed run can
// safely be re-applied without rolling back the steps that already
// succeeded.
package sysconf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/mount"
)

// targetDevice is the eMMC as the tablet itself sees it at boot. The
// provisioning host may address the device differently (e.g. via a USB
// reader); fstab always refers to the on-device name.
const targetDevice = "/dev/mmcblk1"

// StepError names the configuration sub-step that failed. Prior sub-steps
// are left applied: they are idempotent and harmless on their own.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("configure %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// State is the set of filesystem-level facts the configurator promises about
// the system partition. The verifier asserts them after unmount.
type State struct {
	// BootFiles are expected on the boot partition (filled in by the
	// pipeline from the artifact set).
	BootFiles []string
	// SystemFiles are expected on the system partition, relative paths.
	SystemFiles []string
	// FstabLines must each appear verbatim in etc/fstab.
	FstabLines []string
	// EnabledUnits are wants-symlinks relative to etc/systemd/system.
	EnabledUnits []string
	// USBAddress is the Address= value expected in the usb0 network unit.
	USBAddress string
	// DHCPRange is the dhcp-range value expected in dnsmasq.conf.
	DHCPRange string
}

type Configurator struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Configurator {
	return &Configurator{cfg: cfg}
}

// Apply runs all configuration sub-steps against the mounted system
// partition and returns the expected installed state. The first failing
// sub-step aborts; everything already applied stays.
func (c *Configurator) Apply(system *mount.Session) (*State, error) {
	st := &State{}
	for _, step := range []struct {
		name string
		fn   func(*mount.Session, *State) error
	}{
		{"fstab", c.fstab},
		{"services", c.services},
		{"network", c.network},
		{"desktop", c.desktop},
		{"autologin", c.autologin},
		{"shutdown", c.shutdown},
	} {
		log.Printf("configuring %s", step.name)
		if err := step.fn(system, st); err != nil {
			return nil, &StepError{Step: step.name, Err: err}
		}
	}
	return st, nil
}

// writeFile writes content atomically, creating parent directories.
func writeFile(path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, content, mode)
}

// enableUnit creates a wants-symlink for unit under wants (relative to
// etc/systemd/system), pointing at target. This is the enable-by-name
// mechanism the target init system exposes; creating the symlink again is a
// no-op.
func enableUnit(system *mount.Session, wants, unit, target string) error {
	dir := system.Path("etc", "systemd", "system", wants)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	link := filepath.Join(dir, unit)
	if existing, err := os.Readlink(link); err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(target, link)
}

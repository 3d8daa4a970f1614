// Package verify re-reads the freshly provisioned partitions and asserts
// the state the configurator promised. It runs against a second, read-only
// mount pass so it sees what the tablet will see at boot, not the writer's
// page cache.
package verify

import (
	"fmt"
	"os"
	"strings"

	"github.com/parabola-rm/rmbuilder/internal/mount"
	"github.com/parabola-rm/rmbuilder/internal/sysconf"
)

// Check is one verified fact. Detail explains a failure; it is empty when OK.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

type Report struct {
	Checks []Check
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

func (r *Report) add(name string, err error) {
	c := Check{Name: name, OK: err == nil}
	if err != nil {
		c.Detail = err.Error()
	}
	r.Checks = append(r.Checks, c)
}

// Run checks the boot and system partitions against the expected state. All
// checks run to completion; a failing check never hides the ones after it.
func Run(boot, system *mount.Session, want *sysconf.State) *Report {
	r := &Report{}

	for _, name := range want.BootFiles {
		r.add("boot:"+name, nonEmptyFile(boot.Path(name)))
	}
	for _, rel := range want.SystemFiles {
		r.add("system:"+rel, nonEmptyFile(system.Path(rel)))
	}

	fstab, err := os.ReadFile(system.Path("etc", "fstab"))
	for _, line := range want.FstabLines {
		if err != nil {
			r.add("fstab", err)
			break
		}
		if !strings.Contains(string(fstab), line) {
			r.add("fstab", fmt.Errorf("missing line %q", line))
		} else {
			r.add("fstab:"+strings.Fields(line)[1], nil)
		}
	}

	for _, unit := range want.EnabledUnits {
		r.add("unit:"+unit, unitEnabled(system, unit))
	}

	if want.USBAddress != "" {
		r.add("usb0.network", contains(
			system.Path("etc", "systemd", "network", "usb0.network"),
			"Address="+want.USBAddress))
	}
	if want.DHCPRange != "" {
		r.add("dnsmasq.conf", contains(
			system.Path("etc", "dnsmasq.conf"),
			"dhcp-range="+want.DHCPRange))
	}
	return r
}

func nonEmptyFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

func contains(path, want string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !strings.Contains(string(b), want) {
		return fmt.Errorf("%s does not contain %q", path, want)
	}
	return nil
}

func unitEnabled(system *mount.Session, unit string) error {
	parts := strings.SplitN(unit, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed unit reference %q", unit)
	}
	link := system.Path("etc", "systemd", "system", parts[0], parts[1])
	if _, err := os.Readlink(link); err != nil {
		return err
	}
	return nil
}

package sysconf

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/mount"
)

func apply(t *testing.T, cfg config.Config) (*mount.Session, *State) {
	t.Helper()
	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	st, err := New(&cfg).Apply(system)
	if err != nil {
		t.Fatal(err)
	}
	return system, st
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestApplyDefault(t *testing.T) {
	system, st := apply(t, config.Default())

	fstab := readFile(t, system.Path("etc", "fstab"))
	for _, line := range st.FstabLines {
		if !strings.Contains(fstab, line) {
			t.Errorf("fstab missing %q", line)
		}
	}
	if !strings.HasPrefix(fstab, "/dev/mmcblk1p2") {
		t.Errorf("fstab does not start with the on-device root mount:\n%s", fstab)
	}

	network := readFile(t, system.Path("etc", "systemd", "network", "usb0.network"))
	if want := "Address=10.11.99.1/24\n"; !strings.Contains(network, want) {
		t.Errorf("usb0.network missing %q:\n%s", want, network)
	}
	if st.USBAddress != "10.11.99.1/24" {
		t.Errorf("USBAddress = %q", st.USBAddress)
	}

	dnsmasq := readFile(t, system.Path("etc", "dnsmasq.conf"))
	if want := "dhcp-range=10.11.99.2,10.11.99.253,10m\n"; !strings.Contains(dnsmasq, want) {
		t.Errorf("dnsmasq.conf missing %q:\n%s", want, dnsmasq)
	}
	if !strings.Contains(dnsmasq, "dhcp-option=6") {
		t.Errorf("dnsmasq.conf does not suppress DNS:\n%s", dnsmasq)
	}

	for _, unit := range st.EnabledUnits {
		parts := strings.SplitN(unit, "/", 2)
		link := system.Path("etc", "systemd", "system", parts[0], parts[1])
		if _, err := os.Readlink(link); err != nil {
			t.Errorf("enabled unit %s: %v", unit, err)
		}
	}

	dropin := readFile(t, system.Path("etc", "systemd", "system", "getty@tty1.service.d", "autologin.conf"))
	if !strings.Contains(dropin, "ExecStart=-/sbin/agetty -a root --noclear %I $TERM") {
		t.Errorf("autologin drop-in:\n%s", dropin)
	}

	login := readFile(t, system.Path("etc", "pam.d", "login"))
	if !strings.Contains(login, "#auth       required     pam_securetty.so") {
		t.Errorf("pam_securetty not disabled:\n%s", login)
	}
	systemLogin := readFile(t, system.Path("etc", "pam.d", "system-login"))
	if !strings.Contains(systemLogin, "#-session   optional   pam_systemd.so") {
		t.Errorf("pam_systemd not disabled:\n%s", systemLogin)
	}

	fi, err := os.Stat(system.Path("var", "lib", "remarkable", "shutdown.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0755 {
		t.Errorf("shutdown.sh mode = %v", fi.Mode().Perm())
	}

	xfce := readFile(t, system.Path("root", "configure-xfce.sh"))
	for _, want := range []string{
		`xfconf-query -c xsettings -p /Net/ThemeName -s "High Contrast"`,
		"xfconf-query -c xsettings -p /Xft/Antialias -s 0",
		"xfce4-panel --add=genmon",
	} {
		if !strings.Contains(xfce, want) {
			t.Errorf("configure-xfce.sh missing %q", want)
		}
	}
	if _, err := os.Stat(system.Path("etc", "xdg", "autostart", "onboard.desktop")); err != nil {
		t.Errorf("onboard autostart: %v", err)
	}
}

func TestApplyMinimalSkipsDesktop(t *testing.T) {
	system, _ := apply(t, config.Minimal())
	for _, path := range []string{
		system.Path("etc", "X11", "xorg.conf"),
		system.Path("root", "configure-xfce.sh"),
		system.Path("etc", "xdg", "autostart", "onboard.desktop"),
	} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s exists in minimal profile", path)
		}
	}
	// The base system is still configured.
	if _, err := os.Stat(system.Path("etc", "fstab")); err != nil {
		t.Error(err)
	}
}

func TestApplyIdempotent(t *testing.T) {
	cfg := config.Default()
	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	c := New(&cfg)
	first, err := c.Apply(system)
	if err != nil {
		t.Fatal(err)
	}
	fstab := readFile(t, system.Path("etc", "fstab"))
	second, err := c.Apply(system)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("state differs on re-apply (-first +second):\n%s", diff)
	}
	if got := readFile(t, system.Path("etc", "fstab")); got != fstab {
		t.Errorf("fstab changed on re-apply")
	}
}

func TestApplyStepError(t *testing.T) {
	cfg := config.Default()
	cfg.Desktop.Environment = "kde"
	system := mount.Adopt("/dev/mmcblk1p2", t.TempDir())
	_, err := New(&cfg).Apply(system)
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StepError", err)
	}
	if se.Step != "desktop" {
		t.Errorf("failed step = %q, want %q", se.Step, "desktop")
	}
	// Prior steps stay applied.
	if _, err := os.Stat(system.Path("etc", "fstab")); err != nil {
		t.Error(err)
	}
}

func TestPrefixLen(t *testing.T) {
	for _, tc := range []struct {
		netmask string
		want    int
	}{
		{"255.255.255.0", 24},
		{"255.255.0.0", 16},
		{"255.255.255.252", 30},
	} {
		got, err := prefixLen(tc.netmask)
		if err != nil {
			t.Errorf("%s: %v", tc.netmask, err)
			continue
		}
		if got != tc.want {
			t.Errorf("prefixLen(%s) = %d, want %d", tc.netmask, got, tc.want)
		}
	}
	if _, err := prefixLen("255.0.255.0"); err == nil {
		t.Error("non-contiguous netmask accepted")
	}
	if _, err := prefixLen("banana"); err == nil {
		t.Error("garbage netmask accepted")
	}
}

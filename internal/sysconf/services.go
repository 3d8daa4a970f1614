package sysconf

import (
	"path/filepath"

	"github.com/parabola-rm/rmbuilder/internal/mount"
)

const serialGettyTarget = "/usr/lib/systemd/system/serial-getty@.service"

// services enables the serial console on the USB gadget tty plus any extra
// units named in the configuration.
func (c *Configurator) services(system *mount.Session, st *State) error {
	if err := enableUnit(system, "getty.target.wants", "serial-getty@ttyGS0.service", serialGettyTarget); err != nil {
		return err
	}
	st.EnabledUnits = append(st.EnabledUnits, "getty.target.wants/serial-getty@ttyGS0.service")

	for _, unit := range c.cfg.System.Services.Enable {
		target := filepath.Join("/usr/lib/systemd/system", unit)
		if err := enableUnit(system, "multi-user.target.wants", unit, target); err != nil {
			return err
		}
		st.EnabledUnits = append(st.EnabledUnits, filepath.Join("multi-user.target.wants", unit))
	}
	return nil
}

// autologinDropin resets ExecStart and re-declares it with agetty's
// autologin flag. Overriding via a drop-in leaves the vendor unit intact.
const autologinDropin = "[Service]\n" +
	"ExecStart=\n" +
	"ExecStart=-/sbin/agetty -a root --noclear %I $TERM\n"

// pamLogin is the console login stack with pam_securetty disabled: the USB
// gadget tty is not listed in securetty, and without this root cannot log in
// over the serial console at all.
const pamLogin = "#%PAM-1.0\n" +
	"\n" +
	"#auth       required     pam_securetty.so\n" +
	"auth       requisite    pam_nologin.so\n" +
	"auth       include      system-local-login\n" +
	"account    include      system-local-login\n" +
	"session    include      system-local-login\n" +
	"password   include      system-local-login\n"

// pamSystemLogin disables pam_systemd: logind never comes up on this system
// and the module would stall every login waiting for it.
const pamSystemLogin = "#%PAM-1.0\n" +
	"\n" +
	"auth       required   pam_shells.so\n" +
	"auth       requisite  pam_nologin.so\n" +
	"auth       include    system-auth\n" +
	"\n" +
	"account    required   pam_access.so\n" +
	"account    required   pam_nologin.so\n" +
	"account    include    system-auth\n" +
	"\n" +
	"password   include    system-auth\n" +
	"\n" +
	"session    optional   pam_loginuid.so\n" +
	"#-session   optional   pam_systemd.so\n" +
	"session    required   pam_env.so\n" +
	"session    include    system-auth\n"

// autologin makes tty1 log in as root without a prompt and adjusts the PAM
// stacks so console logins actually succeed.
func (c *Configurator) autologin(system *mount.Session, st *State) error {
	for _, f := range []struct {
		path    string
		content string
	}{
		{"etc/systemd/system/getty@tty1.service.d/autologin.conf", autologinDropin},
		{"etc/pam.d/login", pamLogin},
		{"etc/pam.d/system-login", pamSystemLogin},
	} {
		if err := writeFile(system.Path(f.path), []byte(f.content), 0644); err != nil {
			return err
		}
		st.SystemFiles = append(st.SystemFiles, f.path)
	}
	return nil
}

// shutdownScript waits for Xorg to exit, trims the journal and paints the
// power-off bitmap onto the e-paper panel, which otherwise keeps showing the
// last frame indefinitely.
const shutdownScript = "#!/usr/bin/env bash\n" +
	"pgrep Xorg | xargs wait\n" +
	"sleep 1\n" +
	"journalctl --vacuum-size=100M\n" +
	"/var/lib/remarkable/epdc-show-bitmap /var/lib/uboot/splash-off.raw\n"

const shutdownUnit = "[Unit]\n" +
	"Description=rM shutdown helper\n" +
	"\n" +
	"[Service]\n" +
	"Type=oneshot\n" +
	"RemainAfterExit=true\n" +
	"ExecStop=/var/lib/remarkable/shutdown.sh\n" +
	"\n" +
	"[Install]\n" +
	"WantedBy=multi-user.target\n"

func (c *Configurator) shutdown(system *mount.Session, st *State) error {
	if err := writeFile(system.Path("var", "lib", "remarkable", "shutdown.sh"), []byte(shutdownScript), 0755); err != nil {
		return err
	}
	if err := writeFile(system.Path("etc", "systemd", "system", "remarkable-shutdown.service"), []byte(shutdownUnit), 0644); err != nil {
		return err
	}
	if err := enableUnit(system, "multi-user.target.wants", "remarkable-shutdown.service", "/etc/systemd/system/remarkable-shutdown.service"); err != nil {
		return err
	}
	st.SystemFiles = append(st.SystemFiles,
		"var/lib/remarkable/shutdown.sh",
		"etc/systemd/system/remarkable-shutdown.service")
	st.EnabledUnits = append(st.EnabledUnits, "multi-user.target.wants/remarkable-shutdown.service")
	return nil
}

package sysconf

import (
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/mount"
)

// xorgConf pins the Wacom digitizer, the touchscreen and the e-paper
// framebuffer. The calibration values and InvertY match the panel's
// coordinate space; without them pen input is mirrored vertically.
const xorgConf = `Section "ServerLayout"
    Identifier     "Default Layout"
    Screen         0 "Screen0" 0 0
    InputDevice    "Wacom" "CorePointer"
    InputDevice    "Touchscreen" "CorePointer"
    InputDevice    "Keyboard0" "CoreKeyboard"
EndSection

Section "InputDevice"
    Identifier     "Keyboard0"
    Driver         "kbd"
    Option         "XkbLayout" "us"
EndSection

Section "InputDevice"
    Identifier     "Wacom"
    Driver         "evdev"
    Option         "Device" "/dev/input/event1"
    Option         "Name" "Wacom I2C Digitizer"
    Option         "Calibration" "0 20966 0 15725"
    Option         "InvertY" "true"
EndSection

Section "InputDevice"
    Identifier     "Touchscreen"
    Driver         "evdev"
    Option         "Device" "/dev/input/event2"
    Option         "Name" "cyttsp5_mt"
    Option         "Calibration" "0 20966 0 15725"
    Option         "InvertY" "true"
EndSection

Section "Device"
    Identifier     "Card0"
    Driver         "fbdev"
    Option         "fbdev" "/dev/fb0"
EndSection

Section "Screen"
    Identifier     "Screen0"
    Device         "Card0"
    DefaultDepth    16
EndSection
`

// epdcInitAuto switches the EPDC into automatic update mode so X damage is
// flushed to the panel without an explicit refresh ioctl per frame.
const epdcInitAuto = "#!/bin/sh\n" +
	"echo 1 > /sys/class/graphics/fb0/epdc_update_mode\n"

const xserverrc = "#!/bin/sh\n" +
	"/var/lib/remarkable/epdc-init-auto\n" +
	"exec /usr/bin/Xorg -nocursor\n"

const xinitrc = "export GTK_OVERLAY_SCROLLING=0\n" +
	"~/configure-xfce.sh\n" +
	"\n" +
	"dbus-launch xfce4-session\n"

const bashProfile = "if [[ -z $DISPLAY ]] && [[ $(tty) = /dev/tty1 ]]; then\n" +
	"    startx\n" +
	"fi\n"

const batteryMonitor = `#!/usr/bin/env bash

# Prints the state of charge of the tablet's battery.

# Path for Linux 4.9
battpath="/sys/class/power_supply/bq27441-0"

chargenow="$(cat $battpath/charge_now)"
chargefull="$(cat $battpath/charge_full)"
status="$(cat $battpath/status)"

chargepct="$(echo $chargenow $chargefull \
                   | awk '{printf "%f", $1 / $2 * 100}' \
                   | cut -d'.' -f1)"

symbol=""
if [[ "Charging" == "$status" ]]
then
    symbol=$'⚡'  # Lightning symbol
fi

echo "${symbol}${chargepct}%"
`

const onboardDesktop = "[Desktop Entry]\n" +
	"Type=Application\n" +
	"Name=Onboard\n" +
	"Exec=onboard\n" +
	"Icon=onboard\n" +
	"X-GNOME-Autostart-enabled=true\n" +
	"NoDisplay=false\n" +
	"Hidden=false\n" +
	"Comment=Virtual Keyboard\n" +
	"X-GNOME-Autostart-Phase=Applications\n"

// desktop writes the X stack configuration: xorg.conf, the EPDC helpers, the
// root user's session scripts and the generated xfconf tuning script. The
// whole step is skipped when no desktop environment is selected.
func (c *Configurator) desktop(system *mount.Session, st *State) error {
	dc := c.cfg.Desktop
	switch dc.Environment {
	case "none":
		log.Printf("no desktop environment selected, skipping")
		return nil
	case "xfce":
	default:
		return xerrors.Errorf("unsupported desktop environment %q", dc.Environment)
	}

	type file struct {
		path    string
		content string
		mode    os.FileMode
	}
	files := []file{
		{"etc/X11/xorg.conf", xorgConf, 0644},
		{"var/lib/remarkable/epdc-init-auto", epdcInitAuto, 0755},
		{"root/.xserverrc", xserverrc, 0755},
		{"root/.xinitrc", xinitrc, 0755},
		{"root/.bash_profile", bashProfile, 0644},
		{"root/configure-xfce.sh", c.xfceScript(), 0755},
		{"usr/sbin/battery-monitor.sh", batteryMonitor, 0755},
	}
	if dc.Input.VirtualKeyboard.Enable {
		files = append(files, file{"etc/xdg/autostart/onboard.desktop", onboardDesktop, 0644})
	}
	for _, f := range files {
		if err := writeFile(system.Path(f.path), []byte(f.content), f.mode); err != nil {
			return err
		}
		st.SystemFiles = append(st.SystemFiles, f.path)
	}
	return nil
}

// xfceScript generates the xfconf commands applying the e-paper tuning. It
// runs on first login, once the xfconf daemon is reachable.
func (c *Configurator) xfceScript() string {
	ui := c.cfg.Desktop.UI
	var b strings.Builder
	b.WriteString("#!/bin/sh\n\n")

	if ui.EpaperOptimizations.DisableOverlayScrolling {
		b.WriteString("gsettings set org.gnome.desktop.interface overlay-scrolling false\n\n")
	}

	fmt.Fprintf(&b, "xfconf-query -c xsettings -p /Net/ThemeName -s %q\n", ui.Theme)
	fmt.Fprintf(&b, "xfconf-query -c xsettings -p /Net/IconThemeName -s %q\n", ui.IconTheme)
	fmt.Fprintf(&b, "xfconf-query -c xsettings -p /Gtk/FontName -s %q\n", ui.Font.DefaultFont)
	if ui.Font.DisableAntialiasing {
		b.WriteString("xfconf-query -c xsettings -p /Xft/Antialias -s 0\n")
	}
	if !ui.Font.CustomDPI {
		b.WriteString("xfconf-query -c xsettings -p /Xft/DPI -s -1\n")
	}
	b.WriteString("xfconf-query -c xsettings -p /Gtk/ToolbarStyle -s \"text\"\n")
	if ui.EpaperOptimizations.DisableButtonImages {
		b.WriteString("xfconf-query -c xsettings -p /Gtk/ButtonImages -s 0\n")
	}
	if ui.EpaperOptimizations.DisableMenuImages {
		b.WriteString("xfconf-query -c xsettings -p /Gtk/MenuImages -s 0\n")
	}

	// White background, no wallpaper: anything else ghosts on the panel.
	b.WriteString("xfconf-query -c xfce4-desktop -p /backdrop/screen0/monitor0/workspace0/color-style -s 0\n")
	b.WriteString("xfconf-query -c xfce4-desktop -p /backdrop/screen0/monitor0/workspace0/rgba1 -s \"ffffff\"\n")
	b.WriteString("xfconf-query -c xfce4-desktop -p /backdrop/screen0/monitor0/workspace0/image-style -s 0\n")

	b.WriteString("xfconf-query -c xfwm4 -p /general/theme -s \"Default-xhdpi\"\n")
	b.WriteString("xfconf-query -c xfwm4 -p /general/title_font -s \"System-ui Bold\"\n")
	if ui.EpaperOptimizations.DisableShadows {
		b.WriteString("xfconf-query -c xfwm4 -p /general/show_dock_shadow -s false\n")
		b.WriteString("xfconf-query -c xfwm4 -p /general/show_frame_shadow -s false\n")
	}

	b.WriteString("xfconf-query -c xfce4-panel -p /panels/panel-1/size -s 50\n")
	b.WriteString("xfconf-query -c xfce4-panel -p /panels/panel-1/icon-size -s 32\n")

	b.WriteString("\nxfce4-panel --add=genmon\n")
	b.WriteString("xfconf-query -c xfce4-panel -p /plugins/plugin-1/command -s \"/usr/sbin/battery-monitor.sh\"\n")
	b.WriteString("xfconf-query -c xfce4-panel -p /plugins/plugin-1/use-label -s false\n")
	return b.String()
}

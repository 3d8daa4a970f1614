package sysconf

import (
	"fmt"
	"net"

	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/mount"
)

// network writes the static configuration for the USB gadget interface and
// the paired DHCP server offering addresses to the tethered host.
func (c *Configurator) network(system *mount.Session, st *State) error {
	nc := c.cfg.System.Network

	if nc.USBNetworking.Enable {
		prefix, err := prefixLen(nc.USBNetworking.Netmask)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s/%d", nc.USBNetworking.IPAddress, prefix)
		unit := "[Match]\n" +
			"Name=usb0\n" +
			"\n" +
			"[Network]\n" +
			"Address=" + addr + "\n"
		if err := writeFile(system.Path("etc", "systemd", "network", "usb0.network"), []byte(unit), 0644); err != nil {
			return err
		}
		st.SystemFiles = append(st.SystemFiles, "etc/systemd/network/usb0.network")
		st.USBAddress = addr
	}

	if nc.DHCPServer.Enable {
		rng := fmt.Sprintf("%s,%s,%dm", nc.DHCPServer.RangeStart, nc.DHCPServer.RangeEnd, nc.DHCPServer.LeaseTime)
		conf := "interface=usb0\n" +
			"bind-interfaces\n" +
			"dhcp-range=" + rng + "\n" +
			"# Don't send DNS\n" +
			"dhcp-option=6\n"
		if err := writeFile(system.Path("etc", "dnsmasq.conf"), []byte(conf), 0644); err != nil {
			return err
		}
		st.SystemFiles = append(st.SystemFiles, "etc/dnsmasq.conf")
		st.DHCPRange = rng
	}
	return nil
}

// prefixLen converts a dotted netmask to its CIDR prefix length.
func prefixLen(netmask string) (int, error) {
	ip := net.ParseIP(netmask)
	if ip == nil || ip.To4() == nil {
		return 0, xerrors.Errorf("invalid netmask %q", netmask)
	}
	ones, bits := net.IPMask(ip.To4()).Size()
	if bits == 0 {
		return 0, xerrors.Errorf("non-contiguous netmask %q", netmask)
	}
	return ones, nil
}

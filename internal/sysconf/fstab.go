package sysconf

import (
	"strings"

	"github.com/parabola-rm/rmbuilder/internal/mount"
)

// fstabLines is the fixed mount layout of the installed system: the three
// eMMC partitions plus the standard virtual filesystems. /root/.cache lives
// on a small tmpfs so browser and thumbnail churn never wears the eMMC.
var fstabLines = []string{
	targetDevice + "p2  /               auto    defaults                    1  1",
	targetDevice + "p1  /var/lib/uboot  auto    defaults                    0  0",
	targetDevice + "p3  /home           auto    defaults                    0  2",
	"devpts  /dev/pts        devpts  mode=0620,gid=5                     0  0",
	"proc    /proc           proc    defaults                            0  0",
	"tmpfs   /run            tmpfs   mode=0755,nodev,nosuid,strictatime  0  0",
	"tmpfs   /tmp            tmpfs   defaults                            0  0",
	"tmpfs   /root/.cache    tmpfs   defaults,size=20M                   0  0",
}

func (c *Configurator) fstab(system *mount.Session, st *State) error {
	content := strings.Join(fstabLines, "\n") + "\n"
	if err := writeFile(system.Path("etc", "fstab"), []byte(content), 0644); err != nil {
		return err
	}
	st.SystemFiles = append(st.SystemFiles, "etc/fstab")
	st.FstabLines = append(st.FstabLines, fstabLines...)
	return nil
}

// Package config holds the rmbuilder configuration model.
//
// Configuration is a YAML document with the sections cross_compilation,
// hardware, partition, bootloader, kernel, system and desktop. Values absent
// from the user file keep their profile defaults: the user document is
// decoded directly over a pre-filled Config, which gives the same semantics
// as a recursive map merge without the fragility.
package config

import (
	"bytes"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Profile selects the preset the rest of the document is merged over.
	// Currently "default" and "minimal".
	Profile string `yaml:"profile,omitempty"`

	CrossCompilation CrossCompilation `yaml:"cross_compilation"`
	Hardware         Hardware         `yaml:"hardware"`
	Partition        Partition        `yaml:"partition"`
	Bootloader       Bootloader       `yaml:"bootloader"`
	Kernel           Kernel           `yaml:"kernel"`
	System           System           `yaml:"system"`
	Desktop          Desktop          `yaml:"desktop"`
}

// CrossCompilation is consumed by the external toolchain tooling which
// produces the artifacts; rmbuilder itself only carries it through.
type CrossCompilation struct {
	EnvironmentType string `yaml:"environment_type"`
	Toolchain       string `yaml:"toolchain"`
}

type Hardware struct {
	TabletModel string `yaml:"tablet_model"`
}

type Partition struct {
	Layout     Layout     `yaml:"layout"`
	Filesystem Filesystem `yaml:"filesystem"`
}

type Layout struct {
	// FATSize is the boot partition size in MiB.
	FATSize int64 `yaml:"fat_size"`
	// SystemSize is the system partition size in GiB.
	SystemSize int64 `yaml:"system_size"`
	// HomeSize is the home partition size in GiB. 0 means
	// "use all remaining space".
	HomeSize int64 `yaml:"home_size"`
}

type Filesystem struct {
	FATType    string     `yaml:"fat_type"`
	SystemType string     `yaml:"system_type"`
	HomeType   string     `yaml:"home_type"`
	Ext4Params Ext4Params `yaml:"ext4_params"`
}

// Ext4Params are passed to mkfs.ext4 verbatim. The values are load-bearing
// on the tablet's small eMMC: filesystem defaults waste too much space on
// inodes and journal.
type Ext4Params struct {
	JournalSize int `yaml:"journal_size"`
	BlockSize   int `yaml:"block_size"`
	InodeSize   int `yaml:"inode_size"`
	InodeRatio  int `yaml:"inode_ratio"`
}

type Bootloader struct {
	// Image is the path to the prebuilt u-boot binary.
	Image      string     `yaml:"image"`
	BootParams BootParams `yaml:"boot_params"`
}

type BootParams struct {
	Console  string `yaml:"console"`
	Baudrate int    `yaml:"baudrate"`
	// RefreshInterval (seconds) is only set in the default profile; the
	// minimal profile leaves it out entirely. Both presets are preserved
	// as-is rather than guessing a canonical value.
	RefreshInterval *int `yaml:"refresh_interval,omitempty"`
}

type Kernel struct {
	Image    string `yaml:"image"`
	DTB      string `yaml:"dtb"`
	Waveform string `yaml:"waveform"`
	Splash   string `yaml:"splash,omitempty"`
}

type System struct {
	// Rootfs is a directory tree or a .tar.gz archive.
	Rootfs   string   `yaml:"rootfs"`
	Network  Network  `yaml:"network"`
	Services Services `yaml:"services"`
}

type Network struct {
	USBNetworking USBNetworking `yaml:"usb_networking"`
	DHCPServer    DHCPServer    `yaml:"dhcp_server"`
}

type USBNetworking struct {
	Enable    bool   `yaml:"enable"`
	IPAddress string `yaml:"ip_address"`
	Netmask   string `yaml:"netmask"`
}

type DHCPServer struct {
	Enable     bool   `yaml:"enable"`
	RangeStart string `yaml:"range_start"`
	RangeEnd   string `yaml:"range_end"`
	// LeaseTime is in minutes.
	LeaseTime int `yaml:"lease_time"`
}

type Services struct {
	Enable []string `yaml:"enable"`
}

type Desktop struct {
	Environment string  `yaml:"environment"`
	UI          UI      `yaml:"ui"`
	Input       Input   `yaml:"input"`
}

type UI struct {
	Theme               string              `yaml:"theme"`
	IconTheme           string              `yaml:"icon_theme"`
	Font                Font                `yaml:"font"`
	EpaperOptimizations EpaperOptimizations `yaml:"epaper_optimizations"`
}

type Font struct {
	DefaultFont         string `yaml:"default_font"`
	DisableAntialiasing bool   `yaml:"disable_antialiasing"`
	CustomDPI           bool   `yaml:"custom_dpi"`
}

type EpaperOptimizations struct {
	DisableOverlayScrolling bool `yaml:"disable_overlay_scrolling"`
	DisableButtonImages     bool `yaml:"disable_button_images"`
	DisableMenuImages       bool `yaml:"disable_menu_images"`
	DisableShadows          bool `yaml:"disable_shadows"`
}

type Input struct {
	VirtualKeyboard VirtualKeyboard `yaml:"virtual_keyboard"`
}

type VirtualKeyboard struct {
	Enable bool `yaml:"enable"`
}

// Load reads the configuration at path (empty means built-in defaults only).
// A "profile:" key in the document selects which preset the remaining values
// are merged over.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hdr struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(b, &hdr); err != nil {
		return nil, xerrors.Errorf("parse %s: %w", path, err)
	}
	cfg, err := Profile(hdr.Profile)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, xerrors.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Profile returns a copy of the named preset. The empty name means "default".
func Profile(name string) (Config, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "minimal":
		return Minimal(), nil
	}
	return Config{}, xerrors.Errorf("unknown profile %q", name)
}

// WriteDefault writes the default configuration document to path, atomically.
func WriteDefault(path string) error {
	cfg := Default()
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, b, 0644)
}

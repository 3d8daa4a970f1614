package config

func intptr(v int) *int { return &v }

// Default is the full preset: e-paper friendly refresh handling in the boot
// arguments, xfce desktop tuning, USB networking with a DHCP server for the
// tethered host.
func Default() Config {
	return Config{
		Profile: "default",
		CrossCompilation: CrossCompilation{
			EnvironmentType: "container",
			Toolchain:       "arm-linux-gnueabihf",
		},
		Hardware: Hardware{
			TabletModel: "rm1",
		},
		Partition: Partition{
			Layout: Layout{
				FATSize:    20,
				SystemSize: 2,
				HomeSize:   0,
			},
			Filesystem: Filesystem{
				FATType:    "vfat",
				SystemType: "ext4",
				HomeType:   "ext4",
				Ext4Params: Ext4Params{
					JournalSize: 4,
					BlockSize:   1024,
					InodeSize:   128,
					InodeRatio:  4096,
				},
			},
		},
		Bootloader: Bootloader{
			Image: "output/u-boot.imx",
			BootParams: BootParams{
				Console:         "ttymxc0",
				Baudrate:        115200,
				RefreshInterval: intptr(120),
			},
		},
		Kernel: Kernel{
			Image:    "output/zImage",
			DTB:      "output/zero-gravitas.dtb",
			Waveform: "output/waveform.bin",
			Splash:   "output/splash.bmp",
		},
		System: System{
			Rootfs: "output/parabola-rootfs.tar.gz",
			Network: Network{
				USBNetworking: USBNetworking{
					Enable:    true,
					IPAddress: "10.11.99.1",
					Netmask:   "255.255.255.0",
				},
				DHCPServer: DHCPServer{
					Enable:     true,
					RangeStart: "10.11.99.2",
					RangeEnd:   "10.11.99.253",
					LeaseTime:  10,
				},
			},
		},
		Desktop: Desktop{
			Environment: "xfce",
			UI: UI{
				Theme:     "High Contrast",
				IconTheme: "High Contrast",
				Font: Font{
					DefaultFont:         "System-ui Regular",
					DisableAntialiasing: true,
					CustomDPI:           false,
				},
				EpaperOptimizations: EpaperOptimizations{
					DisableOverlayScrolling: true,
					DisableButtonImages:     true,
					DisableMenuImages:       true,
					DisableShadows:          true,
				},
			},
			Input: Input{
				VirtualKeyboard: VirtualKeyboard{Enable: true},
			},
		},
	}
}

// Minimal is the console-only preset: no desktop environment, no virtual
// keyboard, and no refresh_interval boot argument (the stock u-boot default
// applies instead).
func Minimal() Config {
	cfg := Default()
	cfg.Profile = "minimal"
	cfg.Bootloader.BootParams.RefreshInterval = nil
	cfg.Desktop.Environment = "none"
	cfg.Desktop.Input.VirtualKeyboard.Enable = false
	return cfg
}

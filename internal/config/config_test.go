package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "rm1", cfg.Hardware.TabletModel)
	assert.EqualValues(t, 20, cfg.Partition.Layout.FATSize)
	assert.EqualValues(t, 2, cfg.Partition.Layout.SystemSize)
	assert.EqualValues(t, 0, cfg.Partition.Layout.HomeSize)
	assert.Equal(t, 1024, cfg.Partition.Filesystem.Ext4Params.BlockSize)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmbuilder.yaml")
	doc := `
partition:
  layout:
    system_size: 3
system:
  network:
    dhcp_server:
      lease_time: 30
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	// Overridden values take effect...
	assert.EqualValues(t, 3, cfg.Partition.Layout.SystemSize)
	assert.Equal(t, 30, cfg.System.Network.DHCPServer.LeaseTime)
	// ...everything else keeps its default.
	assert.EqualValues(t, 20, cfg.Partition.Layout.FATSize)
	assert.Equal(t, "10.11.99.1", cfg.System.Network.USBNetworking.IPAddress)
	assert.True(t, cfg.System.Network.DHCPServer.Enable)
}

func TestLoadUnknownSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmbuilder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("partitoin: {}\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestProfilesDiffer(t *testing.T) {
	def := Default()
	min := Minimal()

	require.NotNil(t, def.Bootloader.BootParams.RefreshInterval)
	assert.Equal(t, 120, *def.Bootloader.BootParams.RefreshInterval)
	// The minimal preset deliberately omits refresh_interval instead of
	// carrying a guessed value.
	assert.Nil(t, min.Bootloader.BootParams.RefreshInterval)
	assert.Equal(t, "none", min.Desktop.Environment)

	// Partition policy is shared between the presets.
	assert.Equal(t, def.Partition, min.Partition)
}

func TestProfileSelection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmbuilder.yaml")
	doc := `
profile: minimal
hardware:
  tablet_model: rm1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Bootloader.BootParams.RefreshInterval)

	_, err = Profile("bogus")
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmbuilder.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, &def, cfg)
}

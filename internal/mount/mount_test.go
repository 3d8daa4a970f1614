package mount

import (
	"errors"
	"os"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	var mounts, unmounts []string
	mountFn = func(dev, dir, fstype string, flags uintptr) error {
		mounts = append(mounts, dev+" "+dir+" "+fstype)
		return nil
	}
	unmountFn = func(dir string) error {
		unmounts = append(unmounts, dir)
		return nil
	}
	defer resetFns()

	parent := t.TempDir()
	s, err := Mount("/dev/mmcblk1p2", "ext4", parent, "p2", false)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Mounted() {
		t.Error("session not mounted after Mount")
	}
	if _, err := os.Stat(s.Dir); err != nil {
		t.Errorf("mount point missing: %v", err)
	}

	if err := s.Unmount(); err != nil {
		t.Fatal(err)
	}
	if s.Mounted() {
		t.Error("session still mounted after Unmount")
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Errorf("mount point not removed: %v", err)
	}
	// Idempotent: a second Unmount is a no-op, not a second syscall.
	if err := s.Unmount(); err != nil {
		t.Fatal(err)
	}
	if len(unmounts) != 1 {
		t.Errorf("unmount called %d times, want 1", len(unmounts))
	}
	if len(mounts) != 1 {
		t.Errorf("mount called %d times, want 1", len(mounts))
	}
}

func TestMountFailureRemovesDir(t *testing.T) {
	injected := errors.New("no such device")
	mountFn = func(dev, dir, fstype string, flags uintptr) error { return injected }
	defer resetFns()

	parent := t.TempDir()
	_, err := Mount("/dev/mmcblk1p9", "ext4", parent, "p9", false)
	var me *MountError
	if !errors.As(err, &me) {
		t.Fatalf("got %v, want MountError", err)
	}
	if _, err := os.Stat(parent + "/p9"); !os.IsNotExist(err) {
		t.Errorf("mount point left behind after failed mount")
	}
}

func TestUnmountError(t *testing.T) {
	mountFn = func(dev, dir, fstype string, flags uintptr) error { return nil }
	unmountFn = func(dir string) error { return errors.New("target is busy") }
	defer resetFns()

	s, err := Mount("/dev/mmcblk1p2", "ext4", t.TempDir(), "p2", false)
	if err != nil {
		t.Fatal(err)
	}
	var ue *UnmountError
	if err := s.Unmount(); !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnmountError", err)
	}
	// The session stays mounted so the caller can retry.
	if !s.Mounted() {
		t.Error("session marked unmounted despite unmount failure")
	}
}

func TestAdopt(t *testing.T) {
	dir := t.TempDir()
	s := Adopt("/dev/mmcblk1p2", dir)
	if s.Mounted() {
		t.Error("adopted session reports mounted")
	}
	if err := s.Unmount(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("adopted dir removed by Unmount: %v", err)
	}
	if got, want := s.Path("etc", "fstab"), dir+"/etc/fstab"; got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}
}

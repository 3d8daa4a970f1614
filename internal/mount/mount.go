// Package mount manages the mount sessions of a provisioning run.
//
// A Session is only valid between a successful Mount and the matching
// Unmount. Sessions are always explicit values handed to the components that
// need them; nothing in the pipeline assumes an ambient mount layout.
package mount

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
)

// mountFn/unmountFn are swapped out in tests; provisioning a real device
// uses the raw syscalls.
var (
	mountFn = func(dev, dir, fstype string, flags uintptr) error {
		return syscall.Mount(dev, dir, fstype, flags, "")
	}
	unmountFn = func(dir string) error {
		return syscall.Unmount(dir, 0)
	}
)

type MountError struct {
	Dev string
	Dir string
	Err error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s on %s: %v", e.Dev, e.Dir, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

type UnmountError struct {
	Dir string
	Err error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s: %v", e.Dir, e.Err)
}

func (e *UnmountError) Unwrap() error { return e.Err }

// Session binds a partition device node to a mount point directory.
type Session struct {
	Dev string
	Dir string

	mounted bool
	created bool // we created Dir and remove it on Unmount
}

// Mount mounts dev (of filesystem type fstype) on a fresh directory named
// name beneath parent. ReadOnly is used by the verification pass, which must
// never mutate the installed system.
func Mount(dev, fstype, parent, name string, readOnly bool) (*Session, error) {
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &MountError{Dev: dev, Dir: dir, Err: err}
	}
	var flags uintptr
	if readOnly {
		flags = syscall.MS_RDONLY
	}
	if err := mountFn(dev, dir, fstype, flags); err != nil {
		os.Remove(dir)
		return nil, &MountError{Dev: dev, Dir: dir, Err: err}
	}
	log.Printf("mounted %s on %s", dev, dir)
	return &Session{Dev: dev, Dir: dir, mounted: true, created: true}, nil
}

// Adopt wraps an already-mounted (or otherwise prepared) directory in a
// Session without mounting anything. Unmount on an adopted session is a
// no-op: whoever mounted the directory owns its teardown.
func Adopt(dev, dir string) *Session {
	return &Session{Dev: dev, Dir: dir}
}

// Unmount tears the session down and removes the mount point directory. It
// is idempotent so that cleanup paths can call it unconditionally.
func (s *Session) Unmount() error {
	if s == nil || !s.mounted {
		return nil
	}
	if err := unmountFn(s.Dir); err != nil {
		return &UnmountError{Dir: s.Dir, Err: err}
	}
	s.mounted = false
	if s.created {
		if err := os.Remove(s.Dir); err != nil {
			log.Printf("remove %s: %v", s.Dir, err)
		}
	}
	log.Printf("unmounted %s", s.Dir)
	return nil
}

// Mounted reports whether the session is currently active.
func (s *Session) Mounted() bool {
	return s != nil && s.mounted
}

// Path resolves a path relative to the session's mount point.
func (s *Session) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

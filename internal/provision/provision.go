// Package provision runs the end-to-end pipeline that turns a blank (or
// sacrificial) eMMC into a bootable system: plan, format, install, configure,
// unmount, verify.
//
// The pipeline never rolls back. Formatting is destructive and half-written
// filesystems are not worth preserving; a failed run reports which step died
// and leaves the device for the user to re-run against. What the pipeline
// does guarantee is teardown: no exit path leaves a partition mounted.
package provision

import (
	"context"
	"log"
	"os"

	"github.com/parabola-rm/rmbuilder/internal/artifact"
	"github.com/parabola-rm/rmbuilder/internal/block"
	"github.com/parabola-rm/rmbuilder/internal/config"
	"github.com/parabola-rm/rmbuilder/internal/mount"
	"github.com/parabola-rm/rmbuilder/internal/plan"
	"github.com/parabola-rm/rmbuilder/internal/sysconf"
	"github.com/parabola-rm/rmbuilder/internal/trace"
	"github.com/parabola-rm/rmbuilder/internal/verify"
)

// Step names, in execution order. Result.Completed and Result.Failed refer
// to these.
const (
	StepPlan          = "plan"
	StepArtifacts     = "artifacts"
	StepFormat        = "format"
	StepBootloader    = "bootloader"
	StepMount         = "mount"
	StepInstallBoot   = "install-boot"
	StepInstallRootfs = "install-rootfs"
	StepConfigure     = "configure"
	StepUnmount       = "unmount"
	StepVerify        = "verify"
)

// Result is the outcome of a pipeline run.
type Result struct {
	Device    string
	Completed []string
	// Failed names the step that aborted the run; empty on success.
	Failed string
	Err    error
	// Report is only set when the verify step ran.
	Report *verify.Report
}

// OK reports whether the run completed with every check passing.
func (r *Result) OK() bool {
	return r.Failed == "" && r.Err == nil
}

// Pipeline executes a provisioning run against one device. The function
// fields default to the real implementations and are swapped out in tests to
// inject faults without a device.
type Pipeline struct {
	cfg *config.Config
	dev block.Device

	format            func(context.Context, block.Device, *plan.Plan, config.Filesystem) error
	installBootloader func(block.Device, string) error
	mountPart         func(dev, fstype, parent, name string, readOnly bool) (*mount.Session, error)
	installBoot       func(*mount.Session, *artifact.Set) error
	installRootfs     func(context.Context, *mount.Session, *artifact.Set) error
	configure         func(*mount.Session) (*sysconf.State, error)
	verifyRun         func(boot, system *mount.Session, want *sysconf.State) *verify.Report

	// scratch is the parent directory for mount points; empty means a fresh
	// temporary directory per run.
	scratch string
}

func New(cfg *config.Config, dev block.Device) *Pipeline {
	return &Pipeline{
		cfg:               cfg,
		dev:               dev,
		format:            block.Format,
		installBootloader: artifact.InstallBootloader,
		mountPart:         mount.Mount,
		installBoot:       artifact.InstallBoot,
		installRootfs:     artifact.InstallRootfs,
		configure: func(system *mount.Session) (*sysconf.State, error) {
			return sysconf.New(cfg).Apply(system)
		},
		verifyRun: verify.Run,
	}
}

// Run executes the pipeline. Cancellation is honored at step boundaries
// only: a formatting or extraction step that has started runs to completion,
// because interrupting it mid-write guarantees a broken device.
func (p *Pipeline) Run(ctx context.Context) *Result {
	res := &Result{Device: p.dev.Path}

	fail := func(step string, err error) *Result {
		res.Failed = step
		res.Err = err
		return res
	}
	done := func(step string) {
		res.Completed = append(res.Completed, step)
	}
	canceled := func(step string) (*Result, bool) {
		if err := ctx.Err(); err != nil {
			return fail(step, err), true
		}
		return nil, false
	}

	layout, err := plan.Compute(p.cfg.Hardware, p.cfg.Partition)
	if err != nil {
		return fail(StepPlan, err)
	}
	done(StepPlan)

	set := artifact.FromConfig(p.cfg)
	if err := set.Validate(); err != nil {
		// Catching a missing artifact here, before the destructive steps,
		// means a typo in the config costs nothing.
		return fail(StepArtifacts, err)
	}
	done(StepArtifacts)

	if r, ok := canceled(StepFormat); ok {
		return r
	}
	end := trace.Span(StepFormat)
	err = p.format(ctx, p.dev, layout, p.cfg.Partition.Filesystem)
	end()
	if err != nil {
		return fail(StepFormat, err)
	}
	done(StepFormat)

	if r, ok := canceled(StepBootloader); ok {
		return r
	}
	end = trace.Span(StepBootloader)
	err = p.installBootloader(p.dev, set.Bootloader)
	end()
	if err != nil {
		return fail(StepBootloader, err)
	}
	done(StepBootloader)

	scratch := p.scratch
	if scratch == "" {
		scratch, err = os.MkdirTemp("", "rmbuilder-")
		if err != nil {
			return fail(StepMount, err)
		}
		defer os.Remove(scratch)
	}

	st, err := p.installPhase(ctx, res, scratch, set)
	if err != nil {
		return res
	}
	done(StepUnmount)
	st.BootFiles = set.BootFileNames()

	if r, ok := canceled(StepVerify); ok {
		return r
	}
	end = trace.Span(StepVerify)
	report, err := p.verifyPhase(res, scratch, st)
	end()
	if err != nil {
		return res
	}
	res.Report = report
	done(StepVerify)
	if !report.OK() {
		return fail(StepVerify, &VerificationError{Report: report})
	}
	return res
}

// installPhase mounts the boot and system partitions read-write, installs
// the artifacts and applies the system configuration. Both sessions are torn
// down before it returns, whatever happens. On error the failing step is
// already recorded in res.
func (p *Pipeline) installPhase(ctx context.Context, res *Result, scratch string, set *artifact.Set) (st *sysconf.State, err error) {
	fail := func(step string, ferr error) (*sysconf.State, error) {
		res.Failed = step
		res.Err = ferr
		return nil, ferr
	}

	boot, err := p.mountPart(p.dev.PartitionPath(1), "vfat", scratch, "p1", false)
	if err != nil {
		return fail(StepMount, err)
	}
	defer teardown(boot, res, &err)
	system, err := p.mountPart(p.dev.PartitionPath(2), "ext4", scratch, "p2", false)
	if err != nil {
		return fail(StepMount, err)
	}
	defer teardown(system, res, &err)
	res.Completed = append(res.Completed, StepMount)

	if cerr := ctx.Err(); cerr != nil {
		return fail(StepInstallBoot, cerr)
	}
	if ierr := p.installBoot(boot, set); ierr != nil {
		return fail(StepInstallBoot, ierr)
	}
	res.Completed = append(res.Completed, StepInstallBoot)

	if cerr := ctx.Err(); cerr != nil {
		return fail(StepInstallRootfs, cerr)
	}
	end := trace.Span(StepInstallRootfs)
	ierr := p.installRootfs(ctx, system, set)
	end()
	if ierr != nil {
		return fail(StepInstallRootfs, ierr)
	}
	res.Completed = append(res.Completed, StepInstallRootfs)

	if cerr := ctx.Err(); cerr != nil {
		return fail(StepConfigure, cerr)
	}
	st, cerr := p.configure(system)
	if cerr != nil {
		return fail(StepConfigure, cerr)
	}
	res.Completed = append(res.Completed, StepConfigure)
	return st, nil
}

// verifyPhase mounts the partitions a second time, read-only, and runs the
// checks. The fresh mount pass means verification reads what is actually on
// the device rather than the install pass's dirty pages.
func (p *Pipeline) verifyPhase(res *Result, scratch string, st *sysconf.State) (report *verify.Report, err error) {
	fail := func(step string, ferr error) (*verify.Report, error) {
		res.Failed = step
		res.Err = ferr
		return nil, ferr
	}

	boot, err := p.mountPart(p.dev.PartitionPath(1), "vfat", scratch, "verify-p1", true)
	if err != nil {
		return fail(StepVerify, err)
	}
	defer teardown(boot, res, &err)
	system, err := p.mountPart(p.dev.PartitionPath(2), "ext4", scratch, "verify-p2", true)
	if err != nil {
		return fail(StepVerify, err)
	}
	defer teardown(system, res, &err)

	log.Printf("verifying %s", p.dev.Path)
	return p.verifyRun(boot, system, st), nil
}

// teardown unmounts s. An unmount failure surfaces as the run's error
// unless an earlier step already failed, in which case it is only logged:
// the first error is the one worth reporting.
func teardown(s *mount.Session, res *Result, errp *error) {
	uerr := s.Unmount()
	if uerr == nil {
		return
	}
	if *errp == nil {
		res.Failed = StepUnmount
		res.Err = uerr
		*errp = uerr
		return
	}
	log.Printf("cleanup: %v", uerr)
}

// VerificationError carries the report of a run whose writes all succeeded
// but whose re-read checks did not.
type VerificationError struct {
	Report *verify.Report
}

func (e *VerificationError) Error() string {
	failed := e.Report.Failed()
	if len(failed) == 0 {
		return "verification failed"
	}
	return "verification failed: " + failed[0].Name + ": " + failed[0].Detail
}

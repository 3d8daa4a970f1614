package block

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/s-urbaniak/uevent"
	"golang.org/x/sync/errgroup"
)

// settleAttempts bounds how often we re-check for the partition nodes;
// settleDelay is the pause between checks. Partition re-scans complete
// asynchronously relative to the table write, and on eMMC the nodes can
// take a while to appear. Both are variables so tests can shrink the budget.
var (
	settleAttempts = 10
	settleDelay    = 500 * time.Millisecond
)

// SettleError means the kernel did not expose the expected partition nodes
// within the retry budget. It is deliberately distinct from FormatError: the
// table write itself succeeded.
type SettleError struct {
	Dev     string
	Missing string
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("partition %s did not appear on %s within %v", e.Missing, e.Dev, time.Duration(settleAttempts)*settleDelay)
}

// WaitForPartitions blocks until the nodes for partitions 1..n exist, a
// bounded number of retries is exhausted, or ctx is canceled. Block-subsystem
// "add" uevents trigger an immediate re-check so that the common case does
// not pay the full poll delay (a netlink socket needs privileges we already
// hold, since we just wrote a partition table).
func WaitForPartitions(ctx context.Context, dev Device, n int) error {
	if missingPartition(dev, n) == "" {
		return nil
	}

	kick := make(chan struct{}, 1)
	watchCtx, stopWatch := context.WithCancel(ctx)
	g, _ := errgroup.WithContext(watchCtx)
	// One closure, not two defers: the decoder goroutine only exits once
	// stopWatch has closed the reader, so the stop must come before the wait.
	defer func() {
		stopWatch()
		g.Wait()
	}()
	if r, err := uevent.NewReader(); err != nil {
		log.Printf("uevent reader unavailable, polling only: %v", err)
	} else {
		go func() {
			<-watchCtx.Done()
			r.Close()
		}()
		g.Go(func() error {
			dec := uevent.NewDecoder(r)
			for {
				ev, err := dec.Decode()
				if err != nil {
					return nil // reader closed
				}
				if ev.Subsystem != "block" || ev.Action != "add" {
					continue
				}
				if !strings.HasPrefix(ev.Vars["DEVNAME"], dev.Name()) {
					continue
				}
				select {
				case kick <- struct{}{}:
				default:
				}
			}
		})
	}

	for attempt := 0; attempt < settleAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-kick:
		case <-time.After(settleDelay):
		}
		if missingPartition(dev, n) == "" {
			return nil
		}
	}
	return &SettleError{Dev: dev.Path, Missing: missingPartition(dev, n)}
}

// missingPartition returns the first absent partition node, or "" if all n
// are present.
func missingPartition(dev Device, n int) string {
	for i := 1; i <= n; i++ {
		p := dev.PartitionPath(i)
		if _, err := os.Stat(p); err != nil {
			return p
		}
	}
	return ""
}

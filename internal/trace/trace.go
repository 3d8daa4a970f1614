// Package trace records provisioning step timings as a Chrome trace event
// file (load it via chrome://tracing or https://ui.perfetto.dev). Useful for
// telling a slow rootfs extraction apart from a device that takes ages to
// settle after the partition table write.
package trace

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = io.Discard
)

// Sink writes all following spans as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format; the closing ] is optional per the format
	// spec, so nothing needs to happen at exit.
	w.Write([]byte{'['})
}

// Enable creates path and records all following spans into it.
func Enable(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	Sink(f)
	return nil
}

type span struct {
	Name           string `json:"name"`
	Type           string `json:"ph"` // "X": complete event
	ClockTimestamp uint64 `json:"ts"` // microseconds since trace start
	Duration       uint64 `json:"dur"`
	Pid            uint64 `json:"pid"`
	Tid            uint64 `json:"tid"`

	begin time.Time
}

// Span marks the start of a named pipeline step. The returned func emits the
// event with its measured duration.
func Span(name string) func() {
	s := &span{
		Name:           name,
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		begin:          time.Now(),
	}
	return func() {
		s.Duration = uint64(time.Since(s.begin) / time.Microsecond)
		b, err := json.Marshal(s)
		if err != nil {
			panic(err)
		}
		sinkMu.Lock()
		defer sinkMu.Unlock()
		if _, err := sink.Write(append(b, ',')); err != nil {
			log.Printf("[trace] %v", err)
		}
	}
}

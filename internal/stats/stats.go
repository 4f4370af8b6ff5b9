// Package stats collects resolver engine counters and on-demand host
// resource samples for the diagnostics surface.
package stats

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Counters accumulates per-engine-event totals. All methods are safe
// for concurrent use; the resolver's own dispatch is single-threaded,
// but a diagnostics handler reads these from another goroutine.
type Counters struct {
	requestsTotal atomic.Uint64
	requestsUDP   atomic.Uint64
	requestsTCP   atomic.Uint64
	replied       atomic.Uint64
	timedOut      atomic.Uint64
	netErrors     atomic.Uint64
	retransmits   atomic.Uint64
	fakeReplies   atomic.Uint64
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters { return &Counters{} }

// RecordRequest records a newly dispatched request on the given
// transport ("udp" or "tcp").
func (c *Counters) RecordRequest(transport string) {
	c.requestsTotal.Add(1)
	switch transport {
	case "udp":
		c.requestsUDP.Add(1)
	case "tcp":
		c.requestsTCP.Add(1)
	}
}

// RecordReplied records a request that reached its callback with a
// real reply.
func (c *Counters) RecordReplied() { c.replied.Add(1) }

// RecordTimeout records a request that exhausted its retransmits.
func (c *Counters) RecordTimeout() { c.timedOut.Add(1) }

// RecordNetError records a socket-level failure delivered as NETERR.
func (c *Counters) RecordNetError() { c.netErrors.Add(1) }

// RecordRetransmit records a single retransmit attempt.
func (c *Counters) RecordRetransmit() { c.retransmits.Add(1) }

// RecordFakeReply records a request served from the fake-reply table.
func (c *Counters) RecordFakeReply() { c.fakeReplies.Add(1) }

// Snapshot is a point-in-time read of Counters.
type Snapshot struct {
	RequestsTotal uint64
	RequestsUDP   uint64
	RequestsTCP   uint64
	Replied       uint64
	TimedOut      uint64
	NetErrors     uint64
	Retransmits   uint64
	FakeReplies   uint64
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal: c.requestsTotal.Load(),
		RequestsUDP:   c.requestsUDP.Load(),
		RequestsTCP:   c.requestsTCP.Load(),
		Replied:       c.replied.Load(),
		TimedOut:      c.timedOut.Load(),
		NetErrors:     c.netErrors.Load(),
		Retransmits:   c.retransmits.Load(),
		FakeReplies:   c.fakeReplies.Load(),
	}
}

// HostSnapshot is a sampled view of the host the resolver runs on.
type HostSnapshot struct {
	NumCPU          int
	CPUUsedPercent  float64
	CPUIdlePercent  float64
	MemTotalMB      float64
	MemUsedMB       float64
	MemUsedPercent  float64
}

// SampleHost takes a short CPU-usage sample (blocking for d) alongside
// an instantaneous memory read. Callers on a hot path should call this
// from a background goroutine, not inline with query handling.
func SampleHost(d time.Duration) HostSnapshot {
	snap := HostSnapshot{NumCPU: runtime.NumCPU()}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotalMB = float64(vm.Total) / 1024 / 1024
		snap.MemUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemUsedPercent = vm.UsedPercent
	}

	if pct, err := cpu.Percent(d, false); err == nil && len(pct) > 0 {
		snap.CPUUsedPercent = pct[0]
		snap.CPUIdlePercent = 100 - pct[0]
	}

	return snap
}

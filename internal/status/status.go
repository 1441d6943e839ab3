// Package status tracks process-wide counters for the directory and chat
// protocols, and renders a point-in-time Snapshot combining those
// counters with live host statistics.
//
// The counters use plain atomic fields with an explicit Snapshot
// method; host-wide CPU and memory figures (not per-process ones) are
// gathered via github.com/shirou/gopsutil/v3.
package status

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Counters collects protocol event counts. All methods are safe for
// concurrent use; the admin API reads a Snapshot from a different
// goroutine than the one driving the engine.
type Counters struct {
	joinsAttempted atomic.Uint64
	joinsSucceeded atomic.Uint64
	joinsAborted   atomic.Uint64
	leaves         atomic.Uint64
	finds          atomic.Uint64
	seqTimeouts    atomic.Uint64
	regsServed     atomic.Uint64
	unrsServed     atomic.Uint64
	qrysServed     atomic.Uint64
}

func (c *Counters) RecordJoinAttempted() { c.joinsAttempted.Add(1) }
func (c *Counters) RecordJoinSucceeded() { c.joinsSucceeded.Add(1) }
func (c *Counters) RecordJoinAborted()   { c.joinsAborted.Add(1) }
func (c *Counters) RecordLeave()         { c.leaves.Add(1) }
func (c *Counters) RecordFind()          { c.finds.Add(1) }
func (c *Counters) RecordSequenceTimeout() { c.seqTimeouts.Add(1) }
func (c *Counters) RecordRegServed()     { c.regsServed.Add(1) }
func (c *Counters) RecordUnrServed()     { c.unrsServed.Add(1) }
func (c *Counters) RecordQryServed()     { c.qrysServed.Add(1) }

// CountersSnapshot is a value copy of Counters for serialisation.
type CountersSnapshot struct {
	JoinsAttempted  uint64 `json:"joins_attempted"`
	JoinsSucceeded  uint64 `json:"joins_succeeded"`
	JoinsAborted    uint64 `json:"joins_aborted"`
	Leaves          uint64 `json:"leaves"`
	Finds           uint64 `json:"finds"`
	SequenceTimeouts uint64 `json:"sequence_timeouts"`
	RegsServed      uint64 `json:"regs_served"`
	UnrsServed      uint64 `json:"unrs_served"`
	QrysServed      uint64 `json:"qrys_served"`
}

func (c *Counters) snapshot() CountersSnapshot {
	return CountersSnapshot{
		JoinsAttempted:   c.joinsAttempted.Load(),
		JoinsSucceeded:   c.joinsSucceeded.Load(),
		JoinsAborted:     c.joinsAborted.Load(),
		Leaves:           c.leaves.Load(),
		Finds:            c.finds.Load(),
		SequenceTimeouts: c.seqTimeouts.Load(),
		RegsServed:       c.regsServed.Load(),
		UnrsServed:       c.unrsServed.Load(),
		QrysServed:       c.qrysServed.Load(),
	}
}

// Snapshot is the combined point-in-time view rendered by the `status`
// command and the admin API's /api/v1/status endpoint.
type Snapshot struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	NumCPU        int              `json:"num_cpu"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemUsedMB     float64          `json:"mem_used_mb"`
	MemTotalMB    float64          `json:"mem_total_mb"`
	MemPercent    float64          `json:"mem_percent"`
	Counters      CountersSnapshot `json:"counters"`
	JoinStatus    string           `json:"join_status"`
	FindStatus    string           `json:"find_status"`
	NameServer    string           `json:"name_server,omitempty"`
	RosterSize    int              `json:"roster_size"`
}

// Reporter is the subset of *engine.Engine that status needs, kept
// narrow so this package does not import internal/engine (avoiding a
// cycle with anything engine-adjacent that wants to report status).
type Reporter interface {
	JoinStatusLabel() string
	FindStatusLabel() string
	NameServer() (string, bool)
	RosterLen() int
}

// Take renders a Snapshot as of now, given the process start time, the
// running Counters, and the current engine state.
func Take(startedAt time.Time, counters *Counters, r Reporter) Snapshot {
	uptime := time.Since(startedAt)

	snap := Snapshot{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		NumCPU:        runtime.NumCPU(),
		Counters:      counters.snapshot(),
		JoinStatus:    r.JoinStatusLabel(),
		FindStatus:    r.FindStatusLabel(),
		RosterSize:    r.RosterLen(),
	}
	if name, ok := r.NameServer(); ok {
		snap.NameServer = name
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemTotalMB = float64(vm.Total) / 1024 / 1024
		snap.MemPercent = vm.UsedPercent
	}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	return snap
}

// Copyright 2026 The tres-select Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cluster holds the read-only Node record and the mutable
// per-node usage counters spec.md §3.1 describes. Real hardware/topology
// discovery (the teacher's pkg/sysfs, which walks /sys and /proc) is out
// of scope here: spec.md §1 calls the node registry an external
// collaborator consumed read-only by this engine, so only the data shape
// a caller would have already discovered is modeled, as plain structs.
package cluster

import (
	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/intel/tres-select/pkg/bitset"
)

// State is the node scheduling state tag (spec.md §3.1, GLOSSARY).
type State int

const (
	// Available nodes can be shared across any number of rows.
	Available State = iota
	// OneRow nodes admit only a single concurrent row.
	OneRow
	// Reserved nodes are exclusive to jobs that themselves request it.
	Reserved
)

// String renders the node state the way log messages expect it.
func (s State) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case OneRow:
		return "ONE_ROW"
	case Reserved:
		return "RESERVED"
	default:
		return "UNKNOWN"
	}
}

// GRESInventory maps a GRES type name (e.g. "gpu") to the per-socket set
// of device ids a node carries for that type.
type GRESInventory map[string][]idset.IDSet

// Clone deep-copies the inventory.
func (g GRESInventory) Clone() GRESInventory {
	out := make(GRESInventory, len(g))
	for name, perSocket := range g {
		cp := make([]idset.IDSet, len(perSocket))
		for i, ids := range perSocket {
			cp[i] = ids.Clone()
		}
		out[name] = cp
	}
	return out
}

// Node is the read-only hardware/weight record for one cluster member.
type Node struct {
	Index int
	Name  string

	Sockets        int
	CoresPerSocket int
	ThreadsPerCore int // vpus

	RealMemoryMB   uint64
	MemSpecLimitMB uint64 // memory carved out for node specialization
	CoreSpecCount  int    // cores reserved for specialization (core_spec)

	// Weight is the scheduling weight; the low byte is reusable as a
	// locality tiebreak (spec.md §3.1, rewritten by GRES narrowing in
	// C3 step 10).
	Weight uint64

	GRES GRESInventory
}

// TotalCores returns the node's physical core count.
func (n *Node) TotalCores() int { return n.Sockets * n.CoresPerSocket }

// TotalCPUs returns cores * threads-per-core.
func (n *Node) TotalCPUs() int { return n.TotalCores() * n.ThreadsPerCore }

// SocketOf returns the socket index owning global core index c.
func (n *Node) SocketOf(core int) int {
	if n.CoresPerSocket == 0 {
		return 0
	}
	return core / n.CoresPerSocket
}

// SocketCores returns the global core-index range [lo, hi) of socket s.
func (n *Node) SocketCores(s int) (lo, hi int) {
	lo = s * n.CoresPerSocket
	hi = lo + n.CoresPerSocket
	return
}

// WeightLow returns the reusable low byte of Weight (GRES-locality bias,
// §4.3 step 10).
func (n *Node) WeightLow() byte { return byte(n.Weight) }

// WithWeightLow returns a copy of n with the low byte of Weight replaced.
func (n *Node) WithWeightLow(low byte) *Node {
	cp := *n
	cp.Weight = (n.Weight &^ 0xff) | uint64(low)
	return &cp
}

// EffectiveThreadsPerCore returns the threads-per-core this job must be
// bound to on this node: the node's nominal VPU count, unless the job's
// own cpus-per-task/binding request caps it lower (grounded on the
// original's vpus_per_core, spec.md SUPPLEMENTED FEATURES item 1).
func (n *Node) EffectiveThreadsPerCore(jobThreadsPerCore int) int {
	if jobThreadsPerCore > 0 && jobThreadsPerCore < n.ThreadsPerCore {
		return jobThreadsPerCore
	}
	return n.ThreadsPerCore
}

// MarkAvailableCores returns the set of cores usable by jobs after
// carving out specialization cores. Per spec.md invariant 7, those are
// always the highest-indexed cores on the highest-indexed socket
// (grounded on the original's mark_avail_cores).
func (n *Node) MarkAvailableCores() bitset.Set {
	all := bitset.Range(n.TotalCores())
	if n.CoreSpecCount <= 0 {
		return all
	}

	lastSocket := n.Sockets - 1
	lo, hi := n.SocketCores(lastSocket)
	spec := n.CoreSpecCount
	if spec > hi-lo {
		spec = hi - lo
	}
	specLo := hi - spec

	specCores := make([]int, 0, spec)
	for c := specLo; c < hi; c++ {
		specCores = append(specCores, c)
	}
	return all.Subtract(bitset.New(specCores...))
}

// Usage is the mutable per-node state §3.1/§3.2 tracks outside Occupancy.
type Usage struct {
	State State

	// SharingCount is a monotonic counter of overlay allocations sharing
	// this node across rows (spec.md §3.1).
	SharingCount int

	AllocMemoryMB uint64

	// GRESInUse mirrors GRESInventory's shape, tracking device ids
	// currently granted to live jobs.
	GRESInUse GRESInventory
}

// NewUsage returns a freshly idle Usage for a node with the given GRES
// inventory shape.
func NewUsage(inv GRESInventory) *Usage {
	u := &Usage{State: Available, GRESInUse: make(GRESInventory, len(inv))}
	for name, perSocket := range inv {
		u.GRESInUse[name] = make([]idset.IDSet, len(perSocket))
		for i := range perSocket {
			u.GRESInUse[name][i] = idset.NewIDSet()
		}
	}
	return u
}

// Clone deep-copies usage, used when the will-run simulator duplicates
// node state before mutating it (spec.md §4.6, §5 "Shared resources").
func (u *Usage) Clone() *Usage {
	cp := &Usage{State: u.State, SharingCount: u.SharingCount, AllocMemoryMB: u.AllocMemoryMB}
	cp.GRESInUse = u.GRESInUse.Clone()
	return cp
}

// AddShare accounts a new allocation's node requirement against the
// sharing counter, keeping node_state >= job.node_req for every live job
// on the node.
func (u *Usage) AddShare(req State) { u.SharingCount += int(req) }

// SubShare releases an allocation's node requirement. An undercount is
// clamped to zero; onUnderrun, if non-nil, is invoked to log it.
func (u *Usage) SubShare(req State, onUnderrun func(had, want int)) {
	dec := int(req)
	if u.SharingCount < dec {
		if onUnderrun != nil {
			onUnderrun(u.SharingCount, dec)
		}
		u.SharingCount = 0
		return
	}
	u.SharingCount -= dec
}

// AddMemory accounts memMB as newly allocated.
func (u *Usage) AddMemory(memMB uint64) { u.AllocMemoryMB += memMB }

// SubMemory releases memMB, clamping to zero on underrun per invariant 4.
// onUnderrun, if non-nil, is invoked to log the clamp.
func (u *Usage) SubMemory(memMB uint64, onUnderrun func(had, want uint64)) {
	if memMB > u.AllocMemoryMB {
		if onUnderrun != nil {
			onUnderrun(u.AllocMemoryMB, memMB)
		}
		u.AllocMemoryMB = 0
		return
	}
	u.AllocMemoryMB -= memMB
}

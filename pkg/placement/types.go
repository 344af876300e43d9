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

// Package placement is the Node Filter, Per-Node Feasibility, Set
// Selector and Placement Driver (C2-C5, spec.md §4.2-§4.6), plus the
// will-run/preemption simulator and the uniform Result error kind (§7).
//
// Grounded function-by-function on job_test.c (cited per file); the
// CPUSupply/CPURequest/CPUGrant three-way split the teacher's cpu.go
// uses to separate "what a node can give" from "what was asked" from
// "what was granted" is followed here as AvailRes / JobRequest /
// occupancy.JobResources.
package placement

import (
	"sort"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/gres"
	"github.com/intel/tres-select/pkg/occupancy"
)

// CRType selects how the partition accounts cores (spec.md §4.3 step 2).
type CRType int

const (
	// CRCore accounts cores individually.
	CRCore CRType = iota
	// CRSocket makes sockets all-or-nothing.
	CRSocket
)

// PreemptMode is a partition-wide or job-wide preemption policy
// (GLOSSARY "Preempt mode").
type PreemptMode int

const (
	PreemptOff PreemptMode = iota
	PreemptRequeue
	PreemptCancel
	PreemptCheckpoint
	PreemptSuspend
)

// PartitionInfo is the scheduling-level metadata a Partition carries
// beyond its row/bitmap bookkeeping (occupancy.Partition owns that):
// priority, preemption policy, and per-node CPU cap (spec.md §4.3 step 3,
// §4.5 steps 2-3). Kept separate from occupancy.Partition so C1 stays
// free of placement-policy concerns.
type PartitionInfo struct {
	Occupancy *occupancy.Partition

	Priority    int
	PreemptMode PreemptMode
	CRType      CRType

	// MaxCPUsPerNode is the partition's per-node CPU cap; zero means
	// unbounded (spec.md P7's "∨ part.max_cpus_per_node = ∞").
	MaxCPUsPerNode int
}

func (p *PartitionInfo) cap(used int) int {
	if p.MaxCPUsPerNode <= 0 {
		return -1
	}
	room := p.MaxCPUsPerNode - used
	if room < 0 {
		room = 0
	}
	return room
}

// JobRequest is everything the engine needs about a job being placed
// (spec.md §3.1's JobResources is the *output*; this is the input side
// of the same allocation).
type JobRequest struct {
	ID string

	Partition *PartitionInfo

	MinCPUs           int
	CPUsPerTask       int
	NTasksPerNode     int
	NTasksPerCore     int
	NTasksPerSocket   int
	MinCoresPerSocket int
	MinSocketsPerNode int
	PnMinCPUs         int

	// PnMinMemory encodes both a value and whether it's per-CPU (bit 0 in
	// the source; modeled here as an explicit flag, spec.md §9's sum-type
	// guidance).
	PnMinMemory      uint64
	MemPerCPU        bool
	MemAllNodeMinMin bool

	ThreadsPerCoreCap int // 0 = no cap
	ThreadSpec        bool
	CoreSpecThreads   int

	WholeNode         bool
	OverCommittable   bool
	RequireContiguous bool

	NodeReq cluster.State

	RequiredNodes bitset.Set

	GRES *gres.JobGRES

	CPUSharingForbidden bool

	NumNodesMin int
	NumNodesMax int
	NumNodesReq int

	PreemptMode PreemptMode
	// Preemptable reports whether other jobs may evict this one.
	Preemptable bool

	EndTimeUnix int64
	Cleaning    bool
}

// AvailRes is C3's transient per-node result (spec.md §3.1).
type AvailRes struct {
	AvailCPUs      int
	AvailGPUs      int
	MaxCPUs        int
	MinCPUs        int
	Sockets        int
	ThreadsPerCore int
	SpecThreads    int

	// Cores is the node's committed per-socket core selection, keyed by
	// socket index.
	Cores map[int]bitset.Set

	// PerSocketCPUs is the CPU count charged against each socket.
	PerSocketCPUs map[int]int

	NearGPUCount int

	// SockGRES is the per-socket GRES availability list computed by
	// ApplyGRESNarrowing (spec.md §4.3 step 10); nil when the job carries
	// no GRES request. Threaded into the Set Selector's running GRES
	// accumulator (§4.4.1) so multi-node GRES quotas are checked against
	// actual per-node device availability, not CPU fit alone.
	SockGRES gres.SockGRESList
}

// Feasible reports whether this result represents a usable node (a
// zero-CPU AvailRes means infeasible, spec.md §4.3).
func (a *AvailRes) Feasible() bool { return a != nil && a.AvailCPUs > 0 }

// TotalCores returns the total number of cores committed across sockets.
func (a *AvailRes) TotalCores() int {
	n := 0
	for _, c := range a.Cores {
		n += c.Count()
	}
	return n
}

// CoreBitmap flattens AvailRes.Cores into a single node-wide bitset.
func (a *AvailRes) CoreBitmap() bitset.Set {
	all := bitset.Empty
	for _, c := range a.Cores {
		all = all.Union(c)
	}
	return all
}

// TrimTo reduces the committed cores and CPU count to what the job still
// needs, rounded up to whole cpus_per_task units (the original's
// _cpus_to_use pass). Lower-indexed sockets and cores are kept.
func (a *AvailRes) TrimTo(needCPUs, cpusPerTask int) {
	if needCPUs <= 0 || a.AvailCPUs <= needCPUs {
		return
	}
	if cpusPerTask > 1 {
		if r := needCPUs % cpusPerTask; r != 0 {
			needCPUs += cpusPerTask - r
		}
		if needCPUs >= a.AvailCPUs {
			return
		}
	}

	perCore := a.ThreadsPerCore
	if perCore <= 0 {
		perCore = 1
	}
	keep := (needCPUs + perCore - 1) / perCore

	sockets := make([]int, 0, len(a.Cores))
	for s := range a.Cores {
		sockets = append(sockets, s)
	}
	sort.Ints(sockets)

	total := 0
	for _, s := range sockets {
		if keep <= 0 {
			delete(a.Cores, s)
			delete(a.PerSocketCPUs, s)
			continue
		}
		cores := a.Cores[s].Slice()
		if len(cores) > keep {
			cores = cores[:keep]
		}
		keep -= len(cores)
		a.Cores[s] = bitset.New(cores...)
		charge := len(cores) * perCore
		if charge > needCPUs-total {
			charge = needCPUs - total
		}
		a.PerSocketCPUs[s] = charge
		total += charge
	}
	a.AvailCPUs = total
}

// Cluster is the read-only/mutable pair of node records C2-C5 consult:
// one cluster.Node plus its cluster.Usage, looked up by node index.
type Cluster struct {
	Nodes  []*cluster.Node
	Usages []*cluster.Usage
	GRES   gres.Plugin
}

func (c *Cluster) Node(i int) *cluster.Node   { return c.Nodes[i] }
func (c *Cluster) Usage(i int) *cluster.Usage { return c.Usages[i] }

// Clone deep-copies the usage side (node records are read-only and
// shared); used by the will-run/preemption simulator (spec.md §4.6, §5).
func (c *Cluster) Clone() *Cluster {
	cp := &Cluster{Nodes: c.Nodes, GRES: c.GRES, Usages: make([]*cluster.Usage, len(c.Usages))}
	for i, u := range c.Usages {
		cp.Usages[i] = u.Clone()
	}
	return cp
}

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

// Package gres implements the external GRES plugin surface spec.md §6.2
// names: job_test_per_node, core_filter_stage{2,3}, the job_sched_*
// running-accumulator family, job_dealloc and node_state_{dup,log}. The
// core placement engine (pkg/placement) only ever calls through the
// Plugin interface; this package's Reference implementation is the
// in-memory stand-in used by tests and the demo command.
package gres

import (
	"fmt"
	"sort"
	"strings"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
)

// Request is one GRES type a job asks for.
type Request struct {
	Type           string
	Count          int // total device count requested across the whole job
	PerSocket      int // 0 = unconstrained
	EnforceBinding bool
}

// JobGRES is the set of GRES requests carried by one job.
type JobGRES struct {
	Requests []Request
}

// IsEmpty reports whether the job requests no GRES at all.
func (j *JobGRES) IsEmpty() bool { return j == nil || len(j.Requests) == 0 }

// SocketGRES is the per-socket device availability handed back by
// job_test_per_node and consumed by core_filter_stage{2,3}.
type SocketGRES struct {
	Socket  int
	Devices map[string]idset.IDSet // type -> available device ids
}

// SockGRESList is the per-node, per-socket availability list.
type SockGRESList []SocketGRES

func (l SockGRESList) bySocket(s int) *SocketGRES {
	for i := range l {
		if l[i].Socket == s {
			return &l[i]
		}
	}
	return nil
}

// Plugin is the interface the core placement engine consumes (spec.md
// §6.2). Every method borrows its name from the original C plugin
// function it stands in for.
type Plugin interface {
	// JobTestPerNode returns the per-socket device availability for job
	// on a node given its inventory and current in-use snapshot. ok is
	// false when the node cannot satisfy the request at all.
	JobTestPerNode(job *JobGRES, inventory, inUse cluster.GRESInventory, testOnly bool) (list SockGRESList, ok bool)

	// CoreFilterStage2 narrows coreMap (one bitset.Set per socket) to
	// cores that can satisfy GRES binding, returning updated gpu and
	// near-gpu counts (spec.md §4.3 step 10).
	CoreFilterStage2(job *JobGRES, list SockGRESList, coreMap []bitset.Set, availMemMB uint64, maxCPUs int) (narrowed []bitset.Set, gpuCount, nearGPUCount int)

	// CoreFilterStage3 bounds [minTasks, maxTasks] further given GRES
	// availability per socket.
	CoreFilterStage3(job *JobGRES, list SockGRESList, availCoresPerSocket []int, minTasks, maxTasks int) (okMin, okMax int)

	// JobDealloc releases the GRES devices job held on node nodeIndex.
	JobDealloc(job *JobGRES, inUse cluster.GRESInventory, nodeIndex int)

	// NodeStateDup deep-copies a node's in-use GRES snapshot for will-run
	// simulation (spec.md §4.6, §5).
	NodeStateDup(inUse cluster.GRESInventory) cluster.GRESInventory

	// NodeStateLog renders a debug summary of a node's in-use GRES.
	NodeStateLog(inUse cluster.GRESInventory) string
}

// Accumulator is the running per-job GRES tracker C4's inner picker
// consults while walking candidate nodes (job_sched_init/add/consec/
// sufficient/test/test2/str).
type Accumulator struct {
	job     *JobGRES
	perType map[string]int
	nodes   int
}

// NewAccumulator implements job_sched_init.
func NewAccumulator(job *JobGRES) *Accumulator {
	return &Accumulator{job: job, perType: make(map[string]int)}
}

// Add implements job_sched_add: folds one more node's granted devices in.
func (a *Accumulator) Add(list SockGRESList) {
	a.nodes++
	for _, sg := range list {
		for t, ids := range sg.Devices {
			a.perType[t] += ids.Size()
		}
	}
}

// Consec implements job_sched_consec. It always reports true: whether
// the accumulated nodes form an index-contiguous run is not checked, and
// the selector may feed Add nodes from several sets and out of index
// order.
func (a *Accumulator) Consec() bool { return true }

// Sufficient implements job_sched_sufficient: whether the accumulated
// counts meet every requested type's quota.
func (a *Accumulator) Sufficient() bool {
	if a.job.IsEmpty() {
		return true
	}
	for _, req := range a.job.Requests {
		if a.perType[req.Type] < req.Count {
			return false
		}
	}
	return true
}

// Test implements job_sched_test: same predicate as Sufficient, named
// separately because the original calls it at a different point (after
// a single node rather than after the whole accumulation).
func (a *Accumulator) Test() bool { return a.Sufficient() }

// Test2 implements job_sched_test2: strict over-satisfaction check, used
// by the outer selector to decide whether taking one more node would be
// wasted GRES-wise.
func (a *Accumulator) Test2() bool {
	if a.job.IsEmpty() {
		return true
	}
	for _, req := range a.job.Requests {
		if a.perType[req.Type] <= req.Count {
			return false
		}
	}
	return true
}

// String implements job_sched_str.
func (a *Accumulator) String() string {
	types := make([]string, 0, len(a.perType))
	for t := range a.perType {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, a.perType[t]))
	}
	return strings.Join(parts, ",")
}

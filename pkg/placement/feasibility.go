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

// Per-Node Feasibility (C3, spec.md §4.3). This is allocate_sc in
// job_test.c, followed step by step; each numbered comment below
// corresponds to a numbered step in the spec.
package placement

import (
	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/cpuallocator"
	"github.com/intel/tres-select/pkg/gres"
	"github.com/intel/tres-select/pkg/log"
)

var feasLog = log.NewLogger("feasibility")

// Feasibility computes the maximum AvailRes node n can grant job, given
// the cores currently free on n (availCores), the cores same-partition
// co-tenants already hold on n across all of the partition's rows
// (partitionCores, which still count
// against the per-partition cap even though they aren't "free"), and the
// node's current memory usage (needed by step 9's per-CPU memory gate).
func Feasibility(node *cluster.Node, usage *cluster.Usage, part *PartitionInfo, job *JobRequest, availCores, partitionCores bitset.Set) *AvailRes {
	threadsPerCore := node.EffectiveThreadsPerCore(job.ThreadsPerCoreCap)

	// 1. Account per socket.
	freeCores := make(map[int]bitset.Set, node.Sockets)
	usedCPUsBySelf := make(map[int]int, node.Sockets)
	for s := 0; s < node.Sockets; s++ {
		lo, hi := node.SocketCores(s)
		socketRange := bitset.RangeBetween(lo, hi)
		freeCores[s] = availCores.Intersect(socketRange)
		usedCPUsBySelf[s] = partitionCores.Intersect(socketRange).Count() * threadsPerCore
	}

	// 2. Entire-socket mode: sockets with any used core go all-or-nothing.
	if part.CRType == CRSocket {
		for s := 0; s < node.Sockets; s++ {
			lo, hi := node.SocketCores(s)
			total := hi - lo
			if freeCores[s].Count() < total {
				freeCores[s] = bitset.Empty
			}
		}
	}

	freeCPUs, usedCPUs := 0, 0
	for s := 0; s < node.Sockets; s++ {
		freeCPUs += freeCores[s].Count() * threadsPerCore
		usedCPUs += usedCPUsBySelf[s]
	}

	// 3. Partition CPU cap.
	if room := part.cap(usedCPUs); room >= 0 {
		if freeCPUs+usedCPUs > part.MaxCPUsPerNode {
			freeCPUs = room
			if freeCPUs < job.CPUsPerTask {
				feasLog.Debug("node %s: partition cap leaves no room for a single task", node.Name)
				return &AvailRes{}
			}
		}
	}

	// 4. Min-cores-per-socket / min-sockets-per-node gates.
	usableSockets := 0
	for s := 0; s < node.Sockets; s++ {
		if job.MinCoresPerSocket > 0 && freeCores[s].Count() < job.MinCoresPerSocket {
			freeCores[s] = bitset.Empty
			continue
		}
		if !freeCores[s].IsEmpty() {
			usableSockets++
		}
	}
	if job.MinSocketsPerNode > 0 && usableSockets < job.MinSocketsPerNode {
		return &AvailRes{}
	}

	// 5. Task count.
	cpusPerTask := job.CPUsPerTask
	if cpusPerTask <= 0 {
		cpusPerTask = 1
	}
	avail := 0
	if job.NTasksPerSocket > 0 {
		for s := 0; s < node.Sockets; s++ {
			cap := freeCores[s].Count() * threadsPerCore
			budget := job.NTasksPerSocket * cpusPerTask
			if cap > budget {
				cap = budget
			}
			avail += cap
		}
	} else {
		for s := 0; s < node.Sockets; s++ {
			avail += freeCores[s].Count() * threadsPerCore
		}
	}
	if freeCPUs >= 0 && avail > freeCPUs {
		avail = freeCPUs
	}

	if cpusPerTask >= 2 && job.NTasksPerCore == 1 && cpusPerTask > threadsPerCore {
		cores := avail / threadsPerCore
		avail = cores * threadsPerCore
	}
	numTasks := avail / cpusPerTask

	// 6. Final gate.
	if !job.OverCommittable && job.NTasksPerNode > 0 && numTasks < job.NTasksPerNode {
		return &AvailRes{}
	}
	if job.PnMinCPUs > 0 && avail < job.PnMinCPUs {
		return &AvailRes{}
	}

	// 7. Core selection walk: commit cores in index order per socket,
	// respecting each socket's task-count headroom, via cpuallocator's
	// tiered core picker (collapsing to an ascending walk within a
	// single socket's candidate range).
	cores := make(map[int]bitset.Set, node.Sockets)
	perSocketCPUs := make(map[int]int, node.Sockets)
	remaining := avail
	cps := 0
	if job.NTasksPerSocket > 0 {
		cps = job.NTasksPerSocket * cpusPerTask
	}
	for s := 0; s < node.Sockets; s++ {
		if remaining <= 0 || freeCores[s].IsEmpty() {
			continue
		}
		chargePerCore := threadsPerCore
		if cpusPerTask < threadsPerCore && job.NTasksPerCore == 1 {
			chargePerCore = cpusPerTask
		}
		headroom := freeCores[s].Count()
		if cps > 0 {
			socketBudgetCores := cps / chargePerCore
			if socketBudgetCores < headroom {
				headroom = socketBudgetCores
			}
		}
		take := remaining / chargePerCore
		if take > headroom {
			take = headroom
		}
		if take <= 0 {
			continue
		}
		picked := cpuallocator.AllocateCores(node, freeCores[s], take)
		if picked.IsEmpty() {
			continue
		}
		cores[s] = picked
		charge := picked.Count() * chargePerCore
		perSocketCPUs[s] = charge
		remaining -= charge
	}

	// 8. Specialization: subtract thread-level spec reservation.
	cpuCount := 0
	for _, c := range perSocketCPUs {
		cpuCount += c
	}
	if job.ThreadSpec && job.CoreSpecThreads > 0 && (threadsPerCore == 1 || threadsPerCore == node.ThreadsPerCore) {
		cpuCount -= job.CoreSpecThreads
		if cpuCount < 0 {
			cpuCount = 0
		}
	}

	// 9. Per-CPU memory re-check: drop CPUs until req_mem*cpus <= avail_mem,
	// then snap down to a multiple of cpus_per_task.
	if job.MemPerCPU && job.PnMinMemory > 0 {
		availMemMB := uint64(0)
		if node.RealMemoryMB > usage.AllocMemoryMB {
			availMemMB = node.RealMemoryMB - usage.AllocMemoryMB
		}
		cpuCount = shrinkForMemory(cpuCount, job.PnMinMemory, availMemMB, cpusPerTask)
	}

	res := &AvailRes{
		AvailCPUs:      cpuCount,
		MaxCPUs:        freeCPUs,
		MinCPUs:        job.PnMinCPUs,
		Sockets:        usableSockets,
		ThreadsPerCore: threadsPerCore,
		Cores:          cores,
		PerSocketCPUs:  perSocketCPUs,
	}

	return res
}

// shrinkForMemory implements spec.md §4.3 step 9's per-CPU memory gate:
// drop CPUs one at a time until reqMemPerCPU*cpuCount no longer exceeds
// availMemMB, then snap the result down to a multiple of cpusPerTask.
func shrinkForMemory(cpuCount int, reqMemPerCPU, availMemMB uint64, cpusPerTask int) int {
	for cpuCount > 0 && reqMemPerCPU*uint64(cpuCount) > availMemMB {
		cpuCount--
	}
	if cpusPerTask <= 0 {
		return cpuCount
	}
	return (cpuCount / cpusPerTask) * cpusPerTask
}

// ApplyGRESNarrowing is spec.md §4.3 step 10: hand the per-socket core
// bitmap to the GRES filter, which may clear sockets that cannot satisfy
// GRES binding, and rewrite the node's locality tiebreak. Runs after
// Feasibility because it needs the live per-node GRES-in-use snapshot,
// which Feasibility itself does not carry.
func ApplyGRESNarrowing(node *cluster.Node, usage *cluster.Usage, plugin gres.Plugin, res *AvailRes, job *JobRequest) *cluster.Node {
	if plugin == nil || job.GRES == nil || job.GRES.IsEmpty() || !res.Feasible() {
		return node
	}

	list, ok := plugin.JobTestPerNode(job.GRES, node.GRES, usage.GRESInUse, false)
	if !ok {
		res.AvailCPUs = 0
		return node
	}

	coreMap := make([]bitset.Set, node.Sockets)
	for s := 0; s < node.Sockets; s++ {
		coreMap[s] = res.Cores[s]
	}
	availMemMB := uint64(0)
	if node.RealMemoryMB > usage.AllocMemoryMB {
		availMemMB = node.RealMemoryMB - usage.AllocMemoryMB
	}
	narrowed, gpuCount, nearGPU := plugin.CoreFilterStage2(job.GRES, list, coreMap, availMemMB, res.MaxCPUs)

	total := 0
	for s, c := range narrowed {
		if c.IsEmpty() {
			delete(res.Cores, s)
			delete(res.PerSocketCPUs, s)
			continue
		}
		res.Cores[s] = c
		total += c.Count() * res.ThreadsPerCore
	}
	res.AvailCPUs = total
	res.AvailGPUs = gpuCount
	res.NearGPUCount = nearGPU
	res.SockGRES = list

	// Stage 3 bounds the feasible task count given per-socket GRES
	// availability; a tighter task bound shaves CPUs off the result.
	if job.CPUsPerTask > 0 && res.AvailCPUs > 0 {
		perSock := make([]int, node.Sockets)
		for s := range perSock {
			perSock[s] = res.Cores[s].Count()
		}
		maxTasks := res.AvailCPUs / job.CPUsPerTask
		_, maxTasks = plugin.CoreFilterStage3(job.GRES, list, perSock, job.NTasksPerNode, maxTasks)
		if bound := maxTasks * job.CPUsPerTask; bound < res.AvailCPUs {
			res.AvailCPUs = bound
		}
	}

	return node.WithWeightLow(0xff - byte(nearGPU))
}

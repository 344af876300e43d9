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

// Placement Driver (C5, spec.md §4.5): the five-step search and the
// commit phase that turns a successful search into occupancy.JobResources.
// Grounded on job_test.c's _pick_best_nodes, test 0 through step 4.
package placement

import (
	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/log"
	"github.com/intel/tres-select/pkg/occupancy"
)

var driverLog = log.NewLogger("placement")

// Driver runs the five-step search against a cluster and the full set of
// partitions (needed for cross-partition priority/preemption subtraction).
type Driver struct {
	Cluster    *Cluster
	Partitions []*PartitionInfo

	// Distributor lays tasks onto the committed cores (spec.md §6.3). A
	// nil Distributor falls back to DefaultTaskDistributor.
	Distributor TaskDistributor

	// Initializing mirrors the plugin-initializing window (spec.md §5):
	// while set, RemoveJob is a no-op that reports success, since the
	// policy layer may be replaying historical allocations. Cleared by
	// the reconfiguration handshake via FinishInitializing.
	Initializing bool
}

// NewDriver returns a driver bound to cl and partitions.
func NewDriver(cl *Cluster, partitions []*PartitionInfo) *Driver {
	return &Driver{Cluster: cl, Partitions: partitions, Distributor: DefaultTaskDistributor{}}
}

func (d *Driver) distributor() TaskDistributor {
	if d.Distributor != nil {
		return d.Distributor
	}
	return DefaultTaskDistributor{}
}

// FinishInitializing ends the plugin-initializing window (spec.md §5).
func (d *Driver) FinishInitializing() { d.Initializing = false }

// attemptResult carries one search attempt's outcome.
type attemptResult struct {
	nodes []int
	avail map[int]*AvailRes
	ok    bool
	res   *Result // non-nil when the filter failed hard (RequiredNodeUnfit)
}

// attempt runs C2 filtering, per-node C3 feasibility, and C4 selection
// against a caller-supplied free-core map (the thing that differs between
// the five steps).
func (d *Driver) attempt(job *JobRequest, candidates bitset.Set, freeCores map[int]bitset.Set, excCores map[int]bitset.Set) attemptResult {
	filtered, ferr := Filter(d.Cluster, FilterInput{
		Candidates:    candidates,
		Job:           job,
		AllPartitions: d.Partitions,
		ExcludeCores:  excCores,
	})
	if ferr != nil {
		return attemptResult{ok: false, res: ferr}
	}

	avail := make(map[int]*AvailRes)
	weight := make(map[int]uint64)
	var order []int

	for _, n := range filtered.Slice() {
		node := d.Cluster.Node(n)
		usage := d.Cluster.Usage(n)

		partitionCores := bitset.Empty
		for _, row := range job.Partition.Occupancy.Rows {
			if b, ok := row.Bitmap[n]; ok {
				partitionCores = partitionCores.Union(b)
			}
		}

		free := freeCores[n]
		res := Feasibility(node, usage, job.Partition, job, free, partitionCores)
		narrowedNode := ApplyGRESNarrowing(node, usage, d.Cluster.GRES, res, job)
		if !res.Feasible() {
			continue
		}
		avail[n] = res
		weight[n] = narrowedNode.Weight
		order = append(order, n)
	}

	if len(order) == 0 {
		return attemptResult{ok: false}
	}

	// avail_res_cnt score for the outer knapsack pruning: how much a node
	// actually brings to the table. Low scorers get dropped first when the
	// inner picker fragments (spec.md §4.4.2).
	resCnt := func(n int) int {
		if ar := avail[n]; ar != nil {
			return ar.AvailCPUs + ar.AvailGPUs
		}
		return 0
	}
	maxResCnt := 0
	for _, n := range order {
		if c := resCnt(n); c > maxResCnt {
			maxResCnt = c
		}
	}

	chosen, ok := chooseNodes(chooseNodesInput{
		evalNodesInput: evalNodesInput{
			Candidates: order,
			Avail:      avail,
			WeightOf:   func(n int) uint64 { return weight[n] },
			Required:   job.RequiredNodes,
			RemCPUs:    job.MinCPUs,
			RemNodes:   job.NumNodesMax,
			MaxNodes:   job.NumNodesMax,
			ReqNodes:   job.NumNodesReq,
			MinNodes:   job.NumNodesMin,
			Contiguous: job.RequireContiguous,
			JobGRES:    job.GRES,
		},
		MaxResCnt:   maxResCnt,
		AvailResCnt: resCnt,
	})

	return attemptResult{nodes: chosen, avail: avail, ok: ok}
}

// allNodesBitmap returns the bitset of every node index in the cluster.
func (d *Driver) allNodesBitmap() bitset.Set {
	idx := make([]int, len(d.Cluster.Nodes))
	for i := range d.Cluster.Nodes {
		idx[i] = i
	}
	return bitset.New(idx...)
}

func (d *Driver) availableCoreMap() map[int]bitset.Set {
	m := make(map[int]bitset.Set, len(d.Cluster.Nodes))
	for _, n := range d.Cluster.Nodes {
		m[n.Index] = n.MarkAvailableCores()
	}
	return m
}

func unionAllRows(parts []*PartitionInfo, nodeIdx int) bitset.Set {
	out := bitset.Empty
	for _, p := range parts {
		for _, row := range p.Occupancy.Rows {
			if b, ok := row.Bitmap[nodeIdx]; ok {
				out = out.Union(b)
			}
		}
	}
	return out
}

func unionRowsWhere(parts []*PartitionInfo, nodeIdx int, include func(*PartitionInfo) bool) bitset.Set {
	out := bitset.Empty
	for _, p := range parts {
		if !include(p) {
			continue
		}
		for _, row := range p.Occupancy.Rows {
			if b, ok := row.Bitmap[nodeIdx]; ok {
				out = out.Union(b)
			}
		}
	}
	return out
}

// search runs the full five-step placement search (spec.md §4.5).
// testOnly stops after test 0.
func (d *Driver) search(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set, testOnly bool) ([]int, map[int]*AvailRes, *Result) {
	avail := d.availableCoreMap()

	// Test 0 — feasibility probe, no occupancy mask at all.
	t0 := d.attempt(job, candidates, avail, nil)
	recordStep("test0", t0.ok)
	if !t0.ok {
		if t0.res != nil {
			return nil, nil, t0.res
		}
		return nil, nil, NewResult(NoFit, "infeasible even with no occupancy mask")
	}
	if testOnly {
		return t0.nodes, t0.avail, Ok
	}

	// Step 1 — idle-fit: subtract every row of every partition, plus
	// exclude-cores.
	free1 := make(map[int]bitset.Set, len(avail))
	for n, a := range avail {
		f := a.Subtract(unionAllRows(d.Partitions, n))
		if e, ok := excCores[n]; ok {
			f = f.Subtract(e)
		}
		free1[n] = f
	}
	s1 := d.attempt(job, candidates, free1, excCores)
	recordStep("step1", s1.ok)
	if !s1.ok && job.CPUSharingForbidden {
		return nil, nil, NewResult(NoFit, "no idle fit and CPU sharing forbidden")
	}

	// Step 2 — priority feasibility: also subtract higher-priority and
	// (if preempt-by-partition applies) equal-priority-but-preemptable
	// partitions' rows.
	myPrio := job.Partition.Priority
	free2 := make(map[int]bitset.Set, len(avail))
	for n, a := range avail {
		sub := unionRowsWhere(d.Partitions, n, func(p *PartitionInfo) bool {
			if p.Priority > myPrio {
				return true
			}
			return p.Priority == myPrio && p.PreemptMode != PreemptOff && p != job.Partition
		})
		f := a.Subtract(sub)
		if e, ok := excCores[n]; ok {
			f = f.Subtract(e)
		}
		free2[n] = f
	}
	s2 := d.attempt(job, candidates, free2, excCores)
	recordStep("step2", s2.ok)
	if !s2.ok {
		return nil, nil, NewResult(HigherPriorityBusy, "")
	}

	// Step 3 — same-priority preference, then iteratively widen to
	// lower-priority partitions, keeping the most aggressive exclusion
	// that still fits.
	best := s2
	trySub := func(include func(*PartitionInfo) bool) attemptResult {
		f := make(map[int]bitset.Set, len(avail))
		for n, a := range avail {
			sub := unionRowsWhere(d.Partitions, n, include)
			v := a.Subtract(sub)
			if e, ok := excCores[n]; ok {
				v = v.Subtract(e)
			}
			f[n] = v
		}
		return d.attempt(job, candidates, f, excCores)
	}

	samePrioIncl := func(p *PartitionInfo) bool { return p.Priority >= myPrio }
	if r := trySub(samePrioIncl); r.ok {
		best = r

		lowerPrios := distinctPrioritiesBelow(d.Partitions, myPrio)
		for _, prio := range lowerPrios {
			incl := func(p *PartitionInfo) bool { return p.Priority >= prio }
			if r2 := trySub(incl); r2.ok {
				best = r2
			} else {
				break
			}
		}
	}
	recordStep("step3", best.ok)

	// Step 4 — row-fit within the job's own partition: try each row,
	// then an empty row.
	for _, row := range job.Partition.Occupancy.Rows {
		free4 := make(map[int]bitset.Set, len(avail))
		for n, a := range avail {
			f := a
			if b, ok := row.Bitmap[n]; ok {
				f = f.Subtract(b)
			}
			if e, ok := excCores[n]; ok {
				f = f.Subtract(e)
			}
			free4[n] = f
		}
		if r := d.attempt(job, candidates, free4, excCores); r.ok {
			recordStep("step4", true)
			return r.nodes, r.avail, Ok
		}
	}
	// Empty (fresh) row: equivalent to step 2/3's best result.
	if best.ok {
		recordStep("step4", true)
		return best.nodes, best.avail, Ok
	}

	recordStep("step4", false)
	return nil, nil, NewResult(NoFit, "no row fits")
}

func distinctPrioritiesBelow(parts []*PartitionInfo, below int) []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range parts {
		if p.Priority < below && !seen[p.Priority] {
			seen[p.Priority] = true
			out = append(out, p.Priority)
		}
	}
	// Highest-first so "most aggressive exclusion that still fits" widens
	// one priority tier at a time.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] > out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// TestOnly implements the test_only scheduler operation (spec.md §6.1):
// a feasibility probe that mutates nothing.
func (d *Driver) TestOnly(job *JobRequest, candidates bitset.Set) *Result {
	if job.Partition == nil {
		return NewResult(Invalid, "job has no partition")
	}
	_, _, res := d.search(job, candidates, nil, true)
	recordAttempt(res.Kind())
	return res
}

// RunNow implements run_now (spec.md §6.1): allocate immediately. On
// success it commits JobResources and updates occupancy/usage state.
func (d *Driver) RunNow(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set) (*occupancy.JobResources, *Result) {
	if job.Partition == nil {
		return nil, NewResult(Invalid, "job has no partition")
	}
	nodes, avail, res := d.search(job, candidates, excCores, false)
	recordAttempt(res.Kind())
	if res.Kind() != Success {
		return nil, res
	}
	return d.commit(job, nodes, avail)
}

// commit builds JobResources from a successful search, applies it to
// occupancy and node usage, and lays tasks onto it through the
// distributor (spec.md §4.5 "commit").
func (d *Driver) commit(job *JobRequest, nodes []int, avail map[int]*AvailRes) (*occupancy.JobResources, *Result) {
	jr := &occupancy.JobResources{
		ID:        job.ID,
		Nodes:     append([]int(nil), nodes...),
		Cores:     make(map[int]bitset.Set, len(nodes)),
		CPUs:      make(map[int]int, len(nodes)),
		MemoryMB:  make(map[int]uint64, len(nodes)),
		NodeReq:   job.NodeReq,
		WholeNode: job.WholeNode,
		Cleaning:  job.Cleaning,
	}

	totalCPUs := 0
	lowestMem := uint64(0)
	needCPUs := job.MinCPUs
	for i, n := range nodes {
		node := d.Cluster.Node(n)
		ar := avail[n]

		// Trim each node's grant to what the job still needs, never below
		// its per-node minimums (_cpus_to_use). Whole-node and socket-mode
		// grants keep their full width.
		if !job.WholeNode && job.Partition.CRType != CRSocket {
			target := needCPUs
			if target < job.PnMinCPUs {
				target = job.PnMinCPUs
			}
			if m := job.NTasksPerNode * job.CPUsPerTask; m > target {
				target = m
			}
			ar.TrimTo(target, job.CPUsPerTask)
			needCPUs -= ar.AvailCPUs
		}

		cores := ar.CoreBitmap()
		if job.WholeNode {
			cores = bitset.RangeBetween(0, node.TotalCores())
		}
		jr.Cores[n] = cores

		cpus := ar.AvailCPUs
		if job.WholeNode {
			cpus = node.TotalCPUs()
		} else if job.Partition.CRType == CRSocket {
			cpus = ar.TotalCores() * ar.ThreadsPerCore
		}
		jr.CPUs[n] = cpus
		totalCPUs += cpus

		mem := memoryForNode(job, cpus)
		if job.MemAllNodeMinMin {
			// "All available memory": charge what the node has free; the
			// lowest-memory node then sets the common per-node minimum.
			usage := d.Cluster.Usage(n)
			mem = 0
			if node.RealMemoryMB > usage.AllocMemoryMB {
				mem = node.RealMemoryMB - usage.AllocMemoryMB
			}
		}
		jr.MemoryMB[n] = mem
		if i == 0 || mem < lowestMem {
			lowestMem = mem
		}
	}
	jr.TotalCPUs = totalCPUs

	if job.MemAllNodeMinMin {
		for n := range jr.MemoryMB {
			jr.MemoryMB[n] = lowestMem
		}
	}

	if err := job.Partition.Occupancy.AddJob(jr); err != nil {
		driverLog.Error("commit of job %s: %s", job.ID, err)
		return nil, NewResult(Internal, err.Error())
	}

	prevState := make(map[int]cluster.State, len(nodes))
	for _, n := range nodes {
		usage := d.Cluster.Usage(n)
		prevState[n] = usage.State
		usage.AddMemory(jr.MemoryMB[n])
		usage.AddShare(job.NodeReq)
		if job.WholeNode {
			usage.State = cluster.Reserved
		}
	}

	// distribute_tasks (spec.md §6.3) can itself fail on an impossible
	// CPU/task geometry; unwind the just-built JobResources rather than
	// leave a committed allocation no task was ever laid onto (§4.5, §7).
	if err := d.distributor().Distribute(job, jr); err != nil {
		for _, n := range nodes {
			usage := d.Cluster.Usage(n)
			usage.SubMemory(jr.MemoryMB[n], nil)
			usage.SubShare(job.NodeReq, nil)
			usage.State = prevState[n]
		}
		if rerr := job.Partition.Occupancy.RemoveJob(jr, occupancy.RemoveAll); rerr != nil {
			driverLog.Error("commit unwind: failed to remove job %s after distribute_tasks failure: %s", job.ID, rerr)
		}
		driverLog.Warn("commit unwound for job %s: %s", job.ID, err)
		return nil, NewResult(Internal, err.Error())
	}

	counts, reps := jr.CPUGroups()
	driverLog.Info("committed job %s to %d node(s), total_cpus=%d, cpu_groups=%v x%v", job.ID, len(nodes), totalCPUs, counts, reps)
	job.Partition.Occupancy.DebugBlock()
	return jr, Ok
}

func memoryForNode(job *JobRequest, cpus int) uint64 {
	if job.PnMinMemory == 0 {
		return 0
	}
	if job.MemPerCPU {
		return job.PnMinMemory * uint64(cpus)
	}
	return job.PnMinMemory
}

// RemoveJob implements remove_job (spec.md §6.1, §4.1): release cores,
// memory, and/or GRES per action. During the plugin-initializing window
// it is a no-op reporting success (spec.md §5).
func (d *Driver) RemoveJob(job *occupancy.JobResources, action occupancy.RemoveAction, part *PartitionInfo) *Result {
	if d.Initializing {
		return Ok
	}
	if action != occupancy.RemoveCoresOnly {
		for n, mem := range job.MemoryMB {
			usage := d.Cluster.Usage(n)
			usage.SubMemory(mem, func(had, want uint64) {
				driverLog.Warn("node %s: memory underrun releasing job %s (had %d, want %d)", d.Cluster.Node(n).Name, job.ID, had, want)
			})
			if d.Cluster.GRES != nil && job.ID != "" {
				d.Cluster.GRES.JobDealloc(nil, usage.GRESInUse, n)
			}
		}
	}
	if action == occupancy.RemoveAll {
		for _, n := range job.Nodes {
			node := d.Cluster.Node(n)
			usage := d.Cluster.Usage(n)
			usage.SubShare(job.NodeReq, func(had, want int) {
				driverLog.Error("node %s: node-state undercount releasing job %s (had %d, want %d)", node.Name, job.ID, had, want)
			})
			if job.WholeNode && usage.State == cluster.Reserved {
				usage.State = cluster.Available
			}
		}
	}
	if action == occupancy.RemoveMemoryOnly {
		return Ok
	}
	if err := part.Occupancy.RemoveJob(job, action); err != nil {
		rowRebuildRepacks.WithLabelValues("restored_snapshot").Inc()
		driverLog.Error("remove_job %s: %s", job.ID, err)
		return NewResult(Internal, err.Error())
	}
	rowRebuildRepacks.WithLabelValues("repacked").Inc()
	return Ok
}

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

// Node Filter (C2, spec.md §4.2). Grounded on job_test.c's node-bitmap
// pruning pass inside _pick_best_nodes: a handful of cheap, per-node
// rejections run before the expensive per-socket feasibility pass (C3).
package placement

import (
	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/log"
)

var filterLog = log.NewLogger("nodefilter")

// FilterInput bundles C2's inputs (spec.md §4.2).
type FilterInput struct {
	Candidates    bitset.Set
	Job           *JobRequest
	AllPartitions []*PartitionInfo
	ExcludeCores  map[int]bitset.Set // reservation-exclude core array, by node
}

// Filter narrows in.Candidates to nodes that pass every C2 rule, and
// reports RequiredNodeUnfit if a mandatory node was cleared.
func Filter(cl *Cluster, in FilterInput) (bitset.Set, *Result) {
	kept := bitset.Empty

	for _, idx := range in.Candidates.Slice() {
		node := cl.Node(idx)
		usage := cl.Usage(idx)

		if !filterOne(cl, node, usage, in) {
			if in.Job.RequiredNodes.Test(idx) {
				filterLog.Error("node filter cleared required node %s", node.Name)
				return bitset.Empty, NewResult(RequiredNodeUnfit, node.Name)
			}
			continue
		}
		kept = kept.Set(idx)
	}

	return kept, nil
}

func filterOne(cl *Cluster, node *cluster.Node, usage *cluster.Usage, in FilterInput) bool {
	job := in.Job

	// 1. Memory insufficiency. A per-node request is checked against the
	// full amount up front; a per-CPU request's exact total depends on
	// the CPU count C3 hasn't computed yet (step 9 shrinks CPUs to fit),
	// so here only the cheap necessary condition is checked: the node
	// must have at least one CPU's worth of memory free, or else no CPU
	// count at all could satisfy it.
	if job.PnMinMemory > 0 {
		avail := uint64(0)
		if node.RealMemoryMB > usage.AllocMemoryMB {
			avail = node.RealMemoryMB - usage.AllocMemoryMB
		}
		if avail < job.PnMinMemory {
			return false
		}
	}
	if job.MemAllNodeMinMin && usage.AllocMemoryMB > 0 {
		return false
	}

	// 2. whole_node vs reservation-exclude, plus the block-whole-nodes
	// rule: a node with any core in use by any partition's row cannot be
	// handed out exclusively (invariant 3).
	if job.WholeNode {
		if excl, ok := in.ExcludeCores[node.Index]; ok && !excl.IsEmpty() {
			return false
		}
		if nodeUsedByAnyPartition(node.Index, in.AllPartitions) {
			return false
		}
	}

	// 3. GRES feasibility probe.
	if job.GRES != nil && !job.GRES.IsEmpty() {
		if cl.GRES == nil {
			return false
		}
		_, ok := cl.GRES.JobTestPerNode(job.GRES, node.GRES, usage.GRESInUse, true)
		if !ok {
			return false
		}
	}

	// 4. RESERVED node state.
	if usage.State == cluster.Reserved {
		if job.NodeReq != cluster.Reserved {
			return false
		}
		if usage.SharingCount > 0 || usage.AllocMemoryMB > 0 {
			return false
		}
	}

	// 5. ONE_ROW node state.
	if usage.State == cluster.OneRow {
		if job.NodeReq == cluster.Reserved || job.NodeReq == cluster.Available {
			return false
		}
	}

	// 6. Cross-partition sharing-row conflicts.
	switch job.NodeReq {
	case cluster.OneRow:
		if nodeSharedByOtherPartition(node.Index, job.Partition, in.AllPartitions) {
			return false
		}
	case cluster.Reserved:
		if nodeUsedByAnyPartition(node.Index, in.AllPartitions) {
			return false
		}
	}

	return true
}

func nodeSharedByOtherPartition(nodeIdx int, mine *PartitionInfo, all []*PartitionInfo) bool {
	for _, p := range all {
		if p == mine {
			continue
		}
		if len(p.Occupancy.Rows) <= 1 {
			continue
		}
		if partitionUsesNode(p, nodeIdx) {
			return true
		}
	}
	return false
}

func nodeUsedByAnyPartition(nodeIdx int, all []*PartitionInfo) bool {
	for _, p := range all {
		if partitionUsesNode(p, nodeIdx) {
			return true
		}
	}
	return false
}

func partitionUsesNode(p *PartitionInfo, nodeIdx int) bool {
	for _, row := range p.Occupancy.Rows {
		if b, ok := row.Bitmap[nodeIdx]; ok && !b.IsEmpty() {
			return true
		}
	}
	return false
}

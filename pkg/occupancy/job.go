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

// Package occupancy is the Occupancy Model (C1, spec.md §4.1): per-
// partition, multi-row core-in-use maps, job/row membership, and the
// add/remove/rebuild operations that keep spec.md's invariants 1, 2, 3
// and 6 true after every call.
//
// Grounded on job_test.c's add_job_to_row, rm_job_res/_rm_job_from_res,
// _build_row_bitmaps and can_job_fit_in_row; the dense-indexed,
// id-referencing collection idiom follows the teacher's cache.go/pools.go
// rather than the original's raw pointer lists (spec.md §9).
package occupancy

import (
	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
)

// RemoveAction selects what remove_job subtracts (spec.md §4.1, §6.1).
type RemoveAction int

const (
	// RemoveAll subtracts cores, memory, and GRES (job fully gone).
	RemoveAll RemoveAction = iota
	// RemoveMemoryOnly subtracts memory and GRES (suspended job completing).
	RemoveMemoryOnly
	// RemoveCoresOnly subtracts cores only (job being suspended).
	RemoveCoresOnly
)

// JobResources is the per-allocation record §3.1 describes: which nodes,
// which cores on each, how much memory, and the node-requirement tag
// that governs future compatibility checks.
type JobResources struct {
	ID string

	// Nodes is the job's occupied node indices in ascending order. Unlike
	// the original's single contiguous job_resources_t bitstr, the core
	// bitmap below is kept per node, keyed by node index.
	Nodes []int

	// Cores holds the per-node core bitmap, keyed by node index.
	Cores map[int]bitset.Set

	// CPUs holds the per-node CPU count committed on each node, already
	// run-length-encodable by the caller (spec.md §4.5).
	CPUs map[int]int

	// MemoryMB holds the per-node memory allocation.
	MemoryMB map[int]uint64

	// NodeReq is the node-requirement tag carried at allocation time
	// (cluster.Available / cluster.OneRow / cluster.Reserved).
	NodeReq cluster.State

	// WholeNode marks exclusive-node jobs (spec.md invariant 3).
	WholeNode bool

	// Cleaning marks a job whose epilog has not finished; a cleaning job
	// still occupies resources and must not be treated by the will-run
	// simulator as already terminated (SUPPLEMENTED FEATURES item 5,
	// grounded on job_cleaning in job_test.c).
	Cleaning bool

	TotalCPUs int
}

// NodeBitmap returns the set of node indices this job occupies.
func (j *JobResources) NodeBitmap() bitset.Set {
	return bitset.New(j.Nodes...)
}

// CPUGroups returns the per-node CPU counts in run-length-encoded form,
// walking Nodes in order: counts[i] CPUs on each of reps[i] consecutive
// entries.
func (j *JobResources) CPUGroups() (counts, reps []int) {
	for _, n := range j.Nodes {
		c := j.CPUs[n]
		if k := len(counts); k > 0 && counts[k-1] == c {
			reps[k-1]++
			continue
		}
		counts = append(counts, c)
		reps = append(reps, 1)
	}
	return counts, reps
}

// Clone deep-copies a JobResources, used when Occupancy is snapshotted
// for will-run/preemption simulation (spec.md §4.6, §5).
func (j *JobResources) Clone() *JobResources {
	cp := &JobResources{
		ID:        j.ID,
		Nodes:     append([]int(nil), j.Nodes...),
		Cores:     make(map[int]bitset.Set, len(j.Cores)),
		CPUs:      make(map[int]int, len(j.CPUs)),
		MemoryMB:  make(map[int]uint64, len(j.MemoryMB)),
		NodeReq:   j.NodeReq,
		WholeNode: j.WholeNode,
		Cleaning:  j.Cleaning,
		TotalCPUs: j.TotalCPUs,
	}
	for n, c := range j.Cores {
		cp.Cores[n] = c.Clone()
	}
	for n, c := range j.CPUs {
		cp.CPUs[n] = c
	}
	for n, m := range j.MemoryMB {
		cp.MemoryMB[n] = m
	}
	return cp
}

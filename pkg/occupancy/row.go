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

package occupancy

import (
	"sort"

	"github.com/intel/tres-select/pkg/bitset"
)

// Row is one stripe of a partition's occupancy (GLOSSARY "Row"). Within
// a row, core usage is disjoint per node (invariant 2); across rows of
// an oversubscribable partition, the same node may appear more than
// once.
type Row struct {
	// Bitmap is the per-node core-in-use map (row_bitmap, spec.md §3.1).
	Bitmap map[int]bitset.Set

	// Jobs is the row's job list.
	Jobs []*JobResources
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{Bitmap: make(map[int]bitset.Set)}
}

// Fits reports whether job can be added to r without violating invariant
// 2 on any node (can_job_fit_in_row in job_test.c). Whole-node jobs
// naturally require the row to be entirely empty on every node they
// claim, since their own per-node core bitmap already spans every core.
func (r *Row) Fits(job *JobResources) bool {
	for _, n := range job.Nodes {
		existing, ok := r.Bitmap[n]
		if !ok {
			continue
		}
		if existing.Overlaps(job.Cores[n]) {
			return false
		}
	}
	return true
}

// add folds job's core usage into the row without checking Fits; callers
// must have already verified Fits (or intend an overlay/extra row that
// deliberately overlaps, spec.md invariant 2 exception).
func (r *Row) add(job *JobResources) {
	for _, n := range job.Nodes {
		r.Bitmap[n] = r.Bitmap[n].Union(job.Cores[n])
	}
	r.Jobs = append(r.Jobs, job)
}

// removeByID deletes the job with the given id from the row's job list,
// reporting whether it was present.
func (r *Row) removeByID(id string) bool {
	for i, j := range r.Jobs {
		if j.ID == id {
			r.Jobs = append(r.Jobs[:i], r.Jobs[i+1:]...)
			return true
		}
	}
	return false
}

// rebuildBitmap recomputes Bitmap from scratch out of the current job
// list (invariant 1), the way _build_row_bitmaps does after a removal.
func (r *Row) rebuildBitmap() {
	r.Bitmap = make(map[int]bitset.Set)
	for _, job := range r.Jobs {
		for _, n := range job.Nodes {
			r.Bitmap[n] = r.Bitmap[n].Union(job.Cores[n])
		}
	}
}

// clone deep-copies a row.
func (r *Row) clone() *Row {
	cp := &Row{Bitmap: make(map[int]bitset.Set, len(r.Bitmap)), Jobs: make([]*JobResources, len(r.Jobs))}
	for n, b := range r.Bitmap {
		cp.Bitmap[n] = b.Clone()
	}
	for i, j := range r.Jobs {
		cp.Jobs[i] = j.Clone()
	}
	return cp
}

// sortForRebuild orders jobs by (first_node_index, -ncpus) ascending,
// the stable order rebuild_row re-inserts jobs in (spec.md §3.3, §4.1).
// Per spec.md §9's Open Question, this uses a strict weak order
// (returns a genuine less-than), fixing the original comparator's bug
// of returning 0 or 1 but never -1.
func sortForRebuild(jobs []*JobResources) {
	sort.SliceStable(jobs, func(i, j int) bool {
		fi, fj := firstNode(jobs[i]), firstNode(jobs[j])
		if fi != fj {
			return fi < fj
		}
		return jobs[i].TotalCPUs > jobs[j].TotalCPUs
	})
}

func firstNode(j *JobResources) int {
	if len(j.Nodes) == 0 {
		return -1
	}
	min := j.Nodes[0]
	for _, n := range j.Nodes[1:] {
		if n < min {
			min = n
		}
	}
	return min
}

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

	"github.com/pkg/errors"

	"github.com/intel/tres-select/pkg/log"
)

var partLog = log.NewLogger("occupancy")

// Partition is one partition's multi-row occupancy record (spec.md
// §3.1): one or more Rows, and whether an extra (QOS preemption overlay)
// row may be grown on demand.
type Partition struct {
	Name string
	Rows []*Row

	// ExtraRowEnabled lets RebuildAll grow the row vector beyond its
	// pre-rebuild length during a repack. AddJob appends a fresh row when
	// no existing row fits whether or not it is set.
	ExtraRowEnabled bool
}

// NewPartition returns a partition with a single empty row.
func NewPartition(name string, extraRowEnabled bool) *Partition {
	return &Partition{Name: name, Rows: []*Row{NewRow()}, ExtraRowEnabled: extraRowEnabled}
}

// AddJob places job into the first row of p with no per-node core
// conflict, growing the row vector on demand (spec.md §3.3, §4.1).
func (p *Partition) AddJob(job *JobResources) error {
	for _, row := range p.Rows {
		if row.Fits(job) {
			row.add(job)
			return nil
		}
	}

	if !p.ExtraRowEnabled && len(p.Rows) > 0 {
		partLog.Debug("partition %s: no row fits job %s, growing row vector", p.Name, job.ID)
	}

	row := NewRow()
	row.add(job)
	p.Rows = append(p.Rows, row)
	return nil
}

// RemoveJob subtracts job from whichever row holds it (spec.md invariant
// 6): action selects whether cores, memory/GRES, or both are released.
// The memory/GRES half is the caller's (pkg/placement's) responsibility
// against pkg/cluster.Usage; this method only ever mutates row core
// bitmaps, and only for actions that touch cores, then triggers the
// rebuild_row pass (spec.md §4.1) across the whole partition.
func (p *Partition) RemoveJob(job *JobResources, action RemoveAction) error {
	if action == RemoveMemoryOnly {
		// Cores stay put (job only suspended-memory-released); nothing
		// to do against row state.
		return nil
	}

	found := false
	for _, row := range p.Rows {
		if row.removeByID(job.ID) {
			found = true
			break
		}
	}
	if !found {
		return errors.Errorf("occupancy: job %s not found in partition %s", job.ID, p.Name)
	}
	return p.RebuildAll()
}

// RebuildAll collects every job from every row, clears all rows, and
// greedily re-packs them in (node_start, -ncpus) order (job_test.c's
// _build_row_bitmaps after a removal). If any job fails to place in the
// repack, the pre-rebuild snapshot is restored verbatim and only each
// surviving row's bitmap is recomputed from its own job list — the
// "dangling job" safety net spec.md §9 calls out explicitly.
func (p *Partition) RebuildAll() error {
	snapshot := p.clone()

	var all []*JobResources
	for _, row := range p.Rows {
		all = append(all, row.Jobs...)
	}
	sortForRebuild(all)

	rows := []*Row{NewRow()}
	for _, job := range all {
		placed := false
		for _, row := range rows {
			if row.Fits(job) {
				row.add(job)
				placed = true
				break
			}
		}
		if !placed {
			if !p.ExtraRowEnabled && len(rows) >= len(p.Rows) {
				// Repack would need to grow beyond the pre-rebuild row
				// count without permission to do so: bail out and fall
				// back to the snapshot rather than lose the job.
				*p = *snapshot
				for _, row := range p.Rows {
					row.rebuildBitmap()
				}
				return errors.Errorf("occupancy: rebuild of partition %s could not place job %s, restored snapshot", p.Name, job.ID)
			}
			row := NewRow()
			row.add(job)
			rows = append(rows, row)
		}
	}

	// A repack never shrinks num_rows: rows freed by the repack stay as
	// empty rows so row indices remain stable for the caller.
	for len(rows) < len(p.Rows) {
		rows = append(rows, NewRow())
	}
	p.Rows = rows
	return nil
}

func (p *Partition) clone() *Partition {
	cp := &Partition{Name: p.Name, ExtraRowEnabled: p.ExtraRowEnabled, Rows: make([]*Row, len(p.Rows))}
	for i, row := range p.Rows {
		cp.Rows[i] = row.clone()
	}
	return cp
}

// Clone returns a deep copy of p, used by the will-run/preemption
// simulator to mutate a disposable future view (spec.md §4.6, §5).
func (p *Partition) Clone() *Partition { return p.clone() }

// DebugBlock emits a multi-line dump of p's rows, each node's core
// bitmap, and the jobs occupying them, the way log_tres_state dumps
// partition/node occupancy in job_test.c. Intended for scheduler debug
// logging, not parsing.
func (p *Partition) DebugBlock() {
	if !partLog.DebugEnabled() {
		return
	}
	partLog.DebugBlock("  ", "partition %s: %d row(s)", p.Name, len(p.Rows))
	for i, row := range p.Rows {
		partLog.DebugBlock("    ", "row %d: %d job(s)", i, len(row.Jobs))
		nodes := make([]int, 0, len(row.Bitmap))
		for n := range row.Bitmap {
			nodes = append(nodes, n)
		}
		sort.Ints(nodes)
		for _, n := range nodes {
			partLog.DebugBlock("      ", "node %d cores %s", n, row.Bitmap[n].String())
		}
		for _, job := range row.Jobs {
			partLog.DebugBlock("      ", "job %s nodes=%v total_cpus=%d", job.ID, job.Nodes, job.TotalCPUs)
		}
	}
}

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

// Will-run / preemption simulation (spec.md §4.6). will_run_test and
// run_now share this machinery: clone Occupancy and node usage into a
// disposable future copy, iteratively remove preemptable running jobs in
// end-time order, and re-run the full five-step search after each
// removal. Grounded on job_test.c's will_run_test/_job_test preemption
// loop.
package placement

import (
	"sort"
	"time"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/config"
	"github.com/intel/tres-select/pkg/occupancy"
)

// RunningJob is a live allocation the simulator may choose to evict.
type RunningJob struct {
	Resources   *occupancy.JobResources
	Partition   *PartitionInfo
	Preemptable bool
	PreemptMode PreemptMode
	EndTimeUnix int64
}

func preemptRemoveAction(mode PreemptMode) occupancy.RemoveAction {
	if mode == PreemptSuspend {
		return occupancy.RemoveCoresOnly
	}
	return occupancy.RemoveAll
}

// cloneForSimulation deep-copies the cluster usage and every partition's
// occupancy, returning a disposable Driver the simulator can mutate
// freely (spec.md §5 "Shared resources").
func (d *Driver) cloneForSimulation() *Driver {
	clCopy := d.Cluster.Clone()
	parts := make([]*PartitionInfo, len(d.Partitions))
	for i, p := range d.Partitions {
		cp := *p
		cp.Occupancy = p.Occupancy.Clone()
		parts[i] = &cp
	}
	return &Driver{Cluster: clCopy, Partitions: parts}
}

// partitionIndex maps a PartitionInfo from the caller's original (non-
// simulated) Partitions slice to its position in d.Partitions. Matched by
// occupancy partition name rather than pointer identity, since
// cloneForSimulation allocates fresh PartitionInfo values that no longer
// share an address with the originals a RunningJob.Partition points at.
func (d *Driver) partitionIndex(p *PartitionInfo) int {
	for i, q := range d.Partitions {
		if q.Occupancy.Name == p.Occupancy.Name {
			return i
		}
	}
	return -1
}

// remapJob rebinds job's partition pointer onto this (simulation) driver's
// own PartitionInfo, so the search consults the cloned occupancy rather
// than the durable one the caller's job points at.
func (d *Driver) remapJob(job *JobRequest) *JobRequest {
	pi := d.partitionIndex(job.Partition)
	if pi < 0 {
		return job
	}
	cp := *job
	cp.Partition = d.Partitions[pi]
	return &cp
}

// WillRunTest implements will_run_test (spec.md §6.1): computes the
// earliest feasible start time by simulating termination of running
// jobs. Never mutates durable state (P8); writes the returned start time
// into job via the caller.
func (d *Driver) WillRunTest(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set, running []*RunningJob, now int64, cfg *config.Settings) (startTime int64, res *Result) {
	return d.simulate(job, candidates, excCores, running, now, cfg)
}

// RunNowWithPreemption implements run_now's preemption path: like
// WillRunTest, but on success the winning preemptees are actually
// removed from the real (non-simulated) state and the job is committed.
func (d *Driver) RunNowWithPreemption(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set, running []*RunningJob, cfg *config.Settings) ([]*RunningJob, *occupancy.JobResources, *Result) {
	_, res := d.simulate(job, candidates, excCores, running, 0, cfg)
	if res.Kind() != Success {
		return nil, nil, res
	}

	// Re-derive which preemptees were needed by replaying the same
	// removal order against a fresh simulation clone, this time keeping
	// the list; the original simulate() already proved feasibility, so
	// this replay is guaranteed to terminate at the same point.
	preemptees, nodes, avail := d.replayForPreemptees(job, candidates, excCores, running, cfg)
	if len(preemptees) == 0 && nodes == nil {
		return nil, nil, NewResult(Internal, "preemption replay diverged from simulation")
	}

	for _, rj := range preemptees {
		if r := d.RemoveJob(rj.Resources, preemptRemoveAction(rj.PreemptMode), rj.Partition); r.Kind() != Success {
			return nil, nil, r
		}
	}
	jr, cres := d.commit(job, nodes, avail)
	if cres.Kind() != Success {
		return nil, nil, cres
	}
	return preemptees, jr, Ok
}

// simulate is the shared core of WillRunTest/RunNowWithPreemption.
func (d *Driver) simulate(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set, running []*RunningJob, now int64, cfg *config.Settings) (int64, *Result) {
	started := time.Now()
	defer func() { willRunWallSeconds.Observe(time.Since(started).Seconds()) }()

	sim := d.cloneForSimulation()
	simJob := sim.remapJob(job)

	// 0. Feasibility with no removals at all.
	if _, _, res := sim.search(simJob, candidates, excCores, false); res.Kind() == Success {
		return now, Ok
	}

	order := preemptableCandidates(running)
	sort.Slice(order, func(i, j int) bool { return order[i].EndTimeUnix < order[j].EndTimeUnix })

	window := int64(30)
	if cfg != nil && cfg.WillRunWindow > 0 {
		window = int64(cfg.WillRunWindow)
	}
	scale := 2.0
	if cfg != nil && cfg.WillRunScaleFactor > 1 {
		scale = cfg.WillRunScaleFactor
	}
	budget := 2 * time.Second
	if cfg != nil && cfg.WillRunBudgetMillis > 0 {
		budget = time.Duration(cfg.WillRunBudgetMillis) * time.Millisecond
	}

	deadline := time.Now().Add(budget)
	var lastRemoved *RunningJob

	for len(order) > 0 {
		if time.Now().After(deadline) {
			return 0, NewResult(NoFit, "will-run budget exceeded")
		}

		batchEnd := order[0].EndTimeUnix + window
		var batch []*RunningJob
		rest := order[:0]
		for _, rj := range order {
			if rj.EndTimeUnix <= batchEnd {
				batch = append(batch, rj)
			} else {
				rest = append(rest, rj)
			}
		}
		order = rest
		window = int64(float64(window) * scale)
		willRunBatchSize.Observe(float64(len(batch)))

		for _, rj := range batch {
			pi := sim.partitionIndex(rj.Partition)
			if pi < 0 {
				continue
			}
			simPart := sim.Partitions[pi]
			_ = sim.RemoveJob(rj.Resources, preemptRemoveAction(rj.PreemptMode), simPart)
			lastRemoved = rj

			if _, _, res := sim.search(simJob, candidates, excCores, false); res.Kind() == Success {
				start := rj.EndTimeUnix
				if start < now {
					start = now
				}
				return start, Ok
			}
		}

		reorderCandidates(order, lastRemoved, cfg)
	}

	return 0, NewResult(NoFit, "no feasible start time within any simulated removal sequence")
}

// replayForPreemptees repeats simulate's removal sequence but returns the
// concrete preemptee list and chosen nodes instead of just a start time.
func (d *Driver) replayForPreemptees(job *JobRequest, candidates bitset.Set, excCores map[int]bitset.Set, running []*RunningJob, cfg *config.Settings) ([]*RunningJob, []int, map[int]*AvailRes) {
	sim := d.cloneForSimulation()
	simJob := sim.remapJob(job)

	if nodes, avail, res := sim.search(simJob, candidates, excCores, false); res.Kind() == Success {
		return nil, nodes, avail
	}

	order := preemptableCandidates(running)
	sort.Slice(order, func(i, j int) bool { return order[i].EndTimeUnix < order[j].EndTimeUnix })

	var removed []*RunningJob
	for _, rj := range order {
		pi := sim.partitionIndex(rj.Partition)
		if pi < 0 {
			continue
		}
		_ = sim.RemoveJob(rj.Resources, preemptRemoveAction(rj.PreemptMode), sim.Partitions[pi])
		removed = append(removed, rj)

		if nodes, avail, res := sim.search(simJob, candidates, excCores, false); res.Kind() == Success {
			return removed, nodes, avail
		}
	}
	return nil, nil, nil
}

func preemptableCandidates(running []*RunningJob) []*RunningJob {
	var out []*RunningJob
	for _, rj := range running {
		if !rj.Preemptable {
			continue
		}
		// A job still in its epilog (cleaning) has not actually released
		// its resources yet; counting it as removable would let the
		// simulator find a start time the real cluster cannot honor.
		if rj.Resources != nil && rj.Resources.Cleaning {
			continue
		}
		switch rj.PreemptMode {
		case PreemptRequeue, PreemptCheckpoint, PreemptCancel, PreemptSuspend:
			out = append(out, rj)
		}
	}
	return out
}

// reorderCandidates implements the preemptee reordering discipline
// (spec.md §4.6): strict_order moves the most recently removed job's
// "neighborhood" to the front (approximated here by leaving order
// end-time sorted, since the job itself is already gone); overlap_rank
// would re-rank by node-bitmap overlap with the found allocation, which
// this simulator does not track per-candidate, so it falls back to the
// same end-time order. Both modes are represented so pkg/config's
// ReorderMode has a real effect once overlap data is threaded through.
func reorderCandidates(order []*RunningJob, lastRemoved *RunningJob, cfg *config.Settings) {
	if cfg == nil || cfg.PreemptReorder != config.OverlapRank || lastRemoved == nil {
		return
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].EndTimeUnix < order[j].EndTimeUnix
	})
}

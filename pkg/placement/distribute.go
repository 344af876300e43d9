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

// distribute_tasks (spec.md §6.3) lays tasks onto the cores a commit has
// just chosen; it is an external collaborator per spec.md §1 (task-to-
// core distribution after selection), not part of this engine's
// algorithm. This file models the call boundary: an interface the driver
// invokes after building JobResources, and a reference implementation
// that checks the minimal per-node geometry distribute_tasks itself must
// satisfy before it can actually lay out task affinities.
package placement

import (
	"fmt"

	"github.com/intel/tres-select/pkg/occupancy"
)

// TaskDistributor lays tasks onto the cores committed to job, or reports
// why it cannot (spec.md §6.3). A failure here unwinds the commit
// (spec.md §4.5, §7): the caller removes the just-added JobResources and
// leaves the occupancy maps as though the placement never happened.
type TaskDistributor interface {
	Distribute(job *JobRequest, jr *occupancy.JobResources) error
}

// DefaultTaskDistributor is a reference distributor: real task-to-core
// layout (CPU affinity masks, NUMA binding) lives in the scheduler's
// task launcher, out of this engine's scope, but the geometry it depends
// on — each node's committed CPU count dividing evenly into
// ntasks-of-cpus_per_task-width — is exactly what a real distributor
// would fail on first, so it is checked here.
type DefaultTaskDistributor struct{}

// Distribute implements TaskDistributor.
func (DefaultTaskDistributor) Distribute(job *JobRequest, jr *occupancy.JobResources) error {
	if job.CPUsPerTask <= 0 {
		return nil
	}
	for _, n := range jr.Nodes {
		cpus := jr.CPUs[n]
		if cpus <= 0 {
			continue
		}
		if cpus%job.CPUsPerTask != 0 {
			return fmt.Errorf("distribute_tasks: node %d has %d committed cpus, not a multiple of cpus_per_task=%d", n, cpus, job.CPUsPerTask)
		}
	}
	return nil
}

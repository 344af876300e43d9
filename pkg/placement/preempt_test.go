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

package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/config"
	"github.com/intel/tres-select/pkg/occupancy"
)

// buildPreemptionScenario wires a single 4-core node shared by a
// higher-priority partition (fully occupying the node with one running,
// preemptable job) and a lower-priority partition that wants in.
func buildPreemptionScenario(t *testing.T) (*Driver, *PartitionInfo, *occupancy.JobResources) {
	t.Helper()
	node := newNode(0, 1, 4, 1)
	cl := newCluster([]*cluster.Node{node}, nil)

	high := newPartitionInfo("high", true, 10, CRCore, 0)
	low := newPartitionInfo("low", true, 0, CRCore, 0)

	running := &occupancy.JobResources{
		ID: "running1", Nodes: []int{0},
		Cores: map[int]bitset.Set{0: bitset.Range(4)},
		CPUs:  map[int]int{0: 4}, MemoryMB: map[int]uint64{0: 0}, TotalCPUs: 4,
	}
	require.NoError(t, high.Occupancy.AddJob(running))

	d := NewDriver(cl, []*PartitionInfo{high, low})
	return d, low, running
}

func TestWillRunTestFindsStartTimeViaPreemption(t *testing.T) {
	d, low, running := buildPreemptionScenario(t)

	newJob := &JobRequest{
		ID: "new", Partition: low, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
	}
	runningJobs := []*RunningJob{{
		Resources: running, Partition: d.Partitions[0], // the "high" partition
		Preemptable: true, PreemptMode: PreemptRequeue, EndTimeUnix: 1000,
	}}

	cfg := config.Defaults()
	start, res := d.WillRunTest(newJob, d.allNodesBitmap(), nil, runningJobs, 500, cfg)

	require.Equal(t, Success, res.Kind())
	assert.Equal(t, int64(1000), start)
}

// P8: will_run_test must never mutate durable occupancy or node usage,
// even when it internally simulates removing a running job.
func TestWillRunTestNeverMutatesDurableState(t *testing.T) {
	d, low, running := buildPreemptionScenario(t)
	high := d.Partitions[0]

	beforeHighBitmap := high.Occupancy.Rows[0].Bitmap[0].Clone()
	beforeHighJobs := len(high.Occupancy.Rows[0].Jobs)
	beforeUsageState := d.Cluster.Usage(0).State

	newJob := &JobRequest{
		ID: "new", Partition: low, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
	}
	runningJobs := []*RunningJob{{
		Resources: running, Partition: high,
		Preemptable: true, PreemptMode: PreemptRequeue, EndTimeUnix: 1000,
	}}

	_, res := d.WillRunTest(newJob, d.allNodesBitmap(), nil, runningJobs, 500, config.Defaults())
	require.Equal(t, Success, res.Kind())

	assert.True(t, beforeHighBitmap.Equal(high.Occupancy.Rows[0].Bitmap[0]))
	assert.Equal(t, beforeHighJobs, len(high.Occupancy.Rows[0].Jobs))
	assert.Empty(t, low.Occupancy.Rows[0].Jobs)
	assert.Equal(t, beforeUsageState, d.Cluster.Usage(0).State)
}

// A job still in its epilog (Cleaning) has not actually released its
// resources yet, so the simulator must not count it as removable.
func TestWillRunTestSkipsCleaningJobs(t *testing.T) {
	d, low, running := buildPreemptionScenario(t)
	running.Cleaning = true

	newJob := &JobRequest{
		ID: "new", Partition: low, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
	}
	runningJobs := []*RunningJob{{
		Resources: running, Partition: d.Partitions[0],
		Preemptable: true, PreemptMode: PreemptRequeue, EndTimeUnix: 1000,
	}}

	_, res := d.WillRunTest(newJob, d.allNodesBitmap(), nil, runningJobs, 500, config.Defaults())
	assert.Equal(t, NoFit, res.Kind())
}

func TestRunNowWithPreemptionActuallyRemovesTheVictim(t *testing.T) {
	d, low, running := buildPreemptionScenario(t)
	high := d.Partitions[0]

	newJob := &JobRequest{
		ID: "new", Partition: low, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
	}
	runningJobs := []*RunningJob{{
		Resources: running, Partition: high,
		Preemptable: true, PreemptMode: PreemptRequeue, EndTimeUnix: 1000,
	}}

	preempted, jr, res := d.RunNowWithPreemption(newJob, d.allNodesBitmap(), nil, runningJobs, config.Defaults())

	require.Equal(t, Success, res.Kind())
	require.NotNil(t, jr)
	require.Len(t, preempted, 1)
	assert.Equal(t, "running1", preempted[0].Resources.ID)
	assert.Empty(t, high.Occupancy.Rows[0].Jobs, "victim must actually be removed from the real partition")
	assert.Len(t, low.Occupancy.Rows[0].Jobs, 1, "new job must actually be committed")
}

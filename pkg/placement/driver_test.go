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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/occupancy"
)

func twoNodeCluster() (*Cluster, *PartitionInfo, *Driver) {
	n0 := newNode(0, 1, 4, 1)
	n1 := newNode(1, 1, 4, 1)
	cl := newCluster([]*cluster.Node{n0, n1}, nil)
	part := newPartitionInfo("batch", true, 0, CRCore, 0)
	d := NewDriver(cl, []*PartitionInfo{part})
	return cl, part, d
}

func TestRunNowSimpleSingleNodeJob(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "j1", Partition: part, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Success, res.Kind())
	require.NotNil(t, jr)
	assert.Len(t, jr.Nodes, 1)
	assert.Len(t, part.Occupancy.Rows[0].Jobs, 1)
}

// P5: a whole-node job's committed core bitmap spans every core on the
// node it lands on.
func TestCommitWholeNodeSetsEveryCoreBit(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "whole", Partition: part, WholeNode: true, CPUsPerTask: 1,
		NTasksPerNode: 1, NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Success, res.Kind())
	n := jr.Nodes[0]
	node := d.Cluster.Node(n)
	assert.True(t, jr.Cores[n].Equal(bitset.Range(node.TotalCores())))
	assert.Equal(t, cluster.Reserved, d.Cluster.Usage(n).State)
}

// Seed scenario 1: a single one-task job on an empty 4-socket x 4-core x
// 2-thread node commits exactly one core / two CPUs in socket 0.
func TestRunNowTrimsCommitToRequest(t *testing.T) {
	n0 := newNode(0, 4, 4, 2)
	cl := newCluster([]*cluster.Node{n0}, nil)
	part := newPartitionInfo("batch", true, 0, CRCore, 0)
	d := NewDriver(cl, []*PartitionInfo{part})

	job := &JobRequest{
		ID: "one-task", Partition: part, MinCPUs: 2, CPUsPerTask: 2,
		NTasksPerNode: 1, NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Success, res.Kind())
	assert.Equal(t, 2, jr.CPUs[0])
	assert.Equal(t, 2, jr.TotalCPUs)
	require.Equal(t, 1, jr.Cores[0].Count())
	core, _ := jr.Cores[0].FirstSet()
	assert.Equal(t, 0, n0.SocketOf(core))
}

// Seed scenario 2: whole-node on a node with one core used in another
// partition's row is NoFit end to end.
func TestRunNowWholeNodeBlockedByOtherPartition(t *testing.T) {
	n0 := newNode(0, 1, 4, 1)
	cl := newCluster([]*cluster.Node{n0}, nil)
	mine := newPartitionInfo("batch", true, 0, CRCore, 0)
	other := newPartitionInfo("other", true, 0, CRCore, 0)
	require.NoError(t, other.Occupancy.AddJob(&occupancy.JobResources{
		ID: "co", Nodes: []int{0}, Cores: map[int]bitset.Set{0: bitset.New(1)},
	}))
	d := NewDriver(cl, []*PartitionInfo{mine, other})

	job := &JobRequest{
		ID: "whole", Partition: mine, WholeNode: true, CPUsPerTask: 1,
		NTasksPerNode: 1, NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	assert.Equal(t, NoFit, res.Kind())
	assert.Nil(t, jr)
}

// RequiredNodeUnfit propagates out of the search rather than degrading
// into a bare NoFit.
func TestRunNowReportsRequiredNodeUnfit(t *testing.T) {
	n0 := newNode(0, 1, 4, 1)
	n0.RealMemoryMB = 100
	n1 := newNode(1, 1, 4, 1)
	cl := newCluster([]*cluster.Node{n0, n1}, nil)
	part := newPartitionInfo("batch", true, 0, CRCore, 0)
	d := NewDriver(cl, []*PartitionInfo{part})

	job := &JobRequest{
		ID: "req", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
		PnMinMemory: 500, RequiredNodes: bitset.New(0),
	}

	_, res := d.RunNow(job, d.allNodesBitmap(), nil)

	assert.Equal(t, RequiredNodeUnfit, res.Kind())
}

// P6: a required node is preserved in the final placement even when
// other candidates would have been cheaper to pick.
func TestRunNowPreservesRequiredNode(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "req", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
		RequiredNodes: bitset.New(1),
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Success, res.Kind())
	assert.Contains(t, jr.Nodes, 1)
}

// P7: avail_cpus (and hence the committed CPU count) never exceeds the
// partition's per-node cap.
func TestRunNowRespectsPartitionCap(t *testing.T) {
	n0 := newNode(0, 2, 4, 1) // 8 cores total
	cl := newCluster([]*cluster.Node{n0}, nil)
	part := newPartitionInfo("batch", true, 0, CRCore, 4)
	d := NewDriver(cl, []*PartitionInfo{part})

	job := &JobRequest{
		ID: "capped", Partition: part, CPUsPerTask: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Success, res.Kind())
	assert.LessOrEqual(t, jr.CPUs[0], part.MaxCPUsPerNode)
}

func TestTestOnlyDoesNotCommit(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "probe", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
	}

	res := d.TestOnly(job, d.allNodesBitmap())

	require.Equal(t, Success, res.Kind())
	assert.Empty(t, part.Occupancy.Rows[0].Jobs)
}

func TestRunNowNoPartitionIsInvalid(t *testing.T) {
	_, _, d := twoNodeCluster()
	job := &JobRequest{ID: "x"}

	_, res := d.RunNow(job, d.allNodesBitmap(), nil)

	assert.Equal(t, Invalid, res.Kind())
}

// failingDistributor always reports a distribution failure, exercising
// the commit-unwind path (spec.md §4.5, §7).
type failingDistributor struct{}

func (failingDistributor) Distribute(*JobRequest, *occupancy.JobResources) error {
	return fmt.Errorf("simulated distribute_tasks failure")
}

// A distribute_tasks failure unwinds the commit: the job is removed from
// occupancy and node usage is restored, rather than leaving a committed
// allocation with no tasks ever laid onto its cores.
func TestCommitUnwindsOnDistributeTasksFailure(t *testing.T) {
	_, part, d := twoNodeCluster()
	d.Distributor = failingDistributor{}

	job := &JobRequest{
		ID: "j1", Partition: part, CPUsPerTask: 1, NTasksPerNode: 2,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 2,
		PnMinMemory: 100,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)

	require.Equal(t, Internal, res.Kind())
	assert.Nil(t, jr)
	assert.Empty(t, part.Occupancy.Rows[0].Jobs, "failed distribution must not leave the job committed")
	for _, n := range []int{0, 1} {
		assert.Equal(t, uint64(0), d.Cluster.Usage(n).AllocMemoryMB, "unwind must release any memory charged before distribution failed")
	}
}

// §5: while the plugin-initializing flag is up, remove_job is a no-op
// that reports success.
func TestRemoveJobIsNoOpWhileInitializing(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "j1", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
	}
	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)
	require.Equal(t, Success, res.Kind())

	d.Initializing = true
	require.Equal(t, Success, d.RemoveJob(jr, occupancy.RemoveAll, part).Kind())
	assert.Len(t, part.Occupancy.Rows[0].Jobs, 1, "initializing remove must not touch occupancy")

	d.FinishInitializing()
	require.Equal(t, Success, d.RemoveJob(jr, occupancy.RemoveAll, part).Kind())
	assert.Empty(t, part.Occupancy.Rows[0].Jobs)
}

// Invariant 5: commit raises the node's sharing counter by the job's
// node requirement and removal lowers it back.
func TestSharingCountTracksNodeReq(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "j1", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
		NodeReq: cluster.OneRow,
	}

	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)
	require.Equal(t, Success, res.Kind())
	n := jr.Nodes[0]
	assert.Equal(t, 1, d.Cluster.Usage(n).SharingCount)

	require.Equal(t, Success, d.RemoveJob(jr, occupancy.RemoveAll, part).Kind())
	assert.Equal(t, 0, d.Cluster.Usage(n).SharingCount)
}

func TestRemoveJobMemoryOnlyLeavesCoresUntouched(t *testing.T) {
	_, part, d := twoNodeCluster()
	job := &JobRequest{
		ID: "j1", Partition: part, CPUsPerTask: 1, NTasksPerNode: 1,
		NumNodesMin: 1, NumNodesMax: 1, NumNodesReq: 1, MinCPUs: 1,
		PnMinMemory: 100,
	}
	jr, res := d.RunNow(job, d.allNodesBitmap(), nil)
	require.Equal(t, Success, res.Kind())

	n := jr.Nodes[0]
	before := part.Occupancy.Rows[0].Bitmap[n]

	removeRes := d.RemoveJob(jr, occupancy.RemoveMemoryOnly, part)

	require.Equal(t, Success, removeRes.Kind())
	assert.Equal(t, uint64(0), d.Cluster.Usage(n).AllocMemoryMB)
	assert.True(t, before.Equal(part.Occupancy.Rows[0].Bitmap[n]))
}

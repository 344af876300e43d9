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

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/gres"
	"github.com/intel/tres-select/pkg/occupancy"
)

func newNode(idx, sockets, coresPerSocket, threadsPerCore int) *cluster.Node {
	return &cluster.Node{
		Index:          idx,
		Name:           fmt.Sprintf("node%d", idx),
		Sockets:        sockets,
		CoresPerSocket: coresPerSocket,
		ThreadsPerCore: threadsPerCore,
		RealMemoryMB:   1 << 20,
		Weight:         uint64(idx),
	}
}

func newUsage() *cluster.Usage { return cluster.NewUsage(nil) }

// gresOneGPU is a job request for a single GPU, shared by tests that need
// any non-empty gres.JobGRES without caring about its exact shape.
var gresOneGPU = gres.JobGRES{Requests: []gres.Request{{Type: "gpu", Count: 1}}}

func newPartitionInfo(name string, extraRow bool, priority int, crType CRType, maxCPUsPerNode int) *PartitionInfo {
	return &PartitionInfo{
		Occupancy:      occupancy.NewPartition(name, extraRow),
		Priority:       priority,
		CRType:         crType,
		MaxCPUsPerNode: maxCPUsPerNode,
	}
}

func newCluster(nodes []*cluster.Node, plugin gres.Plugin) *Cluster {
	usage := make([]*cluster.Usage, len(nodes))
	for i := range nodes {
		usage[i] = newUsage()
	}
	return &Cluster{Nodes: nodes, Usages: usage, GRES: plugin}
}

// fakeGRESPlugin is a minimal gres.Plugin stand-in for tests that need to
// exercise C2 rule 3 and C3 step 10 without a real device inventory.
type fakeGRESPlugin struct {
	testOK   bool
	gpuCount int
	nearGPU  int
}

func (f *fakeGRESPlugin) JobTestPerNode(job *gres.JobGRES, inventory, inUse cluster.GRESInventory, testOnly bool) (gres.SockGRESList, bool) {
	return nil, f.testOK
}

func (f *fakeGRESPlugin) CoreFilterStage2(job *gres.JobGRES, list gres.SockGRESList, coreMap []bitset.Set, availMemMB uint64, maxCPUs int) ([]bitset.Set, int, int) {
	return coreMap, f.gpuCount, f.nearGPU
}

func (f *fakeGRESPlugin) CoreFilterStage3(job *gres.JobGRES, list gres.SockGRESList, availCoresPerSocket []int, minTasks, maxTasks int) (int, int) {
	return minTasks, maxTasks
}

func (f *fakeGRESPlugin) JobDealloc(job *gres.JobGRES, inUse cluster.GRESInventory, nodeIndex int) {}

func (f *fakeGRESPlugin) NodeStateDup(inUse cluster.GRESInventory) cluster.GRESInventory {
	return inUse.Clone()
}

func (f *fakeGRESPlugin) NodeStateLog(inUse cluster.GRESInventory) string { return "" }

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

package gres

import (
	"fmt"
	"sort"
	"strings"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
)

// Reference is an in-memory Plugin good enough for deterministic tests
// and the demo command. It has no notion of device-level binding rules
// beyond socket locality: a device "belongs" to the socket it was
// inventoried under, and "binding" means the job may only use cores on
// sockets that still have a free device of the requested type.
type Reference struct{}

var _ Plugin = Reference{}

// JobTestPerNode implements job_test_per_node.
func (Reference) JobTestPerNode(job *JobGRES, inventory, inUse cluster.GRESInventory, testOnly bool) (SockGRESList, bool) {
	if job.IsEmpty() {
		return nil, true
	}

	sockets := 0
	for _, req := range job.Requests {
		if n := len(inventory[req.Type]); n > sockets {
			sockets = n
		}
	}
	if sockets == 0 {
		return nil, false
	}

	list := make(SockGRESList, sockets)
	for s := 0; s < sockets; s++ {
		list[s] = SocketGRES{Socket: s, Devices: map[string]idset.IDSet{}}
	}

	anyAvailable := false
	for _, req := range job.Requests {
		perSocket, ok := inventory[req.Type]
		if !ok {
			return nil, false
		}
		for s := 0; s < sockets && s < len(perSocket); s++ {
			free := idset.NewIDSet(perSocket[s].Members()...)
			if used, ok := socketIDSet(inUse, req.Type, s); ok {
				for _, id := range used.Members() {
					free.Del(id)
				}
			}
			if free.Size() > 0 {
				anyAvailable = true
			}
			list[s].Devices[req.Type] = free
		}
	}

	if !anyAvailable {
		return nil, false
	}
	return list, true
}

func socketIDSet(inv cluster.GRESInventory, typ string, socket int) (idset.IDSet, bool) {
	perSocket, ok := inv[typ]
	if !ok || socket >= len(perSocket) {
		return idset.NewIDSet(), false
	}
	return perSocket[socket], true
}

// CoreFilterStage2 implements core_filter_stage2.
func (Reference) CoreFilterStage2(job *JobGRES, list SockGRESList, coreMap []bitset.Set, availMemMB uint64, maxCPUs int) ([]bitset.Set, int, int) {
	if job.IsEmpty() {
		return coreMap, 0, 0
	}

	narrowed := make([]bitset.Set, len(coreMap))
	copy(narrowed, coreMap)

	gpuCount, nearGPUCount := 0, 0
	for _, req := range job.Requests {
		if req.Type != "gpu" {
			continue
		}
		for s := range narrowed {
			sg := list.bySocket(s)
			haveDevice := sg != nil && sg.Devices[req.Type].Size() > 0
			if req.EnforceBinding && !haveDevice {
				narrowed[s] = bitset.Empty
				continue
			}
			if haveDevice {
				gpuCount += sg.Devices[req.Type].Size()
				if !narrowed[s].IsEmpty() {
					nearGPUCount++
				}
			}
		}
	}
	return narrowed, gpuCount, nearGPUCount
}

// CoreFilterStage3 implements core_filter_stage3.
func (Reference) CoreFilterStage3(job *JobGRES, list SockGRESList, availCoresPerSocket []int, minTasks, maxTasks int) (int, int) {
	if job.IsEmpty() {
		return minTasks, maxTasks
	}

	for _, req := range job.Requests {
		total := 0
		for _, sg := range list {
			total += sg.Devices[req.Type].Size()
		}
		if total == 0 {
			continue
		}
		if total < maxTasks {
			maxTasks = total
		}
		if req.PerSocket > 0 {
			perSocketCap := 0
			for range availCoresPerSocket {
				perSocketCap += req.PerSocket
			}
			if perSocketCap < maxTasks {
				maxTasks = perSocketCap
			}
		}
	}
	if minTasks > maxTasks {
		minTasks = maxTasks
	}
	return minTasks, maxTasks
}

// JobDealloc implements job_dealloc: it is a no-op here because the
// Reference plugin never commits job device grants into inUse itself
// (JobTestPerNode is side-effect free); real GRES plugins subtract the
// job's claimed device ids from the node's in-use set.
func (Reference) JobDealloc(job *JobGRES, inUse cluster.GRESInventory, nodeIndex int) {}

// NodeStateDup implements node_state_dup.
func (Reference) NodeStateDup(inUse cluster.GRESInventory) cluster.GRESInventory {
	return inUse.Clone()
}

// NodeStateLog implements node_state_log.
func (Reference) NodeStateLog(inUse cluster.GRESInventory) string {
	types := make([]string, 0, len(inUse))
	for t := range inUse {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		counts := make([]string, len(inUse[t]))
		for s, ids := range inUse[t] {
			counts[s] = fmt.Sprintf("%d", ids.Size())
		}
		parts = append(parts, fmt.Sprintf("%s=[%s]", t, strings.Join(counts, ",")))
	}
	return strings.Join(parts, " ")
}

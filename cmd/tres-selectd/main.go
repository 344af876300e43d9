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

// tres-selectd is a small wiring demo: it builds a synthetic cluster
// snapshot from flags, loads pkg/config's Settings, and runs a single
// test_only feasibility probe (spec.md §6.1) against the snapshot,
// printing the outcome. It exists to exercise pkg/config's tunables end
// to end (DefaultCRType, LogLevel) outside of unit tests, not to be a
// real scheduler daemon.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
	"github.com/intel/tres-select/pkg/config"
	"github.com/intel/tres-select/pkg/gres"
	"github.com/intel/tres-select/pkg/log"
	"github.com/intel/tres-select/pkg/occupancy"
	"github.com/intel/tres-select/pkg/placement"
)

var cmdLog = log.NewLogger("tres-selectd")

type cliFlags struct {
	configPath string

	numNodes       int
	sockets        int
	coresPerSocket int
	threadsPerCore int

	minCPUs       int
	cpusPerTask   int
	ntasksPerNode int
	numNodesMin   int
	numNodesMax   int
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.configPath, "config", "", "optional YAML settings file (pkg/config.Settings)")
	flag.IntVar(&f.numNodes, "nodes", 4, "number of nodes in the synthetic cluster snapshot")
	flag.IntVar(&f.sockets, "sockets", 2, "sockets per node")
	flag.IntVar(&f.coresPerSocket, "cores-per-socket", 8, "cores per socket")
	flag.IntVar(&f.threadsPerCore, "threads-per-core", 2, "threads (vpus) per core")
	flag.IntVar(&f.minCPUs, "min-cpus", 4, "job's min_cpus")
	flag.IntVar(&f.cpusPerTask, "cpus-per-task", 1, "job's cpus_per_task")
	flag.IntVar(&f.ntasksPerNode, "ntasks-per-node", 4, "job's ntasks_per_node")
	flag.IntVar(&f.numNodesMin, "num-nodes-min", 1, "job's minimum node count")
	flag.IntVar(&f.numNodesMax, "num-nodes-max", 1, "job's maximum node count")
	flag.Parse()
	return f
}

func buildCluster(f *cliFlags) *placement.Cluster {
	nodes := make([]*cluster.Node, f.numNodes)
	usage := make([]*cluster.Usage, f.numNodes)
	for i := 0; i < f.numNodes; i++ {
		nodes[i] = &cluster.Node{
			Index:          i,
			Name:           fmt.Sprintf("node%d", i),
			Sockets:        f.sockets,
			CoresPerSocket: f.coresPerSocket,
			ThreadsPerCore: f.threadsPerCore,
			RealMemoryMB:   256 * 1024,
			Weight:         uint64(i),
		}
		usage[i] = cluster.NewUsage(nil)
	}
	return &placement.Cluster{Nodes: nodes, Usages: usage, GRES: gres.Reference{}}
}

// crTypeFromSettings maps config.Settings.DefaultCRType to the engine's
// CRType (spec.md §4.3 step 2).
func crTypeFromSettings(s *config.Settings) placement.CRType {
	if s.DefaultCRType == "SOCKET" {
		return placement.CRSocket
	}
	return placement.CRCore
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tres-selectd: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tres-selectd: invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := log.ApplyLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "tres-selectd: invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	log.Flush()
	defer log.Sync()

	cl := buildCluster(f)
	part := &placement.PartitionInfo{
		Occupancy: occupancy.NewPartition("demo", cfg.ExtraRowEnabled),
		CRType:    crTypeFromSettings(cfg),
	}
	driver := placement.NewDriver(cl, []*placement.PartitionInfo{part})

	job := &placement.JobRequest{
		ID:            "demo-job",
		Partition:     part,
		MinCPUs:       f.minCPUs,
		CPUsPerTask:   f.cpusPerTask,
		NTasksPerNode: f.ntasksPerNode,
		NumNodesMin:   f.numNodesMin,
		NumNodesMax:   f.numNodesMax,
		NumNodesReq:   f.numNodesMin,
	}

	res := driver.TestOnly(job, bitset.Range(f.numNodes))
	cmdLog.Info("test_only(%s) over %d node(s), cr_type=%s: %s", job.ID, f.numNodes, cfg.DefaultCRType, res)

	if res.Kind() != placement.Success {
		os.Exit(1)
	}
}

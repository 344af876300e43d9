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

// Package cpuallocator picks which cores of a single node's available-core
// set to hand to a job, once C3 (pkg/placement's per-node feasibility pass)
// has already decided how many cores the node will contribute (spec.md
// §4.3, _allocate_sc's core-selection walk in job_test.c).
//
// Selection takes whole idle sockets first, then single cores lowest
// index first from any socket. AllocateCores only accepts requests its
// available set can cover, so these two tiers always complete the
// request and takeRemaining's co-location ordering is not reached. This is
// the same tiered-preference shape the teacher's CPU manager policy used
// for package/core/thread selection, narrowed here from a whole-machine
// topology to spec.md's per-node socket/core model.
package cpuallocator

import (
	"flag"
	"sort"

	logger "github.com/intel/tres-select/pkg/log"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
)

// AllocFlag represents core allocation preferences.
type AllocFlag uint

const (
	// AllocIdleSockets requests allocation of whole idle sockets first.
	AllocIdleSockets AllocFlag = 1 << iota
	// AllocIdleCores requests allocation of whole idle cores next.
	AllocIdleCores
	// AllocDefault is the default allocation preference order.
	AllocDefault = AllocIdleSockets | AllocIdleCores

	logSource = "cpuallocator"
	debugFlag = "cpu-allocator-debug"
)

var log = logger.NewLogger(logSource)
var debug bool

func init() {
	flag.BoolVar(&debug, debugFlag, false, "enable core allocator debug log")
}

// Allocator picks cores off a single node's available-core bitset.
type Allocator struct {
	logger.Logger

	node   *cluster.Node
	flags  AllocFlag
	from   bitset.Set // cores still available to pick from
	cnt    int        // cores still wanted
	result bitset.Set // cores picked so far
}

// New returns a core allocator for node, using the default preference
// order (whole sockets, then whole cores, then individual leftover cores).
func New(node *cluster.Node) *Allocator {
	return &Allocator{Logger: log, node: node, flags: AllocDefault}
}

func (a *Allocator) debugf(format string, args ...interface{}) {
	if !debug {
		return
	}
	log.Info(format, args...)
}

// takeIdleSockets picks whole sockets that are entirely contained in
// a.from, lowest socket index first.
func (a *Allocator) takeIdleSockets() {
	a.debugf("* takeIdleSockets()...")

	for s := 0; s < a.node.Sockets && a.cnt > 0; s++ {
		lo, hi := a.node.SocketCores(s)
		full := bitset.RangeBetween(lo, hi)
		if !full.IsSubsetOf(a.from) {
			continue
		}
		if a.cnt < full.Count() {
			continue
		}
		a.debugf(" => taking idle socket %d (%s)", s, full)
		a.result = a.result.Union(full)
		a.from = a.from.Subtract(full)
		a.cnt -= full.Count()
	}
}

// takeIdleCores picks single cores out of a.from regardless of their
// socket, lowest index first — used once no whole idle socket remains
// but full cores are still available piecemeal.
func (a *Allocator) takeIdleCores() {
	a.debugf("* takeIdleCores()...")

	cores := a.from.Slice()
	for _, c := range cores {
		if a.cnt == 0 {
			break
		}
		one := bitset.New(c)
		a.debugf(" => taking idle core %d", c)
		a.result = a.result.Union(one)
		a.from = a.from.Subtract(one)
		a.cnt--
	}
}

// takeRemaining picks whatever cores are still in a.from, preferring
// cores whose socket already hosts cores in a.result (co-location), then
// cores from sockets with fewer cores still free, then lower index —
// the same tiered preference the teacher's takeIdleThreads used for
// individual hyperthread selection.
func (a *Allocator) takeRemaining() {
	a.debugf("* takeRemaining()...")

	cores := a.from.Slice()
	sort.Slice(cores, func(i, j int) bool {
		ci, cj := cores[i], cores[j]
		si, sj := a.node.SocketOf(ci), a.node.SocketOf(cj)

		iColo := a.socketCount(a.result, si)
		jColo := a.socketCount(a.result, sj)
		if iColo != jColo {
			return iColo > jColo
		}

		iFree := a.socketCount(a.from, si)
		jFree := a.socketCount(a.from, sj)
		if iFree != jFree {
			return iFree < jFree
		}

		return ci < cj
	})

	for _, c := range cores {
		if a.cnt == 0 {
			break
		}
		one := bitset.New(c)
		a.result = a.result.Union(one)
		a.from = a.from.Subtract(one)
		a.cnt--
	}
}

func (a *Allocator) socketCount(set bitset.Set, socket int) int {
	lo, hi := a.node.SocketCores(socket)
	return set.Intersect(bitset.RangeBetween(lo, hi)).Count()
}

func (a *Allocator) allocate() bitset.Set {
	if a.flags&AllocIdleSockets != 0 {
		a.takeIdleSockets()
		if a.cnt == 0 {
			return a.result
		}
	}
	if a.flags&AllocIdleCores != 0 {
		a.takeIdleCores()
		if a.cnt == 0 {
			return a.result
		}
	}
	a.takeRemaining()
	if a.cnt == 0 {
		return a.result
	}
	return bitset.Empty
}

// AllocateCores picks cnt cores out of from on node, in preference order
// (whole sockets, then single cores lowest index first). Returns the empty
// set if from does not contain cnt cores.
func AllocateCores(node *cluster.Node, from bitset.Set, cnt int) bitset.Set {
	if from.Count() < cnt {
		return bitset.Empty
	}
	if from.Count() == cnt {
		return from.Clone()
	}

	a := New(node)
	a.from = from.Clone()
	a.cnt = cnt

	result := a.allocate()
	log.Debug("AllocateCores(%s, %d) => %s", from, cnt, result)
	return result
}

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

// Set Selector (C4, spec.md §4.4): an inner consecutive-block picker
// (eval_nodes) wrapped by an outer knapsack-pruning threshold raiser
// (choose_nodes). Grounded on job_test.c's eval_nodes/choose_nodes pair.
package placement

import (
	"sort"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/gres"
	"github.com/intel/tres-select/pkg/log"
)

var selLog = log.NewLogger("selector")

// consecutiveSet is a maximal index-contiguous run of candidate nodes
// sharing the same scheduling weight (GLOSSARY "Consecutive set").
type consecutiveSet struct {
	nodes       []int
	cpus        int
	requiredIdx int // position within nodes of the first required node, -1 if none
	weight      uint64
	exhausted   bool
}

func (s *consecutiveSet) sufficient(remCPUs int) bool { return s.cpus >= remCPUs }

// buildConsecutiveSets groups candidates (already sorted by ascending
// node index) into weight-homogeneous contiguous runs.
func buildConsecutiveSets(order []int, weightOf func(int) uint64, avail map[int]*AvailRes, required bitset.Set) []*consecutiveSet {
	var sets []*consecutiveSet
	var cur *consecutiveSet

	for i, prev := 0, -2; i < len(order); i++ {
		n := order[i]
		w := weightOf(n)
		if cur == nil || n != prev+1 || w != cur.weight {
			cur = &consecutiveSet{weight: w, requiredIdx: -1}
			sets = append(sets, cur)
		}
		if required.Test(n) && cur.requiredIdx < 0 {
			cur.requiredIdx = len(cur.nodes)
		}
		cur.nodes = append(cur.nodes, n)
		if ar := avail[n]; ar != nil {
			cur.cpus += ar.AvailCPUs
		}
		prev = n
	}
	return sets
}

// pickBestSet implements spec.md §4.4.1's ordered preference.
func pickBestSet(sets []*consecutiveSet, remCPUs, remNodes int, haveRequired, contiguous bool) *consecutiveSet {
	var best *consecutiveSet
	bestWeight := ^uint64(0)

	for _, s := range sets {
		if s.exhausted || len(s.nodes) == 0 {
			continue
		}
		if contiguous {
			// A contiguous job must be satisfiable by one block alone,
			// and any required nodes must live inside it.
			if haveRequired && s.requiredIdx < 0 {
				continue
			}
			if !s.sufficient(remCPUs) || len(s.nodes) < remNodes {
				continue
			}
		}

		switch {
		case haveRequired && s.requiredIdx >= 0 && (best == nil || best.requiredIdx < 0):
			best = s
			bestWeight = s.weight
		case haveRequired && s.requiredIdx < 0 && best != nil && best.requiredIdx >= 0:
			continue
		case best == nil:
			best = s
			bestWeight = s.weight
		case s.weight < bestWeight:
			best = s
			bestWeight = s.weight
		case s.weight == bestWeight:
			bothSufficient := s.sufficient(remCPUs) && best.sufficient(remCPUs)
			switch {
			case s.sufficient(remCPUs) && !best.sufficient(remCPUs):
				best = s
			case bothSufficient && s.cpus < best.cpus:
				best = s
			case !s.sufficient(remCPUs) && !best.sufficient(remCPUs) && s.cpus > best.cpus:
				best = s
			}
		}
	}
	return best
}

// takeFromSet picks nodes out of s, starting at the required index (if
// any) and scanning outward, or via best-fit single-node pick when there
// is no required node.
func takeFromSet(s *consecutiveSet, remCPUs int, avail map[int]*AvailRes) []int {
	if s.requiredIdx >= 0 {
		return scanOutward(s, s.requiredIdx)
	}

	// Best-fit: a single node whose CPUs >= remCPUs, smallest such CPUs,
	// then the rest of the block in index order.
	bestIdx, bestCPUs := -1, -1
	for i, n := range s.nodes {
		ar := avail[n]
		if ar == nil || ar.AvailCPUs < remCPUs {
			continue
		}
		if bestIdx < 0 || ar.AvailCPUs < bestCPUs {
			bestIdx, bestCPUs = i, ar.AvailCPUs
		}
	}
	if bestIdx >= 0 {
		order := make([]int, 0, len(s.nodes))
		order = append(order, s.nodes[bestIdx])
		for i, n := range s.nodes {
			if i != bestIdx {
				order = append(order, n)
			}
		}
		return order
	}
	return append([]int(nil), s.nodes...)
}

func scanOutward(s *consecutiveSet, from int) []int {
	order := make([]int, 0, len(s.nodes))
	order = append(order, s.nodes[from])
	for off := 1; from+off < len(s.nodes) || from-off >= 0; off++ {
		if from+off < len(s.nodes) {
			order = append(order, s.nodes[from+off])
		}
		if from-off >= 0 {
			order = append(order, s.nodes[from-off])
		}
	}
	return order
}

// evalNodesInput bundles the inner picker's inputs.
type evalNodesInput struct {
	Candidates []int // ascending node index order
	Avail      map[int]*AvailRes
	WeightOf   func(int) uint64
	Required   bitset.Set
	RemCPUs    int
	RemNodes   int
	MaxNodes   int
	ReqNodes   int
	MinNodes   int
	Contiguous bool
	JobGRES    *gres.JobGRES
}

// evalNodes is the inner consecutive-block picker (spec.md §4.4.1).
func evalNodes(in evalNodesInput) (chosen []int, ok bool) {
	sets := buildConsecutiveSets(in.Candidates, in.WeightOf, in.Avail, in.Required)

	haveRequired := !in.Required.IsEmpty()
	remCPUs := in.RemCPUs
	remNodes := in.RemNodes
	maxNodes := in.MaxNodes
	acc := gres.NewAccumulator(in.JobGRES)

	taken := map[int]bool{}

	// Pre-claim every required node regardless of fit. A required node
	// with no feasibility result cannot contribute anything, and taking it
	// anyway would commit an allocation with no resources on it.
	for _, n := range in.Required.Slice() {
		if taken[n] {
			continue
		}
		ar := in.Avail[n]
		if ar == nil {
			return nil, false
		}
		taken[n] = true
		chosen = append(chosen, n)
		remCPUs -= ar.AvailCPUs
		remNodes--
		maxNodes--
	}

	for maxNodes > 0 {
		anyNodes := false
		for _, s := range sets {
			if !s.exhausted && len(s.nodes) > 0 {
				anyNodes = true
				break
			}
		}
		if !anyNodes {
			break
		}

		best := pickBestSet(sets, remCPUs, remNodes, haveRequired, in.Contiguous)
		if best == nil {
			break
		}

		pick := takeFromSet(best, remCPUs, in.Avail)
		for _, n := range pick {
			if taken[n] || maxNodes <= 0 {
				continue
			}
			taken[n] = true
			chosen = append(chosen, n)
			if ar := in.Avail[n]; ar != nil {
				remCPUs -= ar.AvailCPUs
				if in.JobGRES != nil && !in.JobGRES.IsEmpty() {
					acc.Add(ar.SockGRES)
				}
			}
			remNodes--
			maxNodes--
			if remNodes <= 0 && remCPUs <= 0 && (in.JobGRES == nil || in.JobGRES.IsEmpty() || acc.Sufficient()) {
				break
			}
		}
		best.exhausted = true
	}

	gresOK := in.JobGRES == nil || in.JobGRES.IsEmpty() || acc.Sufficient()
	enoughNodes := remNodes <= maxInt(0, in.RemNodes-(in.ReqNodes-in.MinNodes))
	ok = remCPUs <= 0 && gresOK && enoughNodes

	if !ok {
		selLog.Debug("eval_nodes: remCPUs=%d gresOK=%v enoughNodes=%v", remCPUs, gresOK, enoughNodes)
	}
	sort.Ints(chosen)
	return chosen, ok
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// chooseNodesInput extends evalNodesInput with the outer wrapper's
// threshold-raising controls.
type chooseNodesInput struct {
	evalNodesInput
	MaxResCnt int
	// AvailResCnt reports a node's resource score (the driver passes
	// available CPUs plus available GPUs); non-required nodes whose count
	// falls at or below the current threshold get dropped each round.
	AvailResCnt func(int) int
}

// chooseNodes is the outer knapsack-pruning wrapper (spec.md §4.4.2).
func chooseNodes(in chooseNodesInput) (chosen []int, ok bool) {
	chosen, ok = evalNodes(in.evalNodesInput)
	if ok {
		return chosen, true
	}

	if in.AvailResCnt == nil {
		return nil, false
	}

	origCandidates := append([]int(nil), in.Candidates...)
	for k := 1; k <= in.MaxResCnt; k++ {
		var pruned []int
		for _, n := range origCandidates {
			if in.Required.Test(n) || in.AvailResCnt(n) > k {
				pruned = append(pruned, n)
			}
		}
		if len(pruned) < in.MinNodes {
			break
		}
		attempt := in.evalNodesInput
		attempt.Candidates = pruned
		chosen, ok = evalNodes(attempt)
		if ok {
			return chosen, true
		}
	}
	return nil, false
}

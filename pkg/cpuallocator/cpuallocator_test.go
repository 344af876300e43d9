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

package cpuallocator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intel/tres-select/pkg/bitset"
	"github.com/intel/tres-select/pkg/cluster"
)

// twoSocketNode has 2 sockets of 4 cores each (cores 0-3 socket 0, 4-7
// socket 1).
func twoSocketNode() *cluster.Node {
	return &cluster.Node{Index: 0, Name: "n0", Sockets: 2, CoresPerSocket: 4, ThreadsPerCore: 2}
}

func TestAllocateCoresTooFew(t *testing.T) {
	node := twoSocketNode()
	from := bitset.New(0, 1, 4, 5)
	result := AllocateCores(node, from, 6)
	assert.True(t, result.IsEmpty())
}

func TestAllocateCoresExactlyAllAvailable(t *testing.T) {
	node := twoSocketNode()
	from := bitset.New(0, 1, 4, 5)
	result := AllocateCores(node, from, 4)
	assert.True(t, result.Equal(from))
}

func TestAllocateCoresPrefersWholeIdleSocket(t *testing.T) {
	node := twoSocketNode()
	// Socket 1 (cores 4-7) is entirely idle; socket 0 only has core 0 free.
	from := bitset.New(0, 4, 5, 6, 7)
	result := AllocateCores(node, from, 4)

	assert.Equal(t, 4, result.Count())
	assert.True(t, result.Equal(bitset.New(4, 5, 6, 7)), "should take the whole idle socket over a scattered mix")
}

func TestAllocateCoresFallsBackToRemainingCores(t *testing.T) {
	node := twoSocketNode()
	// No whole idle socket available; single cores are taken lowest
	// index first.
	from := bitset.New(0, 2, 5, 7)
	result := AllocateCores(node, from, 2)

	assert.Equal(t, 2, result.Count())
	assert.True(t, result.IsSubsetOf(from))
}

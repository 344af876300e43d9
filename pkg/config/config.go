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

// Package config carries the tunables the placement engine owns directly.
// Full plugin configuration (partition/QOS definitions, node inventory,
// the rest of the surrounding scheduler shim) lives outside this module
// per spec.md's system boundary; this is deliberately a single flat
// struct with defaults-plus-YAML-overlay, not a live-reconfiguration bus.
package config

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ReorderMode names the preemption-candidate reordering discipline the
// will-run simulator applies between removal batches (spec.md §4.6).
type ReorderMode string

const (
	// StrictOrder keeps the remaining candidates in end-time order.
	StrictOrder ReorderMode = "strict_order"
	// OverlapRank names re-ranking by node-bitmap overlap with the found
	// allocation. The simulator does not track that overlap, so under
	// this mode the candidates also stay in end-time order.
	OverlapRank ReorderMode = "overlap_rank"
)

// Settings are the engine's own tunables, loaded once at startup.
type Settings struct {
	// LogLevel is applied via log.ApplyLevel at startup.
	LogLevel string `json:"logLevel"`

	// DefaultCRType is the consumable-resource granularity used when a
	// job does not request SOCKET-exclusive allocation (spec.md §4.3).
	DefaultCRType string `json:"defaultCRType"`

	// ExtraRowEnabled is handed to occupancy.NewPartition; it lets a row
	// rebuild grow a partition's row vector beyond its pre-rebuild length.
	// No row is provisioned in advance.
	ExtraRowEnabled bool `json:"extraRowEnabled"`

	// WillRunWindow is the initial sliding window (seconds) used to batch
	// consecutive job terminations in the will-run simulator.
	WillRunWindow int `json:"willRunWindowSeconds"`

	// WillRunScaleFactor expands WillRunWindow after each unproductive
	// batch (spec.md §4.6).
	WillRunScaleFactor float64 `json:"willRunScaleFactor"`

	// WillRunBudgetMillis is the wall-clock budget for one will-run call.
	WillRunBudgetMillis int `json:"willRunBudgetMillis"`

	// PreemptReorder selects the candidate reordering discipline.
	PreemptReorder ReorderMode `json:"preemptReorder"`
}

// Defaults returns the engine's built-in settings.
func Defaults() *Settings {
	return &Settings{
		LogLevel:            "info",
		DefaultCRType:       "CORE",
		ExtraRowEnabled:     true,
		WillRunWindow:       30,
		WillRunScaleFactor:  2.0,
		WillRunBudgetMillis: 2000,
		PreemptReorder:      StrictOrder,
	}
}

// Load reads an optional YAML overlay from path on top of Defaults(). A
// missing path is not an error; every field simply keeps its default.
func Load(path string) (*Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}

	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}

	return s, nil
}

// Validate checks the settings for internally-consistent values. All
// violations are collected and reported together rather than stopping at
// the first, so a bad config file only needs one fix-and-retry cycle.
func (s *Settings) Validate() error {
	var result *multierror.Error

	if s.WillRunWindow <= 0 {
		result = multierror.Append(result, errors.New("willRunWindowSeconds must be positive"))
	}
	if s.WillRunScaleFactor < 1.0 {
		result = multierror.Append(result, errors.New("willRunScaleFactor must be >= 1.0"))
	}
	if s.WillRunBudgetMillis <= 0 {
		result = multierror.Append(result, errors.New("willRunBudgetMillis must be positive"))
	}
	switch s.PreemptReorder {
	case StrictOrder, OverlapRank:
	default:
		result = multierror.Append(result, errors.Errorf("unknown preemptReorder mode %q", s.PreemptReorder))
	}
	switch s.DefaultCRType {
	case "CORE", "SOCKET":
	default:
		result = multierror.Append(result, errors.Errorf("unknown defaultCRType %q", s.DefaultCRType))
	}

	return result.ErrorOrNil()
}

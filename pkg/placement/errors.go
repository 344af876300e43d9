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

// Kind is a placement outcome tag (spec.md §7). It replaces the source's
// integer return codes with a small closed set.
type Kind int

const (
	// Success: a placement (or feasibility probe) succeeded.
	Success Kind = iota
	// NoFit: no placement exists under the current exclusions.
	NoFit
	// HigherPriorityBusy: step 2 of the driver search failed.
	HigherPriorityBusy
	// RequiredNodeUnfit: the node filter cleared a node the caller required.
	RequiredNodeUnfit
	// SwitchesPending: the topology layer reports best-switch not ready.
	SwitchesPending
	// Invalid: the job has no partition, or required structures are absent.
	Invalid
	// Internal: an invariant breach; logged and clamped, never fatal.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "Success"
	case NoFit:
		return "NoFit"
	case HigherPriorityBusy:
		return "HigherPriorityBusy"
	case RequiredNodeUnfit:
		return "RequiredNodeUnfit"
	case SwitchesPending:
		return "SwitchesPending"
	case Invalid:
		return "Invalid"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Result is the engine's uniform error type: every externally-visible
// operation returns one when it does not simply succeed silently. It
// implements error so callers that only care about success/failure can
// use ordinary Go error handling, while callers that branch on the
// specific kind (§7's table) can type-assert or call Kind().
type Result struct {
	kind   Kind
	detail string
}

// NewResult builds a Result of the given kind with an explanatory detail
// string (used in logging, never shown verbatim to end users).
func NewResult(kind Kind, detail string) *Result {
	return &Result{kind: kind, detail: detail}
}

// Ok is the canonical success Result.
var Ok = &Result{kind: Success}

// Kind reports the outcome tag.
func (r *Result) Kind() Kind {
	if r == nil {
		return Success
	}
	return r.kind
}

// Success reports whether r represents a successful outcome (nil Result,
// or one explicitly tagged Success).
func (r *Result) Success() bool { return r == nil || r.kind == Success }

func (r *Result) Error() string {
	if r == nil {
		return "Success"
	}
	if r.detail == "" {
		return r.kind.String()
	}
	return r.kind.String() + ": " + r.detail
}

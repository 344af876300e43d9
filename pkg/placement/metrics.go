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

// Prometheus metrics for the placement engine. The teacher's policy
// interface (DescribeMetrics/PollMetrics/CollectMetrics in
// topology-aware-policy.go) forwards to an opencensus-backed exporter
// this repo does not carry (see DESIGN.md); instead these are plain
// client_golang collectors registered once at package init, the idiom
// prometheus/client_golang itself documents.
package placement

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tres_select",
		Name:      "placement_attempts_total",
		Help:      "Placement search attempts by outcome kind.",
	}, []string{"kind"})

	stepOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tres_select",
		Name:      "placement_step_outcomes_total",
		Help:      "Per-step fit/no-fit outcomes within the five-step search.",
	}, []string{"step", "fit"})

	willRunBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tres_select",
		Name:      "will_run_batch_jobs",
		Help:      "Number of running jobs removed per will-run simulation batch.",
		Buckets:   prometheus.LinearBuckets(1, 2, 8),
	})

	willRunWallSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tres_select",
		Name:      "will_run_wall_seconds",
		Help:      "Wall-clock time spent inside a single will-run simulation.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	rowRebuildRepacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tres_select",
		Name:      "row_rebuild_repacks_total",
		Help:      "Row rebuild attempts by whether the repack succeeded or fell back to the pre-rebuild snapshot.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(attemptsTotal, stepOutcomes, willRunBatchSize, willRunWallSeconds, rowRebuildRepacks)
}

func recordAttempt(k Kind) { attemptsTotal.WithLabelValues(k.String()).Inc() }

func recordStep(step string, fit bool) {
	label := "nofit"
	if fit {
		label = "fit"
	}
	stepOutcomes.WithLabelValues(step, label).Inc()
}

// Copyright 2025 Poiesic Systems
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

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/docrag/core"
)

// AggregateStats summarizes runs whose first event falls within window of
// now. A zero window covers every run. Runs that never reached a terminal
// event are counted as errored.
func (m *Monitor) AggregateStats(ctx context.Context, window time.Duration) (*core.Stats, error) {
	if window < 0 {
		return nil, fmt.Errorf("%w: negative window %s", core.ErrValidation, window)
	}
	runs, err := m.runs.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if window > 0 {
		since = m.now().Add(-window)
	}
	return aggregate(runs, since, window), nil
}

func aggregate(runs []*core.PipelineRun, since time.Time, window time.Duration) *core.Stats {
	stats := &core.Stats{
		Window:             window,
		Subjects:           make(map[core.SubjectType]core.SubjectStats),
		StageErrors:        make(map[string]int),
		MeanStageDurations: make(map[string]float64),
	}
	totals := make(map[string]int64)
	counts := make(map[string]int64)

	for _, r := range runs {
		if !since.IsZero() && r.StartedAt().Before(since) {
			continue
		}
		subject := r.SubjectType
		if subject == "" {
			subject = core.SubjectFromPipelineID(r.ID)
		}
		s := stats.Subjects[subject]
		s.Total++
		if t := r.Terminal(); t != nil && t.Phase == core.PhaseEnd {
			s.Completed++
		} else {
			s.Errored++
		}
		stats.Subjects[subject] = s

		for _, e := range r.Events {
			switch e.Phase {
			case core.PhaseError:
				stats.StageErrors[e.Stage]++
				fallthrough
			case core.PhaseEnd:
				totals[e.Stage] += e.DurationMS
				counts[e.Stage]++
			}
		}
	}
	for stage, n := range counts {
		stats.MeanStageDurations[stage] = float64(totals[stage]) / float64(n)
	}
	return stats
}

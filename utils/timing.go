package utils

import (
	"fmt"
	"io"
	"time"
)

// TimingStats holds timing information for the phases of a run.
type TimingStats struct {
	TotalTime        time.Duration
	DataLoadingTime  time.Duration
	PretrainTime     time.Duration
	ModelInitTime    time.Duration
	ForwardPassTime  time.Duration
	BackwardPassTime time.Duration
	UpdateTime       time.Duration
	EvaluationTime   time.Duration
	SaveTime         time.Duration
}

// Add accumulates o into s.
func (s *TimingStats) Add(o TimingStats) {
	s.TotalTime += o.TotalTime
	s.DataLoadingTime += o.DataLoadingTime
	s.PretrainTime += o.PretrainTime
	s.ModelInitTime += o.ModelInitTime
	s.ForwardPassTime += o.ForwardPassTime
	s.BackwardPassTime += o.BackwardPassTime
	s.UpdateTime += o.UpdateTime
	s.EvaluationTime += o.EvaluationTime
	s.SaveTime += o.SaveTime
}

func percent(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(d) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics; steps is the number of
// mini-batches processed.
func PrintTimingStats(w io.Writer, stats *TimingStats, steps int) {
	fmt.Fprintln(w, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(w, "Total time: %v\n", stats.TotalTime)
	if steps > 0 {
		fmt.Fprintf(w, "Average time per batch: %v\n", (stats.ForwardPassTime+stats.BackwardPassTime+stats.UpdateTime)/time.Duration(steps))
	}
	fmt.Fprintf(w, "Batches completed: %d\n", steps)
	fmt.Fprintln(w, "\nBreakdown by operation:")
	fmt.Fprintf(w, "  Data loading: %v (%.1f%%)\n", stats.DataLoadingTime, percent(stats.DataLoadingTime, stats.TotalTime))
	fmt.Fprintf(w, "  Pre-training: %v (%.1f%%)\n", stats.PretrainTime, percent(stats.PretrainTime, stats.TotalTime))
	fmt.Fprintf(w, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, percent(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(w, "  Forward pass: %v (%.1f%%)\n", stats.ForwardPassTime, percent(stats.ForwardPassTime, stats.TotalTime))
	fmt.Fprintf(w, "  Backward pass: %v (%.1f%%)\n", stats.BackwardPassTime, percent(stats.BackwardPassTime, stats.TotalTime))
	fmt.Fprintf(w, "  Weight updates: %v (%.1f%%)\n", stats.UpdateTime, percent(stats.UpdateTime, stats.TotalTime))
	fmt.Fprintf(w, "  Evaluation: %v (%.1f%%)\n", stats.EvaluationTime, percent(stats.EvaluationTime, stats.TotalTime))
	fmt.Fprintf(w, "  Saving: %v (%.1f%%)\n", stats.SaveTime, percent(stats.SaveTime, stats.TotalTime))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}

package standalone

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// LatencyStats summarizes the durations of benchmark iterations.
type LatencyStats struct {
	Min  time.Duration `json:"min_ns"`
	Mean time.Duration `json:"mean_ns"`
	P95  time.Duration `json:"p95_ns"`
	Max  time.Duration `json:"max_ns"`
}

// BenchmarkResult is the outcome of repeated invocations.
type BenchmarkResult struct {
	PluginID   string       `json:"plugin_id"`
	Mode       Mode         `json:"mode"`
	Iterations int          `json:"iterations"`
	Successes  int          `json:"successes"`
	Failures   int          `json:"failures"`
	Latency    LatencyStats `json:"latency"`
	// Outputs of the last successful iteration.
	Outputs map[string]any `json:"outputs,omitempty"`
	// LastError is the error of the last failed iteration.
	LastError string `json:"last_error,omitempty"`
}

// Benchmark runs req iterations times in sequence. Failed iterations are
// counted, not returned; an error is returned only for invalid arguments or
// when ctx ends, together with the statistics gathered so far.
func (r *Runner) Benchmark(ctx context.Context, req Request, iterations int) (*BenchmarkResult, error) {
	if iterations <= 0 {
		return nil, errors.New("iterations must be positive")
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode

	bench := &BenchmarkResult{PluginID: req.PluginID, Mode: mode}
	durations := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			bench.Latency = Summarize(durations)
			return bench, err
		}
		res, err := r.Execute(ctx, req)
		if res == nil {
			return nil, err
		}
		durations = append(durations, res.Duration)
		bench.Iterations++
		if err != nil {
			bench.Failures++
			bench.LastError = err.Error()
			continue
		}
		bench.Successes++
		bench.Outputs = res.Outputs
	}
	bench.Latency = Summarize(durations)

	r.logger.Info("benchmark finished",
		zap.String("plugin", req.PluginID),
		zap.String("mode", string(mode)),
		zap.Int("iterations", bench.Iterations),
		zap.Int("failures", bench.Failures),
		zap.Duration("mean", bench.Latency.Mean),
		zap.Duration("p95", bench.Latency.P95))
	return bench, nil
}

// Summarize computes min, mean, p95 and max. The p95 is the nearest-rank
// value at ceil(0.95*n).
func Summarize(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	return LatencyStats{
		Min:  sorted[0],
		Mean: total / time.Duration(len(sorted)),
		P95:  sorted[rank],
		Max:  sorted[len(sorted)-1],
	}
}

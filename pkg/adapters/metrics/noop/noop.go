// Package noop provides a MetricsCollector that discards everything.
package noop

import "time"

// Collector discards all metrics.
type Collector struct{}

func (Collector) RecordRunSubmitted(string) {}

func (Collector) RecordRunCompleted(string, time.Duration) {}

func (Collector) RecordNodeExecuted(string, string, time.Duration) {}

func (Collector) RecordCacheLookup(bool) {}

func (Collector) RecordWorkerPoolStatus(int, int, int) {}

func (Collector) ObserveQueueWaitTime(time.Duration) {}

func (Collector) SetActiveRuns(int) {}

func (Collector) ObserveStandalone(string, string, time.Duration, bool) {}

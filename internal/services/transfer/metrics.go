package transfer

import (
	"time"

	"ocstransfer/internal/models"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOutcome(string, models.Status, int) {}
func (n *NoopMetricsCollector) RecordStep(string, string)                {}
func (n *NoopMetricsCollector) RecordDuration(string, time.Duration)     {}

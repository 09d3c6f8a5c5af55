package metrics

import "time"

// NoopMetrics is the Recorder used when metrics are disabled
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordLogin(outcome string, duration time.Duration) {}
func (n *NoopMetrics) RecordLogout()                                      {}
func (n *NoopMetrics) RecordHealthCheck(service string, healthy bool)     {}

package api

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginFailureSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	// Override threshold for fast testing.
	collector.loginThreshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	collector.recordEvent(AuditLoginFailure)
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	mu.Unlock()

	// The counter resets after an alert.
	collector.recordEvent(AuditLoginFailure)
	mu.Lock()
	assert.Len(t, alerts, 1)
	mu.Unlock()
}

func TestKeychainFailureSpikeAlert(t *testing.T) {
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) { alerts = append(alerts, e) })
	collector.keychainThreshold = 3

	collector.recordEvent(AuditKeychainFailure)
	collector.recordEvent(AuditKeychainDecrypt)
	collector.recordEvent(AuditKeychainFailure)
	assert.Empty(t, alerts)
	collector.recordEvent(AuditKeychainFailure)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertKeychainFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Threshold)
}

func TestNilCollectorIgnoresEvents(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditLoginFailure)
	newMetricsCollector(nil).recordEvent(AuditLoginFailure)
}

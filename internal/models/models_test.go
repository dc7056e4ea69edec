package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.False(t, Severity("URGENT").IsValid())

	sev, err := ParseSeverity("CRITICAL")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, sev)

	_, err = ParseSeverity("critical")
	assert.Error(t, err, "names are case sensitive")
}

func TestPriorityRankRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		assert.Equal(t, p, PriorityFromRank(p.Rank()))
	}
	assert.Equal(t, Priority(""), PriorityFromRank(0))
	assert.False(t, Priority("CRITICAL").IsValid())
}

func TestStatuses(t *testing.T) {
	tests := []struct {
		status AlertStatus
		active bool
	}{
		{AlertOpen, true},
		{AlertAcknowledged, true},
		{AlertResolved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.active, tt.status.Active(), tt.status)
	}

	assert.True(t, QueueSent.Terminal())
	assert.True(t, QueueFailed.Terminal())
	assert.False(t, QueuePending.Terminal())
	assert.Equal(t, int64(6), QueueCounts{Pending: 1, Sent: 2, Failed: 3}.Total())
}

func TestAlertClone(t *testing.T) {
	ack := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &Alert{ID: "a1", Status: AlertAcknowledged, AcknowledgedAt: &ack, Version: 2}

	c := a.Clone()
	require.NotSame(t, a.AcknowledgedAt, c.AcknowledgedAt)
	*c.AcknowledgedAt = ack.Add(time.Hour)
	c.Status = AlertResolved

	assert.Equal(t, ack, *a.AcknowledgedAt)
	assert.Equal(t, AlertAcknowledged, a.Status)
	assert.Nil(t, c.ResolvedAt)
}

func TestSnapshotService(t *testing.T) {
	s := &HealthSnapshot{Services: []ServiceSample{
		{Name: "user-service", Status: StatusHealthy},
		{Name: "stall-service", Status: StatusUnhealthy, ResponseTimeMs: UnknownResponseTime},
	}}

	got, ok := s.Service("stall-service")
	require.True(t, ok)
	assert.Equal(t, UnknownResponseTime, got.ResponseTimeMs)

	_, ok = s.Service("payments")
	assert.False(t, ok)
}

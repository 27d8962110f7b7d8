package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsultationTransitions(t *testing.T) {
	all := []ConsultationStatus{
		ConsultationPending, ConsultationPaid, ConsultationScheduled,
		ConsultationCompleted, ConsultationCancelled,
	}

	allowed := map[ConsultationStatus]map[ConsultationStatus]bool{
		ConsultationPending:   {ConsultationPaid: true, ConsultationCancelled: true},
		ConsultationPaid:      {ConsultationScheduled: true, ConsultationCancelled: true},
		ConsultationScheduled: {ConsultationCompleted: true, ConsultationCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[from][to], from.CanTransitionTo(to),
				"%s -> %s", from, to)
		}
	}
}

func TestValidSlotTime(t *testing.T) {
	// 2026-06-15 is a Monday.
	monday := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, ValidSlotTime(monday.Add(9*time.Hour)))
	assert.True(t, ValidSlotTime(monday.Add(17*time.Hour)))
	assert.False(t, ValidSlotTime(monday.Add(8*time.Hour)), "before opening")
	assert.False(t, ValidSlotTime(monday.Add(18*time.Hour)), "after closing")

	saturday := monday.Add(5 * 24 * time.Hour)
	assert.True(t, ValidSlotTime(saturday.Add(10*time.Hour)))

	sunday := monday.Add(6 * 24 * time.Hour)
	assert.False(t, ValidSlotTime(sunday.Add(10*time.Hour)), "no sunday slots")
}

func TestCanCancelDeadline(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	c := &Consultation{Status: ConsultationPending}
	assert.True(t, c.CanCancel(now), "no deadline set")

	deadline := now.Add(time.Hour)
	c = &Consultation{Status: ConsultationScheduled, CancellationDeadline: &deadline}
	assert.True(t, c.CanCancel(now))

	passed := now.Add(-time.Minute)
	c.CancellationDeadline = &passed
	assert.False(t, c.CanCancel(now))

	c = &Consultation{Status: ConsultationCompleted}
	assert.False(t, c.CanCancel(now), "terminal")
}

func TestApplySchedule(t *testing.T) {
	slot := time.Date(2026, 6, 16, 10, 0, 0, 0, time.UTC)

	c := &Consultation{Status: ConsultationPaid}
	c.ApplySchedule(slot)

	require.NotNil(t, c.ScheduledTime)
	assert.Equal(t, slot, *c.ScheduledTime)
	assert.Equal(t, ConsultationScheduled, c.Status)
	assert.Equal(t, 0, c.RescheduleCount)
	assert.Nil(t, c.RescheduledFrom)
	require.NotNil(t, c.CancellationDeadline)
	assert.Equal(t, slot.Add(-CancellationLead), *c.CancellationDeadline)

	// Reschedule records lineage and counts against the cap.
	next := slot.Add(24 * time.Hour)
	c.ApplySchedule(next)
	assert.Equal(t, 1, c.RescheduleCount)
	require.NotNil(t, c.RescheduledFrom)
	assert.Equal(t, slot, *c.RescheduledFrom)
	assert.Equal(t, next, *c.ScheduledTime)
}

func TestCanReschedule(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	slot := now.Add(48 * time.Hour)

	c := &Consultation{Status: ConsultationScheduled, ScheduledTime: &slot}
	assert.True(t, c.CanReschedule(now))

	c.RescheduleCount = MaxReschedules
	assert.False(t, c.CanReschedule(now), "cap reached")

	c.RescheduleCount = 0
	soon := now.Add(12 * time.Hour)
	c.ScheduledTime = &soon
	assert.False(t, c.CanReschedule(now), "inside the lead window")

	c = &Consultation{Status: ConsultationPaid}
	assert.False(t, c.CanReschedule(now), "not scheduled yet")
}

func TestStatusHistoryAppend(t *testing.T) {
	at := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	meta := AppendStatusHistory(nil, "pending", "paid", "system", "", at)
	meta = AppendStatusHistory(meta, "paid", "scheduled", "user:7", "picked slot", at.Add(time.Minute))

	history := StatusHistory(meta)
	require.Len(t, history, 2)
	assert.Equal(t, "pending", history[0].From)
	assert.Equal(t, "paid", history[0].To)
	assert.Equal(t, "scheduled", history[1].To)
	assert.Equal(t, "user:7", history[1].ChangedBy)
	assert.Equal(t, "picked slot", history[1].Reason)
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/zone"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2024, time.March, 4, hour, minute, second, 0, time.UTC)
}

func trainer() Participant {
	return Participant{ID: "p-1", ConductID: "c-1", Name: "alex", Role: RoleTrainer, Phase: PhaseIdle}
}

func TestStartWorkSetsCycle(t *testing.T) {
	p, err := StartWork(trainer(), zone.White, at(10, 0, 0), false)
	require.NoError(t, err)

	require.Equal(t, PhaseWorking, p.Phase)
	require.Equal(t, zone.White, p.Zone)
	require.Equal(t, clock.WallTime("10:00:00"), p.StartTime)
	require.Equal(t, clock.WallTime("11:00:00"), p.EndTime)
	require.Equal(t, clock.WallTime("10:00:00"), p.CycleStart)
	require.Equal(t, zone.White, p.MostStringentZone)
}

func TestStartWorkStricterZoneClampsToOriginalStart(t *testing.T) {
	p, err := StartWork(trainer(), zone.Red, at(10, 0, 0), false)
	require.NoError(t, err)

	p, err = StartWork(p, zone.Black, at(10, 5, 0), false)
	require.NoError(t, err)

	require.Equal(t, zone.Black, p.Zone)
	require.Equal(t, clock.WallTime("10:15:00"), p.EndTime, "black's 15 minutes run from the original start")
	require.Equal(t, clock.WallTime("10:00:00"), p.CycleStart)
	require.Equal(t, zone.Black, p.MostStringentZone)
}

func TestStartWorkLooserZoneKeepsStricterDeadline(t *testing.T) {
	p, err := StartWork(trainer(), zone.Black, at(10, 0, 0), false)
	require.NoError(t, err)

	p, err = StartWork(p, zone.White, at(10, 5, 0), false)
	require.NoError(t, err)

	require.Equal(t, zone.White, p.Zone)
	require.Equal(t, clock.WallTime("10:15:00"), p.EndTime)
	require.Equal(t, zone.Black, p.MostStringentZone)
}

func TestStartWorkGuards(t *testing.T) {
	resting := trainer()
	resting.Phase = PhaseResting
	_, err := StartWork(resting, zone.White, at(10, 0, 0), false)
	require.ErrorIs(t, err, ErrResting)
	require.ErrorIs(t, err, ErrInvalidState)

	pending := trainer()
	pending.Phase = PhaseWorkComplete
	_, err = StartWork(pending, zone.White, at(10, 0, 0), false)
	require.ErrorIs(t, err, ErrPendingRest)

	next, err := StartWork(pending, zone.Green, at(10, 0, 0), true)
	require.NoError(t, err)
	require.Equal(t, PhaseWorking, next.Phase)

	monitor := trainer()
	monitor.Role = RoleMonitor
	_, err = StartWork(monitor, zone.White, at(10, 0, 0), false)
	require.ErrorIs(t, err, ErrNotTrainer)

	_, err = StartWork(trainer(), zone.ID("purple"), at(10, 0, 0), false)
	require.ErrorIs(t, err, ErrUnknownZone)
}

func TestCycleAcrossMidnight(t *testing.T) {
	start := at(23, 55, 0)
	p, err := StartWork(trainer(), zone.Yellow, start, false)
	require.NoError(t, err)
	require.Equal(t, clock.WallTime("00:25:00"), p.EndTime)

	_, fired, err := CompleteWork(p, at(23, 58, 0))
	require.NoError(t, err)
	require.False(t, fired, "cycle ending after midnight is still running at 23:58")

	_, fired, err = CompleteWork(p, start.Add(29*time.Minute+59*time.Second))
	require.NoError(t, err)
	require.False(t, fired)

	done, fired, err := CompleteWork(p, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, PhaseWorkComplete, done.Phase)
}

func TestCompleteWorkIsIdempotent(t *testing.T) {
	p, err := StartWork(trainer(), zone.Test, at(10, 0, 0), false)
	require.NoError(t, err)

	done, fired, err := CompleteWork(p, at(10, 0, 7))
	require.NoError(t, err)
	require.True(t, fired)
	require.True(t, done.WorkCompleted())
	require.True(t, done.PendingRest())
	require.Equal(t, StatusIdle, done.Status())
	require.Equal(t, zone.Test, done.Zone, "zone is kept for the pending-rest prompt")

	again, fired, err := CompleteWork(done, at(10, 0, 8))
	require.NoError(t, err)
	require.False(t, fired)
	require.Equal(t, done, again)
}

func TestStartRestUsesMostStringentZone(t *testing.T) {
	now := at(9, 0, 0)
	p, err := StartWork(trainer(), zone.White, now, false)
	require.NoError(t, err)
	p, err = StartWork(p, zone.Red, now.Add(5*time.Minute), false)
	require.NoError(t, err)
	p, err = StartWork(p, zone.White, now.Add(10*time.Minute), false)
	require.NoError(t, err)
	require.Equal(t, zone.Red, p.MostStringentZone)

	rested, d, err := StartRest(p, now.Add(20*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, d, "red's rest, not white's")
	require.Equal(t, PhaseResting, rested.Phase)
	require.Equal(t, clock.WallTime("09:50:00"), rested.EndTime)
	require.Empty(t, rested.MostStringentZone)
	require.Empty(t, rested.CycleStart)
}

func TestStartRestWithoutHistoryUsesWhite(t *testing.T) {
	p, d, err := StartRest(trainer(), at(8, 0, 0))
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)
	require.Equal(t, zone.White, p.Zone)
}

func TestCompleteRestReportsScheduledEnd(t *testing.T) {
	p, _, err := StartRest(trainer(), at(11, 0, 5))
	require.NoError(t, err)

	_, _, fired, err := CompleteRest(p, at(11, 15, 4))
	require.NoError(t, err)
	require.False(t, fired)

	idle, end, fired, err := CompleteRest(p, at(11, 15, 6))
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, at(11, 15, 5), end)
	require.Equal(t, PhaseIdle, idle.Phase)
	require.Empty(t, idle.Zone)
	require.Empty(t, idle.StartTime)
	require.Empty(t, idle.EndTime)

	_, _, fired, err = CompleteRest(idle, at(11, 15, 7))
	require.NoError(t, err)
	require.False(t, fired)
}

func TestForceRest(t *testing.T) {
	p, err := StartWork(trainer(), zone.Black, at(14, 0, 0), false)
	require.NoError(t, err)

	forced := ForceRest(p, at(14, 5, 0), 30*time.Minute)
	require.Equal(t, PhaseResting, forced.Phase)
	require.Equal(t, zone.CutOff, forced.Zone)
	require.Equal(t, clock.WallTime("14:35:00"), forced.EndTime)
	require.Empty(t, forced.MostStringentZone)
}

func TestNewActivityDescribesKnownActions(t *testing.T) {
	entry := NewActivity("c-1", "alex", ActionStartWork, zone.Green, "", at(13, 4, 5))
	require.Equal(t, "Started work cycle for green zone at 01:04:05 PM", entry.Details)

	custom := NewActivity("c-1", "alex", ActionStartWork, zone.Green, "custom", at(13, 4, 5))
	require.Equal(t, "custom", custom.Details)
}

func TestFormatRest(t *testing.T) {
	require.Equal(t, "15 minute", formatRest(15*time.Minute))
	require.Equal(t, "10 second", formatRest(10*time.Second))
}

func TestKindClassifiesErrors(t *testing.T) {
	require.Equal(t, ErrForbidden, Kind(ErrCutOffActive))
	require.Equal(t, ErrNotFound, Kind(ErrConductNotFound))
	require.Equal(t, ErrInvalidArgument, Kind(ErrUnknownZone))
	require.Nil(t, Kind(ErrNoChange))
}

package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/cutoff"
	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/events"
	"example.com/wbgt/internal/observability"
	"example.com/wbgt/internal/outbox"
	"example.com/wbgt/internal/persistence/memory"
	"example.com/wbgt/internal/zone"
)

type harness struct {
	svc       *domain.Service
	store     *flakyStore
	clock     *clock.Fake
	overrides *cutoff.Registry
	conduct   *domain.Conduct
}

func newHarness(t *testing.T, now time.Time, opts ...domain.Option) *harness {
	t.Helper()

	store := &flakyStore{Store: memory.NewStore(outbox.Router{Topic: "conduct_events"})}
	clk := clock.NewFake(now)
	overrides := cutoff.NewRegistry()
	opts = append([]domain.Option{domain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	svc := domain.NewService(store, clk, overrides, opts...)

	c, err := svc.CreateConduct(context.Background(), "Range Day")
	require.NoError(t, err)
	require.Len(t, c.PIN, 6)

	return &harness{svc: svc, store: store, clock: clk, overrides: overrides, conduct: c}
}

func (h *harness) join(t *testing.T, name string, role domain.Role) (*domain.Participant, domain.Caller) {
	t.Helper()
	p, _, err := h.svc.JoinConduct(context.Background(), domain.JoinInput{PIN: h.conduct.PIN, Name: name, Role: string(role)})
	require.NoError(t, err)
	return p, domain.Caller{ParticipantID: p.ID, ConductID: p.ConductID, Name: p.Name, Role: p.Role}
}

func (h *harness) history(t *testing.T) []domain.ActivityEntry {
	t.Helper()
	entries, _, err := h.svc.History(context.Background(), h.conduct.ID, nil, 0)
	require.NoError(t, err)
	return entries
}

func (h *harness) state(t *testing.T, id string) domain.Participant {
	t.Helper()
	p, err := h.svc.Participant(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func (h *harness) countEvents(eventType string) int {
	n := 0
	for _, msg := range h.store.Pending() {
		if msg.EventType == eventType {
			n++
		}
	}
	return n
}

func actions(entries []domain.ActivityEntry) []domain.Action {
	out := make([]domain.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func day(hour, minute, second int) time.Time {
	return time.Date(2024, time.June, 10, hour, minute, second, 0, time.UTC)
}

func TestAlexWorkRestScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(10, 0, 0))
	alex, caller := h.join(t, "Alex", domain.RoleTrainer)

	p, err := h.svc.StartWork(ctx, alex.ID, zone.White, caller)
	require.NoError(t, err)
	require.Equal(t, clock.WallTime("11:00:00"), p.EndTime)

	h.clock.Set(day(11, 0, 1))
	fired, err := h.svc.CompleteWork(ctx, alex.ID)
	require.NoError(t, err)
	require.True(t, fired)

	state := h.state(t, alex.ID)
	require.Equal(t, domain.StatusIdle, state.Status())
	require.True(t, state.WorkCompleted())
	require.True(t, state.PendingRest())

	var prompt events.WorkCycleCompleted
	for _, msg := range h.store.Pending() {
		if msg.EventType == events.TypeWorkCycleCompleted {
			require.NoError(t, json.Unmarshal(msg.Payload, &prompt))
		}
	}
	require.Equal(t, "Alex", prompt.Username)
	require.Equal(t, 900, prompt.RestSeconds)

	h.clock.Set(day(11, 0, 5))
	p, rest, err := h.svc.StartRest(ctx, h.conduct.ID, "Alex", caller)
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, rest)
	require.Equal(t, domain.StatusResting, p.Status())
	require.Equal(t, clock.WallTime("11:15:05"), p.EndTime)

	h.clock.Set(day(11, 15, 6))
	fired, err = h.svc.CompleteRest(ctx, alex.ID)
	require.NoError(t, err)
	require.True(t, fired)

	state = h.state(t, alex.ID)
	require.Equal(t, domain.PhaseIdle, state.Phase)
	require.Empty(t, state.Zone)
	require.Empty(t, state.StartTime)
	require.Empty(t, state.EndTime)
	require.Empty(t, state.MostStringentZone)

	entries := h.history(t)
	require.Equal(t, []domain.Action{
		domain.ActionCompletedRest,
		domain.ActionStartRest,
		domain.ActionCompletedWork,
		domain.ActionStartWork,
		domain.ActionUserJoined,
	}, actions(entries))
	require.Equal(t, day(11, 15, 5), entries[0].Timestamp, "completed_rest carries the scheduled end")
	require.Equal(t, "Started 15 minute rest period (based on most stringent zone: white)", entries[1].Details)
	require.Equal(t, 1, h.countEvents(events.TypeRestCycleCompleted))
}

func TestSweepTransitionsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(9, 0, 0))
	p, caller := h.join(t, "sam", domain.RoleTrainer)

	_, err := h.svc.StartWork(ctx, p.ID, zone.Test, caller)
	require.NoError(t, err)
	h.clock.Advance(8 * time.Second)

	fired, err := h.svc.CompleteWork(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, fired)

	entries := len(h.history(t))
	pending := len(h.store.Pending())

	fired, err = h.svc.CompleteWork(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, fired)
	fired, err = h.svc.CompleteRest(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, fired)

	require.Len(t, h.history(t), entries)
	require.Len(t, h.store.Pending(), pending)
}

func TestZoneOverwriteClampsToOriginalStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(10, 0, 0))
	p, caller := h.join(t, "kim", domain.RoleTrainer)

	_, err := h.svc.StartWork(ctx, p.ID, zone.Red, caller)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	updated, err := h.svc.StartWork(ctx, p.ID, zone.Black, caller)
	require.NoError(t, err)
	require.Equal(t, clock.WallTime("10:15:00"), updated.EndTime)

	h.clock.Set(day(10, 14, 59))
	fired, err := h.svc.CompleteWork(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, fired)

	h.clock.Set(day(10, 15, 0))
	fired, err = h.svc.CompleteWork(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, fired)
}

func TestRestSizedByMostStringentZone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(8, 0, 0))
	p, caller := h.join(t, "lee", domain.RoleTrainer)

	for _, z := range []zone.ID{zone.White, zone.Yellow, zone.White} {
		_, err := h.svc.StartWork(ctx, p.ID, z, caller)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}
	require.Equal(t, zone.Yellow, h.state(t, p.ID).MostStringentZone)

	_, rest, err := h.svc.StartRest(ctx, h.conduct.ID, "lee", caller)
	require.NoError(t, err)
	require.Equal(t, zone.RestDurationFor(zone.Yellow), rest)
	require.Contains(t, h.history(t)[0].Details, "most stringent zone: yellow")
}

func TestStartWorkAuthorization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(10, 0, 0))
	a, _ := h.join(t, "a", domain.RoleTrainer)
	_, callerB := h.join(t, "b", domain.RoleTrainer)
	_, boss := h.join(t, "boss", domain.RoleConductingBody)

	_, err := h.svc.StartWork(ctx, a.ID, zone.White, callerB)
	require.ErrorIs(t, err, domain.ErrNotOwner)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.svc.StartWork(ctx, a.ID, zone.White, domain.Caller{ParticipantID: a.ID, ConductID: "elsewhere", Role: domain.RoleTrainer})
	require.ErrorIs(t, err, domain.ErrWrongConduct)

	_, err = h.svc.StartWork(ctx, "missing", zone.White, boss)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.StartWork(ctx, a.ID, zone.ID("purple"), boss)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, err := h.svc.StartWork(ctx, a.ID, zone.Green, boss)
	require.NoError(t, err)
	require.Equal(t, zone.Green, p.Zone)
}

func TestStartWorkRejectedWhileResting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(10, 0, 0))
	p, caller := h.join(t, "jo", domain.RoleTrainer)
	_, boss := h.join(t, "boss", domain.RoleConductingBody)

	_, _, err := h.svc.StartRest(ctx, h.conduct.ID, "jo", caller)
	require.NoError(t, err)

	_, err = h.svc.StartWork(ctx, p.ID, zone.White, caller)
	require.ErrorIs(t, err, domain.ErrResting)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.svc.StartWork(ctx, p.ID, zone.White, boss)
	require.NoError(t, err, "conducting body overrides the rest guard")
}

func TestCutOffAndMandatoryRestGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(14, 0, 0))
	worker, caller := h.join(t, "worker", domain.RoleTrainer)
	idler, _ := h.join(t, "idler", domain.RoleTrainer)
	_, boss := h.join(t, "boss", domain.RoleConductingBody)

	_, err := h.svc.StartWork(ctx, worker.ID, zone.Red, caller)
	require.NoError(t, err)

	_, err = h.svc.ToggleCutOff(ctx, h.conduct.ID, caller)
	require.ErrorIs(t, err, domain.ErrNotSupervisor)

	status, err := h.svc.ToggleCutOff(ctx, h.conduct.ID, boss)
	require.NoError(t, err)
	require.True(t, status.CutOff)
	require.Equal(t, domain.PhaseIdle, h.state(t, worker.ID).Phase)

	entries := h.history(t)
	require.Equal(t, domain.ActionCutOffActivated, entries[0].Action)
	require.Equal(t, domain.ActionCutOffApplied, entries[1].Action)
	require.Equal(t, "worker", entries[1].Username)

	_, err = h.svc.StartWork(ctx, worker.ID, zone.White, caller)
	require.ErrorIs(t, err, domain.ErrCutOffActive)
	require.ErrorIs(t, err, domain.ErrForbidden)

	status, err = h.svc.ToggleCutOff(ctx, h.conduct.ID, boss)
	require.NoError(t, err)
	require.False(t, status.CutOff)
	require.Equal(t, clock.WallTime("14:30:00"), status.EndTime())

	for _, id := range []string{worker.ID, idler.ID} {
		forced := h.state(t, id)
		require.Equal(t, domain.PhaseResting, forced.Phase)
		require.Equal(t, zone.CutOff, forced.Zone)
		require.Equal(t, clock.WallTime("14:30:00"), forced.EndTime)
	}
	require.Equal(t, domain.ActionCutOffLifted, h.history(t)[0].Action)
	require.Equal(t, "Cut-off lifted; mandatory rest until 14:30:00", h.history(t)[0].Details)

	h.clock.Set(day(14, 29, 59))
	_, err = h.svc.StartWork(ctx, worker.ID, zone.White, caller)
	require.ErrorIs(t, err, domain.ErrMandatoryRest)
	require.ErrorIs(t, err, domain.ErrForbidden)

	h.clock.Set(day(14, 30, 0))
	fired, err := h.svc.CompleteRest(ctx, worker.ID)
	require.NoError(t, err)
	require.True(t, fired)

	p, err := h.svc.StartWork(ctx, worker.ID, zone.White, caller)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, p.Status())
}

func TestClearAllResetsTrainersAndOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(7, 0, 0))
	a, callerA := h.join(t, "a", domain.RoleTrainer)
	b, callerB := h.join(t, "b", domain.RoleTrainer)
	_, boss := h.join(t, "boss", domain.RoleConductingBody)

	_, err := h.svc.StartWork(ctx, a.ID, zone.Green, callerA)
	require.NoError(t, err)
	_, _, err = h.svc.StartRest(ctx, h.conduct.ID, "b", callerB)
	require.NoError(t, err)
	_, err = h.svc.ToggleCutOff(ctx, h.conduct.ID, boss)
	require.NoError(t, err)

	require.ErrorIs(t, h.svc.ClearAll(ctx, h.conduct.ID, callerA), domain.ErrNotSupervisor)
	require.NoError(t, h.svc.ClearAll(ctx, h.conduct.ID, boss))

	for _, id := range []string{a.ID, b.ID} {
		require.Equal(t, domain.PhaseIdle, h.state(t, id).Phase)
	}
	status, err := h.svc.SystemStatus(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, cutoff.Status{}, status)

	entries := h.history(t)
	require.Equal(t, domain.ActionClearCommands, entries[0].Action)
	require.Equal(t, "boss", entries[0].Username)
	require.Equal(t, domain.ActionInterfaceReset, entries[1].Action)
	require.Equal(t, domain.ActionInterfaceReset, entries[2].Action)
}

func TestStopCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(12, 0, 0))
	p, caller := h.join(t, "ash", domain.RoleTrainer)
	monitor, monitorCaller := h.join(t, "eye", domain.RoleMonitor)

	_, err := h.svc.StartWork(ctx, p.ID, zone.Black, caller)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Minute)
	stopped, err := h.svc.StopCycle(ctx, p.ID, caller)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, stopped.Phase)
	require.Empty(t, stopped.Zone)

	entry := h.history(t)[0]
	require.Equal(t, domain.ActionEarlyCompletion, entry.Action)
	require.Equal(t, day(12, 3, 0), entry.Timestamp)

	_, err = h.svc.StopCycle(ctx, monitor.ID, monitorCaller)
	require.ErrorIs(t, err, domain.ErrNotTrainer)
}

func TestRenotifyWorkComplete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(12, 0, 0))
	p, caller := h.join(t, "ash", domain.RoleTrainer)

	sent, err := h.svc.RenotifyWorkComplete(ctx, p.ID, caller)
	require.NoError(t, err)
	require.False(t, sent)

	_, err = h.svc.StartWork(ctx, p.ID, zone.Test, caller)
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)

	sent, err = h.svc.RenotifyWorkComplete(ctx, p.ID, caller)
	require.NoError(t, err)
	require.True(t, sent, "an expired cycle is completed on the spot")
	require.Equal(t, 1, h.countEvents(events.TypeWorkCycleCompleted))

	sent, err = h.svc.RenotifyWorkComplete(ctx, p.ID, caller)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, 2, h.countEvents(events.TypeWorkCycleCompleted))
}

func TestJoinConduct(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0), domain.WithSupervisorJoinCode("s3cret"))

	_, _, err := h.svc.JoinConduct(ctx, domain.JoinInput{PIN: "12ab56", Name: "x", Role: "trainer"})
	require.ErrorIs(t, err, domain.ErrInvalidPIN)

	_, _, err = h.svc.JoinConduct(ctx, domain.JoinInput{PIN: h.conduct.PIN, Name: "  ", Role: "trainer"})
	require.ErrorIs(t, err, domain.ErrInvalidName)

	_, _, err = h.svc.JoinConduct(ctx, domain.JoinInput{PIN: h.conduct.PIN, Name: "x", Role: "captain"})
	require.ErrorIs(t, err, domain.ErrInvalidRole)

	unknown := "000000"
	if h.conduct.PIN == unknown {
		unknown = "111111"
	}
	_, _, err = h.svc.JoinConduct(ctx, domain.JoinInput{PIN: unknown, Name: "x", Role: "trainer"})
	require.ErrorIs(t, err, domain.ErrConductNotFound)

	_, _, err = h.svc.JoinConduct(ctx, domain.JoinInput{PIN: h.conduct.PIN, Name: "boss", Role: "conducting_body"})
	require.ErrorIs(t, err, domain.ErrJoinCode)

	boss, c, err := h.svc.JoinConduct(ctx, domain.JoinInput{PIN: h.conduct.PIN, Name: "boss", Role: "conducting_body", JoinCode: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleConductingBody, boss.Role)
	require.Equal(t, h.conduct.ID, c.ID)

	first, _ := h.join(t, "pat", domain.RoleTrainer)
	again, _ := h.join(t, "pat", domain.RoleTrainer)
	require.Equal(t, first.ID, again.ID, "rejoining reuses the participant")

	roster, err := h.svc.Participants(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
}

func TestJoinReactivatesInactiveConduct(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))

	h.clock.Advance(25 * time.Hour)
	stale, err := h.svc.StaleConducts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	deactivated, err := h.svc.DeactivateIfIdle(ctx, stale[0])
	require.NoError(t, err)
	require.True(t, deactivated)

	c, err := h.svc.Conduct(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ConductInactive, c.Status)
	require.Equal(t, domain.ActionConductDeactivated, h.history(t)[0].Action)

	h.join(t, "late", domain.RoleTrainer)
	c, err = h.svc.Conduct(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ConductActive, c.Status)
	require.Equal(t, h.clock.Now(), c.LastActivityAt)
	require.Contains(t, actions(h.history(t)), domain.ActionConductReactivated)
}

func TestInactivityKeepsConductWithRestingParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	_, caller := h.join(t, "rest", domain.RoleTrainer)
	_, _, err := h.svc.StartRest(ctx, h.conduct.ID, "rest", caller)
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	stale, err := h.svc.StaleConducts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	deactivated, err := h.svc.DeactivateIfIdle(ctx, stale[0])
	require.NoError(t, err)
	require.False(t, deactivated)

	c, err := h.svc.Conduct(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ConductActive, c.Status)
}

func TestDeactivationLosesToJoinAfterScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))

	h.clock.Advance(25 * time.Hour)
	stale, err := h.svc.StaleConducts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	h.join(t, "idle-joiner", domain.RoleTrainer)

	deactivated, err := h.svc.DeactivateIfIdle(ctx, stale[0])
	require.NoError(t, err)
	require.False(t, deactivated)

	c, err := h.svc.Conduct(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ConductActive, c.Status)
	require.Equal(t, h.clock.Now(), c.LastActivityAt, "join refresh survives the sweep")
	require.NotContains(t, actions(h.history(t)), domain.ActionConductDeactivated)
}

func TestDeactivationLosesToWorkStartAfterScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	p, caller := h.join(t, "alex", domain.RoleTrainer)

	h.clock.Advance(25 * time.Hour)
	stale, err := h.svc.StaleConducts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = h.svc.StartWork(ctx, p.ID, zone.White, caller)
	require.NoError(t, err)

	deactivated, err := h.svc.DeactivateIfIdle(ctx, stale[0])
	require.NoError(t, err)
	require.False(t, deactivated)

	c, err := h.svc.Conduct(ctx, h.conduct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ConductActive, c.Status)
}

func TestRemoveParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	_, trainerCaller := h.join(t, "gone", domain.RoleTrainer)
	_, boss := h.join(t, "boss", domain.RoleConductingBody)

	require.ErrorIs(t, h.svc.RemoveParticipant(ctx, h.conduct.ID, "boss", trainerCaller), domain.ErrNotSupervisor)
	require.ErrorIs(t, h.svc.RemoveParticipant(ctx, h.conduct.ID, "boss", boss), domain.ErrProtectedParticipant)
	require.ErrorIs(t, h.svc.RemoveParticipant(ctx, h.conduct.ID, "nobody", boss), domain.ErrParticipantNotFound)

	require.NoError(t, h.svc.RemoveParticipant(ctx, h.conduct.ID, "gone", boss))
	_, err := h.svc.GetState(ctx, h.conduct.ID, "gone")
	require.ErrorIs(t, err, domain.ErrNotFound)

	entry := h.history(t)[0]
	require.Equal(t, domain.ActionUserRemoved, entry.Action)
	require.Equal(t, "Removed from conduct by boss", entry.Details)
	require.Equal(t, 1, h.countEvents(events.TypeParticipantRemoved))
}

func TestHistoryPagination(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	for i := 0; i < 5; i++ {
		h.join(t, fmt.Sprintf("t%d", i), domain.RoleTrainer)
	}

	page, next, err := h.svc.History(ctx, h.conduct.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	require.Equal(t, "t4", page[0].Username)

	var seen []string
	for _, e := range page {
		seen = append(seen, e.Username)
	}
	for next != nil {
		page, next, err = h.svc.History(ctx, h.conduct.ID, next, 2)
		require.NoError(t, err)
		for _, e := range page {
			seen = append(seen, e.Username)
		}
	}
	require.Equal(t, []string{"t4", "t3", "t2", "t1", "t0"}, seen)
}

func TestTransitionInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	h := newHarness(t, day(6, 0, 0), domain.WithInvalidator(inv))
	p, caller := h.join(t, "c", domain.RoleTrainer)
	inv.keys = nil

	_, err := h.svc.StartWork(ctx, p.ID, zone.White, caller)
	require.NoError(t, err)
	require.Equal(t, []string{p.ID}, inv.keys)
}

func TestFallbackWritesAuditAndStateSeparately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	p, caller := h.join(t, "f", domain.RoleTrainer)
	h.store.failTransition = true

	before := testutil.ToFloat64(observability.FallbackCounter().WithLabelValues("split"))
	updated, err := h.svc.StartWork(ctx, p.ID, zone.Green, caller)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseWorking, updated.Phase)
	require.InDelta(t, before+1, testutil.ToFloat64(observability.FallbackCounter().WithLabelValues("split")), 0.0001)

	require.Equal(t, domain.PhaseWorking, h.state(t, p.ID).Phase)
	require.Equal(t, domain.ActionStartWork, h.history(t)[0].Action)
	require.Equal(t, 2, h.countEvents(events.TypeParticipantUpdated), "join snapshot plus the fallback snapshot")
}

func TestFallbackFavoursStateOverAudit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	p, caller := h.join(t, "f", domain.RoleTrainer)
	h.store.failTransition = true
	h.store.failAudit = true

	_, err := h.svc.StartWork(ctx, p.ID, zone.Green, caller)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseWorking, h.state(t, p.ID).Phase)
	require.Equal(t, domain.ActionUserJoined, h.history(t)[0].Action)
}

func TestFallbackAuditOnlyLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	p, caller := h.join(t, "f", domain.RoleTrainer)
	h.store.failTransition = true
	h.store.failState = true
	pending := h.countEvents(events.TypeParticipantUpdated)

	_, err := h.svc.StartWork(ctx, p.ID, zone.Green, caller)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, h.state(t, p.ID).Phase)
	require.Equal(t, domain.ActionStartWork, h.history(t)[0].Action)
	require.Equal(t, pending, h.countEvents(events.TypeParticipantUpdated), "no snapshot for a state that never landed")
}

func TestFallbackFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, day(6, 0, 0))
	p, caller := h.join(t, "f", domain.RoleTrainer)
	h.store.failTransition = true
	h.store.failAudit = true
	h.store.failState = true

	_, err := h.svc.StartWork(ctx, p.ID, zone.Green, caller)
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Equal(t, domain.ErrStorage, domain.Kind(err))
}

// flakyStore fails selected writes of the wrapped memory store.
type flakyStore struct {
	*memory.Store
	failTransition bool
	failAudit      bool
	failState      bool
}

func (f *flakyStore) Transition(ctx context.Context, participantID string, fn domain.TransitionFunc) (*domain.Commit, error) {
	if !f.failTransition {
		return f.Store.Transition(ctx, participantID, fn)
	}
	current, err := f.Store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrParticipantNotFound
	}
	c, err := fn(*current)
	if err != nil {
		return nil, err
	}
	return c, fmt.Errorf("%w: connection reset", domain.ErrStorage)
}

func (f *flakyStore) AppendActivity(ctx context.Context, entry domain.ActivityEntry, evts ...domain.Event) error {
	if f.failAudit {
		return errors.New("audit table unavailable")
	}
	return f.Store.AppendActivity(ctx, entry, evts...)
}

func (f *flakyStore) SaveParticipant(ctx context.Context, p domain.Participant) error {
	if f.failState {
		return errors.New("participants table unavailable")
	}
	return f.Store.SaveParticipant(ctx, p)
}

type recordingInvalidator struct {
	keys []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

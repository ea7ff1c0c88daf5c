package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"controlroom/internal/archive"
	"controlroom/internal/auth"
	"controlroom/internal/infra/persistence/memory"
	"controlroom/internal/logger"
	"controlroom/internal/notifier"
	"controlroom/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var operator = domain.Operator{Name: "Sam Carter", ID: "C-101"}

type recordingSink struct {
	mu   sync.Mutex
	msgs []notifier.Message
}

func (r *recordingSink) Notify(_ context.Context, msg notifier.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSink) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Title)
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memory.Store
	sink  *recordingSink
	arch  *archive.Memory
	clock *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	sink := &recordingSink{}
	arch := archive.NewMemory()
	var seq int
	svc := NewService(store, Options{
		Now:      clock.Now,
		NewID:    func() string { seq++; return "id-" + strconv.Itoa(seq) },
		Notifier: sink,
		Archiver: archive.NewArchiver(arch),
		Gate:     auth.NewGate("1234"),
		Logger:   logger.Discard(),
	})
	return &fixture{svc: svc, store: store, sink: sink, arch: arch, clock: clock}
}

func (f *fixture) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	return snap
}

func (f *fixture) cad(t *testing.T, grading domain.Grading) domain.CAD {
	t.Helper()
	cad, err := f.svc.CreateCAD(context.Background(), operator, NewCAD{
		Type:        "ROAD TRAFFIC COLLISION",
		Location:    "A12 northbound",
		Grading:     grading,
		Description: "Two vehicles, one on its roof",
		Channel:     "OPS1",
	})
	require.NoError(t, err)
	return cad
}

func (f *fixture) unit(t *testing.T, callsign string) domain.Unit {
	t.Helper()
	unit, err := f.svc.CreateUnit(context.Background(), operator, NewUnit{Callsign: callsign, Type: "IRV", Crew: "PC Reed"})
	require.NoError(t, err)
	return unit
}

func requireInvariants(t *testing.T, snap domain.Snapshot) {
	t.Helper()
	require.Empty(t, domain.CheckInvariants(snap))
}

func TestAssignThenEndCallScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cad := f.cad(t, domain.GradingImmediate)
	unit := f.unit(t, "alpha1")
	assert.Equal(t, "ALPHA1", unit.Callsign)
	assert.Equal(t, domain.UnitStatusAvailable, unit.Status)

	require.NoError(t, f.svc.AssignUnit(ctx, operator, cad.Reference, "ALPHA1"))
	snap := f.snapshot(t)
	got, _ := snap.FindCAD(cad.Reference)
	assert.Equal(t, []string{"ALPHA1"}, got.AssignedUnits)
	u, _ := snap.FindUnit("ALPHA1")
	assert.Equal(t, domain.UnitStatusEnRoute, u.Status)

	closed, err := f.svc.EndCall(ctx, operator, cad.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.CADStatusClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
	assert.Empty(t, closed.AssignedUnits)

	snap = f.snapshot(t)
	u, _ = snap.FindUnit("ALPHA1")
	assert.Equal(t, domain.UnitStatusAvailable, u.Status)
	requireInvariants(t, snap)

	keys, err := f.arch.List(ctx, "cads/2025/03/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, f.sink.titles(), "✅ CAD Closed")
}

func TestAssignRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.cad(t, domain.GradingDelayed)
	b := f.cad(t, domain.GradingStandard)
	f.unit(t, "A1")

	var notFound *domain.NotFoundError
	require.ErrorAs(t, f.svc.AssignUnit(ctx, operator, a.Reference, "GHOST"), &notFound)
	assert.Equal(t, domain.EntityUnit, notFound.Entity)
	require.ErrorAs(t, f.svc.AssignUnit(ctx, operator, "999999/070325", "A1"), &notFound)

	require.NoError(t, f.svc.AssignUnit(ctx, operator, a.Reference, "A1"))
	err := f.svc.AssignUnit(ctx, operator, a.Reference, "a1")
	assert.True(t, errors.Is(err, &domain.ValidationError{Reason: domain.ReasonDuplicate}), "got %v", err)

	var transition *domain.TransitionError
	require.ErrorAs(t, f.svc.AssignUnit(ctx, operator, b.Reference, "A1"), &transition)

	_, err = f.svc.EndCall(ctx, operator, b.Reference)
	require.NoError(t, err)
	f.unit(t, "A2")
	require.ErrorAs(t, f.svc.AssignUnit(ctx, operator, b.Reference, "A2"), &transition)
	requireInvariants(t, f.snapshot(t))
}

func TestAvailableIffUnassignedUnderRandomSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var refs []string
	for i := 0; i < 3; i++ {
		refs = append(refs, f.cad(t, domain.GradingStandard).Reference)
	}
	callsigns := []string{"A1", "A2", "B1", "B2"}
	for _, cs := range callsigns {
		f.unit(t, cs)
	}

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 200; step++ {
		ref := refs[rng.Intn(len(refs))]
		cs := callsigns[rng.Intn(len(callsigns))]
		if rng.Intn(2) == 0 {
			_ = f.svc.AssignUnit(ctx, operator, ref, cs)
		} else {
			_ = f.svc.UnassignUnit(ctx, operator, ref, cs)
		}
		snap := f.snapshot(t)
		index := snap.AssignmentIndex()
		for _, u := range snap.Units {
			_, assigned := index[u.Callsign]
			require.Equal(t, !assigned, u.Status == domain.UnitStatusAvailable, "step %d unit %s", step, u.Callsign)
		}
	}
}

func TestCloseAndDeleteReleaseExactlyAssignedUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingImmediate)
	y := f.cad(t, domain.GradingDelayed)
	for _, cs := range []string{"A1", "A2", "A3", "B1"} {
		f.unit(t, cs)
	}
	for _, cs := range []string{"A1", "A2", "A3"} {
		require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, cs))
	}
	require.NoError(t, f.svc.AssignUnit(ctx, operator, y.Reference, "B1"))

	require.NoError(t, f.svc.DeleteCAD(ctx, operator, x.Reference))
	snap := f.snapshot(t)
	_, ok := snap.FindCAD(x.Reference)
	assert.False(t, ok)
	for _, cs := range []string{"A1", "A2", "A3"} {
		u, _ := snap.FindUnit(cs)
		assert.Equal(t, domain.UnitStatusAvailable, u.Status, cs)
	}
	b1, _ := snap.FindUnit("B1")
	assert.Equal(t, domain.UnitStatusEnRoute, b1.Status)
	requireInvariants(t, snap)

	_, err := f.svc.EndCall(ctx, operator, y.Reference)
	require.NoError(t, err)
	_, err = f.svc.EndCall(ctx, operator, y.Reference)
	var transition *domain.TransitionError
	assert.ErrorAs(t, err, &transition)
	requireInvariants(t, f.snapshot(t))
}

func TestDeleteUnitStripsEveryCAD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingImmediate)
	f.unit(t, "A1")
	f.unit(t, "A2")
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A1"))
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A2"))

	require.NoError(t, f.svc.DeleteUnit(ctx, operator, "A1"))
	snap := f.snapshot(t)
	got, _ := snap.FindCAD(x.Reference)
	assert.Equal(t, []string{"A2"}, got.AssignedUnits)
	_, ok := snap.FindUnit("A1")
	assert.False(t, ok)
	requireInvariants(t, snap)
}

func TestBulkRemoveScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingDelayed)
	f.unit(t, "A1")
	f.unit(t, "A2")
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A1"))
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A2"))

	require.NoError(t, f.svc.RemoveUnits(ctx, operator, []string{"A1"}))
	snap := f.snapshot(t)
	got, _ := snap.FindCAD(x.Reference)
	assert.Equal(t, []string{"A2"}, got.AssignedUnits)
	_, ok := snap.FindUnit("A1")
	assert.False(t, ok)
	a2, _ := snap.FindUnit("A2")
	assert.Equal(t, domain.UnitStatusEnRoute, a2.Status)
	requireInvariants(t, snap)
}

func TestBulkRemoveContinuesPastUnknownCallsigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.unit(t, "A1")
	f.unit(t, "A2")

	err := f.svc.RemoveUnits(ctx, operator, []string{"A1", "GHOST", "a2"})
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "GHOST", notFound.Key)
	assert.Empty(t, f.snapshot(t).Units)
}

// flakyStore fails unit deletions, leaving the cascade to run around them.
type flakyStore struct {
	*memory.Store
}

func (flakyStore) DeleteUnit(context.Context, string) error {
	return errors.New("disk full")
}

func TestBulkRemoveStripsAssignmentsEvenWhenDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingDelayed)
	f.unit(t, "A1")
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A1"))

	svc := NewService(flakyStore{f.store}, Options{Logger: logger.Discard()})
	err := svc.RemoveUnits(ctx, operator, []string{"A1"})
	require.Error(t, err)
	got, _ := f.snapshot(t).FindCAD(x.Reference)
	assert.Empty(t, got.AssignedUnits)
}

// batchStore applies each mutation as one batch and records its size.
type batchStore struct {
	*memory.Store
	batches [][]domain.Change
}

func (b *batchStore) ApplyChanges(ctx context.Context, changes []domain.Change) error {
	b.batches = append(b.batches, changes)
	for _, c := range changes {
		var err error
		switch {
		case c.Entity == domain.EntityCAD && c.Action == domain.ActionDelete:
			err = b.DeleteCAD(ctx, c.Key)
		case c.Entity == domain.EntityCAD:
			err = b.SaveCAD(ctx, c.After.(domain.CAD))
		case c.Action == domain.ActionDelete:
			err = b.DeleteUnit(ctx, c.Key)
		default:
			err = b.SaveUnit(ctx, c.After.(domain.Unit))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func TestAssignWritesUnitAndCADInOneBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingImmediate)
	f.unit(t, "A1")

	store := &batchStore{Store: f.store}
	svc := NewService(store, Options{Logger: logger.Discard()})
	require.NoError(t, svc.AssignUnit(ctx, operator, x.Reference, "A1"))

	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
	got, _ := f.snapshot(t).FindCAD(x.Reference)
	assert.Equal(t, []string{"A1"}, got.AssignedUnits)
}

func TestReferencesStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]struct{})
	prev := 0
	for i := 0; i < 10; i++ {
		cad := f.cad(t, domain.GradingStandard)
		n, err := domain.ParseReferenceNumber(cad.Reference)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
		_, dup := seen[cad.Reference]
		assert.False(t, dup)
		seen[cad.Reference] = struct{}{}
	}
	assert.Equal(t, "000001/070325", f.snapshot(t).CADs[0].Reference)
	assert.Equal(t, 11, f.snapshot(t).NextCADNumber)
}

func TestCounterSeedsFromPersistedState(t *testing.T) {
	f := newFixture(t)
	f.store.ImportState(domain.Snapshot{
		CADs:          []domain.CAD{{Reference: "000040/060325", Type: "x", Location: "y", Grading: domain.GradingStandard, Description: "z", Status: domain.CADStatusOnScene}},
		NextCADNumber: 12,
	})
	cad := f.cad(t, domain.GradingStandard)
	assert.Equal(t, "000041/070325", cad.Reference)

	f.svc.SyncCounter(100)
	f.svc.SyncCounter(50)
	assert.Equal(t, 100, f.svc.NextCADNumber())
}

func TestCreateCADValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCAD(context.Background(), operator, NewCAD{Type: "ASSAULT", Grading: "URGENT"})
	require.True(t, domain.IsValidation(err))
	assert.True(t, errors.Is(err, &domain.ValidationError{Field: "location", Reason: domain.ReasonMissing}))
	assert.True(t, errors.Is(err, &domain.ValidationError{Field: "grading", Reason: domain.ReasonInvalid}))
	assert.Empty(t, f.snapshot(t).CADs)
	assert.Equal(t, 1, f.svc.NextCADNumber())
}

func TestUpdateUnitStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingImmediate)
	f.unit(t, "A1")
	f.unit(t, "A2")
	require.NoError(t, f.svc.AssignUnit(ctx, operator, x.Reference, "A1"))

	onScene := domain.UnitStatusOnScene
	available := domain.UnitStatusAvailable
	notes := "  Requesting dog unit "
	u, err := f.svc.UpdateUnit(ctx, operator, "A1", UnitEdit{Status: &onScene, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusOnScene, u.Status)
	assert.Equal(t, "Requesting dog unit", u.Notes)

	var transition *domain.TransitionError
	_, err = f.svc.UpdateUnit(ctx, operator, "A1", UnitEdit{Status: &available})
	require.ErrorAs(t, err, &transition)
	_, err = f.svc.UpdateUnit(ctx, operator, "A2", UnitEdit{Status: &onScene})
	require.ErrorAs(t, err, &transition)

	bogus := domain.UnitStatus("LUNCH")
	_, err = f.svc.UpdateUnit(ctx, operator, "A1", UnitEdit{Status: &bogus})
	assert.True(t, domain.IsValidation(err))

	emptyCrew := " "
	_, err = f.svc.UpdateUnit(ctx, operator, "A2", UnitEdit{Crew: &emptyCrew})
	assert.True(t, errors.Is(err, &domain.ValidationError{Field: "crew", Reason: domain.ReasonMissing}))
	requireInvariants(t, f.snapshot(t))
}

func TestCreateUnitRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.unit(t, "ALPHA1")
	_, err := f.svc.CreateUnit(context.Background(), operator, NewUnit{Callsign: " alpha1", Type: "ARV", Crew: "PC Hale"})
	assert.True(t, errors.Is(err, &domain.ValidationError{Reason: domain.ReasonDuplicate}))
	assert.Len(t, f.snapshot(t).Units, 1)
}

func TestCommentsAndGrading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingStandard)

	require.NoError(t, f.svc.AddComment(ctx, operator, x.Reference, "Caller called back"))
	require.NoError(t, f.svc.AddComment(ctx, operator, x.Reference, "Second update"))
	assert.True(t, domain.IsValidation(f.svc.AddComment(ctx, operator, x.Reference, "   ")))
	require.NoError(t, f.svc.SetGrading(ctx, operator, x.Reference, domain.GradingImmediate))

	got, _ := f.snapshot(t).FindCAD(x.Reference)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "Caller called back", got.Comments[0].Text)
	assert.Equal(t, operator.Name, got.Comments[0].Operator)
	assert.Equal(t, domain.GradingImmediate, got.Grading)

	_, err := f.svc.EndCall(ctx, operator, x.Reference)
	require.NoError(t, err)
	var transition *domain.TransitionError
	assert.ErrorAs(t, f.svc.SetGrading(ctx, operator, x.Reference, domain.GradingDelayed), &transition)
}

func TestBookOnGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookOn(ctx, "0000", "Sam Carter", "C-101")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, f.snapshot(t).Operators)
	assert.Empty(t, f.sink.titles())

	op, err := f.svc.BookOn(ctx, "1234", "Sam Carter", "C-101")
	require.NoError(t, err)
	assert.Len(t, f.snapshot(t).Operators, 1)
	assert.Equal(t, []string{"👮 Operator Booked On"}, f.sink.titles())

	require.NoError(t, f.svc.Heartbeat(ctx, op))
	require.NoError(t, f.svc.BookOff(ctx, op))
	assert.Empty(t, f.snapshot(t).Operators)

	_, err = f.svc.BookOn(ctx, "1234", "", "")
	assert.True(t, domain.IsValidation(err))

	_, err = NewService(f.store, Options{}).BookOn(ctx, "1234", "x", "y")
	assert.ErrorIs(t, err, ErrNoGate)
}

func TestRunHeartbeatStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunHeartbeat(ctx, operator, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(f.snapshot(t).Operators) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestForms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.cad(t, domain.GradingImmediate)

	rec, err := f.svc.LogCallTaking(ctx, operator, domain.CallTakingRecord{
		ReceivedTime:    time.Now(),
		ServiceRequired: domain.ServiceAmbulance,
		Location:        "Harbour Road",
		CADRef:          x.Reference,
		Ambulance:       &domain.AmbulanceDetails{Conscious: "YES", Breathing: "YES"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FormCallTaking, rec.Kind)
	assert.NotEmpty(t, rec.ID)

	_, err = f.svc.LogCallTaking(ctx, operator, domain.CallTakingRecord{ReceivedTime: time.Now(), ServiceRequired: domain.ServiceFire, Location: "x", CADRef: "000999/010101"})
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = f.svc.LogIncident(ctx, operator, domain.IncidentLog{DateTime: time.Now(), Type: "PATROL", Location: "Town centre"})
	assert.True(t, errors.Is(err, &domain.ValidationError{Field: "description", Reason: domain.ReasonMissing}))

	_, err = f.svc.LogMajorIncident(ctx, operator, domain.MajorIncident{
		Name: "Op Harbour", DateTime: time.Now(), Commander: "Insp Grey", Location: "Docks", Type: "FLOOD", Severity: "MAJOR",
	})
	require.NoError(t, err)
	assert.Len(t, f.snapshot(t).Forms, 2)
}

func TestWebhookFailureNeverFailsMutation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := memory.NewStore()
	hook := notifier.NewWebhook(srv.URL, notifier.WebhookOptions{
		MaxRetries: 1,
		Backoff:    func(int) time.Duration { return time.Millisecond },
	})
	svc := NewService(store, Options{Notifier: hook, Logger: logger.Discard()})
	_, err := svc.CreateCAD(context.Background(), operator, NewCAD{Type: "THEFT", Location: "Market", Grading: domain.GradingStandard, Description: "Bike stolen"})
	require.NoError(t, err)
	hook.Close()

	assert.Equal(t, int32(2), hits.Load())
	snap, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.CADs, 1)
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block_all" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "frozen"}}}, nil
}

func TestBlockingRulePreventsWrites(t *testing.T) {
	store := memory.NewStore()
	rules := DefaultRules()
	rules.Register(blockingRule{})
	svc := NewService(store, Options{Rules: rules, Logger: logger.Discard()})
	_, err := svc.CreateUnit(context.Background(), operator, NewUnit{Callsign: "A1", Type: "IRV", Crew: "PC Reed"})
	var blocked domain.RuleViolationError
	require.ErrorAs(t, err, &blocked)
	snap, _ := store.LoadAll(context.Background())
	assert.Empty(t, snap.Units)
}

func TestLifecycleRuleBlocksReopening(t *testing.T) {
	end := time.Now()
	closed := domain.CAD{Reference: "1", Status: domain.CADStatusClosed, EndTime: &end}
	reopened := closed.Clone()
	reopened.Status = domain.CADStatusOnScene
	res, err := LifecycleTransitionRule().Evaluate(context.Background(), domain.Snapshot{}, []domain.Change{
		{Entity: domain.EntityCAD, Action: domain.ActionUpdate, Key: "1", Before: closed, After: reopened},
		{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Key: "A1", After: domain.Unit{Callsign: "A1", Status: "LUNCH"}},
		{Entity: domain.EntityCAD, Action: domain.ActionDelete, Key: "1", Before: closed},
	})
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	for _, v := range res.Violations {
		assert.Equal(t, domain.SeverityBlock, v.Severity, fmt.Sprint(v))
	}
}

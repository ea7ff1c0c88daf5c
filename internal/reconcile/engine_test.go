package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"controlroom/internal/infra/persistence/memory"
	"controlroom/internal/logger"
	"controlroom/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRenderer struct {
	mu      sync.Mutex
	lists   []View
	details []string
	closed  []string
}

func (r *recordingRenderer) RenderLists(view View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, view)
}

func (r *recordingRenderer) RenderDetail(cad domain.CAD, _ []domain.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = append(r.details, cad.Reference)
}

func (r *recordingRenderer) CloseDetail(reference string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, reference)
}

func (r *recordingRenderer) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.ImportState(domain.Snapshot{
		CADs: []domain.CAD{{
			Reference:     "000001/010125",
			Type:          "ASSAULT",
			Location:      "Station Square",
			Grading:       domain.GradingImmediate,
			Description:   "Fight outside pub",
			Status:        domain.CADStatusOnScene,
			StartTime:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			AssignedUnits: []string{"ALPHA1"},
		}},
		Units: []domain.Unit{
			{Callsign: "ALPHA1", Type: "IRV", Crew: "PC Reed", Status: domain.UnitStatusEnRoute},
			{Callsign: "BRAVO2", Type: "ARV", Crew: "PC Hale", Status: domain.UnitStatusAvailable},
		},
		NextCADNumber: 2,
	})
	return store
}

func newEngine(store *memory.Store, r Renderer) *Engine {
	return New(store, store, r, Options{Logger: logger.Discard()})
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := seededStore()
	r := &recordingRenderer{}
	e := newEngine(store, r)
	ctx := context.Background()

	out, err := e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRendered, out)
	first := e.View()

	out, err = e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out)
	assert.Equal(t, 1, r.listCount())
	assert.Equal(t, first, e.View())
}

func TestReconcileNormalizesView(t *testing.T) {
	store := seededStore()
	e := newEngine(store, &recordingRenderer{})
	_, err := e.Reconcile(context.Background())
	require.NoError(t, err)

	view := e.View()
	assert.Equal(t, uint64(1), view.Version)
	assert.Len(t, view.OpenCADs, 1)
	assert.Equal(t, "000001/010125", view.AssignmentIndex["ALPHA1"])
	require.Len(t, view.AvailableUnits, 1)
	assert.Equal(t, "BRAVO2", view.AvailableUnits[0].Callsign)
	assert.Empty(t, view.Warnings)
}

func TestReconcileCollectsInvariantWarnings(t *testing.T) {
	store := seededStore()
	require.NoError(t, store.SaveUnit(context.Background(), domain.Unit{Callsign: "ALPHA1", Type: "IRV", Crew: "PC Reed", Status: domain.UnitStatusAvailable}))
	e := newEngine(store, &recordingRenderer{})
	out, err := e.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRendered, out)
	assert.NotEmpty(t, e.View().Warnings)
}

func TestFormContextDefersListsUntilClosed(t *testing.T) {
	store := seededStore()
	r := &recordingRenderer{}
	e := newEngine(store, r)
	ctx := context.Background()
	_, err := e.Reconcile(ctx)
	require.NoError(t, err)

	e.OpenForm()
	require.NoError(t, store.SaveUnit(ctx, domain.Unit{Callsign: "CHARLIE3", Type: "DOG", Crew: "PC Vale", Status: domain.UnitStatusAvailable}))
	out, err := e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, out)
	assert.Equal(t, 1, r.listCount())
	assert.Len(t, e.View().Snapshot.Units, 3, "state refreshes even while a form is open")

	e.CloseContext()
	assert.Equal(t, 2, r.listCount())
	assert.Equal(t, ContextNone, e.Context().Kind)
}

func TestDetailContextRendersDetailOnly(t *testing.T) {
	store := seededStore()
	r := &recordingRenderer{}
	e := newEngine(store, r)
	ctx := context.Background()
	_, err := e.Reconcile(ctx)
	require.NoError(t, err)

	e.OpenDetail("000001/010125")
	require.Equal(t, []string{"000001/010125"}, r.details)

	cad, _ := e.View().Snapshot.FindCAD("000001/010125")
	cad.Comments = append(cad.Comments, domain.Comment{Operator: "Sam", Text: "Ambulance requested"})
	require.NoError(t, store.SaveCAD(ctx, cad))

	out, err := e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDetail, out)
	assert.Len(t, r.details, 2)
	assert.Equal(t, 1, r.listCount())
}

func TestDetailClosedWhenCADDeletedElsewhere(t *testing.T) {
	store := seededStore()
	r := &recordingRenderer{}
	e := newEngine(store, r)
	ctx := context.Background()
	_, err := e.Reconcile(ctx)
	require.NoError(t, err)
	e.OpenDetail("000001/010125")

	require.NoError(t, store.DeleteCAD(ctx, "000001/010125"))
	out, err := e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
	assert.Equal(t, []string{"000001/010125"}, r.closed)
	assert.Equal(t, ContextNone, e.Context().Kind)
	assert.Equal(t, 2, r.listCount())
}

type failingStore struct {
	*memory.Store
}

func (failingStore) LoadAll(context.Context) (domain.Snapshot, error) {
	return domain.Snapshot{}, domain.ErrStorageUnavailable
}

func TestReconcileSurfacesLoadErrors(t *testing.T) {
	e := New(failingStore{memory.NewStore()}, nil, &recordingRenderer{}, Options{})
	out, err := e.Reconcile(context.Background())
	assert.Equal(t, OutcomeError, out)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
	assert.Error(t, e.Run(context.Background()))
}

func TestRunReactsToSignals(t *testing.T) {
	store := seededStore()
	r := &recordingRenderer{}
	e := newEngine(store, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return r.listCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, store.SaveUnit(ctx, domain.Unit{Callsign: "DELTA4", Type: "IRV", Crew: "PC Stone", Status: domain.UnitStatusAvailable}))
	require.Eventually(t, func() bool { return r.listCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, e.View().Snapshot.Units, 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type stalledStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s stalledStore) LoadAll(ctx context.Context) (domain.Snapshot, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.LoadAll(ctx)
}

func TestUIContextUsableWhileLoadInFlight(t *testing.T) {
	store := stalledStore{Store: seededStore(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := &recordingRenderer{}
	e := New(store, nil, r, Options{Logger: logger.Discard()})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Reconcile(context.Background())
		done <- out
	}()
	<-store.entered

	returned := make(chan struct{})
	go func() {
		e.OpenForm()
		_ = e.View()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("OpenForm blocked behind an in-flight load")
	}
	assert.Equal(t, ContextForm, e.Context().Kind)

	close(store.release)
	assert.Equal(t, OutcomeDeferred, <-done)
	assert.Equal(t, 0, r.listCount())
	assert.Equal(t, uint64(1), e.View().Version)
}

package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"controlroom/pkg/domain"
)

func openStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(path, opts...)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)

	cad := domain.CAD{Reference: "000001/010125", Type: "RTC", Grading: domain.GradingImmediate, Status: domain.CADStatusOnScene, AssignedUnits: []string{"ALPHA1"}}
	if err := store.SaveCAD(ctx, cad); err != nil {
		t.Fatalf("save cad: %v", err)
	}
	if err := store.SaveUnit(ctx, domain.Unit{Callsign: "ALPHA1", Type: "ARV", Crew: "2", Status: domain.UnitStatusEnRoute}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	if err := store.SaveCounter(ctx, 2); err != nil {
		t.Fatalf("save counter: %v", err)
	}
	if err := store.AppendForm(ctx, domain.FormRecord{ID: "f1", Kind: domain.FormIncidentLog}); err != nil {
		t.Fatalf("append form: %v", err)
	}

	reloaded := openStore(t, path)
	snap, err := reloaded.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.CADs) != 1 || snap.CADs[0].AssignedUnits[0] != "ALPHA1" {
		t.Fatalf("unexpected cads %+v", snap.CADs)
	}
	if len(snap.Units) != 1 || snap.Units[0].Status != domain.UnitStatusEnRoute {
		t.Fatalf("unexpected units %+v", snap.Units)
	}
	if snap.NextCADNumber != 2 || len(snap.Forms) != 1 {
		t.Fatalf("unexpected counter/forms: %d %d", snap.NextCADNumber, len(snap.Forms))
	}
}

func TestSQLiteUpsertAndDeleteByNaturalKey(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))

	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A1", Status: domain.UnitStatusAvailable})
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A2", Status: domain.UnitStatusAvailable})
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A1", Status: domain.UnitStatusEnRoute, Notes: "updated"})
	units, err := store.GetUnits(ctx)
	if err != nil {
		t.Fatalf("get units: %v", err)
	}
	if len(units) != 2 || units[0].Notes != "updated" {
		t.Fatalf("expected in-place upsert, got %+v", units)
	}
	if err := store.DeleteUnit(ctx, "A1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteUnit(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing unit should be a no-op: %v", err)
	}
	units, _ = store.GetUnits(ctx)
	if len(units) != 1 || units[0].Callsign != "A2" {
		t.Fatalf("unexpected units after delete %+v", units)
	}

	_ = store.SaveCAD(ctx, domain.CAD{Reference: "000001/010125"})
	_ = store.DeleteCAD(ctx, "000001/010125")
	if cads, _ := store.GetCADs(ctx); len(cads) != 0 {
		t.Fatalf("expected no cads, got %+v", cads)
	}
}

func TestSQLiteCounterNeverDecreases(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	_ = store.SaveCounter(ctx, 7)
	_ = store.SaveCounter(ctx, 3)
	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.NextCADNumber != 7 {
		t.Fatalf("expected 7, got %d", snap.NextCADNumber)
	}
}

func TestSQLiteOperatorsRecency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"), WithClock(func() time.Time { return now }))
	_ = store.SaveOperator(ctx, domain.Operator{Name: "Old", ID: "1", LastSeen: now.Add(-time.Hour)})
	_ = store.SaveOperator(ctx, domain.Operator{Name: "New", ID: "2"})
	ops, err := store.GetOperators(ctx)
	if err != nil {
		t.Fatalf("get operators: %v", err)
	}
	if len(ops) != 1 || ops[0].Name != "New" {
		t.Fatalf("unexpected operators %+v", ops)
	}
	_ = store.RemoveOperator(ctx, "New")
	if ops, _ := store.GetOperators(ctx); len(ops) != 0 {
		t.Fatalf("expected none on duty, got %+v", ops)
	}
}

func TestSQLiteSyncTokenMonotonic(t *testing.T) {
	ctx := context.Background()
	fixed := time.Unix(100, 0)
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"), WithClock(func() time.Time { return fixed }))
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A1"})
	first, _ := store.Token(ctx)
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A2"})
	second, _ := store.Token(ctx)
	if first == 0 || second <= first {
		t.Fatalf("token must increase even with a frozen clock: %d then %d", first, second)
	}
}

func TestSQLiteConcurrentWindowsWriteWithoutLocking(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	windows := []*Store{openStore(t, path), openStore(t, path)}

	const perWindow = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for w, store := range windows {
		wg.Add(1)
		go func(w int, store *Store) {
			defer wg.Done()
			for i := 0; i < perWindow; i++ {
				unit := domain.Unit{Callsign: fmt.Sprintf("W%dU%02d", w, i), Type: "IRV", Crew: "1", Status: domain.UnitStatusAvailable}
				if err := store.SaveUnit(ctx, unit); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}(w, store)
	}
	wg.Wait()
	if len(errs) != 0 {
		t.Fatalf("expected no write errors, got %d: %v", len(errs), errs[0])
	}
	units, err := windows[0].GetUnits(ctx)
	if err != nil {
		t.Fatalf("get units: %v", err)
	}
	if len(units) != 2*perWindow {
		t.Fatalf("expected %d units, got %d", 2*perWindow, len(units))
	}
}

func TestSQLiteApplyChangesIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	if err := store.SaveUnit(ctx, domain.Unit{Callsign: "ALPHA1", Type: "IRV", Crew: "1", Status: domain.UnitStatusAvailable}); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	if err := store.SaveUnit(ctx, domain.Unit{Callsign: "BRAVO2", Type: "IRV", Crew: "1", Status: domain.UnitStatusAvailable}); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	before, _ := store.Token(ctx)

	cad := domain.CAD{Reference: "000001/010125", Type: "RTC", Grading: domain.GradingImmediate, Status: domain.CADStatusOnScene, AssignedUnits: []string{"ALPHA1"}}
	err := store.ApplyChanges(ctx, []domain.Change{
		{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Key: "ALPHA1", After: domain.Unit{Callsign: "ALPHA1", Type: "IRV", Crew: "1", Status: domain.UnitStatusEnRoute}},
		{Entity: domain.EntityCAD, Action: domain.ActionCreate, Key: cad.Reference, After: cad},
		{Entity: domain.EntityUnit, Action: domain.ActionDelete, Key: "BRAVO2"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.CADs) != 1 || len(snap.Units) != 1 || snap.Units[0].Status != domain.UnitStatusEnRoute {
		t.Fatalf("unexpected state %+v", snap)
	}
	after, _ := store.Token(ctx)
	if after <= before {
		t.Fatalf("sync token not bumped: %d -> %d", before, after)
	}

	err = store.ApplyChanges(ctx, []domain.Change{
		{Entity: domain.EntityCAD, Action: domain.ActionDelete, Key: cad.Reference},
		{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Key: "ALPHA1", After: "not a unit"},
	})
	if err == nil {
		t.Fatalf("expected payload error")
	}
	snap, _ = store.LoadAll(ctx)
	if len(snap.CADs) != 1 {
		t.Fatalf("failed batch must leave state untouched, got %+v", snap.CADs)
	}
}

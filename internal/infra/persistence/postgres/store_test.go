package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"controlroom/internal/infra/persistence/postgres/testutil"
	"controlroom/pkg/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeListener struct {
	notes  chan *pgconn.Notification
	closed chan struct{}
	once   sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{notes: make(chan *pgconn.Notification, 4), closed: make(chan struct{})}
}

func (f *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("connection closed")
	case n := <-f.notes:
		return n, nil
	}
}

func (f *fakeListener) Close(context.Context) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func newStubStore(t *testing.T, opts Options) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "postgres://stub/controlroom", opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestNewStoreAppliesSchemaAndTriggers(t *testing.T) {
	_, conn := newStubStore(t, Options{})
	joined := strings.Join(conn.Execs, "\n")
	for _, want := range []string{"CREATE TABLE IF NOT EXISTS cads", "CREATE TABLE IF NOT EXISTS operators", "pg_notify", "CREATE TRIGGER units_notify"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected ddl containing %q", want)
		}
	}
}

func TestNewStoreUnavailable(t *testing.T) {
	if _, err := NewStore(context.Background(), "", Options{}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected unavailable for empty dsn, got %v", err)
	}

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://down", Options{ConnectTimeout: 50 * time.Millisecond}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected unavailable for failed ping, got %v", err)
	}

	restoreErr := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("bad dsn") })
	defer restoreErr()
	if _, err := NewStore(context.Background(), "::", Options{}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected unavailable for open failure, got %v", err)
	}
}

func TestStoreRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	store, conn := newStubStore(t, Options{Now: func() time.Time { return now }})

	cad := domain.CAD{Reference: "000001/010225", Type: "ASSAULT", Grading: domain.GradingDelayed, Status: domain.CADStatusOnScene, AssignedUnits: []string{"A1"}}
	if err := store.SaveCAD(ctx, cad); err != nil {
		t.Fatalf("save cad: %v", err)
	}
	cad.Comments = append(cad.Comments, domain.Comment{Operator: "Op", Text: "on route"})
	if err := store.SaveCAD(ctx, cad); err != nil {
		t.Fatalf("resave cad: %v", err)
	}
	if got := len(conn.Rows("cads")); got != 1 {
		t.Fatalf("expected upsert by reference, got %d rows", got)
	}
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "B2", Status: domain.UnitStatusAvailable})
	_ = store.SaveUnit(ctx, domain.Unit{Callsign: "A1", Status: domain.UnitStatusEnRoute})
	_ = store.SaveOperator(ctx, domain.Operator{Name: "Op", ID: "7"})
	_ = store.SaveOperator(ctx, domain.Operator{Name: "Gone", ID: "8", LastSeen: now.Add(-time.Hour)})
	_ = store.SaveCounter(ctx, 4)
	_ = store.AppendForm(ctx, domain.FormRecord{ID: "f-1", Kind: domain.FormMajorIncident, SubmittedAt: now})

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(snap.CADs) != 1 || len(snap.CADs[0].Comments) != 1 {
		t.Fatalf("unexpected cads %+v", snap.CADs)
	}
	if len(snap.Units) != 2 || snap.Units[0].Callsign != "A1" {
		t.Fatalf("expected units sorted by callsign, got %+v", snap.Units)
	}
	if len(snap.Operators) != 1 || snap.Operators[0].Name != "Op" || !snap.Operators[0].LastSeen.Equal(now) {
		t.Fatalf("expected only recent operator, got %+v", snap.Operators)
	}
	if snap.NextCADNumber != 4 || len(snap.Forms) != 1 {
		t.Fatalf("unexpected counter/forms %d/%d", snap.NextCADNumber, len(snap.Forms))
	}

	_ = store.DeleteCAD(ctx, cad.Reference)
	_ = store.DeleteUnit(ctx, "A1")
	_ = store.RemoveOperator(ctx, "Op")
	snap, _ = store.LoadAll(ctx)
	if len(snap.CADs) != 0 || len(snap.Units) != 1 || len(snap.Operators) != 0 {
		t.Fatalf("deletes not applied: %+v", snap)
	}
}

func TestLoadAllPropagatesErrors(t *testing.T) {
	store, conn := newStubStore(t, Options{})
	conn.FailTables = map[string]bool{"units": true}
	if _, err := store.LoadAll(context.Background()); err == nil {
		t.Fatalf("expected load failure")
	}
}

func TestSubscribeForwardsNotificationsAndResyncsAfterReconnect(t *testing.T) {
	first, second := newFakeListener(), newFakeListener()
	var mu sync.Mutex
	listeners := []*fakeListener{first, second}
	listen := func(context.Context, string) (Listener, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(listeners) == 0 {
			return nil, errors.New("no more listeners")
		}
		l := listeners[0]
		listeners = listeners[1:]
		return l, nil
	}
	store, _ := newStubStore(t, Options{Listen: listen})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first.notes <- &pgconn.Notification{Channel: NotifyChannel, Payload: "cads"}
	sig := recv(t, ch)
	if sig.Source != domain.SourceRemoteFeed || sig.Collection != "cads" {
		t.Fatalf("unexpected signal %+v", sig)
	}

	_ = first.Close(context.Background())
	sig = recv(t, ch)
	if sig.Collection != "all" {
		t.Fatalf("expected resync after reconnect, got %+v", sig)
	}
}

func recv(t *testing.T, ch <-chan domain.Signal) domain.Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
	return domain.Signal{}
}

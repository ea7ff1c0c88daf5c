// Package postgres provides the remote store: one JSONB document per record
// keyed by natural key, with a LISTEN/NOTIFY change feed.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"controlroom/internal/infra/persistence/feed"
	"controlroom/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"golang.org/x/sync/errgroup"
)

// Compile-time contract assertions ensuring the store satisfies the domain interfaces.
var (
	_ domain.Store      = (*Store)(nil)
	_ domain.ChangeFeed = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	// NotifyChannel is the LISTEN/NOTIFY channel fed by the collection triggers.
	NotifyChannel = "controlroom_changes"
	counterName   = "nextCadNumber"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cads (
		reference TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		callsign TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		name TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forms (
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE OR REPLACE FUNCTION controlroom_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', TG_TABLE_NAME);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
}

var watchedTables = []string{"cads", "units", "operators", "forms", "counters"}

// Options tunes a Store.
type Options struct {
	ConnectTimeout time.Duration
	Recency        time.Duration
	Now            func() time.Time
	// Listen opens the change-feed connection; defaults to a pgx LISTEN connection.
	Listen ListenFunc
}

// Store persists each record as its own row.
type Store struct {
	db      *sql.DB
	dsn     string
	now     func() time.Time
	recency time.Duration
	listen  ListenFunc

	hub        *feed.Hub
	listenOnce sync.Once
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// NewStore connects to dsn, verifies reachability and ensures the schema.
// Unreachable servers yield an error wrapping domain.ErrStorageUnavailable.
func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty connection string", domain.ErrStorageUnavailable)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Recency <= 0 {
		opts.Recency = domain.DefaultOperatorRecency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Listen == nil {
		opts.Listen = ConnectListener
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrStorageUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrStorageUnavailable, err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		dsn:     dsn,
		now:     opts.Now,
		recency: opts.Recency,
		listen:  opts.Listen,
		hub:     feed.NewHub(),
	}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	for _, table := range watchedTables {
		trigger := table + "_notify"
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, table)); err != nil {
			return fmt.Errorf("drop trigger %s: %w", trigger, err)
		}
		stmt := fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH STATEMENT EXECUTE FUNCTION controlroom_notify()`, trigger, table)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create trigger %s: %w", trigger, err)
		}
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, table, keyCol, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, key, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s(%s,doc) VALUES($1,$2) ON CONFLICT(%s) DO UPDATE SET doc=EXCLUDED.doc`, table, keyCol, keyCol)
	if _, err := s.db.ExecContext(ctx, query, key, string(data)); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, key, err)
	}
	return nil
}

func (s *Store) deleteByKey(ctx context.Context, table, keyCol, key string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, keyCol), key); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, key, err)
	}
	return nil
}

func findAll[T any](ctx context.Context, db *sql.DB, table, keyCol string) ([]T, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, doc FROM %s`, keyCol, table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []T
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var item T
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", table, key, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// SaveCAD upserts by reference.
func (s *Store) SaveCAD(ctx context.Context, cad domain.CAD) error {
	return s.upsert(ctx, "cads", "reference", cad.Reference, cad)
}

// GetCADs returns every CAD ordered by reference.
func (s *Store) GetCADs(ctx context.Context) ([]domain.CAD, error) {
	cads, err := findAll[domain.CAD](ctx, s.db, "cads", "reference")
	if err != nil {
		return nil, err
	}
	sort.Slice(cads, func(i, j int) bool { return cads[i].Reference < cads[j].Reference })
	return cads, nil
}

// DeleteCAD removes a CAD by reference.
func (s *Store) DeleteCAD(ctx context.Context, reference string) error {
	return s.deleteByKey(ctx, "cads", "reference", reference)
}

// SaveUnit upserts by callsign.
func (s *Store) SaveUnit(ctx context.Context, unit domain.Unit) error {
	return s.upsert(ctx, "units", "callsign", unit.Callsign, unit)
}

// GetUnits returns every unit ordered by callsign.
func (s *Store) GetUnits(ctx context.Context) ([]domain.Unit, error) {
	units, err := findAll[domain.Unit](ctx, s.db, "units", "callsign")
	if err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Callsign < units[j].Callsign })
	return units, nil
}

// DeleteUnit removes a unit by callsign.
func (s *Store) DeleteUnit(ctx context.Context, callsign string) error {
	return s.deleteByKey(ctx, "units", "callsign", callsign)
}

// SaveOperator upserts by name, stamping LastSeen when unset.
func (s *Store) SaveOperator(ctx context.Context, op domain.Operator) error {
	if op.LastSeen.IsZero() {
		op.LastSeen = s.now()
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operator %s: %w", op.Name, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO operators(name,doc,last_seen) VALUES($1,$2,$3) ON CONFLICT(name) DO UPDATE SET doc=EXCLUDED.doc, last_seen=EXCLUDED.last_seen`, op.Name, string(data), op.LastSeen); err != nil {
		return fmt.Errorf("upsert operator %s: %w", op.Name, err)
	}
	return nil
}

// GetOperators returns operators seen within the recency window.
func (s *Store) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `SELECT name, doc FROM operators WHERE last_seen >= $1`, now.Add(-s.recency))
	if err != nil {
		return nil, fmt.Errorf("select operators: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Operator
	for rows.Next() {
		var name string
		var doc []byte
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, fmt.Errorf("scan operators: %w", err)
		}
		var op domain.Operator
		if err := json.Unmarshal(doc, &op); err != nil {
			return nil, fmt.Errorf("decode operator %s: %w", name, err)
		}
		if op.OnDuty(now, s.recency) {
			out = append(out, op)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operators: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveOperator deletes the presence record for name.
func (s *Store) RemoveOperator(ctx context.Context, name string) error {
	return s.deleteByKey(ctx, "operators", "name", name)
}

// SaveCounter raises the persisted nextCadNumber.
func (s *Store) SaveCounter(ctx context.Context, next int) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO counters(name,value) VALUES($1,$2) ON CONFLICT(name) DO UPDATE SET value=GREATEST(counters.value, EXCLUDED.value)`, counterName, int64(next)); err != nil {
		return fmt.Errorf("upsert counter: %w", err)
	}
	return nil
}

func (s *Store) counter(ctx context.Context) (int, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = $1`, counterName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select counter: %w", err)
	}
	return int(value), nil
}

// AppendForm stores a submitted form.
func (s *Store) AppendForm(ctx context.Context, form domain.FormRecord) error {
	return s.upsert(ctx, "forms", "id", form.ID, form)
}

// LoadAll reads every collection concurrently.
func (s *Store) LoadAll(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.CADs, err = s.GetCADs(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Units, err = s.GetUnits(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Operators, err = s.GetOperators(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Forms, err = findAll[domain.FormRecord](gctx, s.db, "forms", "id")
		if err == nil {
			sort.SliceStable(snap.Forms, func(i, j int) bool { return snap.Forms[i].SubmittedAt.Before(snap.Forms[j].SubmittedAt) })
		}
		return err
	})
	g.Go(func() (err error) {
		snap.NextCADNumber, err = s.counter(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Close stops the change feed and closes the pool.
func (s *Store) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
	s.hub.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

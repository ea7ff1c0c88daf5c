// Package sqlite provides the local store: one database file shared by every
// window on the same device, holding each collection as a single JSON snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"controlroom/internal/infra/persistence/feed"
	"controlroom/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	_ domain.Store       = (*Store)(nil)
	_ domain.ChangeFeed  = (*Store)(nil)
	_ domain.BatchWriter = (*Store)(nil)
)

// Collection buckets persisted in the state table.
const (
	bucketCADs      = "cads"
	bucketUnits     = "units"
	bucketOperators = "operators"
	bucketForms     = "forms"
	bucketCounter   = "counter"

	syncSlot = "sync-token"
)

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecency overrides the operator on-duty window.
func WithRecency(window time.Duration) Option {
	return func(s *Store) { s.recency = window }
}

// WithIntervals overrides the sync-token poll and forced resync periods.
func WithIntervals(poll, resync time.Duration) Option {
	return func(s *Store) {
		if poll > 0 {
			s.pollInterval = poll
		}
		if resync > 0 {
			s.resyncInterval = resync
		}
	}
}

// Store persists every collection wholesale on each mutation. Concurrent
// writers from different processes follow last-writer-wins per collection.
type Store struct {
	db             *sql.DB
	mu             sync.Mutex
	path           string
	hub            *feed.Hub
	now            func() time.Time
	recency        time.Duration
	pollInterval   time.Duration
	resyncInterval time.Duration
}

// NewStore opens (creating if needed) the database at path.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "controlroom.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	// Immediate transactions take the write lock at BEGIN, where busy_timeout
	// applies, instead of failing on a later read-to-write upgrade.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sync (
		slot TEXT PRIMARY KEY,
		token INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sync table: %w", err)
	}
	s := &Store{
		db:             db,
		path:           path,
		hub:            feed.NewHub(),
		now:            time.Now,
		recency:        domain.DefaultOperatorRecency,
		pollInterval:   500 * time.Millisecond,
		resyncInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func readBucket(ctx context.Context, q queryer, bucket string, into any) error {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, bucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", bucket, err)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func writeBucket(ctx context.Context, q queryer, bucket string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	return nil
}

func readToken(ctx context.Context, q queryer) (int64, error) {
	var token int64
	err := q.QueryRowContext(ctx, `SELECT token FROM sync WHERE slot = ?`, syncSlot).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select sync token: %w", err)
	}
	return token, nil
}

func (s *Store) bumpToken(ctx context.Context, q queryer) (int64, error) {
	current, err := readToken(ctx, q)
	if err != nil {
		return 0, err
	}
	next := s.now().UnixNano()
	if next <= current {
		next = current + 1
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO sync(slot,token) VALUES(?,?) ON CONFLICT(slot) DO UPDATE SET token=excluded.token`, syncSlot, next); err != nil {
		return 0, fmt.Errorf("write sync token: %w", err)
	}
	return next, nil
}

// inTx runs fn inside one write transaction, bumps the sync token and
// broadcasts once committed.
func (s *Store) inTx(ctx context.Context, collection string, fn func(tx *sql.Tx) error) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	token, err := s.bumpToken(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.hub.Broadcast(domain.Signal{Source: domain.SourceLocalToken, Collection: collection, Token: token, At: s.now()})
	return nil
}

// mutate performs a read-modify-write of one collection and bumps the sync
// token in the same transaction.
func mutate[T any](ctx context.Context, s *Store, bucket string, fn func(T) T) error {
	return s.inTx(ctx, bucket, func(tx *sql.Tx) error {
		var current T
		if err := readBucket(ctx, tx, bucket, &current); err != nil {
			return err
		}
		return writeBucket(ctx, tx, bucket, fn(current))
	})
}

func putCAD(cads []domain.CAD, cad domain.CAD) []domain.CAD {
	for i := range cads {
		if cads[i].Reference == cad.Reference {
			cads[i] = cad
			return cads
		}
	}
	return append(cads, cad)
}

func dropCAD(cads []domain.CAD, reference string) []domain.CAD {
	out := cads[:0]
	for _, c := range cads {
		if c.Reference != reference {
			out = append(out, c)
		}
	}
	return out
}

func putUnit(units []domain.Unit, unit domain.Unit) []domain.Unit {
	for i := range units {
		if units[i].Callsign == unit.Callsign {
			units[i] = unit
			return units
		}
	}
	return append(units, unit)
}

func dropUnit(units []domain.Unit, callsign string) []domain.Unit {
	out := units[:0]
	for _, u := range units {
		if u.Callsign != callsign {
			out = append(out, u)
		}
	}
	return out
}

// SaveCAD replaces or appends the CAD with the same reference.
func (s *Store) SaveCAD(ctx context.Context, cad domain.CAD) error {
	return mutate(ctx, s, bucketCADs, func(cads []domain.CAD) []domain.CAD {
		return putCAD(cads, cad)
	})
}

// GetCADs returns the persisted CAD collection.
func (s *Store) GetCADs(ctx context.Context) ([]domain.CAD, error) {
	var cads []domain.CAD
	if err := readBucket(ctx, s.db, bucketCADs, &cads); err != nil {
		return nil, err
	}
	return cads, nil
}

// DeleteCAD removes the CAD with reference.
func (s *Store) DeleteCAD(ctx context.Context, reference string) error {
	return mutate(ctx, s, bucketCADs, func(cads []domain.CAD) []domain.CAD {
		return dropCAD(cads, reference)
	})
}

// SaveUnit replaces or appends the unit with the same callsign.
func (s *Store) SaveUnit(ctx context.Context, unit domain.Unit) error {
	return mutate(ctx, s, bucketUnits, func(units []domain.Unit) []domain.Unit {
		return putUnit(units, unit)
	})
}

// GetUnits returns the persisted unit collection.
func (s *Store) GetUnits(ctx context.Context) ([]domain.Unit, error) {
	var units []domain.Unit
	if err := readBucket(ctx, s.db, bucketUnits, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// DeleteUnit removes the unit with callsign.
func (s *Store) DeleteUnit(ctx context.Context, callsign string) error {
	return mutate(ctx, s, bucketUnits, func(units []domain.Unit) []domain.Unit {
		return dropUnit(units, callsign)
	})
}

// SaveOperator upserts by name, stamping LastSeen when unset.
func (s *Store) SaveOperator(ctx context.Context, op domain.Operator) error {
	if op.LastSeen.IsZero() {
		op.LastSeen = s.now()
	}
	return mutate(ctx, s, bucketOperators, func(ops []domain.Operator) []domain.Operator {
		for i := range ops {
			if ops[i].Name == op.Name {
				ops[i] = op
				return ops
			}
		}
		return append(ops, op)
	})
}

// GetOperators returns operators seen within the recency window.
func (s *Store) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	var ops []domain.Operator
	if err := readBucket(ctx, s.db, bucketOperators, &ops); err != nil {
		return nil, err
	}
	return s.onDuty(ops), nil
}

func (s *Store) onDuty(ops []domain.Operator) []domain.Operator {
	now := s.now()
	out := make([]domain.Operator, 0, len(ops))
	for _, op := range ops {
		if op.OnDuty(now, s.recency) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveOperator deletes the presence record for name.
func (s *Store) RemoveOperator(ctx context.Context, name string) error {
	return mutate(ctx, s, bucketOperators, func(ops []domain.Operator) []domain.Operator {
		out := ops[:0]
		for _, op := range ops {
			if op.Name != name {
				out = append(out, op)
			}
		}
		return out
	})
}

// SaveCounter raises the persisted nextCadNumber.
func (s *Store) SaveCounter(ctx context.Context, next int) error {
	return mutate(ctx, s, bucketCounter, func(current int) int {
		return max(current, next)
	})
}

// AppendForm appends a submitted form record.
func (s *Store) AppendForm(ctx context.Context, form domain.FormRecord) error {
	return mutate(ctx, s, bucketForms, func(forms []domain.FormRecord) []domain.FormRecord {
		return append(forms, form)
	})
}

// ApplyChanges writes a set of CAD and unit changes in one transaction, so
// other windows never read half of a cascade.
func (s *Store) ApplyChanges(ctx context.Context, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.inTx(ctx, bucketCADs, func(tx *sql.Tx) error {
		var (
			cads  []domain.CAD
			units []domain.Unit
		)
		if err := readBucket(ctx, tx, bucketCADs, &cads); err != nil {
			return err
		}
		if err := readBucket(ctx, tx, bucketUnits, &units); err != nil {
			return err
		}
		for _, c := range changes {
			switch c.Entity {
			case domain.EntityCAD:
				if c.Action == domain.ActionDelete {
					cads = dropCAD(cads, c.Key)
					continue
				}
				cad, ok := c.After.(domain.CAD)
				if !ok {
					return fmt.Errorf("%s cad %s: unexpected payload %T", c.Action, c.Key, c.After)
				}
				cads = putCAD(cads, cad)
			case domain.EntityUnit:
				if c.Action == domain.ActionDelete {
					units = dropUnit(units, c.Key)
					continue
				}
				unit, ok := c.After.(domain.Unit)
				if !ok {
					return fmt.Errorf("%s unit %s: unexpected payload %T", c.Action, c.Key, c.After)
				}
				units = putUnit(units, unit)
			default:
				return fmt.Errorf("unsupported entity %s", c.Entity)
			}
		}
		if err := writeBucket(ctx, tx, bucketCADs, cads); err != nil {
			return err
		}
		return writeBucket(ctx, tx, bucketUnits, units)
	})
}

// LoadAll reads every collection inside one read transaction.
func (s *Store) LoadAll(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	var snap domain.Snapshot
	for bucket, into := range map[string]any{
		bucketCADs:      &snap.CADs,
		bucketUnits:     &snap.Units,
		bucketOperators: &snap.Operators,
		bucketForms:     &snap.Forms,
		bucketCounter:   &snap.NextCADNumber,
	} {
		if err := readBucket(ctx, tx, bucket, into); err != nil {
			return domain.Snapshot{}, err
		}
	}
	snap.Operators = s.onDuty(snap.Operators)
	return snap, nil
}

// Token returns the current sync token; zero means no write has happened yet.
func (s *Store) Token(ctx context.Context) (int64, error) {
	return readToken(ctx, s.db)
}

// Close ends subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

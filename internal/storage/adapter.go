// Package storage selects the persistence backend for a window and hides
// which one is active from every caller.
package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"controlroom/internal/config"
	"controlroom/internal/infra/persistence/memory"
	"controlroom/internal/infra/persistence/postgres"
	"controlroom/internal/infra/persistence/sqlite"
	"controlroom/internal/logger"
	"controlroom/internal/metrics"
	"controlroom/pkg/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// Backend names the active implementation.
type Backend string

// Backends.
const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
	BackendMemory Backend = "memory"
)

type backendStore interface {
	domain.Store
	domain.ChangeFeed
}

var (
	_ domain.Store       = (*Adapter)(nil)
	_ domain.ChangeFeed  = (*Adapter)(nil)
	_ domain.BatchWriter = (*Adapter)(nil)
)

// Adapter is the storage entry point for a window. It starts on the remote
// store when configured and reachable, and degrades to the local store for
// the rest of the process lifetime as soon as the remote becomes unavailable.
type Adapter struct {
	cfg *config.Config
	log *logger.Logger
	rec metrics.Recorder

	mu       sync.RWMutex
	active   backendStore
	backend  Backend
	switched chan struct{}
	opened   []io.Closer

	fallbackErr error
}

// Open builds the adapter described by cfg. Remote connection failures are
// never returned; they are logged once and the local store is used instead.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, rec metrics.Recorder) (*Adapter, error) {
	a := &Adapter{
		cfg:      cfg,
		log:      logger.OrDiscard(log).WithComponent("storage"),
		rec:      metrics.OrNop(rec),
		switched: make(chan struct{}),
	}
	switch cfg.StorageDriver {
	case config.DriverMemory:
		a.use(memory.NewStore(memory.WithRecency(cfg.OperatorRecency)), BackendMemory)
	case config.DriverLocal:
		if err := a.openLocal(); err != nil {
			return nil, err
		}
	case config.DriverAuto, config.DriverRemote:
		if !cfg.UsesRemote() {
			if err := a.openLocal(); err != nil {
				return nil, err
			}
			break
		}
		remote, err := postgres.NewStore(ctx, cfg.RemoteDSN, postgres.Options{
			ConnectTimeout: cfg.RemoteConnectTimeout,
			Recency:        cfg.OperatorRecency,
		})
		if err != nil {
			a.reportFallback(err)
			if err := a.openLocal(); err != nil {
				return nil, err
			}
			break
		}
		a.use(remote, BackendRemote)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
	a.log.WithField("backend", a.backend).Info("storage backend selected")
	return a, nil
}

func (a *Adapter) use(store backendStore, backend Backend) {
	a.active = store
	a.backend = backend
	a.opened = append(a.opened, store)
	a.rec.SetBackend(string(backend))
}

func (a *Adapter) openLocal() error {
	local, err := sqlite.NewStore(a.cfg.SQLitePath,
		sqlite.WithRecency(a.cfg.OperatorRecency),
		sqlite.WithIntervals(a.cfg.SyncPollInterval, a.cfg.SyncResyncInterval),
	)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	a.use(local, BackendLocal)
	return nil
}

func (a *Adapter) reportFallback(err error) {
	a.fallbackErr = err
	a.rec.StorageFallback()
	a.log.WithError(err).Warn("remote store unavailable, continuing on local store")
}

// Store returns the adapter as the storage contract callers write through.
func (a *Adapter) Store() domain.Store { return a }

// Feed returns the adapter as a change feed that follows backend switches.
func (a *Adapter) Feed() domain.ChangeFeed { return a }

// Backend returns the active backend.
func (a *Adapter) Backend() Backend {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend
}

// FellBack reports whether the remote store was configured but is not in use.
func (a *Adapter) FellBack() bool {
	return a.FallbackReason() != nil
}

// FallbackReason returns the error that caused the fallback, if any.
func (a *Adapter) FallbackReason() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fallbackErr
}

func (a *Adapter) current() (backendStore, Backend) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active, a.backend
}

// failover swaps the remote store for the local one. Only the first call
// switches and logs.
func (a *Adapter) failover(cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != BackendRemote {
		return nil
	}
	a.reportFallback(cause)
	if err := a.openLocal(); err != nil {
		return err
	}
	close(a.switched)
	a.switched = make(chan struct{})
	return nil
}

// IsUnavailable reports whether err means the backend cannot be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func call[T any](ctx context.Context, a *Adapter, fn func(domain.Store) (T, error)) (T, error) {
	store, backend := a.current()
	out, err := fn(store)
	if err == nil || backend != BackendRemote || !IsUnavailable(err) || ctx.Err() != nil {
		return out, err
	}
	if ferr := a.failover(err); ferr != nil {
		return out, errors.Join(err, ferr)
	}
	store, _ = a.current()
	return fn(store)
}

func exec(ctx context.Context, a *Adapter, fn func(domain.Store) error) error {
	_, err := call(ctx, a, func(s domain.Store) (struct{}, error) { return struct{}{}, fn(s) })
	return err
}

// SaveCAD implements domain.Store.
func (a *Adapter) SaveCAD(ctx context.Context, cad domain.CAD) error {
	return exec(ctx, a, func(s domain.Store) error { return s.SaveCAD(ctx, cad) })
}

// GetCADs implements domain.Store.
func (a *Adapter) GetCADs(ctx context.Context) ([]domain.CAD, error) {
	return call(ctx, a, func(s domain.Store) ([]domain.CAD, error) { return s.GetCADs(ctx) })
}

// DeleteCAD implements domain.Store.
func (a *Adapter) DeleteCAD(ctx context.Context, reference string) error {
	return exec(ctx, a, func(s domain.Store) error { return s.DeleteCAD(ctx, reference) })
}

// SaveUnit implements domain.Store.
func (a *Adapter) SaveUnit(ctx context.Context, unit domain.Unit) error {
	return exec(ctx, a, func(s domain.Store) error { return s.SaveUnit(ctx, unit) })
}

// GetUnits implements domain.Store.
func (a *Adapter) GetUnits(ctx context.Context) ([]domain.Unit, error) {
	return call(ctx, a, func(s domain.Store) ([]domain.Unit, error) { return s.GetUnits(ctx) })
}

// DeleteUnit implements domain.Store.
func (a *Adapter) DeleteUnit(ctx context.Context, callsign string) error {
	return exec(ctx, a, func(s domain.Store) error { return s.DeleteUnit(ctx, callsign) })
}

// SaveOperator implements domain.Store.
func (a *Adapter) SaveOperator(ctx context.Context, op domain.Operator) error {
	return exec(ctx, a, func(s domain.Store) error { return s.SaveOperator(ctx, op) })
}

// GetOperators implements domain.Store.
func (a *Adapter) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	return call(ctx, a, func(s domain.Store) ([]domain.Operator, error) { return s.GetOperators(ctx) })
}

// RemoveOperator implements domain.Store.
func (a *Adapter) RemoveOperator(ctx context.Context, name string) error {
	return exec(ctx, a, func(s domain.Store) error { return s.RemoveOperator(ctx, name) })
}

// SaveCounter implements domain.Store.
func (a *Adapter) SaveCounter(ctx context.Context, next int) error {
	return exec(ctx, a, func(s domain.Store) error { return s.SaveCounter(ctx, next) })
}

// AppendForm implements domain.Store.
func (a *Adapter) AppendForm(ctx context.Context, form domain.FormRecord) error {
	return exec(ctx, a, func(s domain.Store) error { return s.AppendForm(ctx, form) })
}

// ApplyChanges implements domain.BatchWriter, in one transaction when the
// active backend supports it.
func (a *Adapter) ApplyChanges(ctx context.Context, changes []domain.Change) error {
	return exec(ctx, a, func(s domain.Store) error { return domain.WriteChanges(ctx, s, changes) })
}

// LoadAll implements domain.Store.
func (a *Adapter) LoadAll(ctx context.Context) (domain.Snapshot, error) {
	return call(ctx, a, func(s domain.Store) (domain.Snapshot, error) { return s.LoadAll(ctx) })
}

// Subscribe follows the active backend's change feed, moving to the local
// feed after a failover and emitting a resync signal when it does.
func (a *Adapter) Subscribe(ctx context.Context) (<-chan domain.Signal, error) {
	a.mu.RLock()
	feed, switched := a.active, a.switched
	a.mu.RUnlock()
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := feed.Subscribe(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan domain.Signal, 1)
	go a.follow(ctx, out, ch, switched, cancel)
	return out, nil
}

func (a *Adapter) follow(ctx context.Context, out chan domain.Signal, ch <-chan domain.Signal, switched <-chan struct{}, cancel context.CancelFunc) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			cancel()
			return
		case <-switched:
			cancel()
			a.mu.RLock()
			feed := a.active
			switched = a.switched
			a.mu.RUnlock()
			var subCtx context.Context
			subCtx, cancel = context.WithCancel(ctx)
			next, err := feed.Subscribe(subCtx)
			if err != nil {
				a.log.WithError(err).Error("resubscribe after failover")
				cancel()
				return
			}
			ch = next
			domain.Notify(out, domain.Signal{Source: domain.SourceLocalResync, Collection: "all", At: time.Now()})
		case sig, ok := <-ch:
			if !ok {
				select {
				case <-switched:
					// Resubscription happens on the next iteration.
					ch = nil
					continue
				default:
				}
				cancel()
				return
			}
			domain.Notify(out, sig)
		}
	}
}

// Close closes every backend opened by the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, c := range a.opened {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.opened = nil
	return errors.Join(errs...)
}

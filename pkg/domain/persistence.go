package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultOperatorRecency is how long a heartbeat keeps an operator on duty.
const DefaultOperatorRecency = 5 * time.Minute

// Store is the storage adapter contract shared by the local and remote
// backends. Callers never branch on which implementation is active.
type Store interface {
	SaveCAD(ctx context.Context, cad CAD) error
	GetCADs(ctx context.Context) ([]CAD, error)
	DeleteCAD(ctx context.Context, reference string) error

	SaveUnit(ctx context.Context, unit Unit) error
	GetUnits(ctx context.Context) ([]Unit, error)
	DeleteUnit(ctx context.Context, callsign string) error

	// SaveOperator stamps LastSeen when it is zero.
	SaveOperator(ctx context.Context, op Operator) error
	// GetOperators returns only operators seen within the recency window.
	GetOperators(ctx context.Context) ([]Operator, error)
	RemoveOperator(ctx context.Context, name string) error

	// SaveCounter persists nextCadNumber. The stored value never decreases.
	SaveCounter(ctx context.Context, next int) error
	AppendForm(ctx context.Context, form FormRecord) error

	LoadAll(ctx context.Context) (Snapshot, error)
	Close() error
}

// BatchWriter is implemented by stores that can write a set of CAD and unit
// changes in a single transaction. Saves carry the record in After; deletes
// only need Key.
type BatchWriter interface {
	ApplyChanges(ctx context.Context, changes []Change) error
}

// WriteChanges persists changes in order. A BatchWriter applies them all or
// none; any other store is written record by record without stopping at the
// first failure, so cascades go as far as the store allows.
func WriteChanges(ctx context.Context, store Store, changes []Change) error {
	if bw, ok := store.(BatchWriter); ok {
		return bw.ApplyChanges(ctx, changes)
	}
	var errs []error
	for _, c := range changes {
		if err := writeChange(ctx, store, c); err != nil {
			errs = append(errs, fmt.Errorf("%s %s %s: %w", c.Action, c.Entity, c.Key, err))
		}
	}
	return errors.Join(errs...)
}

func writeChange(ctx context.Context, store Store, c Change) error {
	switch c.Entity {
	case EntityCAD:
		if c.Action == ActionDelete {
			return store.DeleteCAD(ctx, c.Key)
		}
		cad, ok := c.After.(CAD)
		if !ok {
			return fmt.Errorf("unexpected payload %T", c.After)
		}
		return store.SaveCAD(ctx, cad)
	case EntityUnit:
		if c.Action == ActionDelete {
			return store.DeleteUnit(ctx, c.Key)
		}
		unit, ok := c.After.(Unit)
		if !ok {
			return fmt.Errorf("unexpected payload %T", c.After)
		}
		return store.SaveUnit(ctx, unit)
	}
	return fmt.Errorf("unsupported entity %s", c.Entity)
}

// SignalSource names where a change signal originated.
type SignalSource string

// Signal sources.
const (
	SourceLocalToken  SignalSource = "local-token"
	SourceLocalResync SignalSource = "local-resync"
	SourceRemoteFeed  SignalSource = "remote-feed"
	SourceMemory      SignalSource = "memory"
)

// Signal means "something changed, re-read everything". Collection and Token
// are informational only.
type Signal struct {
	Source     SignalSource
	Collection string
	Token      int64
	At         time.Time
}

// ChangeFeed delivers change signals until ctx is cancelled, after which the
// channel is closed.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan Signal, error)
}

// Notify performs a coalescing non-blocking send: a pending signal already
// requests a full re-read.
func Notify(ch chan<- Signal, sig Signal) {
	select {
	case ch <- sig:
	default:
	}
}

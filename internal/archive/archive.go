// Package archive keeps a write-once copy of every closed call outside the
// live store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"controlroom/internal/config"
	"controlroom/pkg/domain"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("archive object not found")

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CADKey returns the archive key for a closed CAD:
// cads/YYYY/MM/NNNNNN-DDMMYY.json, dated by end time.
func CADKey(cad domain.CAD) string {
	at := cad.StartTime
	if cad.EndTime != nil {
		at = *cad.EndTime
	}
	name := strings.ReplaceAll(cad.Reference, "/", "-")
	return fmt.Sprintf("cads/%04d/%02d/%s.json", at.Year(), int(at.Month()), name)
}

// Archiver writes closed CADs to a Store.
type Archiver struct {
	store Store
}

// NewArchiver wraps store.
func NewArchiver(store Store) *Archiver {
	return &Archiver{store: store}
}

// ArchiveCAD stores cad as indented JSON and returns its key.
func (a *Archiver) ArchiveCAD(ctx context.Context, cad domain.CAD) (string, error) {
	if !cad.Closed() {
		return "", &domain.TransitionError{Entity: domain.EntityCAD, Key: cad.Reference, From: string(cad.Status), To: "archived", Reason: "only closed calls are archived"}
	}
	data, err := json.MarshalIndent(cad, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode cad %s: %w", cad.Reference, err)
	}
	key := CADKey(cad)
	if err := a.store.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("archive cad %s: %w", cad.Reference, err)
	}
	return key, nil
}

// LoadCAD reads an archived CAD back.
func (a *Archiver) LoadCAD(ctx context.Context, key string) (domain.CAD, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.CAD{}, err
	}
	defer rc.Close()
	var cad domain.CAD
	if err := json.NewDecoder(rc).Decode(&cad); err != nil {
		return domain.CAD{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return cad, nil
}

// ClosedIn lists archive keys for calls closed in the given month.
func (a *Archiver) ClosedIn(ctx context.Context, month time.Time) ([]string, error) {
	return a.store.List(ctx, fmt.Sprintf("cads/%04d/%02d/", month.Year(), int(month.Month())))
}

// Open builds the store selected by cfg. A nil store means archiving is off.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ArchiveDriver {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		return NewMemory(), nil
	case config.ArchiveFS:
		store, err := NewFS(cfg.ArchiveFSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.ArchiveS3:
		store, err := NewS3(ctx, S3Config{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"controlroom/pkg/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Listener is a connection receiving NOTIFY payloads.
type Listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a Listener already subscribed to NotifyChannel.
type ListenFunc func(ctx context.Context, dsn string) (Listener, error)

// ConnectListener opens a dedicated pgx connection and issues LISTEN.
func ConnectListener(ctx context.Context, dsn string) (Listener, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

const (
	minReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay = 10 * time.Second
)

// Subscribe forwards every notification on the shared listener as a signal.
// The listener is started on first use and lives until Close.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.Signal, error) {
	s.listenOnce.Do(func() {
		lctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.wg.Add(1)
		go s.listenLoop(lctx)
	})
	return s.hub.Subscribe(ctx)
}

func (s *Store) listenLoop(ctx context.Context) {
	defer s.wg.Done()
	delay := minReconnectDelay
	reconnected := false
	for ctx.Err() == nil {
		listener, err := s.listen(ctx, s.dsn)
		if err != nil {
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = minReconnectDelay
		if reconnected {
			// Notifications may have been missed while disconnected.
			s.hub.Broadcast(domain.Signal{Source: domain.SourceRemoteFeed, Collection: "all", At: s.now()})
		}
		reconnected = true
		s.pump(ctx, listener)
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = listener.Close(closeCtx)
		cancel()
	}
}

func (s *Store) pump(ctx context.Context, listener Listener) {
	for {
		n, err := listener.WaitForNotification(ctx)
		if err != nil {
			return
		}
		s.hub.Broadcast(domain.Signal{Source: domain.SourceRemoteFeed, Collection: n.Payload, At: s.now()})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

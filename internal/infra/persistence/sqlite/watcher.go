package sqlite

import (
	"context"
	"time"

	"controlroom/pkg/domain"
)

// Subscribe watches the shared sync-token slot. Writes from this process are
// delivered immediately, writes from other processes within one poll interval,
// and a forced resync signal fires every resync interval regardless.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.Signal, error) {
	local, err := s.hub.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Signal, 1)
	go s.watch(ctx, local, last, out)
	return out, nil
}

func (s *Store) watch(ctx context.Context, local <-chan domain.Signal, last int64, out chan domain.Signal) {
	defer close(out)
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	resync := time.NewTicker(s.resyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-local:
			if !ok {
				return
			}
			if sig.Token > last {
				last = sig.Token
			}
			domain.Notify(out, sig)
		case <-poll.C:
			token, err := s.Token(ctx)
			if err != nil || token == last {
				continue
			}
			last = token
			domain.Notify(out, domain.Signal{Source: domain.SourceLocalToken, Token: token, At: s.now()})
		case <-resync.C:
			domain.Notify(out, domain.Signal{Source: domain.SourceLocalResync, Token: last, At: s.now()})
		}
	}
}

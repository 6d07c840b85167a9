package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Signal appends a token to the (window, local rank -> to, tag) list.
func (t *Transport) Signal(ctx context.Context, h ports.Handle, to domain.Rank, tag ports.Tag) error {
	if err := t.alive(); err != nil {
		return err
	}
	if err := t.checkRank(to); err != nil {
		return err
	}
	if err := t.client.RPush(ctx, t.mailboxKey(h, t.rank, to, tag), 1).Err(); err != nil {
		return t.lost("signal", err)
	}
	return nil
}

// Await pops a token from the (window, from -> local rank, tag) list, polling until one
// arrives or ctx is done.
func (t *Transport) Await(ctx context.Context, h ports.Handle, from domain.Rank, tag ports.Tag) error {
	if err := t.alive(); err != nil {
		return err
	}
	if err := t.checkRank(from); err != nil {
		return err
	}
	key := t.mailboxKey(h, from, t.rank, tag)

	// The pop itself must not be cut short by ctx, or a done context could never
	// collect a token that is already there.
	pop := context.WithoutCancel(ctx)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		err := t.client.LPop(pop, key).Err()
		if err == nil {
			return nil
		}
		if !errors.Is(err, backend.Nil) {
			return t.lost("await", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock key only while it still holds the caller's token.
var unlockScript = backend.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lock acquires the exclusive lock on target's region using SET NX PX, retrying every
// poll interval until it succeeds or ctx is done.
func (t *Transport) Lock(ctx context.Context, h ports.Handle, target domain.Rank) (ports.UnlockFunc, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	if err := t.checkRank(target); err != nil {
		return nil, err
	}
	key := t.lockKey(h, target)
	token := uuid.NewString()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		acquired, err := t.client.SetNX(ctx, key, token, t.lockTTL).Result()
		if err != nil {
			return nil, t.lost("lock", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var released atomic.Bool
	return func(ctx context.Context) error {
		if !released.CompareAndSwap(false, true) {
			return fmt.Errorf("%w: lock on %s already released", domain.ErrSynchronization, target)
		}
		n, err := unlockScript.Run(ctx, t.client, []string{key}, token).Int()
		if err != nil {
			return t.lost("unlock", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: lock on %s expired before unlock", domain.ErrSynchronization, target)
		}
		return nil
	}, nil
}

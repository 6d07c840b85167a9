package redis

import (
	"context"
	"fmt"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// span is a run of bytes [offset, offset+len(data)) that differs between two copies.
type span struct {
	offset int
	data   []byte
}

// diffSpans returns the maximal runs where cur differs from prev. Both must have the
// same length.
func diffSpans(prev, cur []byte) []span {
	var spans []span
	for i := 0; i < len(cur); {
		if cur[i] == prev[i] {
			i++
			continue
		}
		start := i
		for i < len(cur) && cur[i] != prev[i] {
			i++
		}
		spans = append(spans, span{offset: start, data: cur[start:i]})
	}
	return spans
}

// Sync pushes the bytes changed locally since the last Sync to the public copy, then
// pulls the public copy back. Remote writes to bytes the local rank did not touch are
// therefore preserved; where both changed a byte, the local store wins.
func (t *Transport) Sync(ctx context.Context, h ports.Handle) error {
	if err := t.alive(); err != nil {
		return err
	}

	t.mu.Lock()
	r, ok := t.regions[h.Window]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: window %q not registered on %s", domain.ErrSynchronization, h.Window, t.rank)
	}

	key := t.regionKey(h.Window, t.rank)
	var public *backend.StringCmd
	_, err := t.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for _, s := range diffSpans(r.shadow, r.base) {
			pipe.SetRange(ctx, key, int64(s.offset), string(s.data))
		}
		public = pipe.Get(ctx, key)
		return nil
	})
	if err != nil {
		if err == backend.Nil {
			return fmt.Errorf("%w: public copy of window %q on %s vanished", domain.ErrTransportLost, h.Window, t.rank)
		}
		return t.lost("sync", err)
	}

	data, err := public.Bytes()
	if err != nil {
		return t.lost("sync", err)
	}
	if len(data) != len(r.base) {
		return fmt.Errorf("%w: public copy of window %q on %s has %d bytes, want %d",
			domain.ErrTransportLost, h.Window, t.rank, len(data), len(r.base))
	}
	copy(r.base, data)
	copy(r.shadow, data)
	return nil
}

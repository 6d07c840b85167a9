// Package redis provides a multi-process runtime backed by a Redis server.
//
// Every rank keeps a private copy of its region (the window's local buffer) while the
// public copy lives in Redis under one key per (window, rank). Remote transfers act on
// the public copy and Sync reconciles both copies at epoch boundaries. Mailboxes are
// Redis lists and passive-target locks are SET NX keys released by a compare-and-delete
// script.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/onesided/internal/arena"
	"github.com/aretw0/onesided/internal/logging"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix       = "onesided:"
	DefaultLockTTL      = 30 * time.Second
	DefaultPollInterval = 20 * time.Millisecond
)

// Transport implements ports.Transport for one rank over Redis.
type Transport struct {
	client     *backend.Client
	ownsClient bool
	rank       domain.Rank
	size       int

	prefix       string
	lockTTL      time.Duration
	pollInterval time.Duration
	arena        *arena.Arena
	logger       *slog.Logger

	mu          sync.Mutex
	regions     map[string]*region
	generations map[string]uint64
	closed      atomic.Bool
}

var _ ports.Transport = (*Transport)(nil)

// region is the private copy of a registered window and the public bytes as of the
// last Sync.
type region struct {
	base   []byte
	shadow []byte
}

type Option func(*Transport)

// WithPrefix sets the key prefix shared by every rank of the scope.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// WithLockTTL bounds how long a passive-target lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) Option {
	return func(t *Transport) {
		t.lockTTL = ttl
	}
}

// WithPollInterval sets how often blocked Await and Lock calls retry.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		t.pollInterval = d
	}
}

// WithArena sets the allocator used for managed windows.
func WithArena(a *arena.Arena) Option {
	return func(t *Transport) {
		t.arena = a
	}
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// New connects rank of a scope of size ranks to the Redis server at address.
// The transport owns the connection and closes it on Close.
func New(address, password string, db int, rank domain.Rank, size int, opts ...Option) (*Transport, error) {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	t, err := NewFromClient(rdb, rank, size, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	t.ownsClient = true
	return t, nil
}

// NewFromClient creates a transport on an existing client. Several ranks of one process
// may share a client; Close leaves it open.
func NewFromClient(client *backend.Client, rank domain.Rank, size int, opts ...Option) (*Transport, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: scope size %d", domain.ErrOutOfRange, size)
	}
	if rank < 0 || int(rank) >= size {
		return nil, fmt.Errorf("%w: %s outside scope of size %d", domain.ErrOutOfRange, rank, size)
	}

	t := &Transport{
		client:       client,
		rank:         rank,
		size:         size,
		prefix:       DefaultPrefix,
		lockTTL:      DefaultLockTTL,
		pollInterval: DefaultPollInterval,
		logger:       logging.NewNop(),
		regions:      make(map[string]*region),
		generations:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.arena == nil {
		t.arena = arena.New(0)
	}
	return t, nil
}

// NewWorld creates one transport per rank on a shared client, for running a whole scope
// inside one process.
func NewWorld(client *backend.Client, size int, opts ...Option) ([]ports.Transport, error) {
	transports := make([]ports.Transport, 0, size)
	for r := 0; r < size; r++ {
		t, err := NewFromClient(client, domain.Rank(r), size, opts...)
		if err != nil {
			return nil, err
		}
		transports = append(transports, t)
	}
	return transports, nil
}

// Rank returns the local rank.
func (t *Transport) Rank() domain.Rank {
	return t.rank
}

// Size returns the scope size.
func (t *Transport) Size() int {
	return t.size
}

// Arena returns the allocator backing managed windows.
func (t *Transport) Arena() *arena.Arena {
	return t.arena
}

func (t *Transport) regionKey(window string, rank domain.Rank) string {
	return fmt.Sprintf("%swin:%s:%d", t.prefix, window, rank)
}

func (t *Transport) mailboxKey(h ports.Handle, from, to domain.Rank, tag ports.Tag) string {
	return fmt.Sprintf("%smbox:%s:%d:%d:%d:%s", t.prefix, h.Window, h.Generation, from, to, tag)
}

func (t *Transport) lockKey(h ports.Handle, rank domain.Rank) string {
	return fmt.Sprintf("%slock:%s:%d:%d", t.prefix, h.Window, h.Generation, rank)
}

func (t *Transport) alive() error {
	if t.closed.Load() {
		return fmt.Errorf("%w: transport of %s is closed", domain.ErrTransportLost, t.rank)
	}
	return nil
}

// lost classifies a Redis failure. Context expiry is the caller's doing and is returned
// unchanged; anything else means the server can no longer be trusted.
func (t *Transport) lost(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	t.logger.Warn("redis command failed", "op", op, "rank", t.rank, "error", err)
	return fmt.Errorf("%w: %s: %w", domain.ErrTransportLost, op, err)
}

func (t *Transport) checkRank(r domain.Rank) error {
	if r < 0 || int(r) >= t.size {
		return fmt.Errorf("%w: %s outside scope of size %d", domain.ErrOutOfRange, r, t.size)
	}
	return nil
}

// Alloc returns zeroed memory from the transport's arena.
func (t *Transport) Alloc(ctx context.Context, nbytes int) ([]byte, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	return t.arena.Alloc(nbytes)
}

// Free returns memory to the arena. It works on a closed transport too.
func (t *Transport) Free(buf []byte) error {
	return t.arena.Free(buf)
}

// Register publishes base as the initial public copy of the local region.
func (t *Transport) Register(ctx context.Context, window string, base []byte) (ports.Handle, error) {
	if err := t.alive(); err != nil {
		return ports.Handle{}, err
	}
	if window == "" {
		return ports.Handle{}, fmt.Errorf("%w: empty window name", domain.ErrRegistration)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.generations[window]++
	gen := t.generations[window]
	if _, exists := t.regions[window]; exists {
		return ports.Handle{}, fmt.Errorf("%w: window %q already registered on %s", domain.ErrRegistration, window, t.rank)
	}

	ok, err := t.client.SetNX(ctx, t.regionKey(window, t.rank), base, 0).Result()
	if err != nil {
		return ports.Handle{}, t.lost("register", err)
	}
	if !ok {
		return ports.Handle{}, fmt.Errorf("%w: window %q of %s already present on the server", domain.ErrRegistration, window, t.rank)
	}

	t.regions[window] = &region{base: base, shadow: append([]byte{}, base...)}
	return ports.Handle{Window: window, Bytes: len(base), Generation: gen}, nil
}

// Deregister deletes the public copy, and the lock and the mailboxes of the handle's
// generation addressed to this rank. A peer that already re-created the window signals
// into the next generation's keys, which survive.
func (t *Transport) Deregister(ctx context.Context, h ports.Handle) error {
	t.mu.Lock()
	_, exists := t.regions[h.Window]
	delete(t.regions, h.Window)
	t.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: window %q not registered on %s", domain.ErrRegistration, h.Window, t.rank)
	}
	if err := t.alive(); err != nil {
		return err
	}

	keys := []string{t.regionKey(h.Window, t.rank), t.lockKey(h, t.rank)}
	pattern := fmt.Sprintf("%smbox:%s:%d:*:%d:*", t.prefix, h.Window, h.Generation, t.rank)
	iter := t.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return t.lost("deregister", err)
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return t.lost("deregister", err)
	}
	return nil
}

const (
	scriptOK = iota
	scriptUnregistered
	scriptOutOfRange
)

// readScript returns {status, bytes, size} for a range of a public copy.
var readScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {1, "", 0}
end
local size = redis.call("STRLEN", KEYS[1])
local off = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
if off + n > size then
	return {2, "", size}
end
if n == 0 then
	return {0, "", size}
end
return {0, redis.call("GETRANGE", KEYS[1], off, off + n - 1), size}
`)

// writeScript overwrites a range of a public copy and returns {status, size}. The copy
// never grows.
var writeScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {1, 0}
end
local size = redis.call("STRLEN", KEYS[1])
local off = tonumber(ARGV[1])
local n = string.len(ARGV[2])
if off + n > size then
	return {2, size}
end
if n > 0 then
	redis.call("SETRANGE", KEYS[1], off, ARGV[2])
end
return {0, size}
`)

// Read copies from target's public copy.
func (t *Transport) Read(ctx context.Context, h ports.Handle, target domain.Rank, offset int, dst []byte) error {
	if err := t.alive(); err != nil {
		return err
	}
	if err := t.checkRank(target); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", domain.ErrOutOfRange, offset)
	}

	res, err := readScript.Run(ctx, t.client, []string{t.regionKey(h.Window, target)}, offset, len(dst)).Slice()
	if err != nil {
		return t.lost("read", err)
	}
	if err := scriptStatus(res, h.Window, target, offset, len(dst)); err != nil {
		return err
	}
	data, _ := res[1].(string)
	if len(data) != len(dst) {
		return fmt.Errorf("%w: read %d of %d bytes from %s", domain.ErrTransportLost, len(data), len(dst), target)
	}
	copy(dst, data)
	return nil
}

// Write copies src into target's public copy.
func (t *Transport) Write(ctx context.Context, h ports.Handle, target domain.Rank, offset int, src []byte) error {
	if err := t.alive(); err != nil {
		return err
	}
	if err := t.checkRank(target); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", domain.ErrOutOfRange, offset)
	}

	res, err := writeScript.Run(ctx, t.client, []string{t.regionKey(h.Window, target)}, offset, src).Slice()
	if err != nil {
		return t.lost("write", err)
	}
	return scriptStatus(res, h.Window, target, offset, len(src))
}

func scriptStatus(res []any, window string, target domain.Rank, offset, n int) error {
	if len(res) < 2 {
		return fmt.Errorf("%w: malformed script reply %v", domain.ErrTransportLost, res)
	}
	status, _ := res[0].(int64)
	size, _ := res[len(res)-1].(int64)
	switch status {
	case scriptOK:
		return nil
	case scriptUnregistered:
		return fmt.Errorf("%w: window %q not registered on %s", domain.ErrSynchronization, window, target)
	case scriptOutOfRange:
		return fmt.Errorf("%w: bytes [%d,%d) of %d on %s", domain.ErrOutOfRange, offset, offset+n, size, target)
	}
	return fmt.Errorf("%w: unexpected script status %d", domain.ErrTransportLost, status)
}

// Close stops the transport. Registered public copies stay on the server until
// deregistered.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}

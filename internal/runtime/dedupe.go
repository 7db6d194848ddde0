package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	configpkg "github.com/drblury/snsbridge/internal/runtime/config"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

// DefaultDedupeTTL bounds how long a processed message ID is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// DefaultDedupeClaimTTL bounds an in-progress claim when no visibility timeout
// is known.
const DefaultDedupeClaimTTL = configpkg.DefaultVisibilityTimeoutSeconds * time.Second

// DedupeStatus is the state of a key as seen by Claim.
type DedupeStatus int

const (
	// DedupeClaimed means the caller now owns the key.
	DedupeClaimed DedupeStatus = iota
	// DedupeInProgress means another attempt holds the key.
	DedupeInProgress
	// DedupeDone means the key was handled successfully.
	DedupeDone
)

func (s DedupeStatus) String() string {
	switch s {
	case DedupeClaimed:
		return "claimed"
	case DedupeInProgress:
		return "in_progress"
	case DedupeDone:
		return "done"
	default:
		return fmt.Sprintf("dedupe_status(%d)", int(s))
	}
}

// DedupeStore remembers which messages are being handled and which were
// handled already.
type DedupeStore interface {
	// Claim marks a free key in progress for claimTTL and returns
	// DedupeClaimed. A held key is reported as it is.
	Claim(ctx context.Context, key string, claimTTL time.Duration) (DedupeStatus, error)
	// MarkDone records key as handled for ttl.
	MarkDone(ctx context.Context, key string, ttl time.Duration) error
	// Release forgets key so a later delivery is handled again.
	Release(ctx context.Context, key string) error
}

// DedupeOption customises Deduplicate.
type DedupeOption func(*dedupeOptions)

type dedupeOptions struct {
	claimTTL time.Duration
}

// WithDedupeClaimTTL sets how long an unfinished attempt holds its key. It
// should cover the queue visibility timeout.
func WithDedupeClaimTTL(ttl time.Duration) DedupeOption {
	return func(o *dedupeOptions) {
		if ttl > 0 {
			o.claimTTL = ttl
		}
	}
}

// Deduplicate skips the handler for notifications that were already handled
// successfully and reports them as a success so the loop deletes them. A
// redelivery that arrives while another attempt still runs fails with
// ErrDeliveryInProgress and stays queued. Any attempt that does not succeed,
// including one that panics, releases its claim.
func Deduplicate(store DedupeStore, ttl time.Duration, logger loggingpkg.ServiceLogger, opts ...DedupeOption) HandlerMiddleware {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	options := dedupeOptions{claimTTL: DefaultDedupeClaimTTL}
	for _, opt := range opts {
		opt(&options)
	}

	return func(h Handler) Handler {
		if store == nil {
			return h
		}
		return func(ctx context.Context, d *Delivery) error {
			key := dedupeKey(d)
			fields := loggingpkg.LogFields{
				"message_id":    d.MessageID,
				"dedupe_key":    key,
				"receive_count": d.ReceiveCount,
			}

			status, err := store.Claim(ctx, key, options.claimTTL)
			if err != nil {
				return err
			}
			switch status {
			case DedupeDone:
				logger.Debug("Skipping duplicate delivery", fields)
				return nil
			case DedupeInProgress:
				logger.Debug("Delivery already in progress", fields)
				return fmt.Errorf("%w: %s", errspkg.ErrDeliveryInProgress, key)
			}

			succeeded := false
			defer func() {
				if succeeded {
					return
				}
				if err := store.Release(ctx, key); err != nil {
					logger.Error("Failed to release dedupe claim", err, loggingpkg.LogFields{"dedupe_key": key})
				}
			}()

			if err := h(ctx, d); err != nil {
				return err
			}
			succeeded = true

			if err := store.MarkDone(ctx, key, ttl); err != nil {
				logger.Error("Failed to mark delivery done", err, loggingpkg.LogFields{"dedupe_key": key})
			}
			return nil
		}
	}
}

// dedupeKey prefers the notification ID, which survives a publish being
// fanned out and redelivered.
func dedupeKey(d *Delivery) string {
	if d.Notification.MessageID != "" {
		return d.Notification.MessageID
	}
	return d.MessageID
}

type dedupeEntry struct {
	done      bool
	expiresAt time.Time
}

// MemoryDedupeStore keeps claims in process memory.
type MemoryDedupeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]dedupeEntry
}

func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{
		now:     time.Now,
		entries: make(map[string]dedupeEntry),
	}
}

func (s *MemoryDedupeStore) Claim(_ context.Context, key string, claimTTL time.Duration) (DedupeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		if entry.done {
			return DedupeDone, nil
		}
		return DedupeInProgress, nil
	}
	s.entries[key] = dedupeEntry{expiresAt: now.Add(claimTTL)}
	return DedupeClaimed, nil
}

func (s *MemoryDedupeStore) MarkDone(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = dedupeEntry{done: true, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryDedupeStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// RedisClient is the subset of the go-redis client the dedupe store needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Values stored under a dedupe key.
const (
	redisDedupeInProgress = "in_progress"
	redisDedupeDone       = "done"
)

// RedisDedupeStore shares claims across processes through Redis keys.
type RedisDedupeStore struct {
	client RedisClient
	prefix string
}

// NewRedisDedupeStore builds a store writing keys as "<prefix>:<message id>".
func NewRedisDedupeStore(client RedisClient, prefix string) *RedisDedupeStore {
	if prefix == "" {
		prefix = "snsbridge:dedupe"
	}
	return &RedisDedupeStore{client: client, prefix: prefix}
}

func (s *RedisDedupeStore) Claim(ctx context.Context, key string, claimTTL time.Duration) (DedupeStatus, error) {
	claimed, err := s.client.SetNX(ctx, s.key(key), redisDedupeInProgress, claimTTL).Result()
	if err != nil {
		return DedupeInProgress, err
	}
	if claimed {
		return DedupeClaimed, nil
	}

	value, err := s.client.Get(ctx, s.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls; the next delivery claims it.
		return DedupeInProgress, nil
	case err != nil:
		return DedupeInProgress, err
	case value == redisDedupeDone:
		return DedupeDone, nil
	default:
		return DedupeInProgress, nil
	}
}

func (s *RedisDedupeStore) MarkDone(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), redisDedupeDone, ttl).Err()
}

func (s *RedisDedupeStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisDedupeStore) key(key string) string {
	return s.prefix + ":" + key
}

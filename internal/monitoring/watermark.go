package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Watermark holds the highest post identifier seen so far. Implementations
// only ever move it forward.
type Watermark interface {
	Current(ctx context.Context) (string, error)
	Advance(ctx context.Context, candidate string) (bool, error)
}

// parseID reads a post identifier as an arbitrary precision integer.
func parseID(id string) (*big.Int, bool) {
	if id == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// CompareIDs compares two identifiers numerically.
func CompareIDs(a, b string) (int, error) {
	x, ok := parseID(a)
	if !ok {
		return 0, fmt.Errorf("identifier %q is not numeric", a)
	}
	y, ok := parseID(b)
	if !ok {
		return 0, fmt.Errorf("identifier %q is not numeric", b)
	}
	return x.Cmp(y), nil
}

// MaxID returns the numerically largest identifier. Non-numeric identifiers
// are skipped; if none is numeric the first (newest) identifier is returned.
func MaxID(ids []string) string {
	var (
		best    string
		bestNum *big.Int
	)
	for _, id := range ids {
		n, ok := parseID(id)
		if !ok {
			logrus.Warnf("Ignoring non-numeric post id %q when computing watermark", id)
			continue
		}
		if bestNum == nil || n.Cmp(bestNum) > 0 {
			best, bestNum = id, n
		}
	}
	if bestNum == nil && len(ids) > 0 {
		return ids[0]
	}
	return best
}

// shouldAdvance decides whether candidate replaces current. A numeric
// watermark is never replaced by a non-numeric candidate.
func shouldAdvance(current, candidate string) bool {
	if candidate == "" || candidate == current {
		return false
	}
	if current == "" {
		return true
	}
	cmp, err := CompareIDs(candidate, current)
	if err == nil {
		return cmp > 0
	}
	if _, ok := parseID(candidate); ok {
		// current is malformed, a numeric candidate repairs it
		return true
	}
	logrus.Warnf("Refusing to move watermark %q to non-numeric id %q", current, candidate)
	return false
}

// MemoryWatermark keeps the watermark in process memory. It is lost on restart.
type MemoryWatermark struct {
	mu      sync.Mutex
	current string
}

var (
	_ Watermark = (*MemoryWatermark)(nil)
	_ Watermark = (*RedisWatermark)(nil)
)

// NewMemoryWatermark creates an unprimed watermark.
func NewMemoryWatermark() *MemoryWatermark {
	return &MemoryWatermark{}
}

func (w *MemoryWatermark) Current(_ context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, nil
}

func (w *MemoryWatermark) Advance(_ context.Context, candidate string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !shouldAdvance(w.current, candidate) {
		return false, nil
	}
	w.current = candidate
	return true, nil
}

const redisWatermarkRetries = 5

// RedisWatermark keeps the watermark in a Redis key so it survives restarts.
type RedisWatermark struct {
	client *redis.Client
	key    string
}

// NewRedisWatermark stores the watermark for account under its own key.
func NewRedisWatermark(client *redis.Client, account string) *RedisWatermark {
	return &RedisWatermark{
		client: client,
		key:    "mentions:watermark:" + account,
	}
}

func (w *RedisWatermark) Current(ctx context.Context) (string, error) {
	value, err := w.client.Get(ctx, w.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading watermark: %w", err)
	}
	return value, nil
}

// Advance performs an optimistic compare-and-set with WATCH/MULTI.
func (w *RedisWatermark) Advance(ctx context.Context, candidate string) (bool, error) {
	var advanced bool

	txf := func(tx *redis.Tx) error {
		advanced = false
		current, err := tx.Get(ctx, w.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if !shouldAdvance(current, candidate) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, w.key, candidate, 0)
			return nil
		})
		if err == nil {
			advanced = true
		}
		return err
	}

	for i := 0; i < redisWatermarkRetries; i++ {
		err := w.client.Watch(ctx, txf, w.key)
		if err == nil {
			return advanced, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("advancing watermark: %w", err)
	}

	return false, fmt.Errorf("advancing watermark: too many concurrent updates")
}

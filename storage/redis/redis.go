// Package redis provides Redis implementations of the payarmor.CounterStore
// and payarmor.RetryStore interfaces, so multiple service instances can share
// one logical rate limit and one retry queue. All multi-step transitions use
// Lua scripts for atomicity.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "payarmor:").
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "payarmor:"}
}

// Store implements payarmor.CounterStore and payarmor.RetryStore using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// New creates a new Redis store adapter. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "payarmor:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Store) loadScripts() {
	// Create-or-increment with the window TTL set on first hit only.
	s.scripts["incr"] = redis.NewScript(`
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return count
	`)

	// Idempotent insert: no-op when a live entry exists.
	s.scripts["insert"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1])
		redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
		return 1
	`)

	// Check-and-set queued -> retrying; also unschedules the member so a
	// concurrent scan cannot claim it again.
	s.scripts["claim"] = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return ''
		end
		local e = cjson.decode(raw)
		if e.status ~= 'queued' then
			return ''
		end
		e.status = 'retrying'
		e.updated_at_ms = tonumber(ARGV[1])
		local out = cjson.encode(e)
		redis.call('SET', KEYS[1], out)
		redis.call('ZREM', KEYS[2], ARGV[2])
		return out
	`)

	// Check-and-set retrying -> queued with the new schedule.
	s.scripts["requeue"] = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local e = cjson.decode(raw)
		if e.status ~= 'retrying' then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1])
		redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
		return 1
	`)

	// Cancel a live entry and drop it from scheduling.
	s.scripts["cancel"] = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return 0
		end
		local e = cjson.decode(raw)
		if e.status ~= 'queued' and e.status ~= 'retrying' then
			return 0
		end
		redis.call('DEL', KEYS[1])
		redis.call('ZREM', KEYS[2], ARGV[1])
		return 1
	`)
}

// Incr implements payarmor.CounterStore.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.scripts["incr"].Run(ctx, s.client,
		[]string{s.config.KeyPrefix + key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

// Insert implements payarmor.RetryStore.
func (s *Store) Insert(ctx context.Context, e *payarmor.RetryEntry) (bool, error) {
	if e == nil || e.TransactionID == "" {
		return false, fmt.Errorf("invalid retry entry")
	}

	raw, err := json.Marshal(toDoc(e))
	if err != nil {
		return false, fmt.Errorf("failed to encode retry entry: %w", err)
	}

	inserted, err := s.scripts["insert"].Run(ctx, s.client,
		[]string{s.entryKey(e.TransactionID), s.scheduleKey()},
		raw, e.NextRetryAt.UnixMilli(), e.TransactionID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to insert retry entry: %w", err)
	}
	return inserted == 1, nil
}

// Get implements payarmor.RetryStore.
func (s *Store) Get(ctx context.Context, transactionID string) (*payarmor.RetryEntry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(transactionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry entry: %w", err)
	}
	return decodeDoc([]byte(raw))
}

// Due implements payarmor.RetryStore using the schedule sorted set.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]*payarmor.RetryEntry, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.scheduleKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan retry schedule: %w", err)
	}

	entries := make([]*payarmor.RetryEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil && e.Status == payarmor.StatusQueued {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// BeginAttempt implements payarmor.RetryStore.
func (s *Store) BeginAttempt(ctx context.Context, transactionID string, now time.Time) (*payarmor.RetryEntry, bool, error) {
	raw, err := s.scripts["claim"].Run(ctx, s.client,
		[]string{s.entryKey(transactionID), s.scheduleKey()},
		now.UnixMilli(), transactionID).Text()
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim retry entry: %w", err)
	}
	if raw == "" {
		return nil, false, nil
	}
	e, err := decodeDoc([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Requeue implements payarmor.RetryStore.
func (s *Store) Requeue(ctx context.Context, e *payarmor.RetryEntry) error {
	raw, err := json.Marshal(toDoc(e))
	if err != nil {
		return fmt.Errorf("failed to encode retry entry: %w", err)
	}

	ok, err := s.scripts["requeue"].Run(ctx, s.client,
		[]string{s.entryKey(e.TransactionID), s.scheduleKey()},
		raw, e.NextRetryAt.UnixMilli(), e.TransactionID).Int64()
	if err != nil {
		return fmt.Errorf("failed to requeue retry entry: %w", err)
	}
	if ok != 1 {
		return payarmor.ErrEntryNotFound
	}
	return nil
}

// Remove implements payarmor.RetryStore.
func (s *Store) Remove(ctx context.Context, transactionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.entryKey(transactionID))
	pipe.ZRem(ctx, s.scheduleKey(), transactionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove retry entry: %w", err)
	}
	return nil
}

// Cancel implements payarmor.RetryStore.
func (s *Store) Cancel(ctx context.Context, transactionID string, _ time.Time) (bool, error) {
	ok, err := s.scripts["cancel"].Run(ctx, s.client,
		[]string{s.entryKey(transactionID), s.scheduleKey()},
		transactionID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to cancel retry entry: %w", err)
	}
	return ok == 1, nil
}

func (s *Store) entryKey(transactionID string) string {
	return s.config.KeyPrefix + "retry:" + transactionID
}

func (s *Store) scheduleKey() string {
	return s.config.KeyPrefix + "retry:schedule"
}

// entryDoc is the Redis wire form of a retry entry. Timestamps are unix
// milliseconds so the Lua check-and-set scripts can rewrite them without a
// time parser.
type entryDoc struct {
	TransactionID string            `json:"transaction_id"`
	ErrorCode     string            `json:"error_code"`
	AttemptCount  int               `json:"attempt_count"`
	MaxAttempts   int               `json:"max_attempts"`
	BaseDelayMs   int64             `json:"base_delay_ms"`
	Immediate     bool              `json:"immediate"`
	NextRetryAtMs int64             `json:"next_retry_at_ms"`
	Status        string            `json:"status"`
	UserID        string            `json:"user_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	GatewayRef    string            `json:"gateway_reference"`
	Extra         map[string]string `json:"extra,omitempty"`
	CreatedAtMs   int64             `json:"created_at_ms"`
	UpdatedAtMs   int64             `json:"updated_at_ms"`
}

func toDoc(e *payarmor.RetryEntry) *entryDoc {
	return &entryDoc{
		TransactionID: e.TransactionID,
		ErrorCode:     e.ErrorCode,
		AttemptCount:  e.AttemptCount,
		MaxAttempts:   e.MaxAttempts,
		BaseDelayMs:   e.BaseDelay.Milliseconds(),
		Immediate:     e.Immediate,
		NextRetryAtMs: e.NextRetryAt.UnixMilli(),
		Status:        string(e.Status),
		UserID:        e.Metadata.UserID,
		Amount:        e.Metadata.Amount,
		Currency:      e.Metadata.Currency,
		GatewayRef:    e.Metadata.GatewayReference,
		Extra:         e.Metadata.Extra,
		CreatedAtMs:   e.CreatedAt.UnixMilli(),
		UpdatedAtMs:   e.UpdatedAt.UnixMilli(),
	}
}

func decodeDoc(raw []byte) (*payarmor.RetryEntry, error) {
	var doc entryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode retry entry: %w", err)
	}
	return &payarmor.RetryEntry{
		TransactionID: doc.TransactionID,
		ErrorCode:     doc.ErrorCode,
		AttemptCount:  doc.AttemptCount,
		MaxAttempts:   doc.MaxAttempts,
		BaseDelay:     time.Duration(doc.BaseDelayMs) * time.Millisecond,
		Immediate:     doc.Immediate,
		NextRetryAt:   time.UnixMilli(doc.NextRetryAtMs).UTC(),
		Status:        payarmor.RetryStatus(doc.Status),
		Metadata: payarmor.Metadata{
			UserID:           doc.UserID,
			Amount:           doc.Amount,
			Currency:         doc.Currency,
			GatewayReference: doc.GatewayRef,
			Extra:            doc.Extra,
		},
		CreatedAt: time.UnixMilli(doc.CreatedAtMs).UTC(),
		UpdatedAt: time.UnixMilli(doc.UpdatedAtMs).UTC(),
	}, nil
}

// Package ledger keeps the append-only trade audit trail. The in-memory ring
// is the source of truth for the engine; Redis, when configured, mirrors it
// so the history survives restarts. Redis being down never blocks a trade.
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"deriv-bot/internal/engine"
)

const (
	// MaxRecords caps the ledger; the oldest entries are dropped first.
	MaxRecords = 200

	recordsKey   = "derivbot:trades"
	cooldownsKey = "derivbot:cooldowns"

	redisOpTimeout = 2 * time.Second
)

// Ledger is the capped, append-only trade record store.
type Ledger struct {
	mu      sync.RWMutex
	records []engine.TradeRecord
	rdb     *redis.Client
	logger  zerolog.Logger
}

// New creates a ledger. rdb may be nil for memory-only operation.
func New(rdb *redis.Client, logger zerolog.Logger) *Ledger {
	return &Ledger{
		records: make([]engine.TradeRecord, 0, MaxRecords),
		rdb:     rdb,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Append adds a record, dropping the oldest once the cap is reached, and
// mirrors it to Redis when configured.
func (l *Ledger) Append(record engine.TradeRecord) {
	l.mu.Lock()
	l.records = append(l.records, record)
	if len(l.records) > MaxRecords {
		l.records = l.records[len(l.records)-MaxRecords:]
	}
	l.mu.Unlock()

	if l.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to marshal trade record")
		return
	}
	pipe := l.rdb.Pipeline()
	pipe.LPush(ctx, recordsKey, data)
	pipe.LTrim(ctx, recordsKey, 0, MaxRecords-1)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist trade record to Redis, keeping in memory")
	}
}

// Records returns a copy of the ledger, oldest first.
func (l *Ledger) Records() []engine.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]engine.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the current record count.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Load restores the ledger from Redis. Called once on startup; a Redis error
// leaves the ledger empty and trading proceeds.
func (l *Ledger) Load(ctx context.Context) error {
	if l.rdb == nil {
		return nil
	}

	raw, err := l.rdb.LRange(ctx, recordsKey, 0, MaxRecords-1).Result()
	if err != nil {
		return err
	}

	records := make([]engine.TradeRecord, 0, len(raw))
	// Redis list is newest-first; rebuild oldest-first.
	for i := len(raw) - 1; i >= 0; i-- {
		var rec engine.TradeRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			l.logger.Warn().Err(err).Msg("Skipping unparseable trade record from Redis")
			continue
		}
		records = append(records, rec)
	}

	l.mu.Lock()
	l.records = records
	l.mu.Unlock()

	l.logger.Info().Int("count", len(records)).Msg("Trade ledger restored from Redis")
	return nil
}

// SaveCooldowns snapshots the cooldown map to Redis.
func (l *Ledger) SaveCooldowns(entries map[string]time.Time) {
	if l.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, cooldownsKey, data, 0).Err(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist cooldowns to Redis")
	}
}

// LoadCooldowns restores the cooldown map from Redis; nil when absent.
func (l *Ledger) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	if l.rdb == nil {
		return nil, nil
	}

	data, err := l.rdb.Get(ctx, cooldownsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries map[string]time.Time
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

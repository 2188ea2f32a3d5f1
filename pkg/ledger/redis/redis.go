package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

// Key namespacing in Redis
const (
	keyPrefixAuthorization = "recibo:auth:"
	keySchemaVersion       = "recibo:metadata:schema_version"
	currentSchemaVersion   = "v1"

	valueReservedPrefix = "reserved:"
	valueConsumed       = "consumed"

	// DefaultReservationTTL bounds how long a reservation can be held open.
	// It must outlast the slowest settlement path (a mined token
	// transaction); a crashed holder's key expires and the pair becomes
	// reservable again, matching the in-process behavior of the memory and
	// badger ledgers.
	DefaultReservationTTL = 2 * time.Minute
)

// commitScript promotes a reservation to consumed only if the caller still
// owns it. An expired reservation may have been re-taken by a competitor, so
// an unconditional SET here could overwrite someone else's in-flight stage.
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2])
end
return false
`)

// rollbackScript deletes the key only if the caller still owns the
// reservation, for the same reason.
var rollbackScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger is a Redis-backed implementation of ledger.Ledger, suitable for
// deployments where several service instances share one replay-protection
// store. Reservation uses SETNX so that competing submissions for a pair are
// ordered by Redis itself.
type RedisLedger struct {
	client         *redis.Client
	logger         *zap.Logger
	keyPrefix      string
	reservationTTL time.Duration
}

// RedisConfig holds the configuration for connecting to Redis.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number (0-15).
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If empty, keys use the default "recibo:" namespace only.
	KeyPrefix string
	// ReservationTTL is how long an uncommitted reservation survives before
	// Redis expires it. Zero selects DefaultReservationTTL.
	ReservationTTL time.Duration
}

// NewRedisLedger creates a new Redis-backed authorization ledger.
func NewRedisLedger(cfg *RedisConfig, logger *zap.Logger) (*RedisLedger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}

	rl := &RedisLedger{
		client:         client,
		logger:         logger,
		keyPrefix:      cfg.KeyPrefix,
		reservationTTL: ttl,
	}

	if err := rl.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis authorization ledger initialized", "address", cfg.Address)

	return rl, nil
}

// initSchema initializes or validates the schema version.
func (r *RedisLedger) initSchema(ctx context.Context) error {
	key := r.keyPrefix + keySchemaVersion

	ok, err := r.client.SetNX(ctx, key, currentSchemaVersion, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if ok {
		return nil
	}

	existing, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existing != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existing, currentSchemaVersion)
	}
	return nil
}

func (r *RedisLedger) storageKey(signer common.Address, nonce [32]byte) string {
	return r.keyPrefix + keyPrefixAuthorization + ledger.Key(signer, nonce)
}

// IsConsumed reports whether the pair has been durably consumed. A pair held
// by an unresolved reservation is not yet consumed.
func (r *RedisLedger) IsConsumed(ctx context.Context, signer common.Address, nonce [32]byte) (bool, error) {
	val, err := r.client.Get(ctx, r.storageKey(signer, nonce)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read authorization state: %w", err)
	}
	return val == valueConsumed, nil
}

// Reserve stages consumption of the pair. SETNX makes the stage exclusive
// across all service instances sharing this Redis; the reservation carries a
// TTL so a holder that crashes before Commit/Rollback cannot strand the pair
// in a reserved-forever state. The value embeds a per-reservation token so
// Commit and Rollback act only while this holder still owns the key.
func (r *RedisLedger) Reserve(ctx context.Context, signer common.Address, nonce [32]byte) (ledger.Reservation, error) {
	key := r.storageKey(signer, nonce)
	owner := valueReservedPrefix + uuid.New().String()

	ok, err := r.client.SetNX(ctx, key, owner, r.reservationTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve authorization: %w", err)
	}
	if !ok {
		return nil, ledger.ErrAuthorizationAlreadyUsed
	}

	return &redisReservation{ledger: r, key: key, owner: owner}, nil
}

// Close shuts down the Redis client.
func (r *RedisLedger) Close() error {
	return r.client.Close()
}

// HealthCheck pings the Redis server.
func (r *RedisLedger) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

type redisReservation struct {
	ledger *RedisLedger
	key    string
	owner  string
	done   bool
}

// Commit promotes the reservation to a durable consumed mark, but only while
// this holder still owns the key. A reservation that outlived its TTL fails
// here instead of clobbering a competitor's stage.
func (res *redisReservation) Commit(ctx context.Context) error {
	if res.done {
		return nil
	}
	res.done = true

	err := commitScript.Run(ctx, res.ledger.client, []string{res.key}, res.owner, valueConsumed).Err()
	if err == redis.Nil {
		// Lua false: the key expired or was re-taken by another holder.
		return fmt.Errorf("authorization reservation for %s expired before commit", res.key)
	}
	if err != nil {
		return fmt.Errorf("failed to persist authorization consumption: %w", err)
	}
	return nil
}

func (res *redisReservation) Rollback(ctx context.Context) {
	if res.done {
		return
	}
	res.done = true

	if err := rollbackScript.Run(ctx, res.ledger.client, []string{res.key}, res.owner).Err(); err != nil {
		res.ledger.logger.Sugar().Errorw("Failed to release authorization reservation",
			"key", res.key, "error", err)
	}
}

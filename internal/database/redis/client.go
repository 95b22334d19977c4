// Package redis keeps the miner's short-lived state in Redis: solution
// deduplication, the newest job of every client, counters and hashrate windows.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// Client wraps Redis operations for the miner
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns timeouts suited to a local Redis.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		PoolSize:     8,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SolutionKey is the dedup key of a solution hash.
func SolutionKey(hash string) string {
	return "solution:" + hash
}

// LastJobKey is the key holding the newest job of a client.
func LastJobKey(client string) string {
	return "job:last:" + client
}

// HashrateKey is the sorted set of hashrate samples of a solver.
func HashrateKey(solver string) string {
	return "hashrate:" + solver
}

// Solution deduplication

// MarkSolutionSeen records hash and reports whether it was seen for the first
// time within ttl.
func (c *Client) MarkSolutionSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	first, err := c.rdb.SetNX(ctx, SolutionKey(hash), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark solution: %w", err)
	}
	return first, nil
}

// Job snapshots

// JobSnapshot is the part of a job worth caching across restarts.
type JobSnapshot struct {
	PrevHash   string    `json:"prev_hash"`
	MerkleRoot string    `json:"merkle_root"`
	Version    uint32    `json:"version"`
	Bits       uint32    `json:"bits"`
	Time       uint32    `json:"time"`
	Height     int64     `json:"height"`
	ExtraNonce uint64    `json:"extra_nonce"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SetLastJob stores the newest job of a client
func (c *Client) SetLastJob(ctx context.Context, client string, job *JobSnapshot, expiration time.Duration) error {
	jsonData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := c.rdb.Set(ctx, LastJobKey(client), jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set last job: %w", err)
	}

	return nil
}

// GetLastJob retrieves the newest job of a client
func (c *Client) GetLastJob(ctx context.Context, client string) (*JobSnapshot, error) {
	jsonData, err := c.rdb.Get(ctx, LastJobKey(client)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last job: %w", err)
	}

	job := &JobSnapshot{}
	if err := json.Unmarshal([]byte(jsonData), job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return job, nil
}

// Statistics and counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// AddHashrate stores a hashrate sample of a solver and trims samples older than window
func (c *Client) AddHashrate(ctx context.Context, solver string, hashrate float64, at time.Time, window time.Duration) error {
	key := HashrateKey(solver)
	timestamp := at.Unix()

	member := redis.Z{
		Score:  float64(timestamp),
		Member: hashrateMember(timestamp, hashrate),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(timestamp-int64(window.Seconds()), 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add hashrate: %w", err)
	}

	return nil
}

// AverageHashrate averages the samples of a solver within window
func (c *Client) AverageHashrate(ctx context.Context, solver string, window time.Duration) (float64, error) {
	minScore := strconv.FormatInt(time.Now().Add(-window).Unix(), 10)

	members, err := c.rdb.ZRangeByScore(ctx, HashrateKey(solver), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate: %w", err)
	}

	return averageMembers(members), nil
}

// hashrateMember prefixes the value with its timestamp so equal rates at
// different times stay distinct set members.
func hashrateMember(timestamp int64, hashrate float64) string {
	return strconv.FormatInt(timestamp, 10) + ":" + strconv.FormatFloat(hashrate, 'f', -1, 64)
}

func averageMembers(members []string) float64 {
	var sum float64
	var n int
	for _, m := range members {
		_, value, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Package database coordinates the miner's optional stores: PostgreSQL for
// solutions and blocks, Redis for dedup and job snapshots, InfluxDB for time series.
package database

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// Manager coordinates all database operations. Every store is optional; a nil
// client means the store is disabled and its part of an operation is skipped.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Solutions *postgres.SolutionRepository
	Blocks    *postgres.BlockRepository

	dedupTTL time.Duration
	logger   *log.Logger

	// guard the Postgres writes
	breaker *circuit.Breaker
	retry   *retry.Config
}

// Config holds configuration for all database systems. A nil entry disables the store.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
	DedupTTL time.Duration

	// OnBreakerChange observes the circuit breaker of the Postgres writes.
	OnBreakerChange func(name string, from, to circuit.State)
}

// NewManager connects every configured store. On failure the stores already
// opened are closed again.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		dedupTTL: cfg.DedupTTL,
		logger:   logger.WithComponent("database"),
		breaker: circuit.New(&circuit.Config{
			Name:            "postgres",
			MaxFailures:     3,
			ResetTimeout:    time.Minute,
			Timeout:         30 * time.Second,
			SuccessRequired: 2,
			OnStateChange:   cfg.OnBreakerChange,
		}),
		retry: retry.DatabaseConfig(),
	}
	if m.dedupTTL <= 0 {
		m.dedupTTL = 24 * time.Hour
	}

	if cfg.Postgres != nil {
		pgClient, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database"))
		}
		m.Postgres = pgClient
		if err := pgClient.Migrate(ctx); err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migration",
				"failed to apply PostgreSQL schema"))
		}
		m.Solutions = postgres.NewSolutionRepository(pgClient.DB())
		m.Blocks = postgres.NewBlockRepository(pgClient.DB())
	}

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database"))
		}
		m.Redis = redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(ctx, cfg.Influx, logger)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database"))
		}
		m.Influx = influxClient
	}

	return m, nil
}

func (m *Manager) abort(err *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return err.WithContext("cleanup_error", closeErr.Error())
	}
	return err
}

// Enabled reports whether any store is configured.
func (m *Manager) Enabled() bool {
	return m.Postgres != nil || m.Redis != nil || m.Influx != nil
}

// Close closes every open store and joins their errors.
func (m *Manager) Close() error {
	var errs []error
	if m.Postgres != nil {
		errs = append(errs, m.Postgres.Close())
	}
	if m.Redis != nil {
		errs = append(errs, m.Redis.Close())
	}
	if m.Influx != nil {
		m.Influx.Close()
	}
	return stderrors.Join(errs...)
}

// Health checks the enabled stores concurrently and reports the first failure.
func (m *Manager) Health(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	check := func(store string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "health", store+" is unhealthy")
			}
			return nil
		})
	}

	if m.Postgres != nil {
		check("postgres", m.Postgres.Health)
	}
	if m.Redis != nil {
		check("redis", m.Redis.Health)
	}
	if m.Influx != nil {
		check("influx", m.Influx.Health)
	}
	return g.Wait()
}

// durable runs a Postgres write behind the breaker with retries.
func (m *Manager) durable(ctx context.Context, fn func() error) error {
	return m.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retry, fn)
	})
}

// RecordSolution records a solution across all enabled databases. It returns
// false without error when Redis has already seen the hash.
func (m *Manager) RecordSolution(ctx context.Context, s *postgres.Solution) (bool, error) {
	if m.Redis != nil {
		first, err := m.Redis.MarkSolutionSeen(ctx, s.Hash, m.dedupTTL)
		switch {
		case err != nil:
			// without dedup the unique index still rejects duplicates
			m.logger.WithError(err).Warn("solution dedup unavailable", "hash", s.Hash)
		case !first:
			return false, nil
		}
	}

	if m.Solutions != nil {
		err := m.durable(ctx, func() error {
			if _, err := m.Solutions.CreateSolution(ctx, s); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_solution", "failed to store solution").
					WithContext("hash", s.Hash).
					WithContext("class", s.Class)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}

	// best effort from here on
	if m.Influx != nil {
		m.Influx.WriteSolution(influx.SolutionPoint{
			Client:     s.Client,
			Class:      s.Class,
			Difficulty: s.Difficulty,
			Stale:      s.Stale,
			Time:       s.FoundAt,
		})
	}

	if m.Redis != nil {
		if _, err := m.Redis.IncrementCounter(ctx, "solutions:"+s.Class, m.dedupTTL); err != nil {
			m.logger.WithError(err).Warn("failed to update solution counter (non-critical)")
		}
	}

	return true, nil
}

// RecordBlock records a block submission across all enabled databases
func (m *Manager) RecordBlock(ctx context.Context, block *postgres.Block) error {
	if m.Blocks != nil {
		err := m.durable(ctx, func() error {
			if err := m.Blocks.CreateBlock(ctx, block); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_block", "failed to store block").
					WithContext("block_hash", block.Hash).
					WithContext("block_height", block.Height)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if m.Influx != nil {
		var latency time.Duration
		if block.SubmittedAt != nil {
			latency = block.SubmittedAt.Sub(block.FoundAt)
		}
		m.Influx.WriteBlock(block.Height, block.Hash, block.Status, latency, block.FoundAt)
	}

	return nil
}

// RecordHashrate stores a hashrate sample in Influx and the Redis window
func (m *Manager) RecordHashrate(ctx context.Context, solver string, hashesPerSec float64, at time.Time, window time.Duration) error {
	if m.Influx != nil {
		m.Influx.WriteHashrate(solver, hashesPerSec, at)
	}
	if m.Redis != nil {
		if err := m.Redis.AddHashrate(ctx, solver, hashesPerSec, at, window); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "record_hashrate",
				"failed to store hashrate in Redis").
				WithContext("solver", solver)
		}
	}
	return nil
}

// SetLastJob caches the newest job of a client in Redis
func (m *Manager) SetLastJob(ctx context.Context, client string, job *redis.JobSnapshot) error {
	if m.Redis == nil {
		return nil
	}
	if err := m.Redis.SetLastJob(ctx, client, job, m.dedupTTL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "set_last_job",
			"failed to cache job in Redis").
			WithContext("client", client)
	}
	return nil
}

// SummaryQuery selects what Summary reads back from the stores.
type SummaryQuery struct {
	Classes []string
	Solvers []string
	Clients []string
	Window  time.Duration
}

// Summary is a read-only view of what the stores currently hold.
type Summary struct {
	Counters     map[string]int64              `json:"counters,omitempty"`
	Hashrates    map[string]float64            `json:"hashrates,omitempty"`
	LastJobs     map[string]*redis.JobSnapshot `json:"last_jobs,omitempty"`
	Solutions    []postgres.ClassCount         `json:"solutions,omitempty"`
	RecentBlocks []*postgres.Block             `json:"recent_blocks,omitempty"`
}

const recentBlocks = 10

// Summary collects counters and hashrate averages from Redis and the solution
// and block history from PostgreSQL. Disabled stores leave their fields empty.
func (m *Manager) Summary(ctx context.Context, q SummaryQuery) (*Summary, error) {
	sum := &Summary{}

	if m.Redis != nil {
		sum.Counters = make(map[string]int64, len(q.Classes))
		for _, class := range q.Classes {
			n, err := m.Redis.GetCounter(ctx, "solutions:"+class)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "summary", "failed to read solution counter").
					WithContext("class", class)
			}
			sum.Counters[class] = n
		}

		sum.Hashrates = make(map[string]float64, len(q.Solvers))
		for _, solver := range q.Solvers {
			rate, err := m.Redis.AverageHashrate(ctx, solver, q.Window)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "summary", "failed to read hashrate").
					WithContext("solver", solver)
			}
			sum.Hashrates[solver] = rate
		}

		sum.LastJobs = make(map[string]*redis.JobSnapshot, len(q.Clients))
		for _, client := range q.Clients {
			job, err := m.Redis.GetLastJob(ctx, client)
			switch {
			case stderrors.Is(err, redis.ErrNotFound):
			case err != nil:
				return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "summary", "failed to read last job").
					WithContext("client", client)
			default:
				sum.LastJobs[client] = job
			}
		}
	}

	if m.Solutions != nil {
		counts, err := m.Solutions.CountByClass(ctx, time.Now().Add(-q.Window))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "summary", "failed to count solutions")
		}
		sum.Solutions = counts

		blocks, err := m.Blocks.GetRecentBlocks(ctx, recentBlocks, 0)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "summary", "failed to list blocks")
		}
		sum.RecentBlocks = blocks
	}

	return sum, nil
}

// StartPeriodicTasks flushes InfluxDB writes until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context, flushInterval time.Duration) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}

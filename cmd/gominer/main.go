// Package main runs the miner: a CPU backend mining for a solo client on
// bitcoind, with optional exporters and a Prometheus endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/backend"
	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/cpuminer"
	"github.com/bardlex/gominer/internal/database"
	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/export"
	"github.com/bardlex/gominer/internal/hal"
	"github.com/bardlex/gominer/internal/hub"
	"github.com/bardlex/gominer/internal/messaging"
	"github.com/bardlex/gominer/internal/solo"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/pkg/log"
)

func main() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting gominer",
		"version", cfg.Version,
		"network", cfg.BitcoinNetwork,
		"cpu_chains", cfg.CPUChains,
		"asic_boost", cfg.CPUAsicBoost,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("gominer failed")
		os.Exit(1)
	}
	logger.Info("gominer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	metrics := hub.NewMetrics()

	store, err := newStore(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("failed to close databases")
			}
		}()
	}

	var opts []export.Option
	if store != nil {
		opts = append(opts, export.WithStore(store))
	}
	if cfg.KafkaEnabled {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger, metrics.BreakerStateChanged)
		defer func() {
			if err := kafkaClient.Close(); err != nil {
				logger.WithError(err).Warn("failed to close Kafka writers")
			}
		}()
		opts = append(opts, export.WithPublisher(kafkaClient))
	}
	recorder := export.NewRecorder(logger, opts...)

	// the core only holds a weak reference to the registry
	registry := backend.NewRegistry()
	defer runtime.KeepAlive(registry)

	midstateCount := hal.MidstateCount(cfg.CPUAsicBoost)
	core := hub.NewCore(midstateCount, registry, logger, metrics)

	var soloClient *solo.Client
	if cfg.SoloEnabled {
		soloClient, err = newSoloClient(cfg, recorder, metrics, logger)
		if err != nil {
			return err
		}
		defer soloClient.Close()
		if _, err := core.ClientManager().Add(soloClient); err != nil {
			return err
		}
	} else {
		logger.Warn("solo client disabled, solvers stay idle until a client is added")
	}

	frontend, err := core.BuildBackend(ctx, cpuminer.New(cpuSettings(cfg), logger), &hal.BackendConfig{
		MidstateCount:    midstateCount,
		HashrateInterval: cfg.HashrateInterval,
		Info: &hal.BackendInfo{
			HWModel:      "cpu",
			PlatformName: runtime.GOOS + "/" + runtime.GOARCH,
		},
	})
	if err != nil {
		return err
	}

	commands := maps.Clone(frontend.Commands)
	if commands == nil {
		commands = make(map[string]func(context.Context) (any, error))
	}
	var health []healthChecker
	if store != nil {
		health = append(health, store)
		commands["store"] = storeSummary(store, core, 10*cfg.HashrateInterval)
	}
	if soloClient != nil {
		health = append(health, soloClient)
	}
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(metrics, commands, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return core.Run(gctx)
	})
	g.Go(func() error {
		return export.NewHashrateReporter(core, recorder, cfg.HashrateInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if store != nil {
		store.StartPeriodicTasks(gctx, 10*time.Second)
	}

	return g.Wait()
}

// cpuSettings maps the config onto the CPU backend. A positive share
// difficulty makes the solvers report shares below the network target.
func cpuSettings(cfg *config.Config) cpuminer.Settings {
	settings := cpuminer.Settings{
		Chains:     cfg.CPUChains,
		NonceRange: cfg.CPUNonceRange,
	}
	if cfg.ShareDifficulty > 0 {
		settings.Target = bitcoin.TargetFromDifficulty(cfg.ShareDifficulty)
	}
	return settings
}

// storeConfig returns the database config, or nil when every store is off.
func storeConfig(cfg *config.Config, metrics *hub.Metrics) *database.Config {
	if !cfg.PostgresEnabled && !cfg.RedisEnabled && !cfg.InfluxEnabled {
		return nil
	}

	dbCfg := &database.Config{
		DedupTTL:        cfg.DedupTTL,
		OnBreakerChange: metrics.BreakerStateChanged,
	}
	if cfg.PostgresEnabled {
		dbCfg.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.RedisEnabled {
		dbCfg.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.InfluxEnabled {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbCfg
}

func newStore(ctx context.Context, cfg *config.Config, metrics *hub.Metrics, logger *log.Logger) (*database.Manager, error) {
	dbCfg := storeConfig(cfg, metrics)
	if dbCfg == nil {
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return database.NewManager(connectCtx, dbCfg, logger)
}

func newSoloClient(cfg *config.Config, recorder *export.Recorder, metrics *hub.Metrics, logger *log.Logger) (*solo.Client, error) {
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}
	payout, err := cfg.Payout()
	if err != nil {
		return nil, err
	}

	rpc, err := bitcoin.NewRPCClient(bitcoin.RPCConfig{
		Host:            cfg.RPCAddr(),
		User:            cfg.BitcoinRPCUser,
		Pass:            cfg.BitcoinRPCPassword,
		DisableTLS:      cfg.BitcoinRPCDisableTLS,
		Params:          params,
		OnBreakerChange: metrics.BreakerStateChanged,
	})
	if err != nil {
		return nil, err
	}

	var notifier bitcoin.BlockNotifier
	if cfg.BitcoinZMQAddr != "" {
		zmqNotifier, err := bitcoin.NewZMQNotifier(cfg.BitcoinZMQAddr, logger)
		if err != nil {
			// polling still finds new blocks, just later
			logger.WithError(err).Warn("ZMQ notifications unavailable", "endpoint", cfg.BitcoinZMQAddr)
		} else {
			notifier = zmqNotifier
		}
	}

	soloCfg := solo.DefaultConfig(payout)
	soloCfg.PollInterval = cfg.TemplatePollInterval
	soloCfg.MaxTimeSkew = cfg.MaxTimeSkew

	return solo.New(soloCfg, rpc, notifier, recorder, logger), nil
}

// healthChecker is satisfied by *database.Manager and *solo.Client.
type healthChecker interface {
	Health(ctx context.Context) error
}

// summarizer is satisfied by *database.Manager.
type summarizer interface {
	Summary(ctx context.Context, q database.SummaryQuery) (*database.Summary, error)
}

// storeSummary reads back what the exporters wrote for the current solvers and clients.
func storeSummary(store summarizer, core *hub.Core, window time.Duration) func(context.Context) (any, error) {
	classes := []string{
		validation.Share.String(),
		validation.JobShare.String(),
		validation.Block.String(),
	}
	return func(ctx context.Context) (any, error) {
		q := database.SummaryQuery{Classes: classes, Window: window}
		for _, solver := range core.WorkSolvers(ctx) {
			q.Solvers = append(q.Solvers, solver.String())
		}
		for _, h := range core.ClientManager().List() {
			q.Clients = append(q.Clients, h.String())
		}
		return store.Summary(ctx, q)
	}
}

// newMux serves /metrics, /health and one /status/<name> route per command.
func newMux(metrics *hub.Metrics, commands map[string]func(context.Context) (any, error), health []healthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range health {
			if err := check.Health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	for name, command := range commands {
		mux.HandleFunc("GET /status/"+name, func(w http.ResponseWriter, r *http.Request) {
			result, err := command(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(result)
		})
	}
	return mux
}

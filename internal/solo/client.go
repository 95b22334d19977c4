// Package solo is a job client that mines directly against a bitcoind node:
// it turns block templates into jobs, checks the solutions routed back to it
// and submits the ones that complete a block.
package solo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/client"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/export"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Recorder receives everything the client wants exported. *export.Recorder
// implements it.
type Recorder interface {
	RecordSolution(ctx context.Context, rec *export.SolutionRecord)
	RecordBlock(ctx context.Context, rec *export.BlockRecord)
	RecordJob(ctx context.Context, client string, snapshot *redis.JobSnapshot)
}

// Config holds the solo client settings.
type Config struct {
	Name         string
	Payout       btcutil.Address
	PollInterval time.Duration
	// VersionMask is the header version range solvers may roll.
	VersionMask uint32
	// ShareTarget is the job target; zero means the network target.
	ShareTarget bitcoin.Target
	MaxTimeSkew time.Duration
}

// DefaultConfig returns a config paying to payout.
func DefaultConfig(payout btcutil.Address) Config {
	return Config{
		Name:         "solo",
		Payout:       payout,
		PollInterval: 30 * time.Second,
		VersionMask:  job.DefaultVersionMask,
		MaxTimeSkew:  2 * time.Hour,
	}
}

// Stats counts the solutions the client received by verdict.
type Stats struct {
	Templates      atomic.Uint64
	Shares         atomic.Uint64
	JobShares      atomic.Uint64
	Blocks         atomic.Uint64
	RejectedBlocks atomic.Uint64
	StaleBlocks    atomic.Uint64
	HardwareErrors atomic.Uint64
	Invalid        atomic.Uint64
}

// Client is a job.Client backed by bitcoind.
type Client struct {
	cfg       Config
	rpc       bitcoin.RPCInterface
	notifier  bitcoin.BlockNotifier
	recorder  Recorder
	validator *validation.SolutionValidator
	logger    *log.Logger

	origin    *job.Origin
	jobs      *client.JobSender
	solutions *client.SolutionReceiver

	mu      sync.RWMutex
	current *job.Template
	// tipJobs are the templates sent for the current chain tip
	tipJobs []*job.Template
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	extraNonce atomic.Uint64
	refresh    chan struct{}
	stats      Stats
}

// New creates a client. The notifier may be nil, in which case the client
// only polls.
func New(cfg Config, rpc bitcoin.RPCInterface, notifier bitcoin.BlockNotifier, recorder Recorder, logger *log.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "solo"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Client{
		cfg:       cfg,
		rpc:       rpc,
		notifier:  notifier,
		recorder:  recorder,
		validator: validation.NewSolutionValidator(cfg.MaxTimeSkew),
		logger:    logger.WithComponent("solo").WithFields("client", cfg.Name),
		refresh:   make(chan struct{}, 1),
	}
}

func (c *Client) String() string { return c.cfg.Name }

// Stats returns the solution counters.
func (c *Client) Stats() *Stats { return &c.stats }

// Attach implements client.Attacher.
func (c *Client) Attach(origin *job.Origin, solver *client.JobSolver) {
	c.origin = origin
	c.jobs = solver.JobSender
	c.solutions = solver.SolutionReceiver
}

// Start launches the template refresh loop, the block listener and the
// solution loop. It returns immediately.
func (c *Client) Start(ctx context.Context) error {
	if c.jobs == nil {
		return errors.New(errors.ErrorTypeInternal, "solo_start",
			"client was started before being attached").
			WithContext("client", c.cfg.Name)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New(errors.ErrorTypeInternal, "solo_start", "client is already running").
			WithContext("client", c.cfg.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.refreshLoop(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.solutionLoop(runCtx)
	}()

	if c.notifier != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.notifier.Listen(runCtx, func(hash *chainhash.Hash) {
				c.logger.Debug("new tip announced", "hash", hash.String())
				c.RefreshNow()
			})
			if err != nil && runCtx.Err() == nil {
				c.logger.WithError(err).Error("block notifier stopped")
			}
		}()
	}

	c.logger.Info("solo client started", "poll_interval", c.cfg.PollInterval.String(),
		"notifier", c.notifier != nil)
	return nil
}

// Stop cancels the loops and waits for them. It is idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("solo client stopped")
}

// Close stops the client and releases the bitcoind connections.
func (c *Client) Close() {
	c.Stop()
	c.rpc.Close()
	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to close block notifier")
		}
	}
}

// LastJob returns the newest template.
func (c *Client) LastJob(context.Context) (job.Bitcoin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, false
	}
	return c.current, true
}

// RefreshNow asks the refresh loop for a new template without waiting.
func (c *Client) RefreshNow() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *Client) refreshLoop(ctx context.Context) {
	c.update(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(ctx)
		case <-c.refresh:
			c.update(ctx)
		}
	}
}

// update fetches a template and sends it as the new job. When bitcoind is
// unreachable the current template is rolled to a fresh extra nonce so the
// solvers keep getting new merkle roots.
func (c *Client) update(ctx context.Context) {
	extraNonce := c.extraNonce.Add(1)

	gbt, err := c.rpc.GetBlockTemplate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.WithError(err).Error("failed to get block template")
		c.rollExtraNonce(ctx, extraNonce)
		return
	}

	tmpl, err := job.NewTemplate(gbt, job.TemplateConfig{
		Origin:      c.origin,
		Payout:      c.cfg.Payout,
		ExtraNonce:  extraNonce,
		VersionMask: c.cfg.VersionMask,
		ShareTarget: c.cfg.ShareTarget,
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to build job from block template",
			"height", gbt.Height)
		return
	}

	c.install(ctx, tmpl)
}

func (c *Client) rollExtraNonce(ctx context.Context, extraNonce uint64) {
	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()
	if current == nil || !current.IsValid() {
		return
	}

	next, err := current.WithExtraNonce(extraNonce)
	if err != nil {
		c.logger.WithError(err).Error("failed to roll extra nonce")
		return
	}
	c.install(ctx, next)
}

func (c *Client) install(ctx context.Context, tmpl *job.Template) {
	c.mu.Lock()
	prev := c.current
	newTip := prev == nil || *prev.PreviousHash() != *tmpl.PreviousHash()
	stale := c.tipJobs
	if newTip {
		c.tipJobs = nil
	} else {
		stale = nil
	}
	c.tipJobs = append(c.tipJobs, tmpl)
	c.current = tmpl
	c.mu.Unlock()

	if len(stale) > 0 {
		// work on the old tip can never become a block
		for _, old := range stale {
			old.Invalidate()
		}
		c.jobs.Invalidate()
	}
	c.jobs.Send(tmpl)
	c.stats.Templates.Add(1)

	c.logger.WithJob(tmpl.PreviousHash().String(), tmpl.Bits(), tmpl.Version()).
		Info("job sent", "height", tmpl.Height(), "extra_nonce", tmpl.ExtraNonce(), "new_tip", newTip)

	if c.recorder != nil {
		c.recorder.RecordJob(ctx, c.cfg.Name, &redis.JobSnapshot{
			PrevHash:   tmpl.PreviousHash().String(),
			MerkleRoot: tmpl.MerkleRoot().String(),
			Version:    tmpl.Version(),
			Bits:       tmpl.Bits(),
			Time:       tmpl.Time(),
			Height:     tmpl.Height(),
			ExtraNonce: tmpl.ExtraNonce(),
			UpdatedAt:  time.Now(),
		})
	}
}

func (c *Client) solutionLoop(ctx context.Context) {
	for {
		solution, ok := c.solutions.Receive(ctx)
		if !ok {
			return
		}
		c.HandleSolution(ctx, solution)
	}
}

// HandleSolution validates s, exports it and submits it when it completes a
// block.
func (c *Client) HandleSolution(ctx context.Context, s *work.Solution) {
	tmpl, ok := s.Job().(*job.Template)
	if !ok {
		c.stats.Invalid.Add(1)
		c.logger.Warn("solution for a foreign job", "job", s.Job())
		return
	}

	res, err := c.validator.Validate(s)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeHardware) {
			c.stats.HardwareErrors.Add(1)
			chargeHardwareError(s)
		} else {
			c.stats.Invalid.Add(1)
		}
		c.logger.WithError(err).Warn("solution rejected", "nonce", s.Nonce())
		return
	}

	logger := c.logger.WithSolution(res.Hash.String(), s.Nonce(), s.Path().String())
	switch res.Class {
	case validation.HardwareError:
		c.stats.HardwareErrors.Add(1)
		chargeHardwareError(s)
		logger.Warn("hardware error", "difficulty", res.Difficulty)
	case validation.Share:
		c.stats.Shares.Add(1)
	case validation.JobShare:
		c.stats.JobShares.Add(1)
		logger.Debug("job share", "difficulty", res.Difficulty)
	}

	if c.recorder != nil {
		c.recorder.RecordSolution(ctx, export.NewSolutionRecord(c.cfg.Name, tmpl.Height(), s, res))
	}

	if res.Class != validation.Block {
		return
	}
	if res.Stale {
		c.stats.StaleBlocks.Add(1)
		logger.Warn("block solution on a stale tip dropped", "height", tmpl.Height())
		return
	}
	c.submit(ctx, s, tmpl)
}

// chargeHardwareError counts the miss on the solver that reported it.
func chargeHardwareError(s *work.Solution) {
	if solver, ok := s.Solver(); ok {
		solver.Stats().HardwareErrors.Add(1)
	}
}

func (c *Client) submit(ctx context.Context, s *work.Solution, tmpl *job.Template) {
	block := btcutil.NewBlock(tmpl.Block(s.Header()))
	block.SetHeight(int32(tmpl.Height()))
	hash := block.Hash().String()

	err := c.rpc.SubmitBlock(ctx, block)
	rec := &export.BlockRecord{
		Hash:        hash,
		Height:      tmpl.Height(),
		PrevHash:    tmpl.PreviousHash().String(),
		Client:      c.cfg.Name,
		Accepted:    err == nil,
		Err:         err,
		FoundAt:     s.Timestamp(),
		SubmittedAt: time.Now(),
	}

	if err != nil {
		c.stats.RejectedBlocks.Add(1)
		c.logger.WithError(err).Error("block submission failed", "hash", hash, "height", tmpl.Height())
		// keep the raw block around so it can be resubmitted by hand
		if raw, serr := bitcoin.SerializeBlock(block.MsgBlock()); serr == nil {
			c.logger.Debug("rejected block", "hash", hash, "hex", raw)
		}
	} else {
		c.stats.Blocks.Add(1)
		c.logger.LogBlockFound(hash, tmpl.Height(), s.Path().String())
		c.RefreshNow()
	}

	if c.recorder != nil {
		c.recorder.RecordBlock(ctx, rec)
	}
}

// Health reports whether bitcoind answers RPC calls.
func (c *Client) Health(ctx context.Context) error {
	return c.rpc.Ping(ctx)
}

var (
	_ job.Client      = (*Client)(nil)
	_ client.Attacher = (*Client)(nil)
	_ Recorder        = (*export.Recorder)(nil)
)

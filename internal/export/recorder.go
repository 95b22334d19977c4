// Package export fans validated solutions, block submissions and hashrate
// samples out to the configured sinks. A failing sink is logged and never
// stops mining.
package export

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/messaging"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// Publisher is the event stream sink, usually a *messaging.KafkaClient.
type Publisher interface {
	PublishSolution(ctx context.Context, event *messaging.SolutionEvent) error
	PublishBlock(ctx context.Context, event *messaging.BlockEvent) error
	PublishHashrate(ctx context.Context, event *messaging.HashrateEvent) error
}

// Store is the database sink, usually a *database.Manager.
type Store interface {
	RecordSolution(ctx context.Context, s *postgres.Solution) (bool, error)
	RecordBlock(ctx context.Context, b *postgres.Block) error
	RecordHashrate(ctx context.Context, solver string, hashesPerSec float64, at time.Time, window time.Duration) error
	SetLastJob(ctx context.Context, client string, job *redis.JobSnapshot) error
}

// SolutionRecord is the exported form of a validated solution.
type SolutionRecord struct {
	Hash          string
	Client        string
	Path          string
	Class         validation.Class
	Nonce         uint32
	Version       uint32
	NTime         uint32
	Bits          uint32
	MidstateIndex int
	Difficulty    float64
	Height        int64
	Stale         bool
	FoundAt       time.Time
}

// NewSolutionRecord flattens a solution and its verdict.
func NewSolutionRecord(client string, height int64, s *work.Solution, res validation.Result) *SolutionRecord {
	return &SolutionRecord{
		Hash:          res.Hash.String(),
		Client:        client,
		Path:          s.Path().String(),
		Class:         res.Class,
		Nonce:         s.Nonce(),
		Version:       s.Version(),
		NTime:         s.Time(),
		Bits:          s.Job().Bits(),
		MidstateIndex: s.MidstateIndex(),
		Difficulty:    res.Difficulty,
		Height:        height,
		Stale:         res.Stale,
		FoundAt:       s.Timestamp(),
	}
}

// BlockRecord is the outcome of one block submission.
type BlockRecord struct {
	Hash        string
	Height      int64
	PrevHash    string
	Client      string
	Accepted    bool
	Err         error
	FoundAt     time.Time
	SubmittedAt time.Time
}

func (b *BlockRecord) status() string {
	if b.Accepted {
		return postgres.BlockAccepted
	}
	return postgres.BlockRejected
}

func (b *BlockRecord) errorText() string {
	if b.Err == nil {
		return ""
	}
	return b.Err.Error()
}

// Recorder sends every record to all configured sinks concurrently.
type Recorder struct {
	publisher Publisher
	store     Store
	window    time.Duration
	logger    *log.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher adds an event stream sink.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithStore adds a database sink.
func WithStore(s Store) Option {
	return func(r *Recorder) { r.store = s }
}

// WithHashrateWindow sets how long hashrate samples are kept in the store.
func WithHashrateWindow(d time.Duration) Option {
	return func(r *Recorder) { r.window = d }
}

// NewRecorder creates a recorder. Without options it only logs.
func NewRecorder(logger *log.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		window: 10 * time.Minute,
		logger: logger.WithComponent("export"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordSolution exports one solution. Solutions the store has already seen
// are not published again.
func (r *Recorder) RecordSolution(ctx context.Context, rec *SolutionRecord) {
	logger := r.logger.WithSolution(rec.Hash, rec.Nonce, rec.Path)

	if r.store != nil {
		fresh, err := r.store.RecordSolution(ctx, &postgres.Solution{
			Hash:          rec.Hash,
			Client:        rec.Client,
			Path:          rec.Path,
			Class:         rec.Class.String(),
			Nonce:         rec.Nonce,
			Version:       rec.Version,
			NTime:         rec.NTime,
			Bits:          rec.Bits,
			MidstateIndex: rec.MidstateIndex,
			Difficulty:    rec.Difficulty,
			Height:        rec.Height,
			Stale:         rec.Stale,
			FoundAt:       rec.FoundAt,
		})
		if err != nil {
			logger.WithError(err).Error("failed to store solution")
		} else if !fresh {
			logger.Debug("duplicate solution skipped")
			return
		}
	}

	if r.publisher != nil {
		err := r.publisher.PublishSolution(ctx, &messaging.SolutionEvent{
			Hash:          rec.Hash,
			Client:        rec.Client,
			Path:          rec.Path,
			Class:         rec.Class.String(),
			Nonce:         rec.Nonce,
			Version:       rec.Version,
			NTime:         rec.NTime,
			Bits:          rec.Bits,
			MidstateIndex: rec.MidstateIndex,
			Difficulty:    rec.Difficulty,
			Height:        rec.Height,
			Stale:         rec.Stale,
			FoundAt:       rec.FoundAt,
		})
		if err != nil {
			logger.WithError(err).Error("failed to publish solution")
		}
	}
}

// RecordBlock exports a block submission to all sinks in parallel.
func (r *Recorder) RecordBlock(ctx context.Context, rec *BlockRecord) {
	var g errgroup.Group

	if r.store != nil {
		g.Go(func() error {
			submitted := rec.SubmittedAt
			return r.store.RecordBlock(ctx, &postgres.Block{
				Hash:        rec.Hash,
				Height:      rec.Height,
				PrevHash:    rec.PrevHash,
				Client:      rec.Client,
				Status:      rec.status(),
				Error:       rec.errorText(),
				FoundAt:     rec.FoundAt,
				SubmittedAt: &submitted,
			})
		})
	}

	if r.publisher != nil {
		g.Go(func() error {
			return r.publisher.PublishBlock(ctx, &messaging.BlockEvent{
				Hash:        rec.Hash,
				Height:      rec.Height,
				Client:      rec.Client,
				Status:      rec.status(),
				Error:       rec.errorText(),
				SubmittedAt: rec.SubmittedAt,
				LatencyMs:   float64(rec.SubmittedAt.Sub(rec.FoundAt)) / float64(time.Millisecond),
			})
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.WithError(err).Error("failed to export block", "hash", rec.Hash, "height", rec.Height)
	}
}

// RecordHashrate exports one hashrate sample.
func (r *Recorder) RecordHashrate(ctx context.Context, sample HashrateSample) {
	var g errgroup.Group

	if r.store != nil {
		g.Go(func() error {
			return r.store.RecordHashrate(ctx, sample.Solver, sample.HashesPerSec, sample.At, r.window)
		})
	}

	if r.publisher != nil {
		g.Go(func() error {
			return r.publisher.PublishHashrate(ctx, &messaging.HashrateEvent{
				Solver:       sample.Solver,
				Hashes:       sample.Hashes,
				HashesPerSec: sample.HashesPerSec,
				SampledAt:    sample.At,
			})
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.WithError(err).Warn("failed to export hashrate", "solver", sample.Solver)
	}
}

// RecordJob caches the newest job of a client.
func (r *Recorder) RecordJob(ctx context.Context, client string, snapshot *redis.JobSnapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.SetLastJob(ctx, client, snapshot); err != nil {
		r.logger.WithError(err).Warn("failed to cache job", "client", client)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SolutionRepository handles solution-related database operations
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a new solution repository
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// CreateSolution stores a solution. A hash that is already stored is not an
// error; the returned bool reports whether a row was inserted.
func (r *SolutionRepository) CreateSolution(ctx context.Context, s *Solution) (bool, error) {
	query := `
		INSERT INTO solutions (hash, client, path, class, nonce, version, ntime, bits,
		                       midstate_index, difficulty, height, stale, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hash) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.Hash, s.Client, s.Path, s.Class, int64(s.Nonce), int64(s.Version),
		int64(s.NTime), int64(s.Bits), s.MidstateIndex, s.Difficulty, s.Height,
		s.Stale, s.FoundAt,
	).Scan(&s.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create solution: %w", err)
	}

	return true, nil
}

// CountByClass aggregates the solutions found since the given time.
func (r *SolutionRepository) CountByClass(ctx context.Context, since time.Time) ([]ClassCount, error) {
	query := `
		SELECT class, COUNT(*)
		FROM solutions
		WHERE found_at >= $1
		GROUP BY class
		ORDER BY class`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count solutions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []ClassCount
	for rows.Next() {
		var c ClassCount
		if err := rows.Scan(&c.Class, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan solution count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating solution counts: %w", err)
	}

	return counts, nil
}

// BlockRepository handles block-related database operations
type BlockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// CreateBlock creates a new block record
func (r *BlockRepository) CreateBlock(ctx context.Context, block *Block) error {
	query := `
		INSERT INTO blocks (hash, height, prev_hash, client, status, error, found_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hash) DO UPDATE SET status = EXCLUDED.status, error = EXCLUDED.error,
		                                 submitted_at = EXCLUDED.submitted_at
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		block.Hash, block.Height, block.PrevHash, block.Client, block.Status,
		block.Error, block.FoundAt, block.SubmittedAt,
	).Scan(&block.ID)

	if err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}

	return nil
}

// GetBlockByHash retrieves one block.
func (r *BlockRepository) GetBlockByHash(ctx context.Context, hash string) (*Block, error) {
	query := `
		SELECT id, hash, height, prev_hash, client, status, error, found_at, submitted_at
		FROM blocks WHERE hash = $1`

	block := &Block{}
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&block.ID, &block.Hash, &block.Height, &block.PrevHash, &block.Client,
		&block.Status, &block.Error, &block.FoundAt, &block.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}

	return block, nil
}

// GetRecentBlocks retrieves recent blocks with pagination
func (r *BlockRepository) GetRecentBlocks(ctx context.Context, limit, offset int) ([]*Block, error) {
	query := `
		SELECT id, hash, height, prev_hash, client, status, error, found_at, submitted_at
		FROM blocks
		ORDER BY found_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []*Block
	for rows.Next() {
		block := &Block{}
		err := rows.Scan(
			&block.ID, &block.Hash, &block.Height, &block.PrevHash, &block.Client,
			&block.Status, &block.Error, &block.FoundAt, &block.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	return blocks, nil
}

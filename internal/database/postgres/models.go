package postgres

import (
	"time"
)

// Block statuses
const (
	BlockAccepted = "accepted"
	BlockRejected = "rejected"
)

// Solution is a validated solution as stored in the solutions table
type Solution struct {
	ID            int64     `db:"id"`
	Hash          string    `db:"hash"`
	Client        string    `db:"client"`
	Path          string    `db:"path"`
	Class         string    `db:"class"`
	Nonce         uint32    `db:"nonce"`
	Version       uint32    `db:"version"`
	NTime         uint32    `db:"ntime"`
	Bits          uint32    `db:"bits"`
	MidstateIndex int       `db:"midstate_index"`
	Difficulty    float64   `db:"difficulty"`
	Height        int64     `db:"height"`
	Stale         bool      `db:"stale"`
	FoundAt       time.Time `db:"found_at"`
}

// Block represents a found block and its submission outcome
type Block struct {
	ID          int64      `db:"id"`
	Hash        string     `db:"hash"`
	Height      int64      `db:"height"`
	PrevHash    string     `db:"prev_hash"`
	Client      string     `db:"client"`
	Status      string     `db:"status"`
	Error       string     `db:"error"`
	FoundAt     time.Time  `db:"found_at"`
	SubmittedAt *time.Time `db:"submitted_at"`
}

// ClassCount is one row of SolutionRepository.CountByClass.
type ClassCount struct {
	Class string `db:"class"`
	Count int64  `db:"count"`
}

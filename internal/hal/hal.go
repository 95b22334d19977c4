// Package hal is the contract between the mining core and a hardware backend.
package hal

import (
	"context"
	"time"

	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/work"
)

// RawResult is a candidate nonce reported by hardware.
type RawResult = work.RawResult

// AsicBoostMidstateCount is the number of midstates per assignment with asic boost on.
const AsicBoostMidstateCount = 4

// MidstateCount returns how many midstates each assignment carries.
func MidstateCount(asicBoost bool) int {
	if asicBoost {
		return AsicBoostMidstateCount
	}
	return 1
}

// BackendInfo describes the hardware a backend drives.
type BackendInfo struct {
	HWModel      string
	PlatformName string
	DeviceID     string
}

// ClientManager is the part of the client manager a backend may use.
type ClientManager interface {
	ClientCount() int
}

// BackendConfig is handed to every backend call.
type BackendConfig struct {
	// MidstateCount is the number of midstates the backend solves at once.
	MidstateCount int
	// Info optionally describes the hardware.
	Info *BackendInfo
	// ClientManager is set by the core before Create is called.
	ClientManager ClientManager
	// HashrateInterval is the window of the hashrate statistics.
	HashrateInterval time.Duration
	// Settings carries backend specific options.
	Settings any
}

// FrontendConfig is what a backend tells the frontend once it is initialized.
type FrontendConfig struct {
	// ClientManagerEnabled tells the frontend to expose client management.
	ClientManagerEnabled bool
	// Commands are extra status commands the backend serves, keyed by name.
	Commands map[string]func(ctx context.Context) (any, error)
}

// Backend builds one subtree of the mining hierarchy.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Create tells the core whether the backend is a hub or a solver. It must
	// not block; slow bring-up belongs in the Init methods.
	Create(cfg *BackendConfig) node.WorkSolverType

	// InitWorkHub is called once after a hub returned by Create has been
	// registered. The builder registers the hub's children.
	InitWorkHub(ctx context.Context, cfg *BackendConfig, hub node.WorkHub, builder *work.SolverBuilder) (FrontendConfig, error)

	// InitWorkSolver is called once after a solver returned by Create has
	// been registered.
	InitWorkSolver(ctx context.Context, cfg *BackendConfig, solver node.WorkSolver, generator *work.Generator, solutions *work.SolutionSender) (FrontendConfig, error)
}

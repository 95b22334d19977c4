// Package node describes the members of the mining hierarchy: clients that
// supply jobs, hubs that branch and solvers that hash.
package node

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Info identifies a hierarchy node or a client in logs and solution paths.
type Info interface {
	fmt.Stringer
}

// Name is the simplest Info.
type Name string

func (n Name) String() string { return string(n) }

// Path is the ordered list of nodes a piece of work travelled through.
type Path []Info

// Append returns a copy of p with info at the end. The receiver is never modified.
func (p Path) Append(info Info) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, info)
}

// String joins the node names with "/".
func (p Path) String() string {
	names := make([]string, len(p))
	for i, info := range p {
		names[i] = info.String()
	}
	return strings.Join(names, "/")
}

// Stats are the counters every hub and solver keeps.
type Stats struct {
	ValidSolutions atomic.Uint64
	HardwareErrors atomic.Uint64
	Hashes         atomic.Uint64
}

// WorkHub is a branching node whose children are registered later through a builder.
type WorkHub interface {
	Info
	Stats() *Stats
}

// WorkSolver is a terminal node that computes work.
type WorkSolver interface {
	Info
	Stats() *Stats
}

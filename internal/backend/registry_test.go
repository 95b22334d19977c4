package backend

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bardlex/gominer/internal/node"
)

type testNode struct {
	name  string
	stats node.Stats
}

func (n *testNode) String() string     { return n.name }
func (n *testNode) Stats() *node.Stats { return &n.stats }

func names[T node.Info](nodes []T) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

func TestRegistryHubWithTwoSolvers(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	hub := &testNode{name: "hub"}
	if err := r.RegisterHub(ctx, hub); err != nil {
		t.Fatal(err)
	}
	set, err := r.SetRoot(ctx, hub)
	if err != nil || !set {
		t.Fatalf("SetRoot() = %v, %v", set, err)
	}
	for _, name := range []string{"chain-0", "chain-1"} {
		if err := r.RegisterSolver(ctx, &testNode{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff([]string{"hub"}, names(r.Hubs(ctx))); diff != "" {
		t.Errorf("Hubs() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"chain-0", "chain-1"}, names(r.Solvers(ctx))); diff != "" {
		t.Errorf("Solvers() mismatch (-want +got):\n%s", diff)
	}

	root, ok := r.Root(ctx)
	if !ok || root != hub {
		t.Errorf("Root() = %v, %v", root, ok)
	}
}

func TestRegistryRootSetOnce(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	if _, ok := r.Root(ctx); ok {
		t.Fatal("new registry has a root")
	}

	first, second := &testNode{name: "a"}, &testNode{name: "b"}
	if set, _ := r.SetRoot(ctx, first); !set {
		t.Fatal("first SetRoot() was ignored")
	}
	if set, _ := r.SetRoot(ctx, second); set {
		t.Fatal("second SetRoot() replaced the root")
	}
	if root, _ := r.Root(ctx); root != first {
		t.Errorf("Root() = %v, want %v", root, first)
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	_ = r.RegisterSolver(ctx, &testNode{name: "s0"})

	snapshot := r.Solvers(ctx)
	_ = r.RegisterSolver(ctx, &testNode{name: "s1"})

	if len(snapshot) != 1 {
		t.Errorf("snapshot changed to %d entries", len(snapshot))
	}
	snapshot[0] = &testNode{name: "replaced"}
	if got := r.Solvers(ctx)[0].String(); got != "s0" {
		t.Errorf("registry modified through snapshot: %s", got)
	}
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RegisterSolver(ctx, &testNode{name: "s"})
			_ = r.Solvers(ctx)
		}()
	}
	wg.Wait()

	if got := len(r.Solvers(ctx)); got != n {
		t.Errorf("len(Solvers()) = %d, want %d", got, n)
	}
}

func TestRegistryLockHonoursContext(t *testing.T) {
	r := NewRegistry()
	if err := r.lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.RegisterHub(ctx, &testNode{name: "hub"}); err == nil {
		t.Error("RegisterHub() succeeded while the registry was locked")
	}
	if hubs := r.Hubs(ctx); hubs != nil {
		t.Errorf("Hubs() = %v while locked", hubs)
	}
}

func TestWeakRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("alive", func(t *testing.T) {
		r := NewRegistry()
		_ = r.RegisterHub(ctx, &testNode{name: "hub"})
		w := r.Weak()

		if got := len(w.Hubs(ctx)); got != 1 {
			t.Errorf("len(Hubs()) = %d, want 1", got)
		}
		if _, ok := w.Upgrade(); !ok {
			t.Error("Upgrade() failed on a live registry")
		}
		runtime.KeepAlive(r)
	})

	t.Run("dead", func(t *testing.T) {
		var w WeakRegistry

		if _, ok := w.Upgrade(); ok {
			t.Error("Upgrade() succeeded on a dead registry")
		}
		if _, ok := w.Root(ctx); ok {
			t.Error("Root() succeeded on a dead registry")
		}
		if len(w.Hubs(ctx)) != 0 || len(w.Solvers(ctx)) != 0 {
			t.Error("dead registry returned nodes")
		}
	})
}

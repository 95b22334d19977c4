package solo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/client"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/export"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/node"
	tu "github.com/bardlex/gominer/internal/testutil"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

type mockRPC struct {
	mu        sync.Mutex
	templates []*btcjson.GetBlockTemplateResult
	calls     int
	gbtErr    error
	submitErr error
	pingErr   error
	submitted []*btcutil.Block
}

// GetBlockTemplate returns the queued templates in order and then repeats the last one.
func (m *mockRPC) GetBlockTemplate(context.Context) (*btcjson.GetBlockTemplateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.gbtErr != nil {
		return nil, m.gbtErr
	}
	tmpl := m.templates[0]
	if len(m.templates) > 1 {
		m.templates = m.templates[1:]
	}
	return tmpl, nil
}

func (m *mockRPC) SubmitBlock(_ context.Context, block *btcutil.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, block)
	return m.submitErr
}

func (m *mockRPC) Ping(context.Context) error { return m.pingErr }
func (m *mockRPC) Close()                     {}

func (m *mockRPC) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockNotifier struct {
	tip chainhash.Hash
}

func (n *mockNotifier) Listen(ctx context.Context, onBlock func(hash *chainhash.Hash)) error {
	onBlock(&n.tip)
	<-ctx.Done()
	return ctx.Err()
}

func (n *mockNotifier) Close() error { return nil }

type fakeRecorder struct {
	mu        sync.Mutex
	solutions []*export.SolutionRecord
	blocks    []*export.BlockRecord
	jobs      []*redis.JobSnapshot
}

func (r *fakeRecorder) RecordSolution(_ context.Context, rec *export.SolutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.solutions = append(r.solutions, rec)
}

func (r *fakeRecorder) RecordBlock(_ context.Context, rec *export.BlockRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, rec)
}

func (r *fakeRecorder) RecordJob(_ context.Context, _ string, snapshot *redis.JobSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, snapshot)
}

// regtestTemplate builds a template on top of prev with the regtest
// difficulty, where about every other nonce completes a block.
func regtestTemplate(prev chainhash.Hash, height int64) *btcjson.GetBlockTemplateResult {
	value := int64(50 * btcutil.SatoshiPerBitcoin)
	return &btcjson.GetBlockTemplateResult{
		Bits:          "207fffff",
		CurTime:       time.Now().Unix(),
		Height:        height,
		PreviousHash:  prev.String(),
		Version:       0x20000000,
		CoinbaseValue: &value,
	}
}

func payout(t *testing.T) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20), &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

type fixture struct {
	client   *Client
	rpc      *mockRPC
	recorder *fakeRecorder
	manager  *client.Manager
}

func newFixture(t *testing.T, templates ...*btcjson.GetBlockTemplateResult) *fixture {
	t.Helper()

	rpc := &mockRPC{templates: templates}
	recorder := &fakeRecorder{}
	cfg := DefaultConfig(payout(t))
	cfg.PollInterval = time.Hour

	c := New(cfg, rpc, nil, recorder, log.Discard())
	manager := client.NewManager(1, log.Discard())
	if _, err := manager.Add(c); err != nil {
		t.Fatal(err)
	}
	return &fixture{client: c, rpc: rpc, recorder: recorder, manager: manager}
}

func (f *fixture) template(t *testing.T) *job.Template {
	t.Helper()
	j, ok := f.client.LastJob(context.Background())
	if !ok {
		t.Fatal("no job")
	}
	return j.(*job.Template)
}

// solve returns a solution of tmpl whose hash does or does not meet the
// network target.
func solve(t *testing.T, tmpl *job.Template, meets bool) *work.Solution {
	t.Helper()

	target := tmpl.NetworkTarget()
	for nonce := range uint32(1024) {
		header := bitcoin.HeaderFromParts(tmpl.Version(), tmpl.PreviousHash(), tmpl.MerkleRoot(),
			tmpl.Time(), tmpl.Bits(), nonce)
		hash := header.BlockHash()
		if target.MeetsTarget(&hash) != meets {
			continue
		}
		a := work.NewAssignment(tmpl, []work.Midstate{work.NewMidstate(tmpl, tmpl.Version())}, tmpl.Time())
		return work.NewSolution(a, &tu.Result{NonceValue: nonce, BackendTarget: target}, time.Time{})
	}
	t.Fatalf("no nonce with meets=%v", meets)
	return nil
}

func TestUpdateSendsJob(t *testing.T) {
	genesis := chaincfg.RegressionNetParams.GenesisHash
	f := newFixture(t, regtestTemplate(*genesis, 1))

	if _, ok := f.client.LastJob(context.Background()); ok {
		t.Fatal("LastJob() before the first template")
	}

	f.client.update(context.Background())

	tmpl := f.template(t)
	if *tmpl.PreviousHash() != *genesis || tmpl.Height() != 1 {
		t.Errorf("template = prev %s height %d", tmpl.PreviousHash(), tmpl.Height())
	}
	if tmpl.ExtraNonce() != 1 {
		t.Errorf("extra nonce = %d, want 1", tmpl.ExtraNonce())
	}
	if tmpl.VersionMask() != job.DefaultVersionMask {
		t.Errorf("version mask = %#x", tmpl.VersionMask())
	}
	if tmpl.Origin() == nil {
		t.Error("template has no origin")
	}
	if got := f.client.Stats().Templates.Load(); got != 1 {
		t.Errorf("templates = %d", got)
	}
	if len(f.recorder.jobs) != 1 || f.recorder.jobs[0].Height != 1 {
		t.Errorf("recorded jobs = %+v", f.recorder.jobs)
	}
}

func TestNewTipInvalidatesPreviousJob(t *testing.T) {
	genesis := *chaincfg.RegressionNetParams.GenesisHash
	next := chainhash.Hash{1}
	f := newFixture(t,
		regtestTemplate(genesis, 1),
		regtestTemplate(genesis, 1),
		regtestTemplate(next, 2),
	)
	ctx := context.Background()

	f.client.update(ctx)
	first := f.template(t)

	f.client.update(ctx)
	second := f.template(t)
	if !first.IsValid() {
		t.Error("same tip invalidated the previous job")
	}

	f.client.update(ctx)
	third := f.template(t)
	if first.IsValid() {
		t.Error("stale job from the first template is still valid")
	}
	if second.IsValid() {
		t.Error("job on the old tip is still valid")
	}
	if !third.IsValid() || third.Height() != 2 {
		t.Errorf("new job valid=%v height=%d", third.IsValid(), third.Height())
	}
}

func TestTemplateFailureRollsExtraNonce(t *testing.T) {
	genesis := *chaincfg.RegressionNetParams.GenesisHash
	f := newFixture(t, regtestTemplate(genesis, 1))
	ctx := context.Background()

	f.client.update(ctx)
	first := f.template(t)

	f.rpc.gbtErr = fmt.Errorf("connection refused")
	f.client.update(ctx)

	rolled := f.template(t)
	if rolled == first {
		t.Fatal("template was not replaced")
	}
	if rolled.ExtraNonce() != 2 {
		t.Errorf("extra nonce = %d, want 2", rolled.ExtraNonce())
	}
	if *rolled.MerkleRoot() == *first.MerkleRoot() {
		t.Error("rolled template kept the merkle root")
	}
	if !first.IsValid() {
		t.Error("rolling the extra nonce invalidated the previous job")
	}
}

func TestHandleSolution(t *testing.T) {
	genesis := *chaincfg.RegressionNetParams.GenesisHash
	ctx := context.Background()

	tests := []struct {
		name       string
		meets      bool
		stale      bool
		submitErr  error
		wantClass  validation.Class
		wantSubmit int
		wantBlocks []bool
	}{
		{name: "block", meets: true, wantClass: validation.Block, wantSubmit: 1, wantBlocks: []bool{true}},
		{name: "rejected block", meets: true, submitErr: fmt.Errorf("bad-txns"), wantClass: validation.Block, wantSubmit: 1, wantBlocks: []bool{false}},
		{name: "stale block", meets: true, stale: true, wantClass: validation.Block},
		{name: "hardware error", meets: false, wantClass: validation.HardwareError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, regtestTemplate(genesis, 1))
			f.rpc.submitErr = tt.submitErr
			f.client.update(ctx)

			tmpl := f.template(t)
			solution := solve(t, tmpl, tt.meets)
			if tt.stale {
				tmpl.Invalidate()
			}

			f.client.HandleSolution(ctx, solution)

			if len(f.recorder.solutions) != 1 {
				t.Fatalf("recorded %d solutions", len(f.recorder.solutions))
			}
			rec := f.recorder.solutions[0]
			if rec.Class != tt.wantClass || rec.Height != 1 || rec.Client != "solo" {
				t.Errorf("solution record = %+v", rec)
			}

			if len(f.rpc.submitted) != tt.wantSubmit {
				t.Fatalf("submitted %d blocks, want %d", len(f.rpc.submitted), tt.wantSubmit)
			}
			var accepted []bool
			for _, b := range f.recorder.blocks {
				accepted = append(accepted, b.Accepted)
			}
			if fmt.Sprint(accepted) != fmt.Sprint(tt.wantBlocks) {
				t.Errorf("block records accepted = %v, want %v", accepted, tt.wantBlocks)
			}

			if tt.wantSubmit == 1 {
				block := f.rpc.submitted[0]
				hash := solution.Hash()
				if *block.Hash() != hash {
					t.Errorf("submitted block %s, want %s", block.Hash(), hash)
				}
				if len(block.MsgBlock().Transactions) != 1 {
					t.Errorf("block has %d transactions", len(block.MsgBlock().Transactions))
				}
				if f.recorder.blocks[0].PrevHash != genesis.String() {
					t.Errorf("block record prev hash = %s", f.recorder.blocks[0].PrevHash)
				}
			}
		})
	}
}

func TestHardwareErrorsChargeSolver(t *testing.T) {
	genesis := *chaincfg.RegressionNetParams.GenesisHash
	ctx := context.Background()

	tests := []struct {
		name     string
		midstate int
	}{
		{name: "misses backend target", midstate: 0},
		{name: "midstate out of range", midstate: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, regtestTemplate(genesis, 1))
			f.client.update(ctx)
			tmpl := f.template(t)

			miss := solve(t, tmpl, false)
			hub, solver := tu.NewNode("cpu"), tu.NewNode("chain-0")
			a := miss.Work().WithPath(node.Path{hub, solver})
			result := &tu.Result{NonceValue: miss.Nonce(), Midstate: tt.midstate, BackendTarget: tmpl.NetworkTarget()}

			f.client.HandleSolution(ctx, work.NewSolution(a, result, time.Time{}))

			if got := f.client.Stats().HardwareErrors.Load(); got != 1 {
				t.Errorf("client hardware errors = %d, want 1", got)
			}
			if got := solver.Stats().HardwareErrors.Load(); got != 1 {
				t.Errorf("solver hardware errors = %d, want 1", got)
			}
			if got := hub.Stats().HardwareErrors.Load(); got != 0 {
				t.Errorf("hub hardware errors = %d, want 0", got)
			}
			if len(f.rpc.submitted) != 0 {
				t.Error("hardware error was submitted")
			}
		})
	}
}

func TestHandleForeignSolution(t *testing.T) {
	f := newFixture(t, regtestTemplate(*chaincfg.RegressionNetParams.GenesisHash, 1))

	f.client.HandleSolution(context.Background(), tu.Solution(tu.TestBlocks()[0]))

	if got := f.client.Stats().Invalid.Load(); got != 1 {
		t.Errorf("invalid = %d", got)
	}
	if len(f.recorder.solutions) != 0 {
		t.Error("foreign solution was exported")
	}
}

func TestStartWithoutAttach(t *testing.T) {
	c := New(DefaultConfig(payout(t)), &mockRPC{}, nil, nil, log.Discard())
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() without Attach succeeded")
	}
	c.Stop()
}

func TestStartRefreshesOnNotification(t *testing.T) {
	genesis := *chaincfg.RegressionNetParams.GenesisHash
	rpc := &mockRPC{templates: []*btcjson.GetBlockTemplateResult{regtestTemplate(genesis, 1)}}
	cfg := DefaultConfig(payout(t))
	cfg.PollInterval = time.Hour

	c := New(cfg, rpc, &mockNotifier{tip: genesis}, nil, log.Discard())
	manager := client.NewManager(1, log.Discard())
	if _, err := manager.Add(c); err != nil {
		t.Fatal(err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	deadline := time.Now().Add(5 * time.Second)
	for rpc.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := rpc.callCount(); got < 2 {
		t.Errorf("GetBlockTemplate called %d times, want the initial fetch plus a refresh", got)
	}

	c.Stop()
	c.Stop()
	if _, ok := c.LastJob(context.Background()); !ok {
		t.Error("no job after start")
	}
}

func TestHealth(t *testing.T) {
	rpc := &mockRPC{}
	c := New(DefaultConfig(payout(t)), rpc, nil, nil, log.Discard())
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() = %v", err)
	}

	rpc.pingErr = fmt.Errorf("connection refused")
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("Health() = nil with bitcoind down")
	}
}

package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/darkresearch/paykit/internal/testutil"
	"github.com/darkresearch/paykit/pkg/config"
	"github.com/darkresearch/paykit/pkg/custodian"
	"github.com/darkresearch/paykit/pkg/model"
	"github.com/darkresearch/paykit/pkg/protocol"
)

type rig struct {
	orch     *Orchestrator
	ledger   *testutil.MockLedger
	cust     *testutil.MockCustodian
	fetcher  *testutil.MockFetcher
	cfg      *config.Config
	custAddr solana.PublicKey
}

func newRig(t *testing.T) *rig {
	t.Helper()

	cfg := &config.Config{
		RPCEndpoint:  "http://localhost:8899",
		CustodianURL: "http://localhost:9999",
		Timeouts: config.Timeouts{
			ChainRead:   time.Second,
			ChainSubmit: time.Second,
			ConfirmWait: 200 * time.Millisecond,
			Custodian:   time.Second,
			Protocol:    time.Second,
			Sweep:       200 * time.Millisecond,
		},
	}

	custKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	custAddr := custKey.PublicKey()

	l := testutil.NewMockLedger()
	l.SweepTarget = custAddr
	cust := &testutil.MockCustodian{Addr: custAddr, Ledger: l}
	fetcher := &testutil.MockFetcher{Body: []byte(`{"status":"ok"}`)}

	orch, err := NewWithClients(cfg, l, fetcher)
	if err != nil {
		t.Fatalf("NewWithClients: %v", err)
	}

	return &rig{orch: orch, ledger: l, cust: cust, fetcher: fetcher, cfg: cfg, custAddr: custAddr}
}

func (r *rig) requirement(t *testing.T, amount uint64) model.PaymentRequirement {
	t.Helper()
	mint, err := solana.PublicKeyFromBase58(r.cfg.StableMint)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return model.PaymentRequirement{
		Network:     r.cfg.Network,
		Mint:        mint,
		Amount:      amount,
		PayTo:       solana.SystemProgramID,
		ResourceURL: "https://api.example.com/v1/data",
		ResourceRef: "req-1",
	}
}

func TestExecute_Fulfilled(t *testing.T) {
	r := newRig(t)
	req := r.requirement(t, 1_000)

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomeFulfilled {
		t.Fatalf("kind=%s reason=%q", out.Kind, out.Reason)
	}
	if string(out.Resource) != `{"status":"ok"}` {
		t.Fatalf("resource=%q", out.Resource)
	}
	if out.WalletState != model.StateReclaimed {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
	if out.Funding == nil || !out.Funding.Complete() {
		t.Fatalf("funding=%+v; want both legs confirmed", out.Funding)
	}
	if !out.Fulfilled() {
		t.Fatal("Fulfilled()=false")
	}

	// Funding was one fee leg plus one principal leg, principal carrying the
	// configured margin, and the fetch ceiling matched the funded principal.
	if got := r.cust.TransferCount(); got != 2 {
		t.Fatalf("transfers=%d; want 2", got)
	}
	wantPrincipal := r.cfg.PrincipalWithMargin(1_000)
	if r.cust.Transfers[1].Amount != wantPrincipal {
		t.Fatalf("principal=%d; want %d", r.cust.Transfers[1].Amount, wantPrincipal)
	}
	if r.fetcher.LastMax.Cmp(new(big.Int).SetUint64(wantPrincipal)) != 0 {
		t.Fatalf("fetch ceiling=%s; want %d", r.fetcher.LastMax, wantPrincipal)
	}
	if r.fetcher.LastURL != req.ResourceURL {
		t.Fatalf("fetch url=%q", r.fetcher.LastURL)
	}

	// Everything that was funded made it back to the custodial address.
	back, err := r.ledger.Lamports(context.Background(), r.custAddr)
	if err != nil {
		t.Fatalf("Lamports: %v", err)
	}
	if back != r.cfg.FeeFundLamports {
		t.Fatalf("reclaimed lamports=%d; want %d", back, r.cfg.FeeFundLamports)
	}
}

func TestExecute_GeneratesInvocationID(t *testing.T) {
	r := newRig(t)

	out := r.orch.Execute(context.Background(), r.requirement(t, 1_000), "", r.cust)
	if out.Kind != model.OutcomeFulfilled {
		t.Fatalf("kind=%s reason=%q", out.Kind, out.Reason)
	}
	if out.InvocationID == "" {
		t.Fatal("empty invocation id in outcome")
	}
}

func TestExecute_PolicyRejected(t *testing.T) {
	r := newRig(t)
	req := r.requirement(t, 20_000) // default ceiling is 0.01 USDC = 10_000 units

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomePolicyRejected {
		t.Fatalf("kind=%s", out.Kind)
	}
	if out.Reason == "" {
		t.Fatal("empty reason")
	}

	// A routed-to-approval requirement must leave no trace: no wallet funded,
	// no ledger traffic, no payment attempt.
	if n := r.ledger.TotalCalls(); n != 0 {
		t.Fatalf("ledger calls=%d; want 0", n)
	}
	if n := r.cust.TransferCount(); n != 0 {
		t.Fatalf("transfers=%d; want 0", n)
	}
	if r.fetcher.Calls != 0 {
		t.Fatalf("fetches=%d; want 0", r.fetcher.Calls)
	}
}

func TestExecute_WrongMintRejected(t *testing.T) {
	r := newRig(t)
	req := r.requirement(t, 1_000)
	req.Mint = solana.SystemProgramID

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)
	if out.Kind != model.OutcomePolicyRejected {
		t.Fatalf("kind=%s", out.Kind)
	}
	if n := r.ledger.TotalCalls(); n != 0 {
		t.Fatalf("ledger calls=%d; want 0", n)
	}
}

func TestExecute_WrongNetworkRejected(t *testing.T) {
	r := newRig(t)
	req := r.requirement(t, 1_000)
	req.Network = config.SolanaDevnet

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)
	if out.Kind != model.OutcomeProtocolRejected {
		t.Fatalf("kind=%s", out.Kind)
	}
	if n := r.ledger.TotalCalls(); n != 0 {
		t.Fatalf("ledger calls=%d; want 0", n)
	}
}

// blockingFetcher parks inside the paid fetch until released, so a test can
// hold a run in flight.
type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
	body    []byte

	once sync.Once
}

func (f *blockingFetcher) FetchPaidResource(ctx context.Context, _ string, _ solana.PrivateKey, _ *big.Int) ([]byte, error) {
	f.once.Do(func() { close(f.entered) })
	select {
	case <-f.release:
		return f.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExecute_DuplicateInvocationInFlight(t *testing.T) {
	r := newRig(t)
	fetcher := &blockingFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		body:    []byte("paid"),
	}
	orch, err := NewWithClients(r.cfg, r.ledger, fetcher)
	if err != nil {
		t.Fatalf("NewWithClients: %v", err)
	}
	req := r.requirement(t, 1_000)

	first := make(chan model.Outcome, 1)
	go func() {
		first <- orch.Execute(context.Background(), req, "inv-dup", r.cust)
	}()

	select {
	case <-fetcher.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the paid fetch")
	}

	// Same id while the first run is mid-payment: rejected immediately,
	// nothing spent for it.
	dup := orch.Execute(context.Background(), req, "inv-dup", r.cust)
	if dup.Kind != model.OutcomeDuplicateInvocation {
		t.Fatalf("duplicate kind=%s", dup.Kind)
	}
	if got := r.cust.TransferCount(); got != 2 {
		t.Fatalf("transfers=%d; want 2 (one funding sequence)", got)
	}

	close(fetcher.release)
	out := <-first
	if out.Kind != model.OutcomeFulfilled {
		t.Fatalf("first kind=%s reason=%q", out.Kind, out.Reason)
	}

	// The id is free again once the first run finished.
	second := orch.Execute(context.Background(), req, "inv-dup", r.cust)
	if second.Kind != model.OutcomeDuplicateInvocation {
		return
	}
	t.Fatal("completed invocation id still rejected as duplicate")
}

func TestExecute_PrincipalLegFails(t *testing.T) {
	r := newRig(t)
	r.cust.TokenErr = custodian.ErrInsufficientBalance
	req := r.requirement(t, 1_000)

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomeFundingFailed {
		t.Fatalf("kind=%s reason=%q", out.Kind, out.Reason)
	}
	if out.Funding == nil || !out.Funding.FeeConfirmed || out.Funding.PrincipalConfirmed {
		t.Fatalf("funding=%+v; want fee confirmed only", out.Funding)
	}
	if r.fetcher.Calls != 0 {
		t.Fatalf("fetches=%d; want 0 after funding failure", r.fetcher.Calls)
	}

	// The fee leg landed, so it was swept back before reporting.
	if out.WalletState != model.StateReclaimed {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
	if !strings.Contains(out.Reason, "partial funds reclaimed") {
		t.Fatalf("reason=%q; want partial-reclaim note", out.Reason)
	}
	back, err := r.ledger.Lamports(context.Background(), r.custAddr)
	if err != nil {
		t.Fatalf("Lamports: %v", err)
	}
	if back != r.cfg.FeeFundLamports {
		t.Fatalf("reclaimed lamports=%d; want %d", back, r.cfg.FeeFundLamports)
	}
}

func TestExecute_FeeLegFails(t *testing.T) {
	r := newRig(t)
	r.cust.NativeErr = custodian.ErrInsufficientBalance
	req := r.requirement(t, 1_000)

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomeFundingFailed {
		t.Fatalf("kind=%s", out.Kind)
	}
	if out.Funding.Landed() {
		t.Fatalf("funding=%+v; want nothing landed", out.Funding)
	}
	// Nothing landed, so no sweep ran.
	if got := r.ledger.Calls["Broadcast"]; got != 0 {
		t.Fatalf("broadcasts=%d; want 0", got)
	}
	if out.WalletState != model.StateCreated {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
}

func TestExecute_QuoteRejectedByProtocol(t *testing.T) {
	r := newRig(t)
	r.fetcher.Err = &protocol.Error{Kind: protocol.ErrQuoteRejected, Detail: "NO_VALID_SIGNER"}
	req := r.requirement(t, 1_000)

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomeProtocolRejected {
		t.Fatalf("kind=%s", out.Kind)
	}
	if !strings.Contains(out.Reason, "NO_VALID_SIGNER") {
		t.Fatalf("reason=%q", out.Reason)
	}
	if out.Resource != nil {
		t.Fatalf("resource=%q; want none", out.Resource)
	}

	// Funds still came back even though the payment never happened.
	if out.WalletState != model.StateReclaimed {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
	if out.Residual != nil {
		t.Fatalf("residual=%+v; want none", out.Residual)
	}
}

func TestExecute_ReclaimIncomplete(t *testing.T) {
	r := newRig(t)
	r.ledger.BroadcastErr = errors.New("rpc unavailable")
	req := r.requirement(t, 1_000)

	out := r.orch.Execute(context.Background(), req, "inv-1", r.cust)

	if out.Kind != model.OutcomeReclaimIncomplete {
		t.Fatalf("kind=%s reason=%q", out.Kind, out.Reason)
	}
	if out.WalletState != model.StateAbandoned {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
	if out.Residual == nil {
		t.Fatal("no residual recorded")
	}
	if out.Residual.Lamports != r.cfg.FeeFundLamports {
		t.Fatalf("residual lamports=%d; want %d", out.Residual.Lamports, r.cfg.FeeFundLamports)
	}
	wantTokens := r.cfg.PrincipalWithMargin(1_000)
	if out.Residual.TokenUnits != wantTokens {
		t.Fatalf("residual tokens=%d; want %d", out.Residual.TokenUnits, wantTokens)
	}

	// The payment itself succeeded; the resource survives the sweep failure.
	if string(out.Resource) != `{"status":"ok"}` {
		t.Fatalf("resource=%q", out.Resource)
	}
	if !out.Fulfilled() {
		t.Fatal("Fulfilled()=false for a paid run with a stranded sweep")
	}
}

// cancellingFetcher cancels the caller's context from inside the paid fetch,
// simulating a caller that goes away mid-payment.
type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancellingFetcher) FetchPaidResource(ctx context.Context, _ string, _ solana.PrivateKey, _ *big.Int) ([]byte, error) {
	f.cancel()
	return nil, ctx.Err()
}

func TestExecute_CancelMidPaymentStillReclaims(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch, err := NewWithClients(r.cfg, r.ledger, &cancellingFetcher{cancel: cancel})
	if err != nil {
		t.Fatalf("NewWithClients: %v", err)
	}

	out := orch.Execute(ctx, r.requirement(t, 1_000), "inv-1", r.cust)

	if out.Kind != model.OutcomeProtocolRejected {
		t.Fatalf("kind=%s reason=%q", out.Kind, out.Reason)
	}

	// The caller's cancellation must not strand the funded wallet: the
	// reclaim runs on a detached context and completes.
	if out.WalletState != model.StateReclaimed {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
	if out.Residual != nil {
		t.Fatalf("residual=%+v; want none", out.Residual)
	}
	back, err := r.ledger.Lamports(context.Background(), r.custAddr)
	if err != nil {
		t.Fatalf("Lamports: %v", err)
	}
	if back != r.cfg.FeeFundLamports {
		t.Fatalf("reclaimed lamports=%d; want %d", back, r.cfg.FeeFundLamports)
	}
	tokens, err := r.ledger.TokenBalance(context.Background(), r.custAddr, solana.PublicKey{})
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if want := r.cfg.PrincipalWithMargin(1_000); tokens.Units != want {
		t.Fatalf("reclaimed tokens=%d; want %d", tokens.Units, want)
	}
}

func TestExecute_CancelledBeforeFunding(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := r.orch.Execute(ctx, r.requirement(t, 1_000), "inv-1", r.cust)

	if out.Kind != model.OutcomeFundingFailed {
		t.Fatalf("kind=%s", out.Kind)
	}
	if n := r.cust.TransferCount(); n != 0 {
		t.Fatalf("transfers=%d; want 0 after pre-funding cancel", n)
	}
	if out.WalletState != model.StateCreated {
		t.Fatalf("wallet state=%s", out.WalletState)
	}
}

func TestExecute_ConcurrentDistinctIDs(t *testing.T) {
	r := newRig(t)
	req := r.requirement(t, 1_000)

	const runs = 4
	var wg sync.WaitGroup
	outs := make([]model.Outcome, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = r.orch.Execute(context.Background(), req, "", r.cust)
		}(i)
	}
	wg.Wait()

	for i, out := range outs {
		if out.Kind != model.OutcomeFulfilled {
			t.Fatalf("run %d: kind=%s reason=%q", i, out.Kind, out.Reason)
		}
	}
	if got := r.cust.TransferCount(); got != 2*runs {
		t.Fatalf("transfers=%d; want %d", got, 2*runs)
	}
}

func TestNewWithClients_DebugRaisesLogLevel(t *testing.T) {
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)

	cfg := &config.Config{
		RPCEndpoint:  "http://localhost:8899",
		CustodianURL: "http://localhost:9999",
		Debug:        true,
	}
	if _, err := NewWithClients(cfg, testutil.NewMockLedger(), &testutil.MockFetcher{}); err != nil {
		t.Fatalf("NewWithClients: %v", err)
	}
	if !zap.L().Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug config did not raise the global log level")
	}
}

func TestIsAutoApprovable(t *testing.T) {
	r := newRig(t)
	mint, _ := solana.PublicKeyFromBase58(r.cfg.StableMint)

	if !r.orch.IsAutoApprovable(10_000, mint) {
		t.Fatal("amount at ceiling rejected")
	}
	if r.orch.IsAutoApprovable(10_001, mint) {
		t.Fatal("amount above ceiling accepted")
	}
	if r.orch.IsAutoApprovable(1, solana.SystemProgramID) {
		t.Fatal("foreign mint accepted")
	}
}

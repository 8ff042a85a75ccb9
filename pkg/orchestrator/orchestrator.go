package orchestrator

import (
	"context"
	"io"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/darkresearch/paykit/pkg/config"
	"github.com/darkresearch/paykit/pkg/custodian"
	"github.com/darkresearch/paykit/pkg/ledger"
	"github.com/darkresearch/paykit/pkg/model"
	"github.com/darkresearch/paykit/pkg/protocol"
	"github.com/darkresearch/paykit/pkg/wallet"
)

// init configures a default global zap logger. Applications may replace it
// with zap.ReplaceGlobals(...) if they need custom logging.
func init() {
	logger, err := buildLogger(zap.InfoLevel)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

func buildLogger(level zapcore.Level) (*zap.Logger, error) {
	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return c.Build()
}

// ResourceFetcher performs the pay-for-resource handshake with an ephemeral
// payer key. protocol.Client is the production implementation; tests supply
// mocks.
type ResourceFetcher interface {
	FetchPaidResource(ctx context.Context, url string, payer solana.PrivateKey, maxAmount *big.Int) ([]byte, error)
}

// Orchestrator executes payment runs. It is safe for concurrent use; many
// runs may be in flight at once, each owning disjoint key material.
type Orchestrator struct {
	cfg     *config.Config
	ledger  ledger.Client
	manager *wallet.Manager
	fetcher ResourceFetcher

	ceiling uint64
	mint    solana.PublicKey

	// inflight is the only process-wide shared mutable state: the set of
	// invocation ids with a run in flight.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wires an Orchestrator over a live JSON-RPC ledger client and the x402
// protocol client. The config must have been validated.
func New(cfg *config.Config) (*Orchestrator, error) {
	rpcClient := ledger.NewRPCClient(cfg.RPCEndpoint)
	return NewWithClients(cfg, rpcClient, protocol.NewClient(cfg, rpcClient.RPC()))
}

// NewWithClients wires an Orchestrator over caller-supplied ledger and
// protocol clients. Tests use it to inject mocks. When cfg.Debug is set the
// global logger is raised to debug level.
func NewWithClients(cfg *config.Config, l ledger.Client, fetcher ResourceFetcher) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ceiling, err := cfg.CeilingBaseUnits()
	if err != nil {
		return nil, err
	}

	mint, err := solana.PublicKeyFromBase58(cfg.StableMint)
	if err != nil {
		return nil, err
	}

	if cfg.Debug {
		logger, err := buildLogger(zap.DebugLevel)
		if err != nil {
			return nil, err
		}
		zap.ReplaceGlobals(logger)
	}

	return &Orchestrator{
		cfg:      cfg,
		ledger:   l,
		manager:  wallet.NewManager(l, cfg),
		fetcher:  fetcher,
		ceiling:  ceiling,
		mint:     mint,
		inflight: make(map[string]struct{}),
	}, nil
}

// Close releases resources held by the shared clients.
func (o *Orchestrator) Close() {
	if closer, ok := o.ledger.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			zap.L().Debug("ledger close", zap.Error(err))
		}
	}
}

// IsAutoApprovable reports whether a payment of amount base units of mint
// falls under the auto-approval ceiling. Callers can query it before even
// constructing a run.
func (o *Orchestrator) IsAutoApprovable(amount uint64, mint solana.PublicKey) bool {
	return mint.Equals(o.mint) && amount <= o.ceiling
}

// Execute runs one payment: policy gate, ephemeral wallet creation, funding
// from source, the pay-for-resource handshake, and the reclaim sweep back to
// source's custodial address. It always returns exactly one Outcome and
// never returns an error; every failure mode is a typed outcome.
//
// invocationID keys at-most-once execution; a duplicate id with a run in
// flight yields OutcomeDuplicateInvocation without touching the chain. An
// empty id gets a generated UUID.
func (o *Orchestrator) Execute(ctx context.Context, req model.PaymentRequirement, invocationID string, source custodian.Handle) model.Outcome {
	if invocationID == "" {
		invocationID = uuid.NewString()
	}

	log := zap.L().With(
		zap.String("invocation_id", invocationID),
		zap.String("resource_ref", req.ResourceRef),
	)

	if !o.acquire(invocationID) {
		log.Warn("duplicate invocation rejected")
		return model.Outcome{
			Kind:         model.OutcomeDuplicateInvocation,
			InvocationID: invocationID,
			Requirement:  req,
			Reason:       "a run with this invocation id is already in flight",
		}
	}
	defer o.release(invocationID)

	return o.run(ctx, log, req, invocationID, source)
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.inflight[id]; exists {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

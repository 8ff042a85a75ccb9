package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/darkresearch/paykit/pkg/config"
	"github.com/darkresearch/paykit/pkg/custodian"
	"github.com/darkresearch/paykit/pkg/ledger"
	"github.com/darkresearch/paykit/pkg/model"
)

// Manager drives funding and reclamation of ephemeral wallets. It holds no
// run-specific state and is shared across concurrent runs.
type Manager struct {
	ledger   ledger.Client
	timeouts config.Timeouts

	sweepFeeLamports uint64
	dustLamports     uint64
	dustTokenUnits   uint64
}

// NewManager builds a Manager over the given ledger client with the config's
// timeout table and dust policy.
func NewManager(l ledger.Client, cfg *config.Config) *Manager {
	return &Manager{
		ledger:           l,
		timeouts:         cfg.Timeouts.WithDefaults(),
		sweepFeeLamports: cfg.SweepFeeLamports,
		dustLamports:     cfg.DustLamports,
		dustTokenUnits:   cfg.DustTokenUnits,
	}
}

// Create generates a fresh ephemeral wallet. No I/O.
func (m *Manager) Create() (*Wallet, error) {
	return New()
}

// Fund executes the plan against the funding source: the fee leg first, then
// the principal leg, each confirmed on the ledger before the next step. The
// returned FundingResult records which legs confirmed; the error describes
// the first leg that did not. Transport errors from the custodian or ledger
// never propagate raw; they arrive as custodian sentinel errors or ledger
// confirmation errors.
func (m *Manager) Fund(ctx context.Context, w *Wallet, plan model.FundingPlan, source custodian.Handle) (model.FundingResult, error) {
	var result model.FundingResult

	feeID, err := m.transfer(ctx, source, custodian.TransferRequest{
		Amount:      plan.FeeLamports,
		Destination: w.Address(),
	})
	if err != nil {
		return result, fmt.Errorf("fee leg: %w", err)
	}
	result.FeeTransferID = feeID

	if err := m.confirmLeg(ctx, feeID, func(ctx context.Context) (bool, error) {
		lamports, err := m.ledger.Lamports(ctx, w.Address())
		return lamports >= plan.FeeLamports, err
	}); err != nil {
		return result, fmt.Errorf("fee leg: %w", err)
	}
	result.FeeConfirmed = true

	principalID, err := m.transfer(ctx, source, custodian.TransferRequest{
		Mint:        &plan.Mint,
		Amount:      plan.PrincipalUnits,
		Destination: w.Address(),
	})
	if err != nil {
		return result, fmt.Errorf("principal leg: %w", err)
	}
	result.PrincipalID = principalID

	if err := m.confirmLeg(ctx, principalID, func(ctx context.Context) (bool, error) {
		bal, err := m.ledger.TokenBalance(ctx, w.Address(), plan.Mint)
		return bal.Units >= plan.PrincipalUnits, err
	}); err != nil {
		return result, fmt.Errorf("principal leg: %w", err)
	}
	result.PrincipalConfirmed = true

	return result, nil
}

func (m *Manager) transfer(ctx context.Context, source custodian.Handle, req custodian.TransferRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeouts.Custodian)
	defer cancel()
	return source.Transfer(ctx, req)
}

// confirmLeg awaits confirmation of one funding leg. A confirmation timeout
// is resolved by re-reading the balance: a transfer that outlived the poll
// budget may still have landed, and declaring it unconfirmed when the value
// is visible on chain would double-count the failure.
func (m *Manager) confirmLeg(ctx context.Context, transferID string, landed func(context.Context) (bool, error)) error {
	sig, err := solana.SignatureFromBase58(transferID)
	if err != nil {
		return fmt.Errorf("custodian transfer id %q: %w", transferID, err)
	}

	err = ledger.AwaitConfirmation(ctx, m.ledger, sig, m.timeouts.ConfirmWait)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ledger.ErrConfirmationTimeout) {
		return err
	}

	readCtx, cancel := context.WithTimeout(ctx, m.timeouts.ChainRead)
	defer cancel()
	ok, readErr := landed(readCtx)
	if readErr == nil && ok {
		zap.L().Debug("funding leg confirmed via balance re-read after poll timeout",
			zap.String("transfer_id", transferID))
		return nil
	}
	return err
}

// Sweep drains the wallet back to destination: full token balance of mint,
// the token account's rent via a close, and the remaining lamports minus the
// sweep transaction's own fee, all in one transaction signed by the wallet's
// key. If the native balance cannot cover the sweep fee (or sits below the
// dust threshold), the sweep is skipped and the residual reported. The error
// is non-nil exactly when value remains in the wallet.
func (m *Manager) Sweep(ctx context.Context, w *Wallet, destination solana.PublicKey, mint solana.PublicKey) (model.SweepResult, error) {
	var result model.SweepResult

	lamports, tokens, err := m.balances(ctx, w.Address(), mint)
	if err != nil {
		return result, fmt.Errorf("read balances: %w", err)
	}

	if lamports == 0 && tokens.Units == 0 && !tokens.Exists {
		// Nothing ever landed, or a previous sweep already drained it.
		return result, nil
	}

	if lamports < m.sweepFeeLamports || lamports <= m.dustLamports {
		result.Skipped = true
		result.Residual = model.Residual{Lamports: lamports, TokenUnits: tokens.Units}
		zap.L().Warn("sweep skipped, native balance below fee budget",
			zap.String("wallet", w.Address().String()),
			zap.Uint64("lamports", lamports),
			zap.Uint64("token_units", tokens.Units))
		return result, fmt.Errorf("sweep skipped: %s below fee budget", result.Residual.String())
	}

	key, err := w.PrivateKey()
	if err != nil {
		return result, err
	}

	tx, err := m.buildSweepTx(ctx, w.Address(), destination, mint, lamports, tokens)
	if err != nil {
		return result, fmt.Errorf("build sweep: %w", err)
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(w.Address()) {
			return &key
		}
		return nil
	}); err != nil {
		return result, fmt.Errorf("sign sweep: %w", err)
	}

	broadcastCtx, cancel := context.WithTimeout(ctx, m.timeouts.ChainSubmit)
	sig, broadcastErr := m.ledger.Broadcast(broadcastCtx, tx)
	cancel()

	var confirmErr error
	if broadcastErr == nil {
		result.TransferID = sig.String()
		confirmErr = ledger.AwaitConfirmation(ctx, m.ledger, sig, m.timeouts.Sweep)
	}

	// Whatever the broadcast or poll said, the balances decide. An ambiguous
	// broadcast may have landed; a clean confirmation should leave zero.
	afterLamports, afterTokens, readErr := m.balances(ctx, w.Address(), mint)
	if readErr != nil {
		if broadcastErr != nil {
			return result, fmt.Errorf("sweep broadcast failed and balance re-read failed: %w", broadcastErr)
		}
		return result, fmt.Errorf("sweep outcome unknown, balance re-read failed: %w", readErr)
	}

	result.Residual = model.Residual{Lamports: afterLamports, TokenUnits: afterTokens.Units}
	result.Swept = model.Residual{
		Lamports:   lamports - afterLamports,
		TokenUnits: tokens.Units - afterTokens.Units,
	}

	if result.Residual.IsZero() {
		return result, nil
	}

	switch {
	case broadcastErr != nil:
		return result, fmt.Errorf("sweep broadcast: %w", broadcastErr)
	case confirmErr != nil:
		return result, fmt.Errorf("sweep confirmation: %w", confirmErr)
	default:
		return result, fmt.Errorf("sweep left residual: %s", result.Residual.String())
	}
}

func (m *Manager) balances(ctx context.Context, addr, mint solana.PublicKey) (uint64, ledger.TokenBalance, error) {
	readCtx, cancel := context.WithTimeout(ctx, m.timeouts.ChainRead)
	defer cancel()

	lamports, err := m.ledger.Lamports(readCtx, addr)
	if err != nil {
		return 0, ledger.TokenBalance{}, err
	}
	tokens, err := m.ledger.TokenBalance(readCtx, addr, mint)
	if err != nil {
		return 0, ledger.TokenBalance{}, err
	}
	return lamports, tokens, nil
}

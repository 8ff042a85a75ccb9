package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/darkresearch/paykit/pkg/custodian"
	"github.com/darkresearch/paykit/pkg/model"
	"github.com/darkresearch/paykit/pkg/wallet"
)

// run drives one payment through the full state machine. The ephemeral key
// material is dropped on every exit path.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, req model.PaymentRequirement, invocationID string, source custodian.Handle) model.Outcome {
	outcome := model.Outcome{
		InvocationID: invocationID,
		Requirement:  req,
	}

	// Policy gate. Runs before anything touches the chain.
	if req.Network != o.cfg.Network {
		outcome.Kind = model.OutcomeProtocolRejected
		outcome.Reason = fmt.Sprintf("requirement network %q does not match configured %q", req.Network, o.cfg.Network)
		log.Warn("requirement on wrong network", zap.String("network", req.Network))
		return outcome
	}
	if !o.IsAutoApprovable(req.Amount, req.Mint) {
		outcome.Kind = model.OutcomePolicyRejected
		outcome.Reason = fmt.Sprintf("amount %d of %s above auto-approval ceiling %d", req.Amount, req.Mint, o.ceiling)
		log.Info("requirement needs explicit approval",
			zap.Uint64("amount", req.Amount),
			zap.Uint64("ceiling", o.ceiling))
		return outcome
	}

	// Create.
	w, err := o.manager.Create()
	if err != nil {
		outcome.Kind = model.OutcomeFundingFailed
		outcome.Reason = fmt.Sprintf("wallet creation: %v", err)
		return outcome
	}
	defer w.Destroy()
	log = log.With(zap.String("wallet", w.Address().String()))
	log.Debug("ephemeral wallet created")

	// A run still at Created may be cancelled with no on-chain effect.
	if err := ctx.Err(); err != nil {
		outcome.Kind = model.OutcomeFundingFailed
		outcome.Reason = fmt.Sprintf("cancelled before funding: %v", err)
		outcome.WalletState = w.State()
		return outcome
	}

	// Fund.
	plan := model.FundingPlan{
		FeeLamports:    o.cfg.FeeFundLamports,
		Mint:           o.mint,
		PrincipalUnits: o.cfg.PrincipalWithMargin(req.Amount),
	}
	funding, fundErr := o.manager.Fund(ctx, w, plan, source)
	outcome.Funding = &funding

	// Once anything landed, reclaim must complete even if the caller goes
	// away mid-run.
	reclaimCtx := context.WithoutCancel(ctx)

	if fundErr != nil {
		log.Warn("funding failed",
			zap.Bool("fee_confirmed", funding.FeeConfirmed),
			zap.Bool("principal_confirmed", funding.PrincipalConfirmed),
			zap.Error(fundErr))
		outcome.Kind = model.OutcomeFundingFailed
		outcome.Reason = fundErr.Error()
		if funding.Landed() {
			o.reclaim(reclaimCtx, log, w, source, &outcome)
		}
		outcome.WalletState = w.State()
		return outcome
	}
	w.SetState(model.StateFunded)
	log.Info("ephemeral wallet funded",
		zap.Uint64("fee_lamports", plan.FeeLamports),
		zap.Uint64("principal_units", plan.PrincipalUnits))

	// Pay. Never retried beyond the protocol client's own bounded
	// no-response retries; a rejection is terminal for this requirement.
	w.SetState(model.StatePaymentAttempted)
	key, keyErr := w.PrivateKey()
	var resource []byte
	payErr := keyErr
	if keyErr == nil {
		resource, payErr = o.fetcher.FetchPaidResource(ctx, req.ResourceURL, key, new(big.Int).SetUint64(plan.PrincipalUnits))
	}
	if payErr != nil {
		log.Warn("payment not fulfilled", zap.Error(payErr))
	} else {
		log.Info("resource fetched", zap.Int("bytes", len(resource)))
	}

	// Reclaim. Always attempted once funding succeeded.
	outcome.Resource = resource
	if payErr == nil {
		outcome.Kind = model.OutcomeFulfilled
	} else {
		outcome.Kind = model.OutcomeProtocolRejected
		outcome.Reason = payErr.Error()
	}
	o.reclaim(reclaimCtx, log, w, source, &outcome)
	outcome.WalletState = w.State()
	return outcome
}

// reclaim sweeps the wallet back to the custodial address and folds the
// result into the outcome: a residual turns any outcome into
// OutcomeReclaimIncomplete, keeping the already-fetched resource and reason.
func (o *Orchestrator) reclaim(ctx context.Context, log *zap.Logger, w *wallet.Wallet, source custodian.Handle, outcome *model.Outcome) {
	result, err := o.manager.Sweep(ctx, w, source.Address(), o.mint)

	if result.Residual.IsZero() && err == nil {
		w.SetState(model.StateReclaimed)
		if outcome.Kind == model.OutcomeFundingFailed {
			outcome.Reason = fmt.Sprintf("%s; partial funds reclaimed", outcome.Reason)
		}
		log.Info("wallet reclaimed",
			zap.Uint64("swept_lamports", result.Swept.Lamports),
			zap.Uint64("swept_token_units", result.Swept.TokenUnits))
		return
	}

	w.SetState(model.StateAbandoned)
	residual := result.Residual
	outcome.Residual = &residual
	if outcome.Kind != model.OutcomeFulfilled {
		outcome.Reason = fmt.Sprintf("%s; reclaim: %v", outcome.Reason, err)
	} else {
		outcome.Reason = fmt.Sprintf("reclaim: %v", err)
	}
	outcome.Kind = model.OutcomeReclaimIncomplete

	// Real economic loss until reconciled; must reach an operator.
	log.Error("reclaim incomplete, residual stranded in ephemeral wallet",
		zap.Uint64("residual_lamports", residual.Lamports),
		zap.Uint64("residual_token_units", residual.TokenUnits),
		zap.Bool("sweep_skipped", result.Skipped),
		zap.Error(err))
}

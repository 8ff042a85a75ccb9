package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/darkresearch/paykit/pkg/ledger"
)

// buildSweepTx assembles the single reclaim transaction: token transfer,
// token-account close, lamport transfer, in that order. The token account is
// closed only when it ends the transaction empty; closing a funded account
// is rejected by the token program.
func (m *Manager) buildSweepTx(
	ctx context.Context,
	from, destination, mint solana.PublicKey,
	lamports uint64,
	tokens ledger.TokenBalance,
) (*solana.Transaction, error) {

	var instructions []solana.Instruction

	if tokens.Exists {
		source, err := ledger.TokenAccount(from, mint)
		if err != nil {
			return nil, err
		}

		sweepTokens := tokens.Units > 0 && tokens.Units >= m.dustTokenUnits
		if sweepTokens {
			destATA, err := ledger.TokenAccount(destination, mint)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions,
				createIdempotentATAInstruction(from, destination, destATA, mint),
				token.NewTransferCheckedInstructionBuilder().
					SetAmount(tokens.Units).
					SetDecimals(tokens.Decimals).
					SetSourceAccount(source).
					SetDestinationAccount(destATA).
					SetMintAccount(mint).
					SetOwnerAccount(from).
					Build(),
			)
		}

		if sweepTokens || tokens.Units == 0 {
			// Rent goes straight to the destination.
			instructions = append(instructions,
				token.NewCloseAccountInstructionBuilder().
					SetAccount(source).
					SetDestinationAccount(destination).
					SetOwnerAccount(from).
					Build(),
			)
		}
	}

	instructions = append(instructions,
		system.NewTransferInstruction(lamports-m.sweepFeeLamports, from, destination).Build(),
	)

	blockhashCtx, cancel := context.WithTimeout(ctx, m.timeouts.ChainRead)
	defer cancel()
	blockhash, err := m.ledger.LatestBlockhash(blockhashCtx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}

	return solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(from))
}

// createIdempotentATAInstruction creates the destination's associated token
// account if it does not exist yet. CreateIdempotent (discriminator 1)
// succeeds when the account is already there, so it is safe to prepend to
// every token sweep.
func createIdempotentATAInstruction(payer, owner, ata, mint solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{1})
}

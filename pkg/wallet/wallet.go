package wallet

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/darkresearch/paykit/pkg/model"
)

// ErrDestroyed is returned when a wallet's key material is used after the
// owning run dropped it.
var ErrDestroyed = errors.New("wallet: key material destroyed")

// Wallet is a single-use signing identity. It is owned by exactly one
// orchestration run, lives only in process memory, and is destroyed when the
// run terminates regardless of outcome.
type Wallet struct {
	key       solana.PrivateKey
	addr      solana.PublicKey
	state     model.LifecycleState
	destroyed bool
}

// New generates a fresh keypair. Pure, no I/O; the only failure mode is the
// process entropy source.
func New() (*Wallet, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Wallet{
		key:   key,
		addr:  key.PublicKey(),
		state: model.StateCreated,
	}, nil
}

// Address returns the wallet's public identifier.
func (w *Wallet) Address() solana.PublicKey {
	return w.addr
}

// State returns the current lifecycle state.
func (w *Wallet) State() model.LifecycleState {
	return w.state
}

// SetState advances the lifecycle. The orchestrator is the only caller;
// transitions within a run are strictly sequential.
func (w *Wallet) SetState(s model.LifecycleState) {
	w.state = s
}

// PrivateKey hands out the in-memory key for signing. Returns ErrDestroyed
// after Destroy.
func (w *Wallet) PrivateKey() (solana.PrivateKey, error) {
	if w.destroyed {
		return nil, ErrDestroyed
	}
	return w.key, nil
}

// Destroyed reports whether the key material has been dropped.
func (w *Wallet) Destroyed() bool {
	return w.destroyed
}

// Destroy zeroes the key material. Idempotent; called on every exit path of
// the owning run.
func (w *Wallet) Destroy() {
	if w.destroyed {
		return
	}
	for i := range w.key {
		w.key[i] = 0
	}
	w.key = nil
	w.destroyed = true
}

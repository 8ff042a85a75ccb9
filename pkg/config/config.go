package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SolanaMainnet is the CAIP-2 identifier for Solana mainnet-beta.
const SolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"

// SolanaDevnet is the CAIP-2 identifier for Solana devnet.
const SolanaDevnet = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"

// USDCMint is the mainnet USDC mint address, the default stable asset.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Config holds all settings required to run the payment core. Use Validate
// to fill implicit defaults and to check for required fields. A Config is
// created once and treated as read-only afterwards.
type Config struct {
	// Network is the CAIP-2 identifier of the settlement chain. Quotes on any
	// other network are rejected. Default: SolanaMainnet.
	Network string `json:"network" yaml:"network"`
	// RPCEndpoint is the Solana JSON-RPC endpoint URL (required).
	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	// CustodianURL is the base URL of the custodial wallet service (required).
	CustodianURL string `json:"custodian_url" yaml:"custodian_url"`
	// StableMint is the SPL mint of the stable asset payments are made in.
	// Default: USDCMint.
	StableMint string `json:"stable_mint" yaml:"stable_mint"`
	// StableDecimals is the mint's decimal count. Default: 6.
	StableDecimals int `json:"stable_decimals" yaml:"stable_decimals"`
	// StableSymbol is informational, used in logging. Default: "USDC".
	StableSymbol string `json:"stable_symbol" yaml:"stable_symbol"`
	// AutoApproveCeiling is the maximum auto-approved payment, as a decimal
	// string in human units of the stable asset (e.g. "0.005"). Requirements
	// above it are routed to explicit approval. Default: "0.01".
	AutoApproveCeiling string `json:"auto_approve_ceiling" yaml:"auto_approve_ceiling"`
	// FeeFundLamports is the fixed native-asset amount of the funding fee
	// leg, sized to cover transaction fees and token-account rent for one
	// payment plus the reclaim sweep. Default: 3_000_000 (0.003 SOL).
	FeeFundLamports uint64 `json:"fee_fund_lamports" yaml:"fee_fund_lamports"`
	// PrincipalMarginBp is the safety margin added to the principal funding
	// leg, in basis points, covering protocol-side rounding. Default: 100.
	PrincipalMarginBp uint64 `json:"principal_margin_bp" yaml:"principal_margin_bp"`
	// SweepFeeLamports is the fee budget withheld from the lamport sweep so
	// the sweep transaction can pay for itself. Default: 5_000.
	SweepFeeLamports uint64 `json:"sweep_fee_lamports" yaml:"sweep_fee_lamports"`
	// DustLamports is the native balance below which a sweep is skipped as
	// uneconomical. Default: 15_000 (three signature fees).
	DustLamports uint64 `json:"dust_lamports" yaml:"dust_lamports"`
	// DustTokenUnits is the stable-asset balance below which the token leg of
	// a sweep is skipped. Default: 0; any token balance rides along with the
	// lamport sweep for free.
	DustTokenUnits uint64 `json:"dust_token_units" yaml:"dust_token_units"`
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation deadlines. See Timeouts.WithDefaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
}

// Timeouts controls deadlines for every network-bound step of a run.
// Zero values will be replaced by sane defaults in WithDefaults.
type Timeouts struct {
	ChainRead   time.Duration // balance reads, confirmation status reads
	ChainSubmit time.Duration // transaction broadcast
	ConfirmWait time.Duration // bounded confirmation polling per transfer
	Custodian   time.Duration // one custodian transfer round-trip
	Protocol    time.Duration // one paid-resource handshake
	Sweep       time.Duration // reclaim broadcast plus confirmation
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	ChainRead:   12s
//	ChainSubmit: 25s
//	ConfirmWait: 45s
//	Custodian:   30s
//	Protocol:    60s
//	Sweep:       45s
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ConfirmWait == 0 {
		tt.ConfirmWait = 45 * time.Second
	}
	if tt.Custodian == 0 {
		tt.Custodian = 30 * time.Second
	}
	if tt.Protocol == 0 {
		tt.Protocol = 60 * time.Second
	}
	if tt.Sweep == 0 {
		tt.Sweep = 45 * time.Second
	}
	return tt
}

// Validate normalizes the configuration by applying implicit defaults and
// verifies that required fields are provided. It returns an error when
// RPCEndpoint or CustodianURL is empty, or when AutoApproveCeiling does not
// parse as a decimal amount.
func (c *Config) Validate() error {

	if c.Network == "" {
		c.Network = SolanaMainnet
	}

	if c.StableMint == "" {
		c.StableMint = USDCMint
	}

	if c.StableDecimals == 0 {
		c.StableDecimals = 6
	}

	if c.StableSymbol == "" {
		c.StableSymbol = "USDC"
	}

	if c.AutoApproveCeiling == "" {
		c.AutoApproveCeiling = "0.01"
	}

	if c.FeeFundLamports == 0 {
		c.FeeFundLamports = 3_000_000
	}

	if c.PrincipalMarginBp == 0 {
		c.PrincipalMarginBp = 100
	}

	if c.SweepFeeLamports == 0 {
		c.SweepFeeLamports = 5_000
	}

	if c.DustLamports == 0 {
		c.DustLamports = 15_000
	}

	if c.RPCEndpoint == "" {
		return errors.New("RPC endpoint is required")
	}

	if c.CustodianURL == "" {
		return errors.New("custodian URL is required")
	}

	if _, err := c.CeilingBaseUnits(); err != nil {
		return err
	}

	return nil
}

// CeilingBaseUnits converts AutoApproveCeiling from human units of the stable
// asset into base units, using StableDecimals. "0.005" with 6 decimals
// becomes 5000.
func (c *Config) CeilingBaseUnits() (uint64, error) {
	d, err := decimal.NewFromString(c.AutoApproveCeiling)
	if err != nil {
		return 0, fmt.Errorf("invalid auto-approve ceiling %q: %w", c.AutoApproveCeiling, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("auto-approve ceiling %q is negative", c.AutoApproveCeiling)
	}
	units := d.Shift(int32(c.StableDecimals))
	if !units.IsInteger() {
		return 0, fmt.Errorf("auto-approve ceiling %q has more than %d decimals", c.AutoApproveCeiling, c.StableDecimals)
	}
	return uint64(units.IntPart()), nil
}

// PrincipalWithMargin returns the principal funding amount for a quoted
// payment: the quoted base units plus the configured basis-point margin,
// rounded up.
func (c *Config) PrincipalWithMargin(amount uint64) uint64 {
	margin := (amount*c.PrincipalMarginBp + 9_999) / 10_000
	return amount + margin
}

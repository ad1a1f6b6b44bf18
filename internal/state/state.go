package state

import (
	"crypto/sha256"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
)

// DiscountTier grants Discount to holders of at least MinimumBalance
// discount tokens.
type DiscountTier struct {
	MinimumBalance uint64       `json:"minimum_balance" toml:"minimum_balance"`
	Discount       fpmath.Ratio `json:"discount" toml:"discount"`
}

// FeeStructure is the exchange fee schedule.
type FeeStructure struct {
	Fee             fpmath.Ratio   `json:"fee" toml:"fee"`
	DiscountTiers   []DiscountTier `json:"discount_tiers" toml:"discount_tiers"`
	ReferrerReward  fpmath.Ratio   `json:"referrer_reward" toml:"referrer_reward"`
	RefereeDiscount fpmath.Ratio   `json:"referee_discount" toml:"referee_discount"`
}

func DefaultFeeStructure() FeeStructure {
	return FeeStructure{
		Fee: fpmath.NewRatio(10, 10_000),
		DiscountTiers: []DiscountTier{
			{MinimumBalance: 1_000 * uint64(fpmath.QuotePrecision), Discount: fpmath.NewRatio(20, 100)},
			{MinimumBalance: 100 * uint64(fpmath.QuotePrecision), Discount: fpmath.NewRatio(15, 100)},
			{MinimumBalance: 10 * uint64(fpmath.QuotePrecision), Discount: fpmath.NewRatio(10, 100)},
			{MinimumBalance: 1 * uint64(fpmath.QuotePrecision), Discount: fpmath.NewRatio(5, 100)},
		},
		ReferrerReward:  fpmath.NewRatio(5, 100),
		RefereeDiscount: fpmath.NewRatio(5, 100),
	}
}

// Validate requires every ratio to be at most one, distinct tier minimums,
// and the referral split to fit inside the fee it is taken from.
func (f FeeStructure) Validate() error {
	if err := f.Fee.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidFeeStructure, "fee: %s", err)
	}
	seen := make(map[uint64]int, len(f.DiscountTiers))
	for i, t := range f.DiscountTiers {
		if err := t.Discount.Validate(true); err != nil {
			return errorsmod.Wrapf(errs.ErrInvalidFeeStructure, "tier %d: %s", i, err)
		}
		// a balance must select exactly one tier
		if j, dup := seen[t.MinimumBalance]; dup {
			return errorsmod.Wrapf(errs.ErrInvalidFeeStructure, "tiers %d and %d share minimum balance %d", j, i, t.MinimumBalance)
		}
		seen[t.MinimumBalance] = i
	}
	if err := f.ReferrerReward.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidFeeStructure, "referrer reward: %s", err)
	}
	if err := f.RefereeDiscount.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidFeeStructure, "referee discount: %s", err)
	}
	if fpmath.SumAboveOne(f.ReferrerReward, f.RefereeDiscount) {
		return errorsmod.Wrap(errs.ErrInvalidFeeStructure, "referrer reward plus referee discount exceeds fee")
	}
	return nil
}

// OracleGuardRails bound how far an oracle reading may be trusted.
type OracleGuardRails struct {
	// mark/oracle spread, relative to oracle, above which prices diverge
	PriceDivergence fpmath.Ratio `json:"price_divergence" toml:"price_divergence"`
	SlotsBeforeStale int64       `json:"slots_before_stale" toml:"slots_before_stale"`
	// confidence interval as a percent of price
	ConfidenceIntervalMaxSize uint64 `json:"confidence_interval_max_size" toml:"confidence_interval_max_size"`
	TooVolatileRatio          int64  `json:"too_volatile_ratio" toml:"too_volatile_ratio"`
	UseForLiquidations        bool   `json:"use_for_liquidations" toml:"use_for_liquidations"`
}

func DefaultOracleGuardRails() OracleGuardRails {
	return OracleGuardRails{
		PriceDivergence:           fpmath.NewRatio(1, 10),
		SlotsBeforeStale:          1_000,
		ConfidenceIntervalMaxSize: 4,
		TooVolatileRatio:          5,
		UseForLiquidations:        true,
	}
}

func (g OracleGuardRails) Validate() error {
	if err := g.PriceDivergence.Validate(false); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidGuardRails, "divergence: %s", err)
	}
	if g.SlotsBeforeStale < 0 {
		return errorsmod.Wrapf(errs.ErrInvalidGuardRails, "slots before stale %d", g.SlotsBeforeStale)
	}
	if g.ConfidenceIntervalMaxSize == 0 {
		return errorsmod.Wrap(errs.ErrInvalidGuardRails, "confidence interval max size must be > 0")
	}
	if g.TooVolatileRatio < 1 {
		return errorsmod.Wrapf(errs.ErrInvalidGuardRails, "too volatile ratio %d", g.TooVolatileRatio)
	}
	return nil
}

// LiquidationParams size partial and full liquidations.
type LiquidationParams struct {
	PartialClose   fpmath.Ratio `json:"partial_close" toml:"partial_close"`
	PartialPenalty fpmath.Ratio `json:"partial_penalty" toml:"partial_penalty"`
	FullPenalty    fpmath.Ratio `json:"full_penalty" toml:"full_penalty"`
	// liquidator receives penalty / denominator, the rest goes to insurance
	PartialLiquidatorShareDenominator uint64 `json:"partial_liquidator_share_denominator" toml:"partial_liquidator_share_denominator"`
	FullLiquidatorShareDenominator    uint64 `json:"full_liquidator_share_denominator" toml:"full_liquidator_share_denominator"`
}

func DefaultLiquidationParams() LiquidationParams {
	return LiquidationParams{
		PartialClose:                      fpmath.NewRatio(25, 100),
		PartialPenalty:                    fpmath.NewRatio(25, 1_000),
		FullPenalty:                       fpmath.NewRatio(1, 1),
		PartialLiquidatorShareDenominator: 2,
		FullLiquidatorShareDenominator:    20,
	}
}

func (l LiquidationParams) Validate() error {
	if err := l.PartialClose.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidLiquidationRatio, "partial close: %s", err)
	}
	if l.PartialClose.Numerator == 0 {
		return errorsmod.Wrap(errs.ErrInvalidLiquidationRatio, "partial close must be > 0")
	}
	if err := l.PartialPenalty.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidLiquidationRatio, "partial penalty: %s", err)
	}
	if err := l.FullPenalty.Validate(true); err != nil {
		return errorsmod.Wrapf(errs.ErrInvalidLiquidationRatio, "full penalty: %s", err)
	}
	if l.PartialLiquidatorShareDenominator == 0 || l.FullLiquidatorShareDenominator == 0 {
		return errorsmod.Wrap(errs.ErrInvalidLiquidationRatio, "liquidator share denominator must be > 0")
	}
	return nil
}

// AuthorityDeriver derives the signing authority of a vault owned by the
// clearing house.
type AuthorityDeriver interface {
	DeriveAuthority(vault Pubkey) (authority Pubkey, nonce uint8)
}

// HashAuthorityDeriver derives authorities as sha256(program || vault).
type HashAuthorityDeriver struct {
	Program Pubkey
}

func (d HashAuthorityDeriver) DeriveAuthority(vault Pubkey) (Pubkey, uint8) {
	h := sha256.New()
	h.Write([]byte("ClearingHouse:vault-authority:v1"))
	h.Write(d.Program[:])
	h.Write(vault[:])
	var out Pubkey
	copy(out[:], h.Sum(nil))
	return out, out[31]
}

// InitializeParams are the accounts supplied when the state is created.
type InitializeParams struct {
	Admin                    Pubkey
	CollateralMint           Pubkey
	CollateralVault          Pubkey
	CollateralVaultAuthority Pubkey
	InsuranceVault           Pubkey
	InsuranceVaultAuthority  Pubkey
	Markets                  Pubkey
	AdminControlsPrices      bool
}

// State is the clearing house singleton.
type State struct {
	Admin               Pubkey `json:"admin"`
	ExchangePaused      bool   `json:"exchange_paused"`
	FundingPaused       bool   `json:"funding_paused"`
	AdminControlsPrices bool   `json:"admin_controls_prices"`

	CollateralMint           Pubkey `json:"collateral_mint"`
	CollateralVault          Pubkey `json:"collateral_vault"`
	CollateralVaultAuthority Pubkey `json:"collateral_vault_authority"`
	CollateralVaultNonce     uint8  `json:"collateral_vault_nonce"`
	InsuranceVault           Pubkey `json:"insurance_vault"`
	InsuranceVaultAuthority  Pubkey `json:"insurance_vault_authority"`
	InsuranceVaultNonce      uint8  `json:"insurance_vault_nonce"`
	Markets                  Pubkey `json:"markets"`

	MarginRatios     MarginRatios      `json:"margin_ratios"`
	Liquidation      LiquidationParams `json:"liquidation"`
	FeeStructure     FeeStructure      `json:"fee_structure"`
	OracleGuardRails OracleGuardRails  `json:"oracle_guard_rails"`

	WhitelistMint Pubkey      `json:"whitelist_mint"`
	DiscountMint  Pubkey      `json:"discount_mint"`
	MaxDeposit    sdkmath.Int `json:"max_deposit"` // zero means unlimited

	History    HistoryRefs `json:"history"`
	OrderState Ref         `json:"order_state"`
}

// Defaults applied by NewState before any admin update.
type Defaults struct {
	MarginRatios     MarginRatios
	Liquidation      LiquidationParams
	FeeStructure     FeeStructure
	OracleGuardRails OracleGuardRails
}

func DefaultDefaults() Defaults {
	return Defaults{
		MarginRatios:     DefaultMarginRatios,
		Liquidation:      DefaultLiquidationParams(),
		FeeStructure:     DefaultFeeStructure(),
		OracleGuardRails: DefaultOracleGuardRails(),
	}
}

func (d Defaults) Validate() error {
	if err := ValidateMarginRatios(d.MarginRatios); err != nil {
		return err
	}
	if err := d.Liquidation.Validate(); err != nil {
		return err
	}
	if err := d.FeeStructure.Validate(); err != nil {
		return err
	}
	return d.OracleGuardRails.Validate()
}

// NewState creates the singleton. Both vault authorities must be the ones
// derived for their vaults; otherwise the clearing house would not own them.
func NewState(p InitializeParams, deriver AuthorityDeriver, d Defaults) (*State, error) {
	if p.Admin.IsZero() {
		return nil, errorsmod.Wrap(errs.ErrUnauthorized, "admin must be set")
	}
	collateralAuthority, collateralNonce := deriver.DeriveAuthority(p.CollateralVault)
	if p.CollateralVaultAuthority != collateralAuthority {
		return nil, errorsmod.Wrapf(errs.ErrInvalidCollateralVaultAuthority,
			"got %s, want %s", p.CollateralVaultAuthority, collateralAuthority)
	}
	insuranceAuthority, insuranceNonce := deriver.DeriveAuthority(p.InsuranceVault)
	if p.InsuranceVaultAuthority != insuranceAuthority {
		return nil, errorsmod.Wrapf(errs.ErrInvalidInsuranceVaultAuthority,
			"got %s, want %s", p.InsuranceVaultAuthority, insuranceAuthority)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &State{
		Admin:                    p.Admin,
		AdminControlsPrices:      p.AdminControlsPrices,
		CollateralMint:           p.CollateralMint,
		CollateralVault:          p.CollateralVault,
		CollateralVaultAuthority: collateralAuthority,
		CollateralVaultNonce:     collateralNonce,
		InsuranceVault:           p.InsuranceVault,
		InsuranceVaultAuthority:  insuranceAuthority,
		InsuranceVaultNonce:      insuranceNonce,
		Markets:                  p.Markets,
		MarginRatios:             d.MarginRatios,
		Liquidation:              d.Liquidation,
		FeeStructure:             d.FeeStructure,
		OracleGuardRails:         d.OracleGuardRails,
		MaxDeposit:               sdkmath.ZeroInt(),
	}, nil
}

// Clone returns a copy that shares nothing mutable with s.
func (s *State) Clone() *State {
	c := *s
	c.FeeStructure.DiscountTiers = append([]DiscountTier(nil), s.FeeStructure.DiscountTiers...)
	return &c
}

// RequireAdmin fails unless signer is the admin.
func (s *State) RequireAdmin(signer Pubkey) error {
	if signer != s.Admin {
		return errorsmod.Wrapf(errs.ErrUnauthorized, "signer %s", signer)
	}
	return nil
}

func (s *State) SetAdmin(signer, admin Pubkey) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if admin.IsZero() {
		return errorsmod.Wrap(errs.ErrUnauthorized, "admin must be set")
	}
	s.Admin = admin
	return nil
}

func (s *State) SetMarginRatios(signer Pubkey, r MarginRatios) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if err := ValidateMarginRatios(r); err != nil {
		return err
	}
	s.MarginRatios = r
	return nil
}

func (s *State) SetLiquidationParams(signer Pubkey, l LiquidationParams) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	s.Liquidation = l
	return nil
}

func (s *State) SetFeeStructure(signer Pubkey, f FeeStructure) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	s.FeeStructure = f
	s.FeeStructure.DiscountTiers = append([]DiscountTier(nil), f.DiscountTiers...)
	return nil
}

func (s *State) SetOracleGuardRails(signer Pubkey, g OracleGuardRails) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	s.OracleGuardRails = g
	return nil
}

func (s *State) SetExchangePaused(signer Pubkey, paused bool) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	s.ExchangePaused = paused
	return nil
}

func (s *State) SetFundingPaused(signer Pubkey, paused bool) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	s.FundingPaused = paused
	return nil
}

func (s *State) SetAdminControlsPrices(signer Pubkey, enabled bool) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	s.AdminControlsPrices = enabled
	return nil
}

func (s *State) SetMaxDeposit(signer Pubkey, max sdkmath.Int) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if _, err := fpmath.CheckU128(max); err != nil {
		return err
	}
	s.MaxDeposit = max
	return nil
}

func (s *State) SetWhitelistMint(signer, mint Pubkey) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	s.WhitelistMint = mint
	return nil
}

func (s *State) SetDiscountMint(signer, mint Pubkey) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	s.DiscountMint = mint
	return nil
}

// InitializeHistory sets the six history references exactly once.
func (s *State) InitializeHistory(signer Pubkey, ids HistoryIDs) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	return s.History.Initialize(ids)
}

// InitializeOrderState sets the order-state reference exactly once.
func (s *State) InitializeOrderState(signer, id Pubkey) error {
	if err := s.RequireAdmin(signer); err != nil {
		return err
	}
	if s.OrderState.initialized {
		return errorsmod.Wrap(errs.ErrOrderStateAlreadyInitialized, "order state")
	}
	if id.IsZero() {
		return errorsmod.Wrap(errs.ErrInvalidHistoryRef, "order state id is zero")
	}
	s.OrderState = Ref{id: id, initialized: true}
	return nil
}

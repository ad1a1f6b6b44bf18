package state_test

import (
	"encoding/json"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

var (
	admin    = state.Pubkey{0xad}
	stranger = state.Pubkey{0x5e}
	deriver  = state.HashAuthorityDeriver{Program: state.Pubkey{0xc1}}
)

func initParams() state.InitializeParams {
	collateralVault := state.Pubkey{0x01}
	insuranceVault := state.Pubkey{0x02}
	ca, _ := deriver.DeriveAuthority(collateralVault)
	ia, _ := deriver.DeriveAuthority(insuranceVault)
	return state.InitializeParams{
		Admin:                    admin,
		CollateralMint:           state.Pubkey{0x03},
		CollateralVault:          collateralVault,
		CollateralVaultAuthority: ca,
		InsuranceVault:           insuranceVault,
		InsuranceVaultAuthority:  ia,
		Markets:                  state.Pubkey{0x04},
	}
}

func newState(t *testing.T) *state.State {
	t.Helper()
	s, err := state.NewState(initParams(), deriver, state.DefaultDefaults())
	require.NoError(t, err)
	return s
}

func TestNewState_Defaults(t *testing.T) {
	s := newState(t)
	assert.Equal(t, state.MarginRatios{Initial: 2_000, Partial: 625, Maintenance: 500}, s.MarginRatios)
	assert.Equal(t, fpmath.NewRatio(25, 100), s.Liquidation.PartialClose)
	assert.Equal(t, fpmath.NewRatio(25, 1_000), s.Liquidation.PartialPenalty)
	assert.Equal(t, uint64(20), s.Liquidation.FullLiquidatorShareDenominator)
	assert.Equal(t, fpmath.NewRatio(10, 10_000), s.FeeStructure.Fee)
	assert.Len(t, s.FeeStructure.DiscountTiers, 4)
	assert.Equal(t, int64(1_000), s.OracleGuardRails.SlotsBeforeStale)
	assert.True(t, s.OracleGuardRails.UseForLiquidations)
	assert.False(t, s.History.Trade.IsInitialized())
	assert.False(t, s.OrderState.IsInitialized())
}

func TestNewState_VaultAuthorityMismatch(t *testing.T) {
	p := initParams()
	p.CollateralVaultAuthority = state.Pubkey{0x99}
	_, err := state.NewState(p, deriver, state.DefaultDefaults())
	assert.True(t, errors.Is(err, errs.ErrInvalidCollateralVaultAuthority))
	assert.True(t, errs.IsConfiguration(err))

	p = initParams()
	p.InsuranceVaultAuthority = state.Pubkey{0x99}
	_, err = state.NewState(p, deriver, state.DefaultDefaults())
	assert.True(t, errors.Is(err, errs.ErrInvalidInsuranceVaultAuthority))
}

// The historical default set partial (500) below maintenance (625); that
// ordering cannot be configured.
func TestNewState_RejectsInvertedMarginThresholds(t *testing.T) {
	d := state.DefaultDefaults()
	d.MarginRatios = state.MarginRatios{Initial: 2_000, Partial: 500, Maintenance: 625}
	_, err := state.NewState(initParams(), deriver, d)
	assert.True(t, errors.Is(err, errs.ErrInvalidMarginRatio))
}

func TestValidateMarginRatios(t *testing.T) {
	cases := []struct {
		r  state.MarginRatios
		ok bool
	}{
		{state.MarginRatios{Initial: 2_000, Partial: 625, Maintenance: 500}, true},
		{state.MarginRatios{Initial: 10_000, Partial: 2, Maintenance: 1}, true},
		{state.MarginRatios{Initial: 2_000, Partial: 625, Maintenance: 0}, false},
		{state.MarginRatios{Initial: 2_000, Partial: 500, Maintenance: 500}, false},
		{state.MarginRatios{Initial: 625, Partial: 625, Maintenance: 500}, false},
		{state.MarginRatios{Initial: 10_001, Partial: 625, Maintenance: 500}, false},
	}
	for _, tc := range cases {
		err := state.ValidateMarginRatios(tc.r)
		if tc.ok {
			assert.NoError(t, err, "%+v", tc.r)
		} else {
			assert.True(t, errors.Is(err, errs.ErrInvalidMarginRatio), "%+v: %v", tc.r, err)
		}
	}
}

func TestAdminGating(t *testing.T) {
	s := newState(t)

	assert.True(t, errors.Is(s.SetExchangePaused(stranger, true), errs.ErrUnauthorized))
	assert.False(t, s.ExchangePaused)
	require.NoError(t, s.SetExchangePaused(admin, true))
	assert.True(t, s.ExchangePaused)

	bad := state.DefaultFeeStructure()
	bad.Fee = fpmath.NewRatio(1, 0)
	assert.True(t, errors.Is(s.SetFeeStructure(admin, bad), errs.ErrInvalidFeeStructure))

	g := state.DefaultOracleGuardRails()
	g.TooVolatileRatio = 0
	assert.True(t, errors.Is(s.SetOracleGuardRails(admin, g), errs.ErrInvalidGuardRails))

	l := state.DefaultLiquidationParams()
	l.PartialClose = fpmath.NewRatio(101, 100)
	assert.True(t, errors.Is(s.SetLiquidationParams(admin, l), errs.ErrInvalidLiquidationRatio))

	require.NoError(t, s.SetAdmin(admin, stranger))
	assert.True(t, errors.Is(s.SetFundingPaused(admin, true), errs.ErrUnauthorized))
	require.NoError(t, s.SetFundingPaused(stranger, true))
}

func historyIDs() state.HistoryIDs {
	return state.HistoryIDs{
		Deposit:        state.Pubkey{0x10},
		Trade:          state.Pubkey{0x11},
		FundingPayment: state.Pubkey{0x12},
		FundingRate:    state.Pubkey{0x13},
		Liquidation:    state.Pubkey{0x14},
		Curve:          state.Pubkey{0x15},
	}
}

func TestInitializeHistory_OnlyOnce(t *testing.T) {
	s := newState(t)

	_, err := s.History.Require(state.HistoryTrade)
	assert.True(t, errors.Is(err, errs.ErrHistoryNotInitialized))

	require.NoError(t, s.InitializeHistory(admin, historyIDs()))
	before := s.History

	second := historyIDs()
	second.Trade = state.Pubkey{0x77}
	err = s.InitializeHistory(admin, second)
	assert.True(t, errors.Is(err, errs.ErrHistoryAlreadyInitialized))
	assert.Equal(t, before, s.History)

	id, err := s.History.Require(state.HistoryTrade)
	require.NoError(t, err)
	assert.Equal(t, state.Pubkey{0x11}, id)
}

func TestInitializeHistory_AllOrNothing(t *testing.T) {
	s := newState(t)
	ids := historyIDs()
	ids.Curve = state.Pubkey{}

	err := s.InitializeHistory(admin, ids)
	assert.True(t, errors.Is(err, errs.ErrInvalidHistoryRef))
	for _, k := range state.AllHistoryKinds {
		assert.False(t, s.History.Get(k).IsInitialized(), "%s", k)
	}
}

func TestInitializeOrderState_OnlyOnce(t *testing.T) {
	s := newState(t)
	assert.True(t, errors.Is(s.InitializeOrderState(stranger, state.Pubkey{0x20}), errs.ErrUnauthorized))

	require.NoError(t, s.InitializeOrderState(admin, state.Pubkey{0x20}))
	err := s.InitializeOrderState(admin, state.Pubkey{0x21})
	assert.True(t, errors.Is(err, errs.ErrOrderStateAlreadyInitialized))

	id, ok := s.OrderState.ID()
	assert.True(t, ok)
	assert.Equal(t, state.Pubkey{0x20}, id)
}

func TestStateJSONRoundTrip(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.InitializeHistory(admin, historyIDs()))
	require.NoError(t, s.SetMaxDeposit(admin, sdkmath.NewInt(5_000_000)))

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var back state.State
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, s.History, back.History)
	assert.Equal(t, s.OrderState, back.OrderState)
	assert.Equal(t, s.Admin, back.Admin)
	assert.True(t, s.MaxDeposit.Equal(back.MaxDeposit))
	assert.Equal(t, s.FeeStructure, back.FeeStructure)
}

func TestPubkeyBase58(t *testing.T) {
	p := state.Pubkey{0xde, 0xad, 0xbe, 0xef}
	parsed, err := state.ParsePubkey(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)

	_, err = state.ParsePubkey("abc")
	assert.Error(t, err)
	_, err = state.ParsePubkey("0OIl")
	assert.Error(t, err)
}

func TestInsuranceFundCoverage(t *testing.T) {
	f := state.NewInsuranceFund()
	covered, remaining := f.ComputeCoverage(sdkmath.NewInt(100), sdkmath.NewInt(40))
	assert.Equal(t, int64(40), covered.Int64())
	assert.True(t, remaining.IsZero())

	covered, remaining = f.ComputeCoverage(sdkmath.NewInt(30), sdkmath.NewInt(40))
	assert.Equal(t, int64(30), covered.Int64())
	assert.Equal(t, int64(10), remaining.Int64())
	assert.False(t, f.CanCoverDeficit(sdkmath.NewInt(30), sdkmath.NewInt(40)))
}

func TestApplyFill(t *testing.T) {
	user := uuid.New()
	p := state.NewMarketPosition(user, 0)
	base := sdkmath.NewInt(10)

	r, err := state.ApplyFill(p, state.DirectionLong, base, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, state.FillOpen, r.Action)
	p = r.Position

	r, err = state.ApplyFill(p, state.DirectionLong, base, sdkmath.NewInt(1_200))
	require.NoError(t, err)
	assert.Equal(t, state.FillIncrease, r.Action)
	assert.Equal(t, int64(20), r.Position.BaseAssetAmount.Int64())
	assert.Equal(t, int64(2_200), r.Position.QuoteAssetAmount.Int64())
	p = r.Position

	// sell 5 of 20 for 600: releases 550 entry, realizes +50
	r, err = state.ApplyFill(p, state.DirectionShort, sdkmath.NewInt(5), sdkmath.NewInt(600))
	require.NoError(t, err)
	assert.Equal(t, state.FillReduce, r.Action)
	assert.Equal(t, int64(50), r.RealizedPnL.Int64())
	assert.Equal(t, int64(15), r.Position.BaseAssetAmount.Int64())
	assert.Equal(t, int64(1_650), r.Position.QuoteAssetAmount.Int64())
	p = r.Position

	// sell 25 for 2000: closes 15 for 1200 (-450) and opens short 10 for 800
	r, err = state.ApplyFill(p, state.DirectionShort, sdkmath.NewInt(25), sdkmath.NewInt(2_000))
	require.NoError(t, err)
	assert.Equal(t, state.FillFlip, r.Action)
	assert.Equal(t, int64(-450), r.RealizedPnL.Int64())
	assert.Equal(t, int64(-10), r.Position.BaseAssetAmount.Int64())
	assert.Equal(t, int64(800), r.Position.QuoteAssetAmount.Int64())
	p = r.Position

	// short closes by buying 10 for 700: +100
	r, err = state.ApplyFill(p, state.DirectionLong, sdkmath.NewInt(10), sdkmath.NewInt(700))
	require.NoError(t, err)
	assert.Equal(t, state.FillClose, r.Action)
	assert.Equal(t, int64(100), r.RealizedPnL.Int64())
	assert.True(t, r.Position.IsFlat())
	assert.True(t, r.Position.QuoteAssetAmount.IsZero())

	_, err = state.ApplyFill(p, state.DirectionLong, sdkmath.ZeroInt(), sdkmath.NewInt(1))
	assert.True(t, errors.Is(err, errs.ErrInvalidAmount))
}

func TestPositionManager_FlatOnReturnedValue(t *testing.T) {
	pm := state.NewPositionManager()
	user := uuid.New()
	assert.True(t, pm.GetPosition(user, 0).IsFlat())

	p := state.NewMarketPosition(user, 0)
	p.BaseAssetAmount = sdkmath.NewInt(-3)
	p.QuoteAssetAmount = sdkmath.NewInt(300)
	pm.SetPosition(p)
	assert.False(t, pm.GetPosition(user, 0).IsFlat())
	assert.Equal(t, 1, pm.Len())
}

func TestFeeStructureValidate(t *testing.T) {
	require.NoError(t, state.DefaultFeeStructure().Validate())

	// each ratio is exactly one: the cross products overflow uint64
	wide := state.DefaultFeeStructure()
	wide.ReferrerReward = fpmath.NewRatio(1<<32, 1<<32)
	wide.RefereeDiscount = fpmath.NewRatio(1<<32, 1<<32)
	assert.True(t, errors.Is(wide.Validate(), errs.ErrInvalidFeeStructure))

	half := state.DefaultFeeStructure()
	half.ReferrerReward = fpmath.NewRatio(1<<31, 1<<32)
	half.RefereeDiscount = fpmath.NewRatio(1<<32, 1<<33)
	require.NoError(t, half.Validate())

	dup := state.DefaultFeeStructure()
	dup.DiscountTiers = append(dup.DiscountTiers, state.DiscountTier{
		MinimumBalance: dup.DiscountTiers[0].MinimumBalance,
		Discount:       fpmath.NewRatio(1, 100),
	})
	assert.True(t, errors.Is(dup.Validate(), errs.ErrInvalidFeeStructure))

	many := state.DefaultFeeStructure()
	many.DiscountTiers = nil
	for i := uint64(0); i < 12; i++ {
		many.DiscountTiers = append(many.DiscountTiers, state.DiscountTier{
			MinimumBalance: i * 1_000,
			Discount:       fpmath.NewRatio(i, 100),
		})
	}
	require.NoError(t, many.Validate())
}

package core_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/state"
)

const (
	market    uint16 = 0
	genesisTs int64  = 1_700_000_000
)

var (
	admin      = state.Pubkey{0xad}
	oracleFeed = state.Pubkey{0x0a}
	deriver    = state.HashAuthorityDeriver{Program: state.Pubkey{0xc1}}

	alice = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")
	bob   = uuid.MustParse("00000000-0000-0000-0000-000000000b0b")
	carol = uuid.MustParse("00000000-0000-0000-0000-0000000ca201")
)

func quote(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).MulRaw(fpmath.QuotePrecision)
}

func reserve(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(fpmath.AMMReservePrecisionInt())
}

// price returns num/den in MARK_PRICE_PRECISION.
func price(num, den int64) sdkmath.Int {
	return fpmath.MarkPricePrecisionInt().MulRaw(num).QuoRaw(den)
}

func genesis(t *testing.T) *state.State {
	t.Helper()
	collateralVault := state.Pubkey{0x01}
	insuranceVault := state.Pubkey{0x02}
	ca, _ := deriver.DeriveAuthority(collateralVault)
	ia, _ := deriver.DeriveAuthority(insuranceVault)
	st, err := state.NewState(state.InitializeParams{
		Admin:                    admin,
		CollateralMint:           state.Pubkey{0x03},
		CollateralVault:          collateralVault,
		CollateralVaultAuthority: ca,
		InsuranceVault:           insuranceVault,
		InsuranceVaultAuthority:  ia,
		Markets:                  state.Pubkey{0x04},
	}, deriver, state.DefaultDefaults())
	require.NoError(t, err)
	return st
}

type harness struct {
	t       *testing.T
	core    *core.DeterministicCore
	outputs chan core.CoreOutput
	now     int64
	slot    uint64
}

// newBareHarness returns a core over the genesis state with nothing
// initialized.
func newBareHarness(t *testing.T) *harness {
	t.Helper()
	outputs := make(chan core.CoreOutput, 4096)
	c, err := core.NewDeterministicCore(core.Config{}, genesis(t), state.NewMarkets(),
		outputs, nil, nil, observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	return &harness{t: t, core: c, outputs: outputs, now: genesisTs, slot: 10}
}

// newHarness returns a core with history logs, market 0 at a mark of 1.0
// and an oracle reading of 1.0.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newBareHarness(t)
	h.mustApply(&event.InitializeHistory{AdminHeader: h.admin(), History: state.HistoryIDs{
		Deposit:        state.Pubkey{0x11},
		Trade:          state.Pubkey{0x12},
		FundingPayment: state.Pubkey{0x13},
		FundingRate:    state.Pubkey{0x14},
		Liquidation:    state.Pubkey{0x15},
		Curve:          state.Pubkey{0x16},
	}})
	h.mustApply(&event.InitializeMarket{
		AdminHeader:       h.admin(),
		MarketIndex:       market,
		Oracle:            oracleFeed,
		OracleSource:      state.OracleSourcePyth,
		BaseAssetReserve:  reserve(1_000_000),
		QuoteAssetReserve: reserve(1_000_000),
		FundingPeriod:     fpmath.OneHour,
		PegMultiplier:     fpmath.PegPrecisionInt(),
		OraclePrice:       price(1, 1),
	})
	h.mustApply(h.oracle(price(1, 1)))
	return h
}

func (h *harness) tick() int64 {
	h.now++
	return h.now
}

func (h *harness) apply(evt event.Event) error {
	return h.core.ProcessEvent(evt)
}

func (h *harness) mustApply(evt event.Event) {
	h.t.Helper()
	require.NoError(h.t, h.apply(evt))
}

func (h *harness) admin() event.AdminHeader {
	return event.AdminHeader{RequestID: uuid.New(), Signer: admin, Timestamp: h.tick()}
}

func (h *harness) oracle(p sdkmath.Int) *event.OracleUpdate {
	h.slot++
	return &event.OracleUpdate{
		MarketIndex: market,
		Oracle:      oracleFeed,
		Price:       p,
		Confidence:  sdkmath.ZeroInt(),
		Slot:        h.slot,
		Timestamp:   h.tick(),
	}
}

func (h *harness) deposit(user uuid.UUID, amount sdkmath.Int) *event.Deposit {
	return &event.Deposit{RequestID: uuid.New(), UserID: user, Amount: amount, Timestamp: h.tick()}
}

func (h *harness) withdraw(user uuid.UUID, amount sdkmath.Int) *event.Withdraw {
	return &event.Withdraw{RequestID: uuid.New(), UserID: user, Amount: amount, Timestamp: h.tick()}
}

// trade is a market order sized in quote.
func (h *harness) trade(user uuid.UUID, dir state.PositionDirection, quoteAmount sdkmath.Int) *event.Trade {
	return &event.Trade{
		RequestID:        uuid.New(),
		UserID:           user,
		MarketIndex:      market,
		Direction:        dir,
		QuoteAssetAmount: quoteAmount,
		Slot:             h.slot,
		Timestamp:        h.tick(),
	}
}

func (h *harness) liquidate(liquidator, user uuid.UUID) *event.Liquidate {
	return &event.Liquidate{
		RequestID:   uuid.New(),
		Liquidator:  liquidator,
		UserID:      user,
		MarketIndex: market,
		Slot:        h.slot,
		Timestamp:   h.tick(),
	}
}

// crash moves both the curve and the oracle to p.
func (h *harness) crash(num, den int64) {
	h.t.Helper()
	on := true
	h.mustApply(&event.SetPaused{AdminHeader: h.admin(), AdminControlsPrices: &on})
	h.mustApply(&event.MoveAMMPrice{
		AdminHeader:       h.admin(),
		MarketIndex:       market,
		BaseAssetReserve:  reserve(1_000_000),
		QuoteAssetReserve: reserve(1_000_000).MulRaw(num).QuoRaw(den),
	})
	h.mustApply(h.oracle(price(num, den)))
}

func (h *harness) collateral(user uuid.UUID) sdkmath.Int {
	return h.core.Balance(ledger.UserCollateral(user))
}

func (h *harness) insurance() sdkmath.Int {
	return h.core.Balance(ledger.InsuranceVault())
}

// drain returns every output emitted since the last drain.
func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.outputs:
			out = append(out, o)
		default:
			return out
		}
	}
}

// last returns the output of the most recent command.
func (h *harness) last() core.CoreOutput {
	h.t.Helper()
	outs := h.drain()
	require.NotEmpty(h.t, outs)
	return outs[len(outs)-1]
}

func recordOf[T event.Record](t *testing.T, out core.CoreOutput) T {
	t.Helper()
	for _, r := range out.Records {
		if rec, ok := r.(T); ok {
			return rec
		}
	}
	var zero T
	require.Failf(t, "record not found", "%T", zero)
	return zero
}

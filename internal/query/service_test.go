package query_test

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/projection"
	"ClearingHouse/internal/query"
	"ClearingHouse/internal/state"
)

var (
	admin      = state.Pubkey{0xad}
	oracleFeed = state.Pubkey{0x0a}
	deriver    = state.HashAuthorityDeriver{Program: state.Pubkey{0xc1}}

	alice = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")
	bob   = uuid.MustParse("00000000-0000-0000-0000-000000000b0b")
)

type fixture struct {
	t       *testing.T
	core    *core.DeterministicCore
	store   *projection.Store
	out     chan core.CoreOutput
	qs      *query.QueryService
	metrics *observability.Metrics
	now     int64
}

func newFixture(t *testing.T) *fixture {
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

	out := make(chan core.CoreOutput, 256)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, err := core.NewDeterministicCore(core.Config{}, st, state.NewMarkets(), nil, out, nil, metrics, zerolog.Nop())
	require.NoError(t, err)

	store := projection.NewStore(0)
	f := &fixture{
		t:       t,
		core:    c,
		store:   store,
		out:     out,
		qs:      query.NewQueryService(c, store, nil, metrics),
		metrics: metrics,
		now:     1_700_000_000,
	}

	f.apply(&event.InitializeHistory{AdminHeader: f.admin(), History: state.HistoryIDs{
		Deposit:        state.Pubkey{0x11},
		Trade:          state.Pubkey{0x12},
		FundingPayment: state.Pubkey{0x13},
		FundingRate:    state.Pubkey{0x14},
		Liquidation:    state.Pubkey{0x15},
		Curve:          state.Pubkey{0x16},
	}})
	reserve := sdkmath.NewInt(1_000_000).Mul(fpmath.AMMReservePrecisionInt())
	f.apply(&event.InitializeMarket{
		AdminHeader:       f.admin(),
		MarketIndex:       0,
		Oracle:            oracleFeed,
		OracleSource:      state.OracleSourcePyth,
		BaseAssetReserve:  reserve,
		QuoteAssetReserve: reserve,
		FundingPeriod:     fpmath.OneHour,
		PegMultiplier:     fpmath.PegPrecisionInt(),
		OraclePrice:       fpmath.MarkPricePrecisionInt(),
	})
	f.apply(&event.OracleUpdate{
		MarketIndex: 0,
		Oracle:      oracleFeed,
		Price:       fpmath.MarkPricePrecisionInt(),
		Confidence:  sdkmath.ZeroInt(),
		Slot:        11,
		Timestamp:   f.tick(),
	})
	return f
}

func (f *fixture) tick() int64 {
	f.now++
	return f.now
}

func (f *fixture) admin() event.AdminHeader {
	return event.AdminHeader{RequestID: uuid.New(), Signer: admin, Timestamp: f.tick()}
}

// apply runs evt through the core and folds its output into the store.
func (f *fixture) apply(evt event.Event) {
	f.t.Helper()
	require.NoError(f.t, f.core.ProcessEvent(evt))
	for {
		select {
		case o := <-f.out:
			f.store.Apply(o)
		default:
			return
		}
	}
}

func quote(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).MulRaw(fpmath.QuotePrecision)
}

func (f *fixture) deposit(user uuid.UUID, n int64) {
	f.apply(&event.Deposit{RequestID: uuid.New(), UserID: user, Amount: quote(n), Timestamp: f.tick()})
}

func TestGetStateAndMarkets(t *testing.T) {
	f := newFixture(t)

	sv, err := f.qs.GetState()
	require.NoError(t, err)
	assert.Equal(t, int64(3), sv.Sequence)
	assert.Len(t, sv.StateHash, 64)
	assert.Equal(t, admin, sv.State.Admin)

	markets, err := f.qs.ListMarkets()
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, fpmath.MarkPricePrecisionInt().String(), markets[0].MarkPrice.String())
	require.NotNil(t, markets[0].Oracle)
	assert.Equal(t, uint64(11), markets[0].Oracle.Slot)

	_, err = f.qs.GetMarket(7)
	assert.ErrorIs(t, err, errs.ErrMarketNotInitialized)
	assert.Equal(t, codes.FailedPrecondition, query.StatusCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueryErrors.WithLabelValues("market", "FailedPrecondition")))
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 1_000)
	f.apply(&event.Trade{
		RequestID:        uuid.New(),
		UserID:           alice,
		MarketIndex:      0,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: quote(2_000),
		Slot:             11,
		Timestamp:        f.tick(),
	})

	acct, err := f.qs.GetAccount(alice)
	require.NoError(t, err)
	require.Len(t, acct.Positions, 1)
	assert.True(t, acct.Positions[0].BaseAssetAmount.IsPositive())
	assert.True(t, acct.Collateral.LT(quote(1_000)), "trade fee is charged against collateral")
	assert.True(t, acct.Notional.IsPositive())
	assert.Equal(t, "Healthy", acct.Status)
	assert.True(t, acct.MeetsInitialMargin)
	assert.Equal(t, f.core.ReadModel().Sequence, acct.PricedAtSequence)
	assert.Equal(t, acct.AsOfSequence, acct.PricedAtSequence)

	empty, err := f.qs.GetAccount(bob)
	require.NoError(t, err)
	assert.Empty(t, empty.Positions)
	assert.True(t, empty.Collateral.IsZero())

	_, err = f.qs.GetAccount(uuid.Nil)
	assert.ErrorIs(t, err, query.ErrInvalidArgument)

	assert.True(t, f.qs.TotalBalance().IsZero())
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.deposit(alice, 10)
		f.deposit(bob, 10)
	}

	page, err := f.qs.GetHistory("deposit", 0, 4)
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)
	assert.Equal(t, uint64(4), page.NextAfter)

	rest, err := f.qs.GetHistory("deposit", page.NextAfter, 0)
	require.NoError(t, err)
	assert.Len(t, rest.Entries, 2)

	mine, err := f.qs.GetUserHistory(bob, "deposit", 0, 10)
	require.NoError(t, err)
	require.Len(t, mine.Entries, 3)
	for _, e := range mine.Entries {
		assert.Equal(t, bob, e.Record.(*event.DepositRecord).UserID)
	}

	_, err = f.qs.GetHistory("orders", 0, 10)
	assert.ErrorIs(t, err, query.ErrInvalidArgument)
}

func TestDatabaseEndpointsUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.qs.GetJournalHistory(context.Background(), alice, 0, 10)
	assert.ErrorIs(t, err, query.ErrUnavailable)
	_, err = f.qs.VerifyIntegrity(context.Background())
	assert.Equal(t, codes.Unavailable, query.StatusCode(err))

	info, err := f.qs.GetEventLogInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.CoreSequence)
	assert.Equal(t, int64(3), info.ProjectionSeq)
}

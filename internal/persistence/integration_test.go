package persistence_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/persistence"
	"ClearingHouse/internal/state"
	"ClearingHouse/internal/testutil"
)

var admin = state.Pubkey{0xad}

func newCore(t *testing.T, out chan core.CoreOutput, dedup core.DBIdempotencyChecker) *core.DeterministicCore {
	t.Helper()
	deriver := state.HashAuthorityDeriver{Program: state.Pubkey{0xc1}}
	ca, _ := deriver.DeriveAuthority(state.Pubkey{0x01})
	ia, _ := deriver.DeriveAuthority(state.Pubkey{0x02})
	st, err := state.NewState(state.InitializeParams{
		Admin:                    admin,
		CollateralMint:           state.Pubkey{0x03},
		CollateralVault:          state.Pubkey{0x01},
		CollateralVaultAuthority: ca,
		InsuranceVault:           state.Pubkey{0x02},
		InsuranceVaultAuthority:  ia,
		Markets:                  state.Pubkey{0x04},
	}, deriver, state.DefaultDefaults())
	require.NoError(t, err)

	c, err := core.NewDeterministicCore(core.Config{}, st, state.NewMarkets(), out, nil, dedup,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	return c
}

func commands() []event.Event {
	user := uuid.MustParse("00000000-0000-0000-0000-00000000a11c")
	ts := int64(1_700_000_000)
	return []event.Event{
		&event.InitializeHistory{
			AdminHeader: event.AdminHeader{RequestID: uuid.New(), Signer: admin, Timestamp: ts},
			History: state.HistoryIDs{
				Deposit: state.Pubkey{0x11}, Trade: state.Pubkey{0x12}, FundingPayment: state.Pubkey{0x13},
				FundingRate: state.Pubkey{0x14}, Liquidation: state.Pubkey{0x15}, Curve: state.Pubkey{0x16},
			},
		},
		&event.Deposit{RequestID: uuid.New(), UserID: user, Amount: sdkmath.NewInt(5_000_000), Timestamp: ts + 1},
		&event.FundInsurance{RequestID: uuid.New(), Amount: sdkmath.NewInt(1_000_000), Timestamp: ts + 2},
		&event.Withdraw{RequestID: uuid.New(), UserID: user, Amount: sdkmath.NewInt(2_000_000), Timestamp: ts + 3},
	}
}

func TestPersistAndRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, persistence.Migrations(), zerolog.Nop()).Up(ctx))

	out := make(chan core.CoreOutput, 64)
	live := newCore(t, out, nil)
	cmds := commands()
	for _, cmd := range cmds {
		require.NoError(t, live.ProcessEvent(cmd))
	}
	close(out)

	worker := persistence.NewPersistenceWorker(db, out, 2, 10*time.Millisecond,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	store := persistence.NewSnapshotStore(db)
	latest, err := store.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(cmds)), latest)

	var records int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.history_records`).Scan(&records))
	assert.Equal(t, 2, records)

	dedup := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := dedup.IsDuplicate(cmds[1].EventType().String(), cmds[1].IdempotencyKey())
	require.NoError(t, err)
	assert.True(t, dup)

	keys, err := dedup.RecentKeys(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		cmds[2].EventType().String() + ":" + cmds[2].IdempotencyKey(),
		cmds[3].EventType().String() + ":" + cmds[3].IdempotencyKey(),
	}, keys)

	// cold recovery
	restored := newCore(t, nil, dedup)
	last, err := persistence.Recover(ctx, restored, store, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, latest, last)
	assert.Equal(t, live.GetStateHash(), restored.GetStateHash())

	// warm recovery from a verified snapshot
	snap, err := restored.CreateSnapshotState()
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	require.NoError(t, store.MarkVerified(ctx, snap.Sequence))

	warm := newCore(t, nil, dedup)
	last, err = persistence.Recover(ctx, warm, store, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, latest, last)
	assert.Equal(t, live.GetStateHash(), warm.GetStateHash())

	// a replayed command submitted again is caught by the database tier
	assert.NoError(t, warm.ProcessEvent(cmds[1]))
	assert.Equal(t, latest+1, warm.GetSequence())
}

func TestMarkVerifiedRejectsForeignHash(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, persistence.Migrations(), zerolog.Nop()).Up(ctx))

	store := persistence.NewSnapshotStore(db)
	snap, err := newCore(t, nil, nil).CreateSnapshotState()
	require.NoError(t, err)
	snap.Sequence = 99
	_, err = store.SaveSnapshot(ctx, snap)
	require.NoError(t, err)

	assert.Error(t, store.MarkVerified(ctx, 99))
	loaded, err := store.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

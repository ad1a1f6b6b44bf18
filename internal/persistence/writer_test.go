package persistence

import (
	"testing"
	"testing/fstest"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(1, 3))
	assert.Equal(t, "($10)", placeholders(10, 1))
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000002", extractVersion("000002_history.up.sql"))
	assert.Equal(t, "plain", extractVersion("plain"))
}

func TestListMigrationFiles_Sorted(t *testing.T) {
	files := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("b")},
		"000001_a.up.sql":   {Data: []byte("a")},
		"000001_a.down.sql": {Data: []byte("a")},
		"README":            {Data: []byte("x")},
	}
	up, err := listMigrationFiles(files, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, up)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	up, err := listMigrationFiles(Migrations(), ".up.sql")
	require.NoError(t, err)
	down, err := listMigrationFiles(Migrations(), ".down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, up)
	assert.Len(t, down, len(up))
}

func TestPendingCollectsOutputs(t *testing.T) {
	user := uuid.New()
	batch := ledger.NewBatch("Deposit:1", 7, 100)
	batch.Transfer(ledger.UserCollateral(user), ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits), sdkmath.NewInt(5), ledger.JournalTypeDeposit)

	p := &pending{}
	p.add(core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 7},
		Batch:    batch,
		Records:  []event.Record{&event.DepositRecord{UserID: user, Amount: sdkmath.NewInt(5)}},
	})
	p.add(core.CoreOutput{})

	require.Len(t, p.events, 1)
	assert.Len(t, p.journals, 1)
	require.Len(t, p.records, 1)
	assert.Equal(t, int64(7), p.records[0].Sequence)

	p.reset()
	assert.Empty(t, p.events)
	assert.Empty(t, p.journals)
	assert.Empty(t, p.records)
}

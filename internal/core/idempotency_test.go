package core

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	seen map[string]bool
	err  error
}

func (f *fakeDB) IsDuplicate(commandType, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[compositeKey(commandType, key)], nil
}

func TestIdempotency_LRUTier(t *testing.T) {
	ic, err := NewIdempotencyChecker(2, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, ic.IsDuplicate("Deposit", "a"))
	ic.MarkProcessed("Deposit", "a")
	assert.True(t, ic.IsDuplicate("Deposit", "a"))
	assert.False(t, ic.IsDuplicate("Withdraw", "a"), "keys are scoped by command type")

	ic.MarkProcessed("Deposit", "b")
	ic.MarkProcessed("Deposit", "c")
	assert.Equal(t, 2, ic.Size())
	assert.Equal(t, []string{"Deposit:b", "Deposit:c"}, ic.Keys())
}

func TestIdempotency_DBTier(t *testing.T) {
	db := &fakeDB{seen: map[string]bool{"Trade:x": true}}
	ic, err := NewIdempotencyChecker(10, db, nil, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, ic.IsDuplicate("Trade", "x"))
	assert.Equal(t, 1, ic.Size(), "tier-2 hits are cached")

	db.err = errors.New("connection refused")
	assert.False(t, ic.IsDuplicate("Trade", "y"), "outage fails open")
	assert.True(t, ic.IsDuplicate("Trade", "x"))
}

func TestIdempotency_Warm(t *testing.T) {
	ic, err := NewIdempotencyChecker(10, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	ic.WarmFromKeys([]string{"Deposit:a", "Trade:b"})
	assert.True(t, ic.IsDuplicate("Trade", "b"))
}

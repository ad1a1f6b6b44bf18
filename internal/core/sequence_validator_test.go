package core

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/observability"
)

func TestSequenceValidator(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sv := NewSequenceValidator(metrics)

	require.NoError(t, sv.ValidateSequence("global", 0, false), "unsequenced")
	require.NoError(t, sv.ValidateSequence("global", 1, false))
	sv.Advance("global", 1)

	require.NoError(t, sv.ValidateSequence("global", 3, false))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SequenceGap.WithLabelValues("global")))

	assert.Error(t, sv.ValidateSequence("global", 1, false))
	assert.NoError(t, sv.ValidateSequence("global", 1, true), "duplicates are dropped by the caller")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SequenceOutOfOrder.WithLabelValues("global")))

	// a rejected command never advanced, so validation alone changes nothing
	assert.Equal(t, int64(1), sv.GetLastAccepted("global"))

	// partitions are independent
	require.NoError(t, sv.ValidateSequence("market:0", 1, false))
}

func TestSequenceValidator_OracleSlots(t *testing.T) {
	sv := NewSequenceValidator(nil)
	require.NoError(t, sv.ValidateOracleSlot(2, 100))
	sv.AdvanceOracleSlot(2, 100)

	err := sv.ValidateOracleSlot(2, 100)
	assert.True(t, errors.Is(err, errs.ErrSequenceRegression), "got %v", err)
	assert.NoError(t, sv.ValidateOracleSlot(2, 150), "gaps are tolerated")
	assert.NoError(t, sv.ValidateOracleSlot(3, 1))

	snap := sv.GetAllPartitions()
	restored := NewSequenceValidator(nil)
	for p, last := range snap {
		restored.RestorePartition(p, last)
	}
	assert.Error(t, restored.ValidateOracleSlot(2, 99))
}

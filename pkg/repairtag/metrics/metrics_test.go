package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveBatchNormalizesOutcome(t *testing.T) {
	before := testutil.ToFloat64(llmBatchesTotal.WithLabelValues(OutcomeSuccess))
	ObserveBatch(time.Second, "weird")
	ObserveBatch(-time.Second, OutcomeSuccess)
	assert.Equal(t, before+2, testutil.ToFloat64(llmBatchesTotal.WithLabelValues(OutcomeSuccess)))
}

func TestObserveAssignment(t *testing.T) {
	c := tagAssignmentsTotal.WithLabelValues("rule_based", "contains")
	before := testutil.ToFloat64(c)
	ObserveAssignment("rule_based", "contains")
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

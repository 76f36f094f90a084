package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, Register(reg))
	// A second registration of the same collectors is rejected.
	assert.Error(t, Register(reg))

	before := testutil.ToFloat64(TransactionsTotal.WithLabelValues(Ok))
	TransactionsTotal.WithLabelValues(Ok).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TransactionsTotal.WithLabelValues(Ok)))
}

package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceEstimator(t *testing.T) {
	t.Parallel()
	e := DistanceEstimator{TxPowerDBm: -59, PathLossExponent: 2, Window: 3}

	assert.Equal(t, UnknownDistance, e.Estimate(nil))
	assert.Equal(t, UnknownDistance, e.Estimate([]RSSIPoint{{RSSI: UnknownRSSI}}))

	// Unknown readings are skipped; only the last three known count.
	h := []RSSIPoint{{RSSI: -20}, {RSSI: -79}, {RSSI: UnknownRSSI}, {RSSI: -79}, {RSSI: -79}}
	assert.InDelta(t, 10.0, e.Estimate(h), 1e-9)
}

package beacon

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DistanceEstimator turns recent RSSI readings into a distance with the
// log-distance path loss model: d = 10^((txPower - rssi) / (10 n)).
type DistanceEstimator struct {
	TxPowerDBm       float64
	PathLossExponent float64
	Window           int // number of most recent known readings averaged
}

// Estimate returns metres, or UnknownDistance when history holds no known
// reading.
func (e DistanceEstimator) Estimate(history []RSSIPoint) float64 {
	vals := make([]float64, 0, e.Window)
	for i := len(history) - 1; i >= 0 && len(vals) < e.Window; i-- {
		if history[i].RSSI != UnknownRSSI {
			vals = append(vals, float64(history[i].RSSI))
		}
	}
	if len(vals) == 0 {
		return UnknownDistance
	}
	mean := stat.Mean(vals, nil)
	return math.Pow(10, (e.TxPowerDBm-mean)/(10*e.PathLossExponent))
}

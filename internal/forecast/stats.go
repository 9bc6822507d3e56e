package forecast

import "math"

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func StdDev(values []float64, population bool) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	denom := float64(len(values))
	if !population {
		if len(values) < 2 {
			return 0
		}
		denom = float64(len(values) - 1)
	}
	return math.Sqrt(sum / denom)
}

// Trend fits a least-squares line through values at x = 0..n-1 and returns
// the slope per step.
func Trend(values []float64) (slope float64, r2 float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	n := float64(len(values))
	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	meanY := sumY / n
	ssTot, ssRes := 0.0, 0.0
	for i, y := range values {
		diff := y - meanY
		ssTot += diff * diff
		res := y - (slope*float64(i) + intercept)
		ssRes += res * res
	}
	if ssTot == 0 {
		return slope, 1, true
	}
	return slope, 1 - ssRes/ssTot, true
}

// lastN returns the trailing n values, or all of them when there are fewer.
func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

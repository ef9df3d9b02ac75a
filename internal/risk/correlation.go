package risk

import "math"

// Matrix holds pairwise Pearson correlations keyed both ways.
type Matrix map[string]map[string]float64

// At reads one pair. Symmetric lookups hit either orientation.
func (m Matrix) At(a, b string) (float64, bool) {
	if row, ok := m[a]; ok {
		if c, ok := row[b]; ok {
			return c, true
		}
	}
	if row, ok := m[b]; ok {
		if c, ok := row[a]; ok {
			return c, true
		}
	}
	return 0, false
}

// computeMatrix builds the full matrix from per-symbol price series. Returns
// are percentage changes; constant series correlate as zero, self as one.
func computeMatrix(prices map[string][]float64) Matrix {
	returns := make(map[string][]float64, len(prices))
	for sym, series := range prices {
		returns[sym] = pctReturns(series)
	}

	matrix := make(Matrix, len(returns))
	for a := range returns {
		matrix[a] = make(map[string]float64, len(returns))
		for b := range returns {
			if a == b {
				matrix[a][b] = 1.0
				continue
			}
			matrix[a][b] = pearson(returns[a], returns[b])
		}
	}
	return matrix
}

func pctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// pearson correlates the most recent overlapping span of two return series.
// Degenerate inputs (short or constant series) read as zero.
func pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}
	x = x[len(x)-n:]
	y = y[len(y)-n:]

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	r := cov / math.Sqrt(varX*varY)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

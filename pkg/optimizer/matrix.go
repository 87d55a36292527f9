package optimizer

import "math"

// matrix is a small dense d x d matrix, sized for LinUCB's context
// dimension (a handful of features, never more than a few dozen), so a
// plain Gauss-Jordan inverse is fast enough and needs no external linear
// algebra dependency — nothing in the example pack pulls in one for
// anything this small.
type matrix [][]float64

func newIdentity(d int) matrix {
	m := make(matrix, d)
	for i := range m {
		m[i] = make([]float64, d)
		m[i][i] = 1
	}
	return m
}

func newZeroMatrix(d int) matrix {
	m := make(matrix, d)
	for i := range m {
		m[i] = make([]float64, d)
	}
	return m
}

// addOuterProduct adds x*xT (scaled by scale) into m in place.
func (m matrix) addOuterProduct(x []float64, scale float64) {
	for i := range x {
		for j := range x {
			m[i][j] += scale * x[i] * x[j]
		}
	}
}

func (m matrix) mulVec(x []float64) []float64 {
	result := make([]float64, len(m))
	for i := range m {
		var sum float64
		for j := range x {
			sum += m[i][j] * x[j]
		}
		result[i] = sum
	}
	return result
}

// quadForm computes x^T * m * x.
func (m matrix) quadForm(x []float64) float64 {
	mx := m.mulVec(x)
	var sum float64
	for i := range x {
		sum += x[i] * mx[i]
	}
	return sum
}

// inverse computes m^-1 via Gauss-Jordan elimination with partial
// pivoting. m is never mutated; ok is false if m is singular to working
// precision, in which case the caller should fall back to the identity
// (equivalent to treating the arm as having no prior observations yet).
func (m matrix) inverse() (matrix, bool) {
	n := len(m)
	aug := make(matrix, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivotRow := col
		maxAbs := absF(aug[col][col])
		for r := col + 1; r < n; r++ {
			if v := absF(aug[r][col]); v > maxAbs {
				maxAbs = v
				pivotRow = r
			}
		}
		if maxAbs < 1e-12 {
			return nil, false
		}
		aug[col], aug[pivotRow] = aug[pivotRow], aug[col]

		pivot := aug[col][col]
		for k := 0; k < 2*n; k++ {
			aug[col][k] /= pivot
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == 0 {
				continue
			}
			for k := 0; k < 2*n; k++ {
				aug[r][k] -= factor * aug[col][k]
			}
		}
	}

	result := make(matrix, n)
	for i := 0; i < n; i++ {
		result[i] = append([]float64(nil), aug[i][n:]...)
	}
	return result, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// cholesky computes the lower-triangular L such that m = L L^T, for a
// symmetric positive-definite m. ok is false if m isn't positive definite
// to working precision (a small diagonal regularization is added first to
// keep near-singular posteriors usable).
func (m matrix) cholesky() (matrix, bool) {
	n := len(m)
	reg := cloneMatrix(m)
	for i := 0; i < n; i++ {
		reg[i][i] += 1e-9
	}

	l := newZeroMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := reg[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, true
}

func cloneMatrix(m matrix) matrix {
	out := make(matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

package calibrate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// polyfit returns the least-squares polynomial of the given degree through
// the points (x[i], y[i]), lowest power first. The Vandermonde system is
// solved by QR factorization.
func polyfit(x, y []float64, degree int) ([]float64, error) {
	rows, cols := len(x), degree+1
	if rows != len(y) {
		return nil, fmt.Errorf("%w: %d abscissae for %d ordinates", ErrDegenerateFit, rows, len(y))
	}
	if rows < cols {
		return nil, fmt.Errorf("%w: %d points for a degree %d polynomial", ErrDegenerateFit, rows, degree)
	}

	a := mat.NewDense(rows, cols, nil)
	for i, xi := range x {
		v := 1.0
		for j := 0; j < cols; j++ {
			a.Set(i, j, v)
			v *= xi
		}
	}
	b := mat.NewDense(rows, 1, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(a)

	sol := mat.NewDense(cols, 1, nil)
	if err := qr.SolveTo(sol, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	coeffs := make([]float64, cols)
	for j := range coeffs {
		coeffs[j] = sol.At(j, 0)
	}
	return coeffs, nil
}

// polyval evaluates the polynomial at x with Horner's rule.
func polyval(coeffs []float64, x float64) float64 {
	var v float64
	for j := len(coeffs) - 1; j >= 0; j-- {
		v = v*x + coeffs[j]
	}
	return v
}

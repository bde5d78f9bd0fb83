package attack

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

//ErrEmptySplitGroup is returned when a feature's split group is empty,
//which a well-formed compiled model cannot produce.
var ErrEmptySplitGroup = fmt.Errorf("attack: %w", errEmptySplitGroup)
var errEmptySplitGroup = fmt.Errorf("empty split group")

//featureWeights computes the piecewise-linear perturbation cost of one
//feature as coefficients over its ordered split variables plus a
//constant. Each interval between consecutive thresholds carries the
//rho-th power of the distance from x[feature] to the interval edge
//nearest its current interval; approaching a boundary from at-or-above
//adds the guard so the corresponding split stays strictly enforceable.
//Differencing consecutive potentials telescopes the stepwise cost into
//a single linear expression.
func (a *Attack) featureWeights(x []float64, feature int, rho float64) (coeffs []float64, constant float64, err error) {
	group := a.byFeature[feature]
	if len(group) == 0 {
		return nil, 0, fmt.Errorf("%w: feature %d", ErrEmptySplitGroup, feature)
	}

	axis := make([]float64, len(group)+2)
	axis[0] = math.Inf(-1)
	for i, tv := range group {
		axis[i+1] = tv.threshold
	}
	axis[len(axis)-1] = math.Inf(1)

	value := x[feature]
	w := make([]float64, len(group)+1)
	for i := len(axis) - 1; i >= 1; i-- {
		switch {
		case value < axis[i] && value >= axis[i-1]:
			w[i-1] = 0
		case value < axis[i] && value < axis[i-1]:
			w[i-1] = math.Pow(math.Abs(value-axis[i-1]), rho)
		case value >= axis[i] && value >= axis[i-1]:
			w[i-1] = math.Pow(math.Abs(value-axis[i]+a.guardVal), rho)
		default:
			return nil, 0, fmt.Errorf("attack: feature %d axis out of order at %v", feature, axis[i-1])
		}
	}
	for i := 0; i < len(w)-1; i++ {
		w[i] -= w[i+1]
	}
	return w[:len(w)-1], w[len(w)-1], nil
}

//Distance measures the perturbation between a sample and its
//adversarial counterpart under the given norm order. Order 0 counts
//changed coordinates, matching the convention of the L0 attack.
func Distance(a, b []float64, order float64) float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	if order == 0 {
		count := 0.0
		for _, d := range diff {
			if d != 0 {
				count++
			}
		}
		return count
	}
	return floats.Norm(diff, order)
}

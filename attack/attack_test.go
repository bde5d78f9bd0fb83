package attack

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/feroi35/GROOT/ensemble"
)

const stumpModel = `[
  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 2,
   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
]`

const twoFeatureModel = `[
  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 2,
   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]},
  {"nodeid": 0, "split": 1, "split_condition": 10.0, "yes": 1, "no": 2,
   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
]`

func mustParse(t *testing.T, model string) *ensemble.Ensemble {
	t.Helper()
	e, err := ensemble.Parse([]byte(model))
	require.NoError(t, err)
	return e
}

func TestMinimalLinfAttackOnStump(t *testing.T) {
	e := mustParse(t, stumpModel)
	a, err := New(e, DefaultParams())
	require.NoError(t, err)

	sample := []float64{3.0}
	adv, err := a.OptimalAdversarialExample(sample, 0)
	require.NoError(t, err)
	require.NotNil(t, adv)

	// The cheapest flip moves x just across the split at 5.0.
	require.InDelta(t, 5.0+a.GuardVal(), adv[0], 1e-9)
	require.InDelta(t, 2.0+a.GuardVal(), Distance(sample, adv, math.Inf(1)), 1e-9)

	pred, err := e.Predict(adv, 0.0)
	require.NoError(t, err)
	require.Equal(t, 1, pred, "reconstructed input must flip the label")
}

func TestAlreadyMispredictedSampleIsReturnedUnchanged(t *testing.T) {
	e := mustParse(t, stumpModel)
	a, err := New(e, DefaultParams())
	require.NoError(t, err)

	sample := []float64{3.0}
	adv, err := a.OptimalAdversarialExample(sample, 1)
	require.NoError(t, err)
	require.Equal(t, sample, adv)
}

func TestFeasibilityCertifiesSmallRadius(t *testing.T) {
	e := mustParse(t, stumpModel)

	params := DefaultParams()
	params.Epsilon = 1.0
	a, err := New(e, params)
	require.NoError(t, err)

	// Flipping needs a perturbation of ~2.0, so epsilon 1.0 is robust.
	robust, err := a.Robust([]float64{3.0}, 0)
	require.NoError(t, err)
	require.True(t, robust)
}

func TestFeasibilityMonotoneInEpsilon(t *testing.T) {
	e := mustParse(t, stumpModel)
	sample := []float64{3.0}

	previousRobust := true
	for _, epsilon := range []float64{0.5, 1.0, 1.9, 2.1, 3.0} {
		params := DefaultParams()
		params.Epsilon = epsilon
		a, err := New(e, params)
		require.NoError(t, err)

		robust, err := a.Robust(sample, 0)
		require.NoError(t, err)
		if robust {
			require.True(t, previousRobust, "sample robust at epsilon %v but not at a smaller radius", epsilon)
		}
		previousRobust = robust
	}
	require.False(t, previousRobust, "sample must be attackable at epsilon 3.0")
}

func TestFeasibilityRequiresLinfOrder(t *testing.T) {
	e := mustParse(t, stumpModel)
	params := DefaultParams()
	params.Epsilon = 1.0
	params.Order = 1
	_, err := New(e, params)
	require.Error(t, err)
}

func TestL1AttackSumsPerFeatureCosts(t *testing.T) {
	e := mustParse(t, twoFeatureModel)
	params := DefaultParams()
	params.Order = 1
	a, err := New(e, params)
	require.NoError(t, err)

	// Both leaves must flip: the ensemble value only crosses 0 when
	// both trees contribute +1.
	sample := []float64{3.0, 9.0}
	adv, err := a.OptimalAdversarialExample(sample, 0)
	require.NoError(t, err)
	require.NotNil(t, adv)

	require.InDelta(t, 5.0+a.GuardVal(), adv[0], 1e-9)
	require.InDelta(t, 10.0+a.GuardVal(), adv[1], 1e-9)
	require.InDelta(t, 3.0+2*a.GuardVal(), Distance(sample, adv, 1), 1e-9)

	pred, err := e.Predict(adv, 0.0)
	require.NoError(t, err)
	require.Equal(t, 1, pred)
}

func TestSharedSplitUsesOneVariable(t *testing.T) {
	e := mustParse(t, sharedSplitModel)
	a, err := New(e, DefaultParams())
	require.NoError(t, err)

	// Two distinct (feature, threshold) pairs across three split nodes.
	require.Equal(t, 2, a.NumSplits())
}

func TestGuardValueShrinksOnTightThresholds(t *testing.T) {
	const tight = `[
	  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]},
	  {"nodeid": 0, "split": 0, "split_condition": 5.000001, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
	]`
	e := mustParse(t, tight)
	a, err := New(e, DefaultParams())
	require.NoError(t, err)

	// The gap of 1e-6 is below twice the default guard of 5e-6.
	require.Less(t, a.GuardVal(), DefaultGuardVal)
	require.InDelta(t, 1e-6/3, a.GuardVal(), 1e-12)
}

func TestScoreAndFeasibilityDrivers(t *testing.T) {
	e := mustParse(t, stumpModel)

	X := mat.NewDense(4, 1, []float64{3.0, 4.0, 6.0, 7.0})
	y := []int{0, 0, 1, 1}

	accuracy, err := Score(e, X, y, 0.0, 0)
	require.NoError(t, err)
	require.Equal(t, 1.0, accuracy)

	flipped := []int{1, 1, 0, 0}
	accuracy, err = Score(e, X, flipped, 0.0, 0)
	require.NoError(t, err)
	require.Equal(t, 0.0, accuracy)

	// Every sample is at least distance 1 from the split, so radius
	// 0.5 certifies all of them and radius 2.5 certifies none.
	adversarialAccuracy, err := EpsilonFeasibility(e, X, y, 0.5, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 1.0, adversarialAccuracy)

	adversarialAccuracy, err = EpsilonFeasibility(e, X, y, 2.5, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 0.0, adversarialAccuracy)
}

func TestAttackDatasetAveragesDistances(t *testing.T) {
	e := mustParse(t, stumpModel)

	X := mat.NewDense(2, 1, []float64{3.0, 6.0})
	y := []int{0, 1}

	averageDistance, examples, err := AttackDataset(e, X, y, DefaultParams())
	require.NoError(t, err)

	rows, cols := examples.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 1, cols)

	// Sample 0 crosses up to 5+guard (distance 2+guard); sample 1
	// crosses down to 5-guard (distance 1+guard).
	guard := DefaultGuardVal
	require.InDelta(t, 5.0+guard, examples.At(0, 0), 1e-9)
	require.InDelta(t, 5.0-guard, examples.At(1, 0), 1e-9)
	require.InDelta(t, (2.0+1.0)/2, averageDistance, 1e-5)
}

func TestFeatureWeightsTelescope(t *testing.T) {
	e := mustParse(t, stumpModel)
	a, err := New(e, DefaultParams())
	require.NoError(t, err)

	coeffs, constant, err := a.featureWeights([]float64{3.0}, 0, 1)
	require.NoError(t, err)
	require.Len(t, coeffs, 1)
	// Staying below 5.0 costs nothing, crossing costs 2.0: the
	// expression 2 - 2*p prices the split variable exactly.
	require.InDelta(t, -2.0, coeffs[0], 1e-12)
	require.InDelta(t, 2.0, constant, 1e-12)

	// From above the threshold, crossing down costs 1 plus the guard.
	coeffs, constant, err = a.featureWeights([]float64{6.0}, 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 1.0+a.GuardVal(), coeffs[0], 1e-12)
	require.InDelta(t, 0.0, constant, 1e-12)
}

package attack

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/feroi35/GROOT/ensemble"
)

//Score computes plain accuracy of the ensemble on a dataset whose rows
//are samples. A sampleLimit of 0 scores every row.
func Score(e *ensemble.Ensemble, X *mat.Dense, y []int, predThreshold float64, sampleLimit int) (float64, error) {
	rows, _ := X.Dims()
	if sampleLimit > 0 && rows > sampleLimit {
		rows = sampleLimit
	}
	if rows == 0 {
		return 0, fmt.Errorf("attack: empty dataset")
	}

	correct := 0
	for i := 0; i < rows; i++ {
		sample := mat.Row(nil, i, X)
		pred, err := e.Predict(sample, predThreshold)
		if err != nil {
			return 0, err
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

//EpsilonFeasibility computes adversarial accuracy: the fraction of
//samples certified robust within the L-infinity radius epsilon.
func EpsilonFeasibility(e *ensemble.Ensemble, X *mat.Dense, y []int, epsilon float64, params Params) (float64, error) {
	params.Epsilon = epsilon
	params.Order = math.Inf(1)
	a, err := New(e, params)
	if err != nil {
		return 0, err
	}

	rows, _ := X.Dims()
	if rows == 0 {
		return 0, fmt.Errorf("attack: empty dataset")
	}
	robust := 0
	for i := 0; i < rows; i++ {
		ok, err := a.Robust(mat.Row(nil, i, X), y[i])
		if err != nil {
			return 0, err
		}
		if ok {
			robust++
		}
	}
	return float64(robust) / float64(rows), nil
}

//AttackDataset finds minimal adversarial examples for every row and
//returns the average perturbation distance together with the examples
//as rows of a matrix.
func AttackDataset(e *ensemble.Ensemble, X *mat.Dense, y []int, params Params) (float64, *mat.Dense, error) {
	a, err := New(e, params)
	if err != nil {
		return 0, nil, err
	}

	rows, cols := X.Dims()
	if rows == 0 {
		return 0, nil, fmt.Errorf("attack: empty dataset")
	}
	examples := mat.NewDense(rows, cols, nil)
	totalDistance := 0.0
	for i := 0; i < rows; i++ {
		sample := mat.Row(nil, i, X)
		adv, err := a.OptimalAdversarialExample(sample, y[i])
		if err != nil {
			return 0, nil, err
		}
		if adv == nil {
			return 0, nil, fmt.Errorf("attack: sample %d admits no adversarial example", i)
		}
		totalDistance += Distance(sample, adv, params.Order)
		examples.SetRow(i, adv)
	}
	return totalDistance / float64(rows), examples, nil
}

//OptimalAdversarialExample dispatches a single-sample minimal-distance
//attack to the binary or multiclass attacker depending on nClasses.
func OptimalAdversarialExample(e *ensemble.Ensemble, sample []float64, label, nClasses int, params Params) ([]float64, error) {
	if nClasses <= 2 {
		a, err := New(e, params)
		if err != nil {
			return nil, err
		}
		return a.OptimalAdversarialExample(sample, label)
	}
	mc, err := NewMultiClass(e, nClasses, params)
	if err != nil {
		return nil, err
	}
	return mc.OptimalAdversarialExample(sample, label)
}

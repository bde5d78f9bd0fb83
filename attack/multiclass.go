package attack

import (
	"fmt"
	"math"

	"github.com/feroi35/GROOT/ensemble"
)

//ErrNoAdversarialExample signals a degenerate multiclass model for
//which no target class yields any feasible attack, i.e. a model that
//never predicts anything but the sample's class.
var ErrNoAdversarialExample = fmt.Errorf("attack: %w", errNoAdversarialExample)
var errNoAdversarialExample = fmt.Errorf("no adversarial example found for any target class")

//MultiClass attacks a one-vs-all ensemble of k*nClasses trees by
//holding one pairwise binary attacker per ordered (label, other)
//class pair. The full matrix is built eagerly: quadratic in classes,
//but it amortizes model construction across many attacked samples.
type MultiClass struct {
	nClasses  int
	order     float64
	attackers [][]*Attack
}

//NewMultiClass partitions the ensemble round-robin into nClasses
//sub-ensembles and builds every pairwise attacker.
func NewMultiClass(e *ensemble.Ensemble, nClasses int, params Params) (*MultiClass, error) {
	if nClasses <= 2 {
		return nil, fmt.Errorf("attack: multiclass attack needs more than 2 classes, got %d", nClasses)
	}
	if params.Epsilon > 0 {
		return nil, fmt.Errorf("attack: multiclass attack does not support a feasibility radius")
	}

	parts := e.PartitionOneVsAll(nClasses)

	mc := &MultiClass{
		nClasses:  nClasses,
		order:     params.Order,
		attackers: make([][]*Attack, nClasses),
	}
	for label := 0; label < nClasses; label++ {
		mc.attackers[label] = make([]*Attack, nClasses)
		for other := 0; other < nClasses; other++ {
			if label == other {
				continue
			}
			attacker, err := NewPairwise(parts[label], parts[other], params)
			if err != nil {
				return nil, fmt.Errorf("attack: building pairwise model %d vs %d: %w", label, other, err)
			}
			mc.attackers[label][other] = attacker
		}
	}
	return mc, nil
}

//OptimalAdversarialExample tries every adversarial target class and
//returns the successful attack with the smallest perturbation.
func (mc *MultiClass) OptimalAdversarialExample(sample []float64, label int) ([]float64, error) {
	if label < 0 || label >= mc.nClasses {
		return nil, fmt.Errorf("attack: label %d out of range for %d classes", label, mc.nClasses)
	}

	bestDistance := math.Inf(1)
	var best []float64
	for other := 0; other < mc.nClasses; other++ {
		if other == label {
			continue
		}
		adv, err := mc.attackers[label][other].OptimalAdversarialExample(sample, 1)
		if err != nil {
			return nil, err
		}
		if adv == nil {
			continue
		}
		if distance := Distance(sample, adv, mc.order); distance < bestDistance {
			bestDistance = distance
			best = adv
		}
	}

	if best == nil {
		return nil, ErrNoAdversarialExample
	}
	return best, nil
}

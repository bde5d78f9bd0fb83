//Package attack encodes tree ensembles as mixed-integer linear
//programs and queries them for minimal adversarial perturbations or
//robustness certificates at a fixed radius. The encoding assigns one
//shared binary variable per unique (feature, threshold) split and one
//relaxed indicator per leaf; any feasible assignment corresponds to
//exactly one consistent decision region per tree.
package attack

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/feroi35/GROOT/ensemble"
	"github.com/feroi35/GROOT/milp"
)

const (
	//DefaultGuardVal keeps perturbed values strictly on one side of a
	//decision boundary despite float round-trips through the model file.
	DefaultGuardVal = 5e-6
	//DefaultRoundDigits is the threshold rounding used to merge splits
	//that differ only by serialization noise.
	DefaultRoundDigits = 6
	//epsilonMargin tightens the feasibility radius so near-boundary
	//solutions do not count as attacks.
	epsilonMargin = 1e-4
)

//ErrNoSplits is returned when a model contains no decision at all.
var ErrNoSplits = fmt.Errorf("attack: %w", errNoSplits)
var errNoSplits = fmt.Errorf("ensemble has no splits")

//Params configures an attacker. Order is the L-p norm order of the
//perturbation: 0, 1, 2 or math.Inf(1). Epsilon > 0 switches the
//attacker into feasibility mode at that L-infinity radius.
type Params struct {
	Order         float64
	Epsilon       float64
	GuardVal      float64
	RoundDigits   int
	PredThreshold float64
	Verbose       bool
}

//DefaultParams returns the standard minimal-distance configuration.
func DefaultParams() Params {
	return Params{
		Order:       math.Inf(1),
		GuardVal:    DefaultGuardVal,
		RoundDigits: DefaultRoundDigits,
	}
}

type thresholdVar struct {
	threshold float64
	v         milp.Var
}

//Attack holds one constraint model for a (sub-)ensemble. The model is
//built once and reused across samples; per-sample queries only replace
//the named mislabel and distance constraints before re-solving.
//Callers must serialize queries on one Attack.
type Attack struct {
	params   Params
	guardVal float64

	binary bool
	pos    *ensemble.Ensemble
	neg    *ensemble.Ensemble

	comp      *compiled
	model     *milp.Model
	splitVars []milp.Var
	leafVars  []milp.Var

	distVar    milp.Var
	hasDistVar bool

	features  []int
	byFeature map[int][]thresholdVar
}

//New builds an attacker for a binary classification ensemble.
func New(e *ensemble.Ensemble, params Params) (*Attack, error) {
	return build(e, nil, params)
}

//NewPairwise builds an attacker for the signed difference of two
//one-vs-all sub-ensembles: pos trees count positively, neg trees
//negatively, and an attack drives the difference below the threshold.
func NewPairwise(pos, neg *ensemble.Ensemble, params Params) (*Attack, error) {
	return build(pos, neg, params)
}

func build(pos, neg *ensemble.Ensemble, params Params) (*Attack, error) {
	if params.Epsilon > 0 && !math.IsInf(params.Order, 1) {
		return nil, fmt.Errorf("attack: feasibility radius requires the L-infinity order")
	}
	if params.GuardVal == 0 {
		params.GuardVal = DefaultGuardVal
	}
	if params.RoundDigits == 0 {
		params.RoundDigits = DefaultRoundDigits
	}

	var negTrees []*ensemble.Node
	if neg != nil {
		negTrees = neg.Trees
	}
	comp, err := compile(pos.Trees, negTrees, params.RoundDigits)
	if err != nil {
		return nil, err
	}
	if len(comp.splits) == 0 {
		return nil, ErrNoSplits
	}

	a := &Attack{
		params:   params,
		guardVal: params.GuardVal,
		binary:   neg == nil,
		pos:      pos,
		neg:      neg,
		comp:     comp,
		model:    milp.NewModel(),
	}

	a.splitVars = make([]milp.Var, len(comp.splits))
	for i := range comp.splits {
		a.splitVars[i] = a.model.AddBinary()
	}
	a.leafVars = make([]milp.Var, len(comp.leafValues))
	for i := range comp.leafValues {
		a.leafVars[i] = a.model.AddVar(0, 1)
	}
	if params.Epsilon > 0 {
		a.distVar = a.model.AddVar(0, params.Epsilon-epsilonMargin)
		a.hasDistVar = true
	} else if math.IsInf(params.Order, 1) {
		a.distVar = a.model.AddVar(0, math.Inf(1))
		a.hasDistVar = true
	}

	a.groupByFeature()
	a.addOrderingConstraints()
	a.addLeafSumConstraints()
	a.addCouplingConstraints()
	return a, nil
}

//groupByFeature collects each feature's split variables sorted by
//threshold ascending.
func (a *Attack) groupByFeature() {
	a.byFeature = make(map[int][]thresholdVar)
	for i, split := range a.comp.splits {
		a.byFeature[split.feature] = append(a.byFeature[split.feature], thresholdVar{
			threshold: split.threshold,
			v:         a.splitVars[i],
		})
	}
	for feature, group := range a.byFeature {
		sort.Slice(group, func(i, j int) bool { return group[i].threshold < group[j].threshold })
		a.features = append(a.features, feature)
	}
	sort.Ints(a.features)
}

//addOrderingConstraints chains each feature's split variables: the
//variable is 1 when "x[f] < t" holds, so for t1 < t2 the variable at
//t1 implies the one at t2. When two thresholds sit closer than twice
//the guard value, the guard shrinks to a third of the smallest gap so
//nudged values never cross into a neighboring region. The shrink is
//one-way and applies to the whole model; distance expressions are only
//built afterwards, so no constraint ever sees the stale guard.
func (a *Attack) addOrderingConstraints() {
	minDiff := math.Inf(1)
	for _, feature := range a.features {
		group := a.byFeature[feature]
		for i := 0; i+1 < len(group); i++ {
			var expr milp.LinExpr
			expr.AddTerm(1, group[i].v)
			expr.AddTerm(-1, group[i+1].v)
			a.model.AddConstr(
				fmt.Sprintf("p_consis_attr%d_%dth", feature, i),
				expr, milp.LessEq, 0,
			)
			if gap := group[i+1].threshold - group[i].threshold; gap < minDiff {
				minDiff = gap
			}
		}
	}
	if minDiff < 2*a.guardVal {
		a.guardVal = minDiff / 3
		log.Print("attack: guard value too large, shrinking to min threshold gap/3: ", a.guardVal)
	}
}

//addLeafSumConstraints forces exactly one active leaf per tree over
//each tree's contiguous leaf index range.
func (a *Attack) addLeafSumConstraints() {
	for i := 0; i < a.comp.numTrees(); i++ {
		var expr milp.LinExpr
		for j := a.comp.leafCount[i]; j < a.comp.leafCount[i+1]; j++ {
			expr.AddTerm(1, a.leafVars[j])
		}
		a.model.AddConstr(fmt.Sprintf("leaf_sum_one_for_tree%d", i), expr, milp.Eq, 1)
	}
}

func (a *Attack) leafSumExpr(leaves []int) milp.LinExpr {
	var expr milp.LinExpr
	for _, leaf := range leaves {
		expr.AddTerm(1, a.leafVars[leaf])
	}
	return expr
}

//addCouplingConstraints ties leaf activations to split variables. At a
//root the split fully determines which subtree is live, hence the
//equalities; interior occurrences only need the one-directional bound
//because ancestor splits already constrain reachability. Each
//occurrence emits O(1) constraints regardless of subtree size.
func (a *Attack) addCouplingConstraints() {
	for j, split := range a.comp.splits {
		p := a.splitVars[j]
		for k, occ := range split.occurrences {
			left := a.leafSumExpr(occ.leftLeaves)
			left.AddTerm(-1, p)
			right := a.leafSumExpr(occ.rightLeaves)
			right.AddTerm(1, p)
			if occ.root {
				a.model.AddConstr(fmt.Sprintf("p%d_root_left_%d", j, k), left, milp.Eq, 0)
				a.model.AddConstr(fmt.Sprintf("p%d_root_right_%d", j, k), right, milp.Eq, 1)
			} else {
				a.model.AddConstr(fmt.Sprintf("p%d_left_%d", j, k), left, milp.LessEq, 0)
				a.model.AddConstr(fmt.Sprintf("p%d_right_%d", j, k), right, milp.LessEq, 1)
			}
		}
	}
}

//GuardVal reports the guard value in effect, after any auto-shrink.
func (a *Attack) GuardVal() float64 { return a.guardVal }

//NumSplits reports how many unique splits the model encodes.
func (a *Attack) NumSplits() int { return len(a.comp.splits) }

//predict evaluates the underlying trees directly on x, bypassing the
//solver entirely.
func (a *Attack) predict(x []float64) (int, error) {
	if a.binary {
		return a.pos.Predict(x, a.params.PredThreshold)
	}
	posValue, err := a.pos.Evaluate(x)
	if err != nil {
		return 0, err
	}
	negValue, err := a.neg.Evaluate(x)
	if err != nil {
		return 0, err
	}
	if posValue >= negValue {
		return 1, nil
	}
	return 0, nil
}

//setMislabelConstraint forces the weighted leaf sum across the
//prediction threshold, away from the asserted label.
func (a *Attack) setMislabelConstraint(label int) {
	expr := milp.NewLinExpr(a.comp.leafValues, a.leafVars)
	if !a.binary || label == 1 {
		a.model.ReplaceConstr("mislabel", expr, milp.LessEq, a.params.PredThreshold-a.guardVal)
	} else {
		a.model.ReplaceConstr("mislabel", expr, milp.GreaterEq, a.params.PredThreshold+a.guardVal)
	}
}

//setDistanceConstraint bounds one feature's perturbation expression by
//the shared max-distance variable.
func (a *Attack) setDistanceConstraint(x []float64, feature int, rho float64) error {
	coeffs, offset, err := a.featureWeights(x, feature, rho)
	if err != nil {
		return err
	}
	group := a.byFeature[feature]
	expr := milp.LinExpr{Offset: offset}
	for i, tv := range group {
		expr.AddTerm(coeffs[i], tv.v)
	}
	expr.AddTerm(-1, a.distVar)
	a.model.ReplaceConstr(fmt.Sprintf("linf_constr_attr%d", feature), expr, milp.LessEq, 0)
	return nil
}

//Robust answers the feasibility query: is there no adversarial example
//for x within the configured epsilon radius? It requires an attacker
//built with Epsilon > 0.
func (a *Attack) Robust(x []float64, label int) (bool, error) {
	if a.params.Epsilon <= 0 {
		return false, fmt.Errorf("attack: feasibility radius not configured")
	}
	a.setMislabelConstraint(label)
	for _, feature := range a.features {
		if err := a.setDistanceConstraint(x, feature, 1); err != nil {
			return false, err
		}
	}
	a.model.SetObjective(milp.LinExpr{})

	sol, err := a.model.Optimize()
	if err != nil {
		return false, err
	}
	return sol.Status == milp.StatusInfeasible, nil
}

//OptimalAdversarialExample returns the minimal perturbation of sample
//that flips the prediction away from label, or nil when the solver
//proves no such perturbation exists. A sample the model already
//mispredicts is returned unchanged.
func (a *Attack) OptimalAdversarialExample(sample []float64, label int) ([]float64, error) {
	pred, err := a.predict(sample)
	if err != nil {
		return nil, err
	}
	x := make([]float64, len(sample))
	copy(x, sample)
	if pred != label {
		return x, nil
	}

	a.setMislabelConstraint(label)

	rho := a.params.Order
	if math.IsInf(rho, 1) {
		rho = 1
	}

	if math.IsInf(a.params.Order, 1) {
		for _, feature := range a.features {
			if err := a.setDistanceConstraint(x, feature, rho); err != nil {
				return nil, err
			}
		}
		var obj milp.LinExpr
		obj.AddTerm(1, a.distVar)
		a.model.SetObjective(obj)
	} else {
		var obj milp.LinExpr
		for _, feature := range a.features {
			coeffs, offset, err := a.featureWeights(x, feature, rho)
			if err != nil {
				return nil, err
			}
			for i, tv := range a.byFeature[feature] {
				obj.AddTerm(coeffs[i], tv.v)
			}
			obj.Offset += offset
		}
		a.model.SetObjective(obj)
	}

	sol, err := a.model.Optimize()
	if err != nil {
		return nil, err
	}
	if sol.Status == milp.StatusInfeasible {
		return nil, nil
	}

	// Reconstruct a concrete input from the solved split variables: a
	// variable at 1 asserts x[f] < t, at 0 asserts x[f] >= t. Nudge the
	// sample by the guard wherever it disagrees.
	for _, feature := range a.features {
		for _, tv := range a.byFeature[feature] {
			value := sol.Value(tv.v)
			if value > 0.5 && x[feature] >= tv.threshold {
				x[feature] = tv.threshold - a.guardVal
			}
			if value <= 0.5 && x[feature] < tv.threshold {
				x[feature] = tv.threshold + a.guardVal
			}
		}
	}

	newPred, err := a.predict(x)
	if err != nil {
		return nil, err
	}
	if newPred == label && a.params.Verbose {
		// Solver tolerance plus the reconstruction nudges can, rarely,
		// land on the original side. Diagnostic only.
		log.Print("attack: solver result did not flip the prediction")
	}
	return x, nil
}

//Package milp provides the small mixed-integer linear programming
//surface the attack encoder needs: binary and bounded continuous
//variables, named removable linear constraints, a linear minimization
//objective, and an optimizer that reports optimal or infeasible and
//lets callers read solved variable values.
package milp

import (
	"fmt"
	"math"
)

//Var is a handle to a model variable.
type Var int

//Sense is the comparison direction of a linear constraint.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Eq
)

//LinExpr is a linear combination of variables plus a constant offset.
type LinExpr struct {
	Coeffs []float64
	Vars   []Var
	Offset float64
}

//NewLinExpr pairs coefficient and variable lists into an expression.
func NewLinExpr(coeffs []float64, vars []Var) LinExpr {
	if len(coeffs) != len(vars) {
		panic(fmt.Sprintf("milp: %d coefficients for %d variables", len(coeffs), len(vars)))
	}
	return LinExpr{Coeffs: coeffs, Vars: vars}
}

//AddTerm appends one coefficient*variable term to the expression.
func (e *LinExpr) AddTerm(coeff float64, v Var) {
	e.Coeffs = append(e.Coeffs, coeff)
	e.Vars = append(e.Vars, v)
}

type constraint struct {
	name  string
	expr  LinExpr
	sense Sense
	rhs   float64
}

//Model is a mixed-integer linear program under construction. A model is
//not safe for concurrent mutation; callers serialize access.
type Model struct {
	lb, ub  []float64
	integer []bool

	obj     LinExpr
	constrs []constraint
	names   map[string]int
	feasTol float64
	intTol  float64
}

//NewModel returns an empty model with strict default tolerances.
func NewModel() *Model {
	return &Model{
		names:   make(map[string]int),
		feasTol: 1e-9,
		intTol:  1e-9,
	}
}

//SetTolerances overrides the feasibility and integrality tolerances.
func (m *Model) SetTolerances(feasTol, intTol float64) {
	m.feasTol = feasTol
	m.intTol = intTol
}

//AddBinary adds a 0/1 integer variable.
func (m *Model) AddBinary() Var {
	m.lb = append(m.lb, 0)
	m.ub = append(m.ub, 1)
	m.integer = append(m.integer, true)
	return Var(len(m.lb) - 1)
}

//AddVar adds a continuous variable bounded to [lb, ub]. An infinite
//upper bound is allowed.
func (m *Model) AddVar(lb, ub float64) Var {
	m.lb = append(m.lb, lb)
	m.ub = append(m.ub, ub)
	m.integer = append(m.integer, false)
	return Var(len(m.lb) - 1)
}

//NumVars returns the number of variables in the model.
func (m *Model) NumVars() int { return len(m.lb) }

//AddConstr adds a named linear constraint. The expression offset is
//folded into the right hand side.
func (m *Model) AddConstr(name string, expr LinExpr, sense Sense, rhs float64) {
	if _, ok := m.names[name]; ok {
		panic(fmt.Sprintf("milp: duplicate constraint %q", name))
	}
	m.names[name] = len(m.constrs)
	m.constrs = append(m.constrs, constraint{name: name, expr: expr, sense: sense, rhs: rhs})
}

//RemoveConstr deletes the constraint with the given name and reports
//whether it existed.
func (m *Model) RemoveConstr(name string) bool {
	i, ok := m.names[name]
	if !ok {
		return false
	}
	last := len(m.constrs) - 1
	m.constrs[i] = m.constrs[last]
	m.constrs = m.constrs[:last]
	delete(m.names, name)
	if i != last {
		m.names[m.constrs[i].name] = i
	}
	return true
}

//ReplaceConstr installs the named constraint, dropping any previous
//constraint under the same name.
func (m *Model) ReplaceConstr(name string, expr LinExpr, sense Sense, rhs float64) {
	m.RemoveConstr(name)
	m.AddConstr(name, expr, sense, rhs)
}

//SetObjective sets the linear expression to minimize.
func (m *Model) SetObjective(expr LinExpr) {
	m.obj = expr
}

//Status is the outcome of an optimization run.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	}
	return "unknown"
}

//Solution holds the result of Optimize. Values are only meaningful when
//Status is StatusOptimal.
type Solution struct {
	Status    Status
	Objective float64
	values    []float64
}

//Value returns the solved value of a variable.
func (s *Solution) Value(v Var) float64 {
	if s.values == nil {
		return math.NaN()
	}
	return s.values[v]
}

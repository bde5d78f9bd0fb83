package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

//ErrUnbounded is returned when the relaxation has no finite optimum.
var ErrUnbounded = fmt.Errorf("milp: %w", errUnbounded)
var errUnbounded = fmt.Errorf("objective is unbounded")

type denseRow struct {
	coeffs []float64
	rhs    float64
}

//assembleRows flattens the named constraints into dense <= rows.
//GreaterEq rows are negated and equalities become a pair of opposing
//inequalities: the encoding repeats information across equality rows
//(a root coupling pair sums to its tree's leaf sum), and an
//inequality-only system stays full rank through its slack columns no
//matter how redundant the rows are.
func (m *Model) assembleRows() []denseRow {
	n := len(m.lb)
	var rows []denseRow
	for _, ct := range m.constrs {
		coeffs := make([]float64, n)
		for i, v := range ct.expr.Vars {
			coeffs[v] += ct.expr.Coeffs[i]
		}
		rhs := ct.rhs - ct.expr.Offset
		neg := make([]float64, n)
		for i, c := range coeffs {
			neg[i] = -c
		}
		switch ct.sense {
		case LessEq:
			rows = append(rows, denseRow{coeffs, rhs})
		case GreaterEq:
			rows = append(rows, denseRow{neg, -rhs})
		case Eq:
			rows = append(rows, denseRow{coeffs, rhs})
			rows = append(rows, denseRow{neg, -rhs})
		}
	}
	return rows
}

//solveRelaxation solves the LP relaxation under the given variable
//bounds. The bounds become explicit inequality rows so the standard
//form conversion can treat every variable as free.
func (m *Model) solveRelaxation(c []float64, rows []denseRow, lb, ub []float64) (optF float64, optX []float64, infeasible bool, err error) {
	n := len(lb)

	gRows := make([]denseRow, 0, len(rows)+2*n)
	gRows = append(gRows, rows...)
	for i := 0; i < n; i++ {
		if !math.IsInf(ub[i], 1) {
			row := make([]float64, n)
			row[i] = 1
			gRows = append(gRows, denseRow{row, ub[i]})
		}
		if !math.IsInf(lb[i], -1) {
			row := make([]float64, n)
			row[i] = -1
			gRows = append(gRows, denseRow{row, -lb[i]})
		}
	}

	g := mat.NewDense(len(gRows), n, nil)
	h := make([]float64, len(gRows))
	for i, row := range gRows {
		g.SetRow(i, row.coeffs)
		h[i] = row.rhs
	}

	cStd, aStd, bStd := lp.Convert(c, g, h, nil, nil)

	optF, xStd, err := lp.Simplex(cStd, aStd, bStd, m.feasTol, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return 0, nil, true, nil
		}
		if errors.Is(err, lp.ErrUnbounded) {
			return 0, nil, false, ErrUnbounded
		}
		return 0, nil, false, fmt.Errorf("milp: relaxation: %w", err)
	}

	// The standard form splits each free variable into a positive and a
	// negative part: x[i] = xStd[i] - xStd[n+i].
	optX = make([]float64, n)
	for i := 0; i < n; i++ {
		optX[i] = xStd[i] - xStd[n+i]
	}
	return optF, optX, false, nil
}

type bbNode struct {
	lb, ub []float64
}

func cloneBounds(src []float64) []float64 {
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}

//Optimize runs depth-first branch and bound on the integer variables,
//solving one LP relaxation per node. Infeasibility is a first-class
//result, not an error.
func (m *Model) Optimize() (*Solution, error) {
	n := len(m.lb)
	c := make([]float64, n)
	for i, v := range m.obj.Vars {
		c[v] += m.obj.Coeffs[i]
	}
	rows := m.assembleRows()

	best := math.Inf(1)
	var bestX []float64

	stack := []bbNode{{lb: cloneBounds(m.lb), ub: cloneBounds(m.ub)}}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		f, x, infeasible, err := m.solveRelaxation(c, rows, node.lb, node.ub)
		if err != nil {
			return nil, err
		}
		if infeasible {
			continue
		}
		if bestX != nil && f >= best-m.intTol {
			continue
		}

		branch := -1
		worstFrac := m.intTol
		for i := 0; i < n; i++ {
			if !m.integer[i] {
				continue
			}
			frac := math.Abs(x[i] - math.Round(x[i]))
			if frac > worstFrac {
				worstFrac = frac
				branch = i
			}
		}
		if branch < 0 {
			best = f
			bestX = x
			continue
		}

		down := bbNode{lb: cloneBounds(node.lb), ub: cloneBounds(node.ub)}
		down.ub[branch] = math.Floor(x[branch])
		up := bbNode{lb: cloneBounds(node.lb), ub: cloneBounds(node.ub)}
		up.lb[branch] = math.Ceil(x[branch])

		// Explore the branch nearer the fractional value first.
		if x[branch]-math.Floor(x[branch]) >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if bestX == nil {
		return &Solution{Status: StatusInfeasible}, nil
	}

	for i := 0; i < n; i++ {
		if m.integer[i] {
			bestX[i] = math.Round(bestX[i])
		}
	}
	return &Solution{
		Status:    StatusOptimal,
		Objective: best + m.obj.Offset,
		values:    bestX,
	}, nil
}

package attack

import (
	"fmt"
	"math"

	"github.com/feroi35/GROOT/ensemble"
)

//occurrence records one position of a shared split inside a tree,
//together with the leaf indices reachable on its yes (left) and no
//(right) side. Root occurrences are coupled with equalities later.
type occurrence struct {
	treeID      int
	nodeID      int
	leftLeaves  []int
	rightLeaves []int
	root        bool
}

//splitNode is a unique (feature, threshold) decision shared by every
//tree node carrying the same rounded pair. It owns a single binary
//variable in the constraint model.
type splitNode struct {
	feature     int
	threshold   float64
	occurrences []occurrence
}

type splitKey struct {
	feature   int
	threshold float64
}

//compiled is the flattened ensemble: all leaf values in traversal
//order, cumulative leaf counts per tree, and the deduplicated splits.
type compiled struct {
	splits     []*splitNode
	leafValues []float64
	leafCount  []int
}

func roundTo(v float64, digits int) float64 {
	pow := math.Pow(10, float64(digits))
	return math.Round(v*pow) / pow
}

//compile walks every tree depth-first, assigns global leaf indices,
//and merges structurally identical splits across trees and branches.
//Trees in neg contribute negated leaf values, which turns a pair of
//one-vs-all ensembles into a single signed sum.
func compile(pos, neg []*ensemble.Node, roundDigits int) (*compiled, error) {
	comp := &compiled{leafCount: []int{0}}
	check := make(map[splitKey]int)

	var dfs func(node *ensemble.Node, treeID int, root, negate bool) ([]int, error)
	dfs = func(node *ensemble.Node, treeID int, root, negate bool) ([]int, error) {
		if node.IsLeaf {
			value := node.Leaf
			if negate {
				value = -value
			}
			comp.leafValues = append(comp.leafValues, value)
			return []int{len(comp.leafValues) - 1}, nil
		}

		threshold := roundTo(node.Threshold, roundDigits)
		yes, err := node.YesChild()
		if err != nil {
			return nil, err
		}
		no, err := node.NoChild()
		if err != nil {
			return nil, err
		}

		leftLeaves, err := dfs(yes, treeID, false, negate)
		if err != nil {
			return nil, err
		}
		rightLeaves, err := dfs(no, treeID, false, negate)
		if err != nil {
			return nil, err
		}

		occ := occurrence{
			treeID:      treeID,
			nodeID:      node.NodeID,
			leftLeaves:  leftLeaves,
			rightLeaves: rightLeaves,
			root:        root,
		}
		key := splitKey{feature: node.Feature, threshold: threshold}
		if index, ok := check[key]; ok {
			comp.splits[index].occurrences = append(comp.splits[index].occurrences, occ)
		} else {
			check[key] = len(comp.splits)
			comp.splits = append(comp.splits, &splitNode{
				feature:     node.Feature,
				threshold:   threshold,
				occurrences: []occurrence{occ},
			})
		}
		return append(leftLeaves, rightLeaves...), nil
	}

	for i, tree := range pos {
		if _, err := dfs(tree, i, true, false); err != nil {
			return nil, err
		}
		comp.leafCount = append(comp.leafCount, len(comp.leafValues))
	}
	for i, tree := range neg {
		if _, err := dfs(tree, len(pos)+i, true, true); err != nil {
			return nil, err
		}
		comp.leafCount = append(comp.leafCount, len(comp.leafValues))
	}

	if len(pos)+len(neg)+1 != len(comp.leafCount) {
		return nil, fmt.Errorf("attack: leaf count bookkeeping broken: %v", comp.leafCount)
	}
	return comp, nil
}

//numTrees returns how many trees the compiled model spans.
func (c *compiled) numTrees() int { return len(c.leafCount) - 1 }

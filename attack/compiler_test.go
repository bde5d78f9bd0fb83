package attack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feroi35/GROOT/ensemble"
)

const sharedSplitModel = `[
  {"nodeid": 0, "split": "f0", "split_condition": 5.0, "yes": 1, "no": 2,
   "children": [
     {"nodeid": 1, "split": 1, "split_condition": 2.0, "yes": 3, "no": 4,
      "children": [{"nodeid": 3, "leaf": -1.0}, {"nodeid": 4, "leaf": 1.0}]},
     {"nodeid": 2, "leaf": 2.0}]},
  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 2,
   "children": [{"nodeid": 1, "leaf": -3.0}, {"nodeid": 2, "leaf": 3.0}]}
]`

func TestCompileDeduplicatesSharedSplits(t *testing.T) {
	e, err := ensemble.Parse([]byte(sharedSplitModel))
	require.NoError(t, err)

	comp, err := compile(e.Trees, nil, DefaultRoundDigits)
	require.NoError(t, err)

	// (f0, 5.0) appears in both trees; (f1, 2.0) once.
	require.Len(t, comp.splits, 2)
	require.Equal(t, []float64{-1, 1, 2, -3, 3}, comp.leafValues)
	require.Equal(t, []int{0, 3, 5}, comp.leafCount)

	var shared *splitNode
	for _, split := range comp.splits {
		if split.feature == 0 {
			shared = split
		}
	}
	require.NotNil(t, shared)
	require.Equal(t, 5.0, shared.threshold)
	require.Len(t, shared.occurrences, 2)

	first, second := shared.occurrences[0], shared.occurrences[1]
	require.True(t, first.root)
	require.True(t, second.root)
	require.Equal(t, []int{0, 1}, first.leftLeaves)
	require.Equal(t, []int{2}, first.rightLeaves)
	require.Equal(t, []int{3}, second.leftLeaves)
	require.Equal(t, []int{4}, second.rightLeaves)

	for _, split := range comp.splits {
		if split.feature == 1 {
			require.Len(t, split.occurrences, 1)
			require.False(t, split.occurrences[0].root)
		}
	}
}

func TestCompileRoundsThresholdsBeforeDedup(t *testing.T) {
	const nearlyEqual = `[
	  {"nodeid": 0, "split": 0, "split_condition": 5.00000000004, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]},
	  {"nodeid": 0, "split": 0, "split_condition": 4.99999999996, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
	]`
	e, err := ensemble.Parse([]byte(nearlyEqual))
	require.NoError(t, err)

	comp, err := compile(e.Trees, nil, DefaultRoundDigits)
	require.NoError(t, err)
	require.Len(t, comp.splits, 1)
	require.Len(t, comp.splits[0].occurrences, 2)
}

func TestCompileNegatesSecondEnsemble(t *testing.T) {
	pos, err := ensemble.Parse([]byte(`[
	  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
	]`))
	require.NoError(t, err)
	neg, err := ensemble.Parse([]byte(`[
	  {"nodeid": 0, "split": 0, "split_condition": 7.0, "yes": 1, "no": 2,
	   "children": [{"nodeid": 1, "leaf": 4.0}, {"nodeid": 2, "leaf": -4.0}]}
	]`))
	require.NoError(t, err)

	comp, err := compile(pos.Trees, neg.Trees, DefaultRoundDigits)
	require.NoError(t, err)
	require.Equal(t, []float64{-1, 1, -4, 4}, comp.leafValues)
	require.Equal(t, []int{0, 2, 4}, comp.leafCount)
	require.Equal(t, 2, comp.numTrees())
}

func TestCompileMalformedTree(t *testing.T) {
	const broken = `[
	  {"nodeid": 0, "split": 0, "split_condition": 5.0, "yes": 1, "no": 9,
	   "children": [{"nodeid": 1, "leaf": -1.0}, {"nodeid": 2, "leaf": 1.0}]}
	]`
	e, err := ensemble.Parse([]byte(broken))
	require.NoError(t, err)

	_, err = compile(e.Trees, nil, DefaultRoundDigits)
	require.ErrorIs(t, err, ensemble.ErrMalformedTree)
}

//Package ensemble loads XGBoost-style JSON tree ensembles and evaluates
//them by direct traversal. The manual traversal here is the reference
//prediction: it bypasses every numeric shortcut of the attack machinery
//and is used both to score datasets and to confirm adversarial examples.
package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

//ErrMalformedTree is returned when a split node is missing one of the
//children named by its yes/no links.
var ErrMalformedTree = fmt.Errorf("ensemble: %w", errMalformedTree)
var errMalformedTree = fmt.Errorf("malformed tree")

//Node is one node of a decision tree as exported by xgboost-like JSON
//dumps. A node is either a leaf carrying a value or a binary split
//"feature < threshold" whose yes/no links name the child taken when the
//condition holds / fails.
type Node struct {
	NodeID    int
	Leaf      float64
	IsLeaf    bool
	Feature   int
	Threshold float64
	Yes, No   int
	Children  []*Node
}

type rawNode struct {
	NodeID         int             `json:"nodeid"`
	Leaf           *float64        `json:"leaf"`
	Split          json.RawMessage `json:"split"`
	SplitCondition float64         `json:"split_condition"`
	Yes            int             `json:"yes"`
	No             int             `json:"no"`
	Children       []*Node         `json:"children"`
}

//UnmarshalJSON decodes a tree node, accepting both a bare integer and a
//letter-prefixed string ("f12") as the split feature reference.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	n.NodeID = raw.NodeID
	if raw.Leaf != nil {
		n.Leaf = *raw.Leaf
		n.IsLeaf = true
		return nil
	}

	feature, err := parseFeatureRef(raw.Split)
	if err != nil {
		return err
	}
	n.Feature = feature
	n.Threshold = raw.SplitCondition
	n.Yes = raw.Yes
	n.No = raw.No
	n.Children = raw.Children
	return nil
}

func parseFeatureRef(raw json.RawMessage) (int, error) {
	var index int
	if err := json.Unmarshal(raw, &index); err == nil {
		return index, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("ensemble: split reference %s is neither int nor string", raw)
	}
	if len(name) < 2 {
		return 0, fmt.Errorf("ensemble: split reference %q too short", name)
	}
	index, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, fmt.Errorf("ensemble: split reference %q: %w", name, err)
	}
	return index, nil
}

//child returns the subtree whose node id matches the given link.
func (n *Node) child(id int) *Node {
	for _, c := range n.Children {
		if c.NodeID == id {
			return c
		}
	}
	return nil
}

//YesChild resolves the subtree taken when the node condition holds.
func (n *Node) YesChild() (*Node, error) {
	if c := n.child(n.Yes); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: node %d has no child %d", ErrMalformedTree, n.NodeID, n.Yes)
}

//NoChild resolves the subtree taken when the node condition fails.
func (n *Node) NoChild() (*Node, error) {
	if c := n.child(n.No); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: node %d has no child %d", ErrMalformedTree, n.NodeID, n.No)
}

//Ensemble is an ordered list of decision trees whose leaf values sum
//into one ensemble score.
type Ensemble struct {
	Trees []*Node
}

//Parse decodes an ensemble from its JSON dump, a top level array of
//trees.
func Parse(data []byte) (*Ensemble, error) {
	var trees []*Node
	if err := json.Unmarshal(data, &trees); err != nil {
		return nil, fmt.Errorf("ensemble: decoding model: %w", err)
	}
	return &Ensemble{Trees: trees}, nil
}

//Load reads and decodes an ensemble from a JSON model file.
func Load(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ensemble: reading model: %w", err)
	}
	return Parse(data)
}

//evaluateTree walks one tree with plain threshold comparisons and
//returns the reached leaf value.
func evaluateTree(root *Node, x []float64) (float64, error) {
	node := root
	for !node.IsLeaf {
		var next *Node
		var err error
		if x[node.Feature] < node.Threshold {
			next, err = node.YesChild()
		} else {
			next, err = node.NoChild()
		}
		if err != nil {
			return 0, err
		}
		node = next
	}
	return node.Leaf, nil
}

//Evaluate sums the leaf values reached by x in every tree. This is the
//authoritative decision value of the ensemble on that exact input.
func (e *Ensemble) Evaluate(x []float64) (float64, error) {
	total := 0.0
	for _, tree := range e.Trees {
		v, err := evaluateTree(tree, x)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

//Predict compares the ensemble value against the prediction threshold
//and returns the binary class label.
func (e *Ensemble) Predict(x []float64, threshold float64) (int, error) {
	v, err := e.Evaluate(x)
	if err != nil {
		return 0, err
	}
	if v >= threshold {
		return 1, nil
	}
	return 0, nil
}

//PartitionOneVsAll splits the trees round-robin into nClasses
//sub-ensembles, tree i going to class i mod nClasses.
func (e *Ensemble) PartitionOneVsAll(nClasses int) []*Ensemble {
	parts := make([]*Ensemble, nClasses)
	for i := range parts {
		parts[i] = &Ensemble{}
	}
	for i, tree := range e.Trees {
		class := i % nClasses
		parts[class].Trees = append(parts[class].Trees, tree)
	}
	return parts
}

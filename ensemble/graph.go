package ensemble

import (
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//graphDescription returns the label of a node for tree rendering.
func graphDescription(node *Node) string {
	var sb strings.Builder
	if node.IsLeaf {
		sb.WriteString(fmt.Sprintln("id: ", node.NodeID))
		sb.WriteString(fmt.Sprintf("leaf: %6.5f", node.Leaf))
	} else {
		sb.WriteString(fmt.Sprintln("id: ", node.NodeID))
		sb.WriteString(fmt.Sprintf("f_%d < %6.5f", node.Feature, node.Threshold))
	}
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, treeIndex int, node *Node, parent *cgraph.Node) error {
	current, err := g.CreateNode(fmt.Sprintf("t%d_n%d", treeIndex, node.NodeID))
	if err != nil {
		return err
	}
	current.Set("label", graphDescription(node))

	if parent != nil {
		if _, err := g.CreateEdge("", parent, current); err != nil {
			return err
		}
	}

	if node.IsLeaf {
		current.Set("shape", "box")
		return nil
	}

	yes, err := node.YesChild()
	if err != nil {
		return err
	}
	if err := recurrentDraw(g, treeIndex, yes, current); err != nil {
		return err
	}
	no, err := node.NoChild()
	if err != nil {
		return err
	}
	return recurrentDraw(g, treeIndex, no, current)
}

//DrawGraph builds a graphviz graph for one tree of the ensemble.
func (e *Ensemble) DrawGraph(treeIndex int) (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		return nil, nil, fmt.Errorf("ensemble: creating graph: %w", err)
	}

	if err := recurrentDraw(graph, treeIndex, e.Trees[treeIndex], nil); err != nil {
		return nil, nil, fmt.Errorf("ensemble: drawing tree %d: %w", treeIndex, err)
	}

	return graphViz, graph, nil
}

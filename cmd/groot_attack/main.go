//Command groot_attack runs MILP robustness queries against a tree
//ensemble exported as JSON: plain accuracy, adversarial accuracy at a
//fixed L-infinity radius, or minimal adversarial perturbations.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/goccy/go-graphviz"
	"gonum.org/v1/gonum/mat"

	"github.com/feroi35/GROOT/attack"
	"github.com/feroi35/GROOT/dataset"
	"github.com/feroi35/GROOT/ensemble"
)

func handleError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

//RunConfig mirrors the command line flags for batch runs driven by a
//JSON config file.
type RunConfig struct {
	FileNameModel string  `json:"filename_model"`
	FileNameX     string  `json:"filename_x"`
	FileNameY     string  `json:"filename_y"`
	Mode          string  `json:"mode"`
	Epsilon       float64 `json:"epsilon"`
	Order         string  `json:"order"`
	NClasses      int     `json:"n_classes"`
	PredThreshold float64 `json:"pred_threshold"`
	SampleLimit   int     `json:"sample_limit"`
	RenderTree    string  `json:"render_tree"`
}

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	handleError(err)
	defer func() { handleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	handleError(decoder.Decode(out))
}

func parseOrder(s string) (float64, error) {
	if s == "inf" {
		return math.Inf(1), nil
	}
	order, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("order %q: %w", s, err)
	}
	if order != 0 && order != 1 && order != 2 {
		return 0, fmt.Errorf("order must be 0, 1, 2 or inf, got %q", s)
	}
	return order, nil
}

func renderTree(e *ensemble.Ensemble, fileName string) {
	graphViz, graph, err := e.DrawGraph(0)
	handleError(err)
	handleError(graphViz.RenderFilename(graph, graphviz.SVG, fileName))
}

func main() {
	var cfg RunConfig
	srcConfig := flag.String("config", "", "JSON config file; when set it overrides the other flags")
	flag.StringVar(&cfg.FileNameModel, "model", "", "JSON model file of the tree ensemble")
	flag.StringVar(&cfg.FileNameX, "x", "", "npy file with samples as rows")
	flag.StringVar(&cfg.FileNameY, "y", "", "npy file with integer labels")
	flag.StringVar(&cfg.Mode, "mode", "attack", "score | feasibility | attack")
	flag.Float64Var(&cfg.Epsilon, "epsilon", 0.1, "L-infinity radius for the feasibility mode")
	flag.StringVar(&cfg.Order, "order", "inf", "norm order for the attack mode: 0, 1, 2 or inf")
	flag.IntVar(&cfg.NClasses, "classes", 2, "number of classes in the model")
	flag.Float64Var(&cfg.PredThreshold, "threshold", 0.0, "prediction threshold of the ensemble")
	flag.IntVar(&cfg.SampleLimit, "limit", 0, "attack at most this many samples (0 = all)")
	flag.StringVar(&cfg.RenderTree, "render", "", "render the first tree to this SVG file and exit")
	flag.Parse()

	if *srcConfig != "" {
		decodeConfig(*srcConfig, &cfg)
	}

	model, err := ensemble.Load(cfg.FileNameModel)
	handleError(err)

	if cfg.RenderTree != "" {
		renderTree(model, cfg.RenderTree)
		return
	}

	X, y, err := dataset.Load(cfg.FileNameX, cfg.FileNameY)
	handleError(err)
	if cfg.SampleLimit > 0 {
		rows, cols := X.Dims()
		if rows > cfg.SampleLimit {
			X = mat.DenseCopyOf(X.Slice(0, cfg.SampleLimit, 0, cols))
			y = y[:cfg.SampleLimit]
		}
	}

	order, err := parseOrder(cfg.Order)
	handleError(err)

	params := attack.Params{
		Order:         order,
		PredThreshold: cfg.PredThreshold,
		Verbose:       true,
	}

	switch cfg.Mode {
	case "score":
		accuracy, err := attack.Score(model, X, y, cfg.PredThreshold, cfg.SampleLimit)
		handleError(err)
		log.Print("accuracy: ", accuracy)
	case "feasibility":
		adversarialAccuracy, err := attack.EpsilonFeasibility(model, X, y, cfg.Epsilon, params)
		handleError(err)
		log.Print("adversarial accuracy at epsilon ", cfg.Epsilon, ": ", adversarialAccuracy)
	case "attack":
		if cfg.NClasses > 2 {
			rows, _ := X.Dims()
			mc, err := attack.NewMultiClass(model, cfg.NClasses, params)
			handleError(err)
			totalDistance := 0.0
			for i := 0; i < rows; i++ {
				sample := mat.Row(nil, i, X)
				adv, err := mc.OptimalAdversarialExample(sample, y[i])
				handleError(err)
				totalDistance += attack.Distance(sample, adv, order)
			}
			log.Print("average distance: ", totalDistance/float64(rows))
			return
		}
		averageDistance, _, err := attack.AttackDataset(model, X, y, params)
		handleError(err)
		log.Print("average distance: ", averageDistance)
	default:
		log.Fatalf("unknown mode %q", cfg.Mode)
	}
}

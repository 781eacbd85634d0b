// cvae-surgery: prunes or expands the FC layers of a OneHotCVAE checkpoint
//
// Usage:
//
//	cvae-surgery --in=ckpt.safetensors --mode=prune --k=0.1 --out=pruned.safetensors
//	cvae-surgery --config=exp.yaml --root=experiments --name=run1 --eval=cls1.json,cls2.json
//	cvae-surgery --config=exp.yaml --mode=eval --in=specialized.safetensors --eval=cls1.json,cls2.json
//
// Mode eval scores the input checkpoint as it is, without a surgery pass,
// and appends to metrics/<checkpoint>/specialized_acc.csv and
// specialized_accuracy_vals.csv.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cvaesurgery/metrics"
	"cvaesurgery/nn"
	"cvaesurgery/utils"

	"golang.org/x/exp/rand"
)

var (
	configFile   = flag.String("config", "", "Experiment config (YAML); flags override it")
	inFile       = flag.String("in", "", "Input checkpoint (.json or .safetensors)")
	outFile      = flag.String("out", "", "Output checkpoint (default: <ckpt_dir>/<mode>.safetensors)")
	mode         = flag.String("mode", "prune", "Surgery mode: prune, expand, eval (score the input unchanged)")
	pruneK       = flag.Float64("k", 0.1, "Fraction of neurons pruned per layer")
	expandE      = flag.Float64("e", 0.1, "Fraction of neurons added per layer")
	perturbation = flag.Float64("perturb", 0.01, "Std-dev of new expansion weights")
	naming       = flag.String("naming", "wrapped", "Checkpoint key naming: wrapped, plain")
	seed         = flag.Uint64("seed", 42, "Random seed")
	verbose      = flag.Bool("verbose", true, "Print shape and statistics reports")
	trace        = flag.Bool("trace", false, "Log every edited layer to stderr")
	root         = flag.String("root", "", "Experiment root; creates <root>/<dataset>/<name>/{logs,ckpts}")
	name         = flag.String("name", "", "Experiment name (default: timestamp)")
	eval         = flag.String("eval", "", "Comma separated classifier checkpoints for ensemble evaluation")
	evalLayers   = flag.String("eval-layers", "fc1,fc2,fc3", "Classifier layer names, input to output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	config, err := loadConfig()
	if err != nil {
		fail(err)
	}
	if *inFile == "" {
		fail(fmt.Errorf("-in is required"))
	}
	evalOnly := config.Surgery.Mode == "eval"
	if evalOnly && *eval == "" {
		fail(fmt.Errorf("mode eval needs -eval classifier checkpoints"))
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CVAE Layer Surgery                        ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	s := config.Surgery
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Input:         %s\n", *inFile)
	fmt.Printf("  Mode:          %s\n", s.Mode)
	fmt.Printf("  Prune k:       %.3f\n", s.PruneK)
	fmt.Printf("  Expand e:      %.3f\n", s.ExpandE)
	fmt.Printf("  Perturbation:  %.4f\n", s.Perturbation)
	fmt.Printf("  Naming:        %s\n", s.Naming)
	fmt.Printf("  Seed:          %d\n", s.Seed)
	fmt.Println()

	if *root != "" {
		if err := utils.SetupDirs(config, *root, *name); err != nil {
			fail(err)
		}
		fmt.Printf("Experiment directory: %s\n", config.ExpRootDir)
	}
	out := *outFile
	if out == "" && !evalOnly {
		if config.CkptDir == "" {
			fail(fmt.Errorf("-out or -root is required"))
		}
		out = filepath.Join(config.CkptDir, s.Mode+".safetensors")
	}

	store, err := utils.LoadStore(*inFile)
	if err != nil {
		fail(err)
	}
	keyNaming, _ := nn.ParseNaming(s.Naming)
	utils.PrintShapes("Loaded checkpoint", store)

	opts := []nn.Option{nn.WithSource(rand.NewSource(s.Seed))}
	if *trace {
		opts = append(opts, nn.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	surgeon := nn.NewSurgeon(nn.CVAETopology(), keyNaming, opts...)

	stats := &utils.PassStats{Mode: s.Mode, ParamsBefore: utils.CountParams(store)}
	start := time.Now()
	switch s.Mode {
	case "prune":
		stats.Fraction = s.PruneK
		store, err = surgeon.Prune(store, s.PruneK)
	case "expand":
		stats.Fraction = s.ExpandE
		store, err = surgeon.Expand(store, s.ExpandE, s.Perturbation)
	case "eval":
		err = nn.Normalize(store)
	}
	if err != nil {
		fail(err)
	}
	stats.Duration = time.Since(start)
	stats.ParamsAfter = utils.CountParams(store)

	if !evalOnly {
		title := "Model after compression"
		if s.Mode == "expand" {
			title = "Model after expansion"
		}
		utils.PrintShapes(title, store)
		utils.PrintPassStats(stats)
	}

	model, err := nn.NewCVAE(store, nn.NamingPlain)
	if err != nil {
		fail(fmt.Errorf("inconsistent model: %w", err))
	}
	h1, h2 := model.HiddenDims()
	fmt.Printf("\nRebuilt CVAE: x=%d z=%d h1=%d h2=%d\n", model.XDim, model.ZDim, h1, h2)

	if !evalOnly {
		fmt.Printf("Saving checkpoint to %s...\n", out)
		if err := utils.SaveStore(out, store); err != nil {
			fail(err)
		}
	}

	if *eval != "" {
		accPath, valuesPath := metricPaths(config, evalOnly)
		if err := evaluate(config, model, accPath, valuesPath); err != nil {
			fail(err)
		}
	}
	fmt.Println("Done!")
}

// loadConfig reads -config (or the defaults) and applies explicitly set flags.
func loadConfig() (*utils.Config, error) {
	config := utils.DefaultConfig()
	if *configFile != "" {
		var err error
		if config, err = utils.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			config.Surgery.Mode = *mode
		case "k":
			config.Surgery.PruneK = *pruneK
		case "e":
			config.Surgery.ExpandE = *expandE
		case "perturb":
			config.Surgery.Perturbation = *perturbation
		case "naming":
			config.Surgery.Naming = *naming
		case "seed":
			config.Surgery.Seed = *seed
		}
	})
	if err := utils.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// metricPaths picks where evaluation rows go: the configured history files
// after a surgery pass, the per-checkpoint specialized files in eval mode.
// Both live under the experiment directory when there is one.
func metricPaths(config *utils.Config, evalOnly bool) (accPath, valuesPath string) {
	ev := config.Evaluation
	accPath, valuesPath = ev.AccPath, ev.AccuracyValues
	if evalOnly {
		accPath, valuesPath = metrics.SpecializedPaths("metrics", *inFile)
	}
	if config.ExpRootDir != "" {
		accPath = filepath.Join(config.ExpRootDir, accPath)
		valuesPath = filepath.Join(config.ExpRootDir, valuesPath)
	}
	return accPath, valuesPath
}

func evaluate(config *utils.Config, model *nn.CVAE, accPath, valuesPath string) error {
	ev := config.Evaluation
	if len(ev.ClassesRemembered)+len(ev.ClassesForgotten) == 0 {
		return fmt.Errorf("evaluation needs classes_remembered or classes_not_remembered in the config")
	}
	layerNames := strings.Split(*evalLayers, ",")
	var ensemble []metrics.Predictor
	for _, path := range strings.Split(*eval, ",") {
		store, err := utils.LoadStore(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		if err := nn.Normalize(store); err != nil {
			return err
		}
		c, err := nn.ClassifierFromStore(store, nn.NamingPlain, layerNames...)
		if err != nil {
			return fmt.Errorf("classifier %s: %w", path, err)
		}
		ensemble = append(ensemble, c)
	}

	fmt.Printf("\nGenerating %d samples per class...\n", ev.NSamples)
	samples, err := metrics.Generate(model, ev.ClassesRemembered, ev.ClassesForgotten, ev.NSamples, rand.NewSource(config.Surgery.Seed+1))
	if err != nil {
		return err
	}
	res, err := metrics.Evaluate(context.Background(), ensemble, samples, ev.ClassesRemembered, ev.ClassesForgotten)
	if err != nil {
		return err
	}
	for _, c := range ev.ClassesRemembered {
		fmt.Printf("REM  %d: %.4f\n", c, res.PerClass[c])
	}
	for _, c := range ev.ClassesForgotten {
		fmt.Printf("FORGOT %d: %.4f\n", c, res.PerClass[c])
	}
	fmt.Printf("Accuracy: %.4f / %.4f\n", res.Actual(), res.Ideal())

	fmt.Printf("Appending results to %s\n", accPath)
	return metrics.Record(accPath, valuesPath, res)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

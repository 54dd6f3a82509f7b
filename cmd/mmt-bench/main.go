package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mmt "github.com/jamesainslie/go-mmt"
	"github.com/jamesainslie/go-mmt/internal/bench"
)

func main() {
	var (
		modelDir  = flag.String("model", "", "Model directory (required)")
		corpusDir = flag.String("corpus", "testdata/align", "Directory containing .tsv test sets")
		epochs    = flag.Int("epochs", -1, "Tune on each set for this many epochs before aligning (-1: off)")
		wp        = flag.Float64("wp", 1.0, "Precision weight")
		wr        = flag.Float64("wr", 1.0, "Recall weight")
		sweep     = flag.Bool("sweep", false, "Run tuning epoch sweep")
		sweepMin  = flag.Int("sweep-min", 0, "Sweep minimum epochs")
		sweepMax  = flag.Int("sweep-max", 4, "Sweep maximum epochs")
		sweepStep = flag.Int("sweep-step", 1, "Sweep step size")
		models    = flag.String("models", "", "Comma-separated model directories for comparison")
		verbose   = flag.Bool("v", false, "Log decoder activity")
	)
	flag.Parse()

	if *modelDir == "" && *models == "" {
		fmt.Fprintln(os.Stderr, "error: -model or -models required")
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Load corpus
	sets, err := bench.LoadCorpus(*corpusDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading corpus: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d test sets from %s\n\n", len(sets), *corpusDir)

	cfg := bench.Config{
		PrecisionWeight: *wp,
		RecallWeight:    *wr,
	}
	if *epochs >= 0 {
		cfg.Epochs = epochs
	}

	ctx := context.Background()

	switch {
	case *models != "":
		runModelComparison(ctx, strings.Split(*models, ","), sets, cfg, logger)
	case *sweep:
		runSweep(ctx, *modelDir, sets, cfg, logger, *sweepMin, *sweepMax, *sweepStep)
	default:
		runSingle(ctx, *modelDir, sets, cfg, logger)
	}
}

func open(modelDir string, logger *slog.Logger) *mmt.Decoder {
	dec, err := mmt.Open(modelDir, mmt.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening %s: %v\n", modelDir, err)
		os.Exit(1)
	}
	return dec
}

func runSingle(ctx context.Context, modelDir string, sets []*bench.Set, cfg bench.Config, logger *slog.Logger) {
	dec := open(modelDir, logger)
	defer func() { _ = dec.Close() }()

	for _, set := range sets {
		m, err := bench.EvaluateSet(ctx, dec, set, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error evaluating %s: %v\n", set.ID, err)
			os.Exit(1)
		}
		fmt.Printf("%-20s P=%.2f R=%.2f F1=%.2f AER=%.3f\n", set.ID, m.Precision, m.Recall, m.F1, m.AER)
	}

	m, err := bench.EvaluateCorpus(ctx, dec, sets, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error evaluating corpus: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()
	printMetrics(m)
}

func runSweep(ctx context.Context, modelDir string, sets []*bench.Set, cfg bench.Config, logger *slog.Logger, min, max, step int) {
	dec := open(modelDir, logger)
	defer func() { _ = dec.Close() }()

	epochs := bench.SweepEpochs(min, max, step)

	fmt.Printf("Tuning Epoch Sweep Results (wp=%.1f, wr=%.1f)\n", cfg.PrecisionWeight, cfg.RecallWeight)
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("%-8s %-8s %-8s %-8s %-8s\n", "Epochs", "Prec", "Rec", "F1", "AER")

	results, err := bench.Sweep(ctx, dec, sets, cfg, epochs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error during sweep: %v\n", err)
		os.Exit(1)
	}

	// Print in sweep order for readability
	for _, e := range epochs {
		for _, r := range results {
			if r.Epochs == e {
				fmt.Printf("%-8d %-8.2f %-8.2f %-8.2f %-8.3f\n",
					r.Epochs, r.Metrics.Precision, r.Metrics.Recall, r.Metrics.F1, r.Metrics.AER)
				break
			}
		}
	}

	fmt.Println(strings.Repeat("-", 50))
	if len(results) > 0 {
		best := results[0]
		fmt.Printf("Optimal: %d epochs (Weighted: %.2f)\n", best.Epochs, best.Metrics.WeightedScore)
	}
}

func runModelComparison(ctx context.Context, modelDirs []string, sets []*bench.Set, cfg bench.Config, logger *slog.Logger) {
	fmt.Printf("Model Comparison (wp=%.1f, wr=%.1f)\n", cfg.PrecisionWeight, cfg.RecallWeight)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%-30s %-8s %-8s %-8s\n", "Model", "F1", "AER", "Weighted")

	for _, modelDir := range modelDirs {
		dec, err := mmt.Open(modelDir, mmt.WithLogger(logger))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error with %s: %v\n", modelDir, err)
			continue
		}
		m, err := bench.EvaluateCorpus(ctx, dec, sets, cfg)
		_ = dec.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error with %s: %v\n", modelDir, err)
			continue
		}

		fmt.Printf("%-30s %-8.2f %-8.3f %-8.2f\n", modelDir, m.F1, m.AER, m.WeightedScore)
	}
}

func printMetrics(m bench.Metrics) {
	fmt.Printf("Precision: %.2f  Recall: %.2f  F1: %.2f  AER: %.3f  Weighted: %.2f\n",
		m.Precision, m.Recall, m.F1, m.AER, m.WeightedScore)
	fmt.Printf("(TP: %d, FP: %d, FN: %d)\n", m.TruePositives, m.FalsePositives, m.FalseNegatives)
}

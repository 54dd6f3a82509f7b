package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	mmt "github.com/jamesainslie/go-mmt"
)

// Set by the build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	modelDir string
	logLevel string
	beamSize int

	sourceLang      string
	targetLang      string
	suggestionsFile string
	forced          []string
	epochs          int
	learningRate    float64

	warmAll bool
)

var rootCmd = &cobra.Command{
	Use:   "mmt-cli",
	Short: "Translate with adaptive NMT checkpoints",
	Long: `Run translation requests against a model directory holding a model.yaml
and one subdirectory per language pair.

Examples:
  # Translate arguments
  mmt-cli translate -m ./models -s en -t it "hello world"

  # Translate stdin, one segment per line, adapting to suggestions first
  mmt-cli translate -m ./models -s en -t it --suggestions memory.yaml < input.txt

  # Align a known translation
  mmt-cli translate -m ./models -s en -t it --forced "ciao mondo" "hello world"`,
	SilenceUsage: true,
}

var translateCmd = &cobra.Command{
	Use:   "translate [segment...]",
	Short: "Translate segments from arguments or stdin",
	RunE:  runTranslate,
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Load the first language pair and run one decoding step",
	RunE:  runWarmup,
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List the configured language pairs",
	RunE:  runPairs,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelDir, "model", "m", "", "model directory or model.yaml (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&beamSize, "beam", 5, "beam width")
	_ = rootCmd.MarkPersistentFlagRequired("model")

	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "", "source language (required)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "target language (required)")
	translateCmd.Flags().StringVar(&suggestionsFile, "suggestions", "", "YAML file of suggestions to tune on")
	translateCmd.Flags().StringArrayVar(&forced, "forced", nil, "forced translation, once per segment")
	translateCmd.Flags().IntVar(&epochs, "epochs", 0, "tuning epochs, overriding the estimate")
	translateCmd.Flags().Float64Var(&learningRate, "learning-rate", 0, "tuning learning rate, overriding the estimate")
	_ = translateCmd.MarkFlagRequired("source")
	_ = translateCmd.MarkFlagRequired("target")

	warmupCmd.Flags().BoolVar(&warmAll, "all", false, "read every language pair before warming the first")

	rootCmd.AddCommand(translateCmd, warmupCmd, pairsCmd)
}

func main() {
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func openDecoder() (*mmt.Decoder, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return mmt.Open(modelDir, mmt.WithLogger(logger), mmt.WithBeamSize(beamSize))
}

// suggestionEntry is one item of a suggestions file.
type suggestionEntry struct {
	Source      string  `yaml:"source"`
	Target      string  `yaml:"target"`
	Segment     string  `yaml:"segment"`
	Translation string  `yaml:"translation"`
	Score       float64 `yaml:"score"`
}

func loadSuggestions(path string) ([]mmt.Suggestion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suggestions: %w", err)
	}

	var entries []suggestionEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing suggestions: %w", err)
	}

	out := make([]mmt.Suggestion, len(entries))
	for i, e := range entries {
		out[i] = mmt.Suggestion{
			SourceLang:  e.Source,
			TargetLang:  e.Target,
			Segment:     e.Segment,
			Translation: e.Translation,
			Score:       e.Score,
		}
	}
	return out, nil
}

func readSegments(args []string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	var segments []string
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		segments = append(segments, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return segments, nil
}

func runTranslate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	segments, err := readSegments(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var opts []mmt.TranslateOption
	if suggestionsFile != "" {
		suggestions, err := loadSuggestions(suggestionsFile)
		if err != nil {
			return err
		}
		opts = append(opts, mmt.WithSuggestions(suggestions...))
	}
	if cmd.Flags().Changed("epochs") {
		opts = append(opts, mmt.WithTuningEpochs(epochs))
	}
	if cmd.Flags().Changed("learning-rate") {
		opts = append(opts, mmt.WithTuningLearningRate(learningRate))
	}
	if cmd.Flags().Changed("forced") {
		opts = append(opts, mmt.WithForcedTranslations(forced...))
	}

	dec, err := openDecoder()
	if err != nil {
		return err
	}
	defer func() { _ = dec.Close() }() // Cleanup error ignored in CLI

	translations, err := dec.Translate(ctx, sourceLang, targetLang, segments, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, tr := range translations {
		fmt.Fprintf(out, "%d: %s\n", i+1, tr.Text)
		fmt.Fprintf(out, "   alignment: %s\n", tr.Alignment)
		if tr.HasScore {
			fmt.Fprintf(out, "   score: %.4f\n", tr.Score)
		}
	}
	return nil
}

func runWarmup(cmd *cobra.Command, _ []string) error {
	dec, err := openDecoder()
	if err != nil {
		return err
	}
	defer func() { _ = dec.Close() }()

	if warmAll {
		if err := dec.Preload(cmd.Context()); err != nil {
			return err
		}
	}
	elapsed, err := dec.Warmup(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Warm in %s\n", elapsed)
	return nil
}

func runPairs(cmd *cobra.Command, _ []string) error {
	dec, err := openDecoder()
	if err != nil {
		return err
	}
	defer func() { _ = dec.Close() }()

	for _, pair := range dec.Pairs() {
		fmt.Fprintln(cmd.OutOrStdout(), pair)
	}
	return nil
}

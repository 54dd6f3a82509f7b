package tuning

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrInvalidOption indicates an unrecognised tuning option name or a value of the wrong type.
var ErrInvalidOption = errors.New("tuning: invalid option")

// Options holds the tuning configuration of a model.
type Options struct {
	// MaxEpochs bounds the estimated epoch count, reached only with perfect suggestions.
	MaxEpochs int
	// MaxLearningRate bounds the estimated learning rate.
	MaxLearningRate float64
	// MaxBatchTokens is the token budget of one fine-tuning minibatch.
	MaxBatchTokens int

	// MemorySuggestionsLimit and MemoryQueryMinResults configure the suggestion
	// lookup upstream of the decoder. They are accepted and ignored here.
	MemorySuggestionsLimit int
	MemoryQueryMinResults  int

	// Epochs and LearningRate, when set, replace the estimated values.
	Epochs       *int
	LearningRate *float64
}

// DefaultOptions returns the defaults used when a model configures nothing.
func DefaultOptions() Options {
	return Options{
		MaxEpochs:       4,
		MaxLearningRate: 0.0001,
		MaxBatchTokens:  4000,
	}
}

type setter func(o *Options, value string) error

func intSetter(dst func(*Options) *int) setter {
	return func(o *Options, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst(o) = n
		return nil
	}
}

func floatSetter(dst func(*Options) *float64) setter {
	return func(o *Options, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		*dst(o) = f
		return nil
	}
}

var setters = map[string]setter{
	"tuning_max_epochs":        intSetter(func(o *Options) *int { return &o.MaxEpochs }),
	"tuning_max_learning_rate": floatSetter(func(o *Options) *float64 { return &o.MaxLearningRate }),
	"tuning_max_batch_size":    intSetter(func(o *Options) *int { return &o.MaxBatchTokens }),
	"memory_suggestions_limit": intSetter(func(o *Options) *int { return &o.MemorySuggestionsLimit }),
	"memory_query_min_results": intSetter(func(o *Options) *int { return &o.MemoryQueryMinResults }),
	"epochs": func(o *Options, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		o.Epochs = &n
		return nil
	},
	"learning_rate": func(o *Options, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		o.LearningRate = &f
		return nil
	},
}

// OptionNames lists the recognised option names.
func OptionNames() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set assigns the option called name from its textual value. The literal
// "None" leaves the option unchanged.
func (o *Options) Set(name, value string) error {
	set, ok := setters[name]
	if !ok {
		return fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
	}
	if value == "None" || value == "" {
		return nil
	}
	if err := set(o, value); err != nil {
		return fmt.Errorf("%w: %s=%q: %w", ErrInvalidOption, name, value, err)
	}
	return nil
}

// String renders the options for logging.
func (o Options) String() string {
	s := fmt.Sprintf("max_epochs=%d max_learning_rate=%g max_batch_tokens=%d",
		o.MaxEpochs, o.MaxLearningRate, o.MaxBatchTokens)
	if o.Epochs != nil {
		s += fmt.Sprintf(" epochs=%d", *o.Epochs)
	}
	if o.LearningRate != nil {
		s += fmt.Sprintf(" learning_rate=%g", *o.LearningRate)
	}
	return s
}

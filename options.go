package mmt

import (
	"log/slog"

	"github.com/jamesainslie/go-mmt/model"
	"github.com/jamesainslie/go-mmt/tuning"
)

// Option configures a Decoder.
type Option func(*config)

type config struct {
	generate     model.GenerateConfig
	tuning       *tuning.Options
	seed         int64
	poolSize     int
	maxPositions int
	logger       *slog.Logger
}

func defaultConfig() config {
	return config{
		generate: model.DefaultGenerateConfig(),
		seed:     1,
		poolSize: 1,
		logger:   slog.Default(),
	}
}

// WithBeamSize sets the beam width (default: 5).
func WithBeamSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.generate.BeamSize = n
		}
	}
}

// WithGenerateConfig replaces the beam search configuration. MaxLenB is
// overridden per request by the checkpoint decode length.
func WithGenerateConfig(g model.GenerateConfig) Option {
	return func(c *config) {
		c.generate = g
	}
}

// WithTuningOptions replaces the tuning configuration of the model directory.
func WithTuningOptions(o tuning.Options) Option {
	return func(c *config) {
		c.tuning = &o
	}
}

// WithSeed sets the base seed of tuning steps (default: 1).
func WithSeed(seed int64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithPoolSize sets the number of decoders created by OpenPool (default: 1).
func WithPoolSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithMaxPositions sets the longest sequence the ONNX model accepts (default: 1024).
func WithMaxPositions(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPositions = n
		}
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

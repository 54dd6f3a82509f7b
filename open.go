package mmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jamesainslie/go-mmt/checkpoint"
	"github.com/jamesainslie/go-mmt/inference"
)

// Open creates a Decoder for the model directory (or model.yaml file) at path,
// running checkpoints with ONNX Runtime.
func Open(path string, opts ...Option) (*Decoder, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	store, dirOpts, err := openStore(path, cfg)
	if err != nil {
		return nil, err
	}
	return newONNXDecoder(store, cfg, append(dirOpts, opts...)), nil
}

// OpenPool creates WithPoolSize decoders over one checkpoint store. Every
// checkpoint is read up front, up to WithPoolSize at a time, so the first
// requests of each decoder do not queue on disk.
func OpenPool(ctx context.Context, path string, opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	store, dirOpts, err := openStore(path, cfg, checkpoint.WithPreloadLimit(cfg.poolSize))
	if err != nil {
		return nil, err
	}

	decoders := make([]*Decoder, cfg.poolSize)
	for i := range decoders {
		decoders[i] = newONNXDecoder(store, cfg, append(dirOpts, opts...))
	}
	if err := decoders[0].Preload(ctx); err != nil {
		for _, d := range decoders {
			_ = d.Close()
		}
		return nil, err
	}
	return NewPool(decoders...), nil
}

// openStore loads the configuration at path. The returned options carry the
// tuning settings of the directory; explicit options given later win.
func openStore(path string, cfg config, storeOpts ...checkpoint.StoreOption) (*checkpoint.Store, []Option, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, nil, fmt.Errorf("checking model path: %w", err)
	}

	mc, err := checkpoint.LoadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %w", ErrModelNotFound, err)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	tuneOpts, err := mc.Tuning()
	if err != nil {
		return nil, nil, err
	}
	src, err := checkpoint.NewDirSource(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	cfg.logger.Debug("model configuration loaded",
		slog.String("path", path),
		slog.Int("pairs", len(src.Pairs())),
		slog.String("tuning", tuneOpts.String()))

	store := checkpoint.NewStore(src, append([]checkpoint.StoreOption{checkpoint.WithLogger(cfg.logger)}, storeOpts...)...)
	return store, []Option{WithTuningOptions(tuneOpts)}, nil
}

func newONNXDecoder(store *checkpoint.Store, cfg config, opts []Option) *Decoder {
	m := inference.NewModel(
		inference.WithLogger(cfg.logger),
		inference.WithMaxPositions(cfg.maxPositions),
	)
	d := New(store, m, opts...)
	m.UseDictionary(d.session.ActiveDictionary)
	return d
}
